package api

import (
	"net/http"

	"github.com/charging-platform/ocpi-node/internal/domain/ocpi"
	"github.com/charging-platform/ocpi-node/internal/storage"
	"github.com/go-chi/chi/v5"
)

// partyFromPath 解析 {country_code}/{party_id}
func (s *Server) partyFromPath(w http.ResponseWriter, r *http.Request) (ocpi.Party, bool) {
	if s.endpoints == nil {
		writeFault(w, &ocpi.Fault{HTTPStatus: http.StatusServiceUnavailable, StatusCode: ocpi.StatusServerError, Description: "Endpoint storage is not configured"})
		return ocpi.Party{}, false
	}
	party, err := s.validator.ValidateParty(chi.URLParam(r, "country_code"), chi.URLParam(r, "party_id"))
	if err != nil {
		writeFault(w, ocpi.BadRequest(err.Error()))
		return ocpi.Party{}, false
	}
	return party, true
}

// GetEndpoints 列出参与方登记的模块地址
func (s *Server) GetEndpoints(w http.ResponseWriter, r *http.Request) {
	party, ok := s.partyFromPath(w, r)
	if !ok {
		return
	}
	endpoints, err := s.endpoints.ListEndpoints(r.Context(), party)
	if err != nil {
		s.logger.Error().Err(err).Str("party", party.String()).Msg("Failed to list endpoints")
		writeFault(w, ocpi.ServerFault(ocpi.StatusServerError, "Unable to read endpoints"))
		return
	}
	if len(endpoints) == 0 {
		writeFault(w, ocpi.NotFound(ocpi.StatusNoMatchingEndpoints, "No endpoints registered for party!"))
		return
	}
	writeData(w, http.StatusOK, endpoints)
}

// PutEndpoints 覆盖登记参与方的模块地址
func (s *Server) PutEndpoints(w http.ResponseWriter, r *http.Request) {
	party, ok := s.partyFromPath(w, r)
	if !ok {
		return
	}
	var endpoints []storage.Endpoint
	if fault := s.decodeBody(w, r, &endpoints); fault != nil {
		writeFault(w, fault)
		return
	}
	if len(endpoints) == 0 {
		writeFault(w, ocpi.BadRequest("At least one endpoint is required!"))
		return
	}
	for i := range endpoints {
		if fault := s.validate(&endpoints[i]); fault != nil {
			writeFault(w, fault)
			return
		}
	}

	if err := s.endpoints.SetEndpoints(r.Context(), party, endpoints); err != nil {
		s.logger.Error().Err(err).Str("party", party.String()).Msg("Failed to store endpoints")
		writeFault(w, ocpi.ServerFault(ocpi.StatusServerError, "Unable to store endpoints"))
		return
	}
	s.logger.Info().Str("party", party.String()).Int("count", len(endpoints)).Msg("Endpoints registered")
	writeData(w, http.StatusOK, endpoints)
}

// DeleteEndpoints 删除参与方的全部登记
func (s *Server) DeleteEndpoints(w http.ResponseWriter, r *http.Request) {
	party, ok := s.partyFromPath(w, r)
	if !ok {
		return
	}
	if err := s.endpoints.DeleteEndpoints(r.Context(), party); err != nil {
		s.logger.Error().Err(err).Str("party", party.String()).Msg("Failed to delete endpoints")
		writeFault(w, ocpi.ServerFault(ocpi.StatusServerError, "Unable to delete endpoints"))
		return
	}
	writeEmpty(w)
}
