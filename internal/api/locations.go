package api

import (
	"net/http"

	"github.com/charging-platform/ocpi-node/internal/domain/ocpi"
	"github.com/charging-platform/ocpi-node/internal/resolver"
	"github.com/go-chi/chi/v5"
)

func locationPath(r *http.Request) []string {
	return []string{chi.URLParam(r, "location_id")}
}

func evsePath(r *http.Request) []string {
	return append(locationPath(r), chi.URLParam(r, "evse_uid"))
}

func connectorPath(r *http.Request) []string {
	return append(evsePath(r), chi.URLParam(r, "connector_id"))
}

// ListLocations GET /locations
func (s *Server) ListLocations(w http.ResponseWriter, r *http.Request) {
	serveListing(s, w, r, ocpi.ModuleLocations, s.store.ListLocations())
}

// GetLocation GET /locations/{location_id}
func (s *Server) GetLocation(w http.ResponseWriter, r *http.Request) {
	res, fault := s.resolver.ResolveLocation(locationPath(r)...)
	if fault != nil {
		writeFault(w, fault)
		return
	}
	writeData(w, http.StatusOK, res.Location)
}

// GetEVSE GET /locations/{location_id}/{evse_uid}
func (s *Server) GetEVSE(w http.ResponseWriter, r *http.Request) {
	res, fault := s.resolver.ResolveEVSE(evsePath(r)...)
	if fault != nil {
		writeFault(w, fault)
		return
	}
	writeData(w, http.StatusOK, res.EVSE)
}

// GetConnector GET /locations/{location_id}/{evse_uid}/{connector_id}
func (s *Server) GetConnector(w http.ResponseWriter, r *http.Request) {
	res, fault := s.resolver.ResolveConnector(connectorPath(r)...)
	if fault != nil {
		writeFault(w, fault)
		return
	}
	writeData(w, http.StatusOK, res.Connector)
}

// PutLocation 新增或整体替换站点
func (s *Server) PutLocation(w http.ResponseWriter, r *http.Request) {
	res, fault := s.resolver.ResolveForWrite(resolver.LevelLocation, locationPath(r)...)
	if fault != nil {
		writeFault(w, fault)
		return
	}
	var loc ocpi.Location
	if fault := s.decodeBody(w, r, &loc); fault != nil {
		writeFault(w, fault)
		return
	}
	s.storeLocation(w, res.LocationID, &loc, false)
}

// PatchLocation 局部更新站点
func (s *Server) PatchLocation(w http.ResponseWriter, r *http.Request) {
	res, fault := s.resolver.ResolveLocation(locationPath(r)...)
	if fault != nil {
		writeFault(w, fault)
		return
	}
	body, fault := s.readBody(w, r)
	if fault != nil {
		writeFault(w, fault)
		return
	}
	loc, fault := overlay(res.Location, body)
	if fault != nil {
		writeFault(w, fault)
		return
	}
	s.storeLocation(w, res.LocationID, loc, true)
}

func (s *Server) storeLocation(w http.ResponseWriter, id ocpi.LocationID, loc *ocpi.Location, patch bool) {
	if !ocpi.Equal(loc.ID, id) {
		writeFault(w, ocpi.BadRequest(IdentityMismatch))
		return
	}
	if fault := s.validate(loc); fault != nil {
		writeFault(w, fault)
		return
	}
	created := s.store.PutLocation(loc)
	stored, _ := s.store.GetLocation(id)

	s.logger.Debug().Str("location_id", string(id)).Bool("created", created).Bool("patch", patch).Msg("Location stored")
	writeData(w, createdStatus(created), stored)
}

// DeleteLocation 删除站点
func (s *Server) DeleteLocation(w http.ResponseWriter, r *http.Request) {
	res, fault := s.resolver.ResolveLocation(locationPath(r)...)
	if fault != nil {
		writeFault(w, fault)
		return
	}
	s.store.RemoveLocation(res.LocationID)
	writeEmpty(w)
}

// PutEVSE 新增或替换EVSE，站点必须已存在
func (s *Server) PutEVSE(w http.ResponseWriter, r *http.Request) {
	res, fault := s.resolver.ResolveForWrite(resolver.LevelEVSE, evsePath(r)...)
	if fault != nil {
		writeFault(w, fault)
		return
	}
	var evse ocpi.EVSE
	if fault := s.decodeBody(w, r, &evse); fault != nil {
		writeFault(w, fault)
		return
	}
	s.storeEVSE(w, res, &evse)
}

// PatchEVSE 局部更新EVSE
func (s *Server) PatchEVSE(w http.ResponseWriter, r *http.Request) {
	res, fault := s.resolver.ResolveEVSE(evsePath(r)...)
	if fault != nil {
		writeFault(w, fault)
		return
	}
	body, fault := s.readBody(w, r)
	if fault != nil {
		writeFault(w, fault)
		return
	}
	evse, fault := overlay(res.EVSE, body)
	if fault != nil {
		writeFault(w, fault)
		return
	}
	s.storeEVSE(w, res, evse)
}

func (s *Server) storeEVSE(w http.ResponseWriter, res resolver.Resolution, evse *ocpi.EVSE) {
	if !ocpi.Equal(evse.UID, res.EVSEUID) {
		writeFault(w, ocpi.BadRequest(IdentityMismatch))
		return
	}
	if fault := s.validate(evse); fault != nil {
		writeFault(w, fault)
		return
	}
	created, err := s.store.PutEVSE(res.LocationID, evse)
	if err != nil {
		// 站点在解析之后被并发删除
		writeFault(w, ocpi.NotFound(ocpi.StatusUnknownLocation, resolver.UnknownLocation))
		return
	}
	stored, _ := s.store.GetEVSE(res.LocationID, res.EVSEUID)
	writeData(w, createdStatus(created), stored)
}

// DeleteEVSE 删除EVSE
func (s *Server) DeleteEVSE(w http.ResponseWriter, r *http.Request) {
	res, fault := s.resolver.ResolveEVSE(evsePath(r)...)
	if fault != nil {
		writeFault(w, fault)
		return
	}
	s.store.RemoveEVSE(res.LocationID, res.EVSEUID)
	writeEmpty(w)
}

// PutConnector 新增或替换Connector，站点和EVSE必须已存在
func (s *Server) PutConnector(w http.ResponseWriter, r *http.Request) {
	res, fault := s.resolver.ResolveForWrite(resolver.LevelConnector, connectorPath(r)...)
	if fault != nil {
		writeFault(w, fault)
		return
	}
	var conn ocpi.Connector
	if fault := s.decodeBody(w, r, &conn); fault != nil {
		writeFault(w, fault)
		return
	}
	s.storeConnector(w, res, &conn)
}

// PatchConnector 局部更新Connector
func (s *Server) PatchConnector(w http.ResponseWriter, r *http.Request) {
	res, fault := s.resolver.ResolveConnector(connectorPath(r)...)
	if fault != nil {
		writeFault(w, fault)
		return
	}
	body, fault := s.readBody(w, r)
	if fault != nil {
		writeFault(w, fault)
		return
	}
	conn, fault := overlay(res.Connector, body)
	if fault != nil {
		writeFault(w, fault)
		return
	}
	s.storeConnector(w, res, conn)
}

func (s *Server) storeConnector(w http.ResponseWriter, res resolver.Resolution, conn *ocpi.Connector) {
	if !ocpi.Equal(conn.ID, res.ConnectorID) {
		writeFault(w, ocpi.BadRequest(IdentityMismatch))
		return
	}
	if fault := s.validate(conn); fault != nil {
		writeFault(w, fault)
		return
	}
	created, err := s.store.PutConnector(res.LocationID, res.EVSEUID, conn)
	if err != nil {
		writeFault(w, ocpi.NotFound(ocpi.StatusUnknownLocation, resolver.UnknownEVSE))
		return
	}
	stored, _ := s.store.GetConnector(res.LocationID, res.EVSEUID, res.ConnectorID)
	writeData(w, createdStatus(created), stored)
}

// DeleteConnector 删除Connector
func (s *Server) DeleteConnector(w http.ResponseWriter, r *http.Request) {
	res, fault := s.resolver.ResolveConnector(connectorPath(r)...)
	if fault != nil {
		writeFault(w, fault)
		return
	}
	s.store.RemoveConnector(res.LocationID, res.EVSEUID, res.ConnectorID)
	writeEmpty(w)
}
