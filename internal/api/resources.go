package api

import (
	"encoding/json"
	"net/http"

	"github.com/charging-platform/ocpi-node/internal/domain/ocpi"
	"github.com/charging-platform/ocpi-node/internal/listing"
)

// 写接口的错误描述
const (
	MissingLastUpdated = "Missing last_updated field!"
	IdentityMismatch   = "Object identification does not match the request path!"
)

// serveListing 分页返回集合，并写入 X-Total-Count / X-Filtered-Count / X-Limit / Link
func serveListing[T listing.Timestamped](s *Server, w http.ResponseWriter, r *http.Request, module ocpi.ModuleID, items []T) {
	if s.metrics != nil {
		s.metrics.ListingRequests.WithLabelValues(string(module)).Inc()
	}

	q, fault := listing.ParsePageQuery(r.URL.Query(), s.options.Limits)
	if fault != nil {
		writeFault(w, fault)
		return
	}
	page, err := listing.Query(items, q)
	if err != nil {
		writeFault(w, ocpi.BadRequest("Invalid limit parameter!"))
		return
	}

	listing.WriteHeaders(w.Header(), page, listing.NextLink(listing.RequestURL(r), page))
	writeData(w, http.StatusOK, page.Items)
}

// overlay 把PATCH中出现的字段覆盖到当前对象上，必须携带 last_updated
func overlay[T any](current *T, body []byte) (*T, *ocpi.Fault) {
	var patch map[string]json.RawMessage
	if err := json.Unmarshal(body, &patch); err != nil {
		return nil, ocpi.BadRequest("Invalid JSON body!")
	}
	if _, ok := patch["last_updated"]; !ok {
		return nil, ocpi.BadRequest(MissingLastUpdated)
	}

	raw, err := json.Marshal(current)
	if err != nil {
		return nil, ocpi.ServerFault(ocpi.StatusServerError, "Unable to encode stored object")
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, ocpi.ServerFault(ocpi.StatusServerError, "Unable to encode stored object")
	}
	for k, v := range patch {
		fields[k] = v
	}

	merged, err := json.Marshal(fields)
	if err != nil {
		return nil, ocpi.BadRequest("Invalid JSON body!")
	}
	var out T
	if err := json.Unmarshal(merged, &out); err != nil {
		return nil, ocpi.BadRequest("Invalid JSON body!")
	}
	return &out, nil
}

func createdStatus(created bool) int {
	if created {
		return http.StatusCreated
	}
	return http.StatusOK
}
