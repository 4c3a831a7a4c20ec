package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charging-platform/ocpi-node/internal/command"
	"github.com/charging-platform/ocpi-node/internal/domain/ocpi"
	"github.com/charging-platform/ocpi-node/internal/listing"
	"github.com/charging-platform/ocpi-node/internal/logger"
	"github.com/charging-platform/ocpi-node/internal/metrics"
	"github.com/charging-platform/ocpi-node/internal/storage"
	"github.com/charging-platform/ocpi-node/internal/store"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// memoryEndpoints 内存版的对端地址存储
type memoryEndpoints struct {
	mu      sync.Mutex
	parties map[string][]storage.Endpoint
}

func newMemoryEndpoints() *memoryEndpoints {
	return &memoryEndpoints{parties: make(map[string][]storage.Endpoint)}
}

func (m *memoryEndpoints) SetEndpoints(_ context.Context, party ocpi.Party, endpoints []storage.Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.parties[party.Key()] = append([]storage.Endpoint(nil), endpoints...)
	return nil
}

func (m *memoryEndpoints) GetEndpoint(_ context.Context, party ocpi.Party, module ocpi.ModuleID, role ocpi.InterfaceRole) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.parties[party.Key()] {
		if e.Module == module && e.Role == role {
			return e.URL, nil
		}
	}
	return "", storage.ErrEndpointNotFound
}

func (m *memoryEndpoints) ListEndpoints(_ context.Context, party ocpi.Party) ([]storage.Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]storage.Endpoint(nil), m.parties[party.Key()]...), nil
}

func (m *memoryEndpoints) DeleteEndpoints(_ context.Context, party ocpi.Party) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.parties, party.Key())
	return nil
}

func (m *memoryEndpoints) Close() error { return nil }

type fixture struct {
	server    *httptest.Server
	store     *store.Store
	registry  *command.Registry
	endpoints *memoryEndpoints
	metrics   *metrics.Metrics
}

func newFixture(t *testing.T, configure ...func(*Options)) *fixture {
	t.Helper()
	m, _ := metrics.NewForTest()
	st := store.New()
	endpoints := newMemoryEndpoints()
	registry := command.NewRegistry(&command.RegistryConfig{DefaultTimeout: 2 * time.Second}, logger.Nop())
	t.Cleanup(registry.Close)

	dispatcher := command.NewDispatcher(nil, registry, endpoints, nil, logger.Nop(),
		command.NewMetricsObserver(m, registry.Pending),
	)

	f := &fixture{store: st, registry: registry, endpoints: endpoints, metrics: m}
	initiator := command.NewInitiator(dispatcher, nil, func(v ocpi.Version) string {
		return f.server.URL + "/ocpi/" + string(v) + "/commands"
	})

	options := Options{Limits: listing.Limits{Default: 2, Max: 10}}
	for _, fn := range configure {
		fn(&options)
	}
	srv := NewServer(options, Dependencies{
		Store:      st,
		Dispatcher: dispatcher,
		Initiator:  initiator,
		Endpoints:  endpoints,
		Metrics:    m,
		Logger:     logger.Nop(),
	})
	f.server = httptest.NewServer(srv.Routes())
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}, headers ...string) (*http.Response, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var envelope map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&envelope)
	return resp, envelope
}

func description(envelope map[string]interface{}) string {
	data, _ := envelope["data"].(map[string]interface{})
	desc, _ := data["description"].(string)
	return desc
}

func statusCode(envelope map[string]interface{}) int {
	code, _ := envelope["status_code"].(float64)
	return int(code)
}

func sampleLocation(id string, at time.Time) *ocpi.Location {
	return &ocpi.Location{
		CountryCode: "NL",
		PartyID:     "CPO",
		ID:          ocpi.LocationID(id),
		Address:     "Street 1",
		City:        "Utrecht",
		Country:     "NLD",
		Coordinates: ocpi.GeoLocation{Latitude: "52.0907", Longitude: "5.1214"},
		LastUpdated: at,
		EVSEs: []ocpi.EVSE{{
			UID:         "EVSE-1",
			Status:      ocpi.EVSEStatusAvailable,
			LastUpdated: at,
			Connectors: []ocpi.Connector{{
				ID: "1", Standard: "IEC_62196_T2", Format: "SOCKET", PowerType: "AC_3_PHASE",
				MaxVoltage: 230, MaxAmperage: 32, LastUpdated: at,
			}},
		}},
	}
}

func sampleToken(uid string) *ocpi.Token {
	return &ocpi.Token{
		CountryCode: "NL",
		PartyID:     "TNM",
		UID:         ocpi.TokenUID(uid),
		Type:        ocpi.TokenTypeRFID,
		ContractID:  "NL-TNM-C12345678-X",
		Issuer:      "TheNewMotion",
		Valid:       true,
		Whitelist:   ocpi.WhitelistAllowed,
		LastUpdated: t0,
	}
}

func TestUnsupportedVersion(t *testing.T) {
	f := newFixture(t)

	resp, envelope := f.do(t, http.MethodGet, "/ocpi/1.9/locations", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, int(ocpi.StatusUnsupportedVersion), statusCode(envelope))
	assert.Equal(t, UnsupportedVersion, envelope["status_message"])
}

func TestUnknownRouteUsesEnvelope(t *testing.T) {
	f := newFixture(t)

	resp, envelope := f.do(t, http.MethodGet, "/nothing/here", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, int(ocpi.StatusClientError), statusCode(envelope))
}

func TestLocationResolution(t *testing.T) {
	f := newFixture(t)
	f.store.PutLocation(sampleLocation("LOC1", t0))

	testCases := []struct {
		name       string
		path       string
		wantStatus int
		wantCode   ocpi.StatusCode
		wantDesc   string
	}{
		{"unknown location short-circuits", "/ocpi/2.2.1/locations/UNKNOWN/evseX", http.StatusNotFound, ocpi.StatusUnknownLocation, "Unknown location identification!"},
		{"malformed location short-circuits", "/ocpi/2.2.1/locations/BADID%00/evseX", http.StatusBadRequest, ocpi.StatusInvalidParameters, "Invalid location identification!"},
		{"unknown evse", "/ocpi/2.2.1/locations/LOC1/evseX", http.StatusNotFound, ocpi.StatusUnknownLocation, "Unknown EVSE identification!"},
		{"unknown connector", "/ocpi/2.2.1/locations/LOC1/EVSE-1/9", http.StatusNotFound, ocpi.StatusUnknownLocation, "Unknown connector identification!"},
		{"overlong connector id", "/ocpi/2.2.1/locations/LOC1/EVSE-1/" + strings.Repeat("9", 37), http.StatusBadRequest, ocpi.StatusInvalidParameters, "Invalid connector identification!"},
		{"location found case-insensitively", "/ocpi/2.2.1/locations/loc1", http.StatusOK, ocpi.StatusSuccess, ""},
		{"connector found", "/ocpi/2.2.1/locations/LOC1/evse-1/1", http.StatusOK, ocpi.StatusSuccess, ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp, envelope := f.do(t, http.MethodGet, tc.path, nil)
			assert.Equal(t, tc.wantStatus, resp.StatusCode)
			assert.Equal(t, int(tc.wantCode), statusCode(envelope))
			if tc.wantDesc != "" {
				assert.Equal(t, tc.wantDesc, description(envelope))
			}
		})
	}
}

func TestListLocations_Pagination(t *testing.T) {
	f := newFixture(t)
	f.store.PutLocation(sampleLocation("OLD", t0))
	for i := 1; i <= 5; i++ {
		f.store.PutLocation(sampleLocation(fmt.Sprintf("LOC%d", i), t0.Add(time.Duration(i)*time.Hour)))
	}

	resp, envelope := f.do(t, http.MethodGet, "/ocpi/2.2.1/locations?date_from=2024-01-01T00:00:00Z&offset=0&limit=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, envelope["data"], 2)
	assert.Equal(t, "6", resp.Header.Get(listing.HeaderTotalCount))
	assert.Equal(t, "5", resp.Header.Get(listing.HeaderFilteredCount))
	assert.Equal(t, "2", resp.Header.Get(listing.HeaderLimit))
	link := resp.Header.Get(listing.HeaderLink)
	assert.Contains(t, link, "offset=2")
	assert.Contains(t, link, `rel="next"`)

	resp, envelope = f.do(t, http.MethodGet, "/ocpi/2.2.1/locations?date_from=2024-01-01T00:00:00Z&offset=4&limit=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	items := envelope["data"].([]interface{})
	require.Len(t, items, 1)
	assert.Equal(t, "LOC5", items[0].(map[string]interface{})["id"])
	assert.Empty(t, resp.Header.Get(listing.HeaderLink))

	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.ListingRequests.WithLabelValues("locations")))
}

func TestListLocations_InvalidParameters(t *testing.T) {
	f := newFixture(t)

	for _, query := range []string{"limit=0", "offset=-1", "date_to=yesterday"} {
		resp, envelope := f.do(t, http.MethodGet, "/ocpi/2.2.1/locations?"+query, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, query)
		assert.Equal(t, int(ocpi.StatusInvalidParameters), statusCode(envelope), query)
	}

	// 超出上限的 limit 被截断
	resp, _ := f.do(t, http.MethodGet, "/ocpi/2.2.1/locations?limit=1000", nil)
	assert.Equal(t, "10", resp.Header.Get(listing.HeaderLimit))
}

func TestPutLocation(t *testing.T) {
	f := newFixture(t)

	resp, envelope := f.do(t, http.MethodPut, "/ocpi/2.2.1/locations/LOC1", sampleLocation("LOC1", t0))
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, int(ocpi.StatusSuccess), statusCode(envelope))

	resp, _ = f.do(t, http.MethodPut, "/ocpi/2.2.1/locations/LOC1", sampleLocation("LOC1", t0.Add(time.Hour)))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, envelope = f.do(t, http.MethodPut, "/ocpi/2.2.1/locations/LOC2", sampleLocation("LOC1", t0))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, IdentityMismatch, description(envelope))

	invalid := sampleLocation("LOC3", t0)
	invalid.Country = "NL"
	resp, _ = f.do(t, http.MethodPut, "/ocpi/2.2.1/locations/LOC3", invalid)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPut, "/ocpi/2.2.1/locations/LOC3", "{not json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Equal(t, 1, f.store.GetStats().Locations)
}

func TestPatchLocation(t *testing.T) {
	f := newFixture(t)
	f.store.PutLocation(sampleLocation("LOC1", t0))

	resp, envelope := f.do(t, http.MethodPatch, "/ocpi/2.2.1/locations/LOC1", `{"name":"Depot"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, MissingLastUpdated, description(envelope))

	resp, envelope = f.do(t, http.MethodPatch, "/ocpi/2.2.1/locations/LOC1", `{"name":"Depot","last_updated":"2024-02-01T00:00:00Z"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := envelope["data"].(map[string]interface{})
	assert.Equal(t, "Depot", data["name"])
	assert.Len(t, data["evses"], 1)

	stored, ok := f.store.GetLocation("LOC1")
	require.True(t, ok)
	assert.Equal(t, "Depot", stored.Name)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), stored.LastUpdated)

	resp, _ = f.do(t, http.MethodPatch, "/ocpi/2.2.1/locations/LOC1", `{"id":"OTHER","last_updated":"2024-02-01T00:00:00Z"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, envelope = f.do(t, http.MethodPatch, "/ocpi/2.2.1/locations/NOPE", `{"last_updated":"2024-02-01T00:00:00Z"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Unknown location identification!", description(envelope))
}

func TestEVSEAndConnectorWrites(t *testing.T) {
	f := newFixture(t)

	evse := sampleLocation("LOC1", t0).EVSEs[0]
	resp, envelope := f.do(t, http.MethodPut, "/ocpi/2.2.1/locations/LOC1/EVSE-1", evse)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Unknown location identification!", description(envelope))

	f.store.PutLocation(sampleLocation("LOC1", t0))

	evse.UID = "EVSE-2"
	resp, _ = f.do(t, http.MethodPut, "/ocpi/2.2.1/locations/LOC1/EVSE-2", evse)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, envelope = f.do(t, http.MethodPatch, "/ocpi/2.2.1/locations/LOC1/EVSE-2", `{"status":"CHARGING","last_updated":"2024-03-01T00:00:00Z"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "CHARGING", envelope["data"].(map[string]interface{})["status"])

	// 子对象更新推进父级时间
	loc, _ := f.store.GetLocation("LOC1")
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), loc.LastUpdated)

	conn := evse.Connectors[0]
	conn.ID = "2"
	resp, _ = f.do(t, http.MethodPut, "/ocpi/2.2.1/locations/LOC1/EVSE-2/2", conn)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPut, "/ocpi/2.2.1/locations/LOC1/EVSE-9/2", conn)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.do(t, http.MethodDelete, "/ocpi/2.2.1/locations/LOC1/EVSE-2/2", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_, ok := f.store.GetConnector("LOC1", "EVSE-2", "2")
	assert.False(t, ok)

	resp, _ = f.do(t, http.MethodDelete, "/ocpi/2.2.1/locations/LOC1/EVSE-2", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = f.do(t, http.MethodDelete, "/ocpi/2.2.1/locations/LOC1/EVSE-2", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.do(t, http.MethodDelete, "/ocpi/2.2.1/locations/LOC1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, f.store.GetStats().Locations)
}

func TestTokens(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, http.MethodPut, "/ocpi/2.2.1/tokens/NL/TNM/012345678", sampleToken("012345678"))
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, envelope := f.do(t, http.MethodGet, "/ocpi/2.2.1/tokens/nl/tnm/012345678", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "NL-TNM-C12345678-X", envelope["data"].(map[string]interface{})["contract_id"])

	resp, _ = f.do(t, http.MethodPatch, "/ocpi/2.2.1/tokens/NL/TNM/012345678", `{"valid":false,"last_updated":"2024-05-01T00:00:00Z"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	token, ok := f.store.GetToken(ocpi.Party{CountryCode: "NL", PartyID: "TNM"}, "012345678")
	require.True(t, ok)
	assert.False(t, token.Valid)

	resp, envelope = f.do(t, http.MethodPut, "/ocpi/2.2.1/tokens/DE/TNM/012345678", sampleToken("012345678"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, IdentityMismatch, description(envelope))

	resp, envelope = f.do(t, http.MethodGet, "/ocpi/2.2.1/tokens/NLD/TNM/012345678", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid country code identification!", description(envelope))

	resp, envelope = f.do(t, http.MethodGet, "/ocpi/2.2.1/tokens/NL/TNM/UNKNOWN", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, int(ocpi.StatusUnknownToken), statusCode(envelope))

	resp, envelope = f.do(t, http.MethodGet, "/ocpi/2.2.1/tokens", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, envelope["data"], 1)

	resp, _ = f.do(t, http.MethodDelete, "/ocpi/2.2.1/tokens/NL/TNM/012345678", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, f.store.GetStats().Tokens)
}

// registerPending 直接在注册表上登记一条已被接受的指令
func registerPending(t *testing.T, f *fixture, timeout time.Duration) *command.Handle {
	t.Helper()
	cmd, err := ocpi.NewCommand(&ocpi.StopSession{SessionID: "S1"}, f.server.URL+"/ocpi/3.0/commands")
	require.NoError(t, err)
	h, err := f.registry.Register(cmd, ocpi.Version30, ocpi.Party{CountryCode: "DE", PartyID: "ABC"})
	require.NoError(t, err)
	require.NoError(t, f.registry.Acknowledge(cmd.ID(), timeout))
	return h
}

func TestReceiveResult_DeliversOnce(t *testing.T) {
	f := newFixture(t)
	h := registerPending(t, f, 5*time.Second)
	path := "/ocpi/3.0/commands/STOP_SESSION/" + string(h.Command().ID())

	resp, envelope := f.do(t, http.MethodPost, path, `{"result_type":"SUCCESS"}`,
		command.HeaderRequestID, "callback-req-1",
		command.HeaderCorrelationID, string(h.Command().CorrelationID()))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int(ocpi.StatusSuccess), statusCode(envelope))
	assert.Equal(t, "callback-req-1", resp.Header.Get(command.HeaderRequestID))
	assert.Equal(t, string(h.Command().CorrelationID()), resp.Header.Get(command.HeaderCorrelationID))

	result, ok := h.Result()
	require.True(t, ok)
	assert.Equal(t, ocpi.ResultSuccess, result.ResultType)

	// 重复投递仍然返回 200，但被当作过期结果丢弃
	resp, _ = f.do(t, http.MethodPost, path, `{"result_type":"FAILED"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	result, _ = h.Result()
	assert.Equal(t, ocpi.ResultSuccess, result.ResultType)

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.AsyncResults.WithLabelValues(metrics.OutcomeDelivered)))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.AsyncResults.WithLabelValues(metrics.OutcomeStale)))
}

func TestReceiveResult_CorrelationMismatchIsStale(t *testing.T) {
	f := newFixture(t)
	h := registerPending(t, f, 5*time.Second)

	resp, _ := f.do(t, http.MethodPost, "/ocpi/3.0/commands/STOP_SESSION/"+string(h.Command().ID()),
		`{"result_type":"SUCCESS"}`, command.HeaderCorrelationID, "someone-else")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, ok := h.Result()
	assert.False(t, ok)
	assert.Equal(t, 1, f.registry.Pending())
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.AsyncResults.WithLabelValues(metrics.OutcomeStale)))
	assert.Zero(t, testutil.ToFloat64(f.metrics.AsyncResults.WithLabelValues(metrics.OutcomeDelivered)))
}

func TestReceiveResult_CommandTypeMismatchIsStale(t *testing.T) {
	f := newFixture(t)
	h := registerPending(t, f, 5*time.Second)
	id := string(h.Command().ID())

	resp, envelope := f.do(t, http.MethodPost, "/ocpi/3.0/commands/START_SESSION/"+id, `{"result_type":"SUCCESS"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int(ocpi.StatusSuccess), statusCode(envelope))

	_, ok := h.Result()
	assert.False(t, ok)
	assert.Equal(t, 1, f.registry.Pending())
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.AsyncResults.WithLabelValues(metrics.OutcomeStale)))

	// 类型一致的回调仍能交付
	resp, _ = f.do(t, http.MethodPost, "/ocpi/3.0/commands/stop_session/"+id, `{"result_type":"SUCCESS"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_, ok = h.Result()
	assert.True(t, ok)
}

func TestReceiveResult_EarlyResultCountedOnDelivery(t *testing.T) {
	f := newFixture(t)
	delivered := f.metrics.AsyncResults.WithLabelValues(metrics.OutcomeDelivered)

	cmd, err := ocpi.NewCommand(&ocpi.StopSession{SessionID: "S1"}, f.server.URL+"/ocpi/3.0/commands")
	require.NoError(t, err)
	h, err := f.registry.Register(cmd, ocpi.Version30, ocpi.Party{CountryCode: "DE", PartyID: "ABC"})
	require.NoError(t, err)

	// 应答前到达的结果只暂存
	resp, _ := f.do(t, http.MethodPost, "/ocpi/3.0/commands/STOP_SESSION/"+string(cmd.ID()), `{"result_type":"SUCCESS"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, testutil.ToFloat64(delivered))

	require.NoError(t, f.registry.Acknowledge(cmd.ID(), 5*time.Second))
	_, ok := h.Result()
	require.True(t, ok)
	assert.Equal(t, float64(1), testutil.ToFloat64(delivered))

	// 被拒绝的指令丢弃暂存结果，不计为送达
	rejected, err := ocpi.NewCommand(&ocpi.StopSession{SessionID: "S2"}, f.server.URL+"/ocpi/3.0/commands")
	require.NoError(t, err)
	_, err = f.registry.Register(rejected, ocpi.Version30, ocpi.Party{CountryCode: "DE", PartyID: "ABC"})
	require.NoError(t, err)
	resp, _ = f.do(t, http.MethodPost, "/ocpi/3.0/commands/STOP_SESSION/"+string(rejected.ID()), `{"result_type":"SUCCESS"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	f.registry.Abandon(rejected.ID())

	assert.Equal(t, float64(1), testutil.ToFloat64(delivered))
	assert.Zero(t, testutil.ToFloat64(f.metrics.AsyncResults.WithLabelValues(metrics.OutcomeStale)))
}

func TestReceiveResult_Malformed(t *testing.T) {
	f := newFixture(t)
	h := registerPending(t, f, 5*time.Second)
	id := string(h.Command().ID())

	testCases := []struct {
		name string
		path string
		body string
	}{
		{"not json", "/ocpi/3.0/commands/STOP_SESSION/" + id, `{"result_type":`},
		{"no result type", "/ocpi/3.0/commands/STOP_SESSION/" + id, `{"payload":{}}`},
		{"unknown result type", "/ocpi/3.0/commands/STOP_SESSION/" + id, `{"result_type":"MAYBE"}`},
		{"callback id mismatch", "/ocpi/3.0/commands/STOP_SESSION/" + id, `{"result_type":"SUCCESS","callback_id":"other"}`},
		{"unknown command type", "/ocpi/3.0/commands/BREW_COFFEE/" + id, `{"result_type":"SUCCESS"}`},
		{"malformed command id", "/ocpi/3.0/commands/STOP_SESSION/" + strings.Repeat("x", 65), `{"result_type":"SUCCESS"}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp, envelope := f.do(t, http.MethodPost, tc.path, tc.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, int(ocpi.StatusInvalidParameters), statusCode(envelope))
		})
	}

	// 格式错误的结果不会触碰注册表
	_, ok := h.Result()
	assert.False(t, ok)
	assert.Equal(t, float64(len(testCases)), testutil.ToFloat64(f.metrics.AsyncResults.WithLabelValues(metrics.OutcomeMalformed)))
}

func TestReceiveResult_LegacyShape(t *testing.T) {
	f := newFixture(t)
	cmd, err := ocpi.NewCommand(&ocpi.StopSession{SessionID: "S1"}, f.server.URL+"/ocpi/2.2.1/commands")
	require.NoError(t, err)
	h, err := f.registry.Register(cmd, ocpi.Version221, ocpi.Party{CountryCode: "DE", PartyID: "ABC"})
	require.NoError(t, err)
	require.NoError(t, f.registry.Acknowledge(cmd.ID(), 5*time.Second))

	resp, _ := f.do(t, http.MethodPost, "/ocpi/2.2.1/commands/STOP_SESSION/"+string(cmd.ID()), `{"result":"ACCEPTED"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	result, ok := h.Result()
	require.True(t, ok)
	assert.Equal(t, ocpi.ResultSuccess, result.ResultType)
	assert.Equal(t, "ACCEPTED", result.RawResult)
}

// counterpartyAccepting 接受指令并在稍后通过 response_url 回传结果
func counterpartyAccepting(t *testing.T, result string) *httptest.Server {
	t.Helper()
	cp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		responseURL, _ := body["response_url"].(string)
		correlation := r.Header.Get(command.HeaderCorrelationID)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ocpi.NewResponse(ocpi.CommandResponse{Result: ocpi.ResponseAccepted}))

		go func() {
			time.Sleep(50 * time.Millisecond)
			req, _ := http.NewRequest(http.MethodPost, responseURL, strings.NewReader(result))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set(command.HeaderCorrelationID, correlation)
			if resp, err := http.DefaultClient.Do(req); err == nil {
				resp.Body.Close()
			}
		}()
	}))
	t.Cleanup(cp.Close)
	return cp
}

func TestInitiateCommand_WaitForResult(t *testing.T) {
	f := newFixture(t)
	cp := counterpartyAccepting(t, `{"result":"ACCEPTED"}`)
	party := ocpi.Party{CountryCode: "DE", PartyID: "ABC"}
	require.NoError(t, f.endpoints.SetEndpoints(context.Background(), party, []storage.Endpoint{
		{Module: ocpi.ModuleCommands, Role: ocpi.RoleReceiver, URL: cp.URL + "/ocpi/2.2.1/commands"},
	}))

	start := time.Now()
	resp, envelope := f.do(t, http.MethodPost, "/api/commands/STOP_SESSION", map[string]interface{}{
		"country_code": "DE",
		"party_id":     "ABC",
		"version":      "2.2.1",
		"wait":         true,
		"payload":      map[string]interface{}{"session_id": "S1"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Less(t, time.Since(start), time.Second)

	data := envelope["data"].(map[string]interface{})
	assert.Equal(t, "ACCEPTED", data["ack"].(map[string]interface{})["result"])
	assert.Equal(t, "SUCCESS", data["result"].(map[string]interface{})["result_type"])
	assert.True(t, strings.HasPrefix(data["response_url"].(string), f.server.URL+"/ocpi/2.2.1/commands/STOP_SESSION/"))
	assert.Zero(t, f.registry.Pending())
}

func TestInitiateCommand_NoWaitReturnsAck(t *testing.T) {
	f := newFixture(t)
	cp := counterpartyAccepting(t, `{"result":"ACCEPTED"}`)
	party := ocpi.Party{CountryCode: "DE", PartyID: "ABC"}
	require.NoError(t, f.endpoints.SetEndpoints(context.Background(), party, []storage.Endpoint{
		{Module: ocpi.ModuleCommands, Role: ocpi.RoleReceiver, URL: cp.URL},
	}))

	resp, envelope := f.do(t, http.MethodPost, "/api/commands/stop_session", map[string]interface{}{
		"country_code": "DE",
		"party_id":     "ABC",
		"command_id":   "CMD-42",
		"payload":      map[string]interface{}{"session_id": "S1"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := envelope["data"].(map[string]interface{})
	assert.Equal(t, "CMD-42", data["command_id"])
	assert.NotNil(t, data["deadline"])
	assert.Nil(t, data["result"])

	// 回调随后到达并终结条目
	assert.Eventually(t, func() bool { return f.registry.Pending() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestInitiateCommand_WaitIsBounded(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.MaxWait = 100 * time.Millisecond })
	silent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ocpi.NewResponse(ocpi.CommandResponse{Result: ocpi.ResponseAccepted}))
	}))
	t.Cleanup(silent.Close)
	party := ocpi.Party{CountryCode: "DE", PartyID: "ABC"}
	require.NoError(t, f.endpoints.SetEndpoints(context.Background(), party, []storage.Endpoint{
		{Module: ocpi.ModuleCommands, Role: ocpi.RoleReceiver, URL: silent.URL},
	}))

	start := time.Now()
	resp, envelope := f.do(t, http.MethodPost, "/api/commands/STOP_SESSION", map[string]interface{}{
		"country_code": "DE",
		"party_id":     "ABC",
		"command_id":   "CMD-WAIT",
		"wait":         true,
		"payload":      map[string]interface{}{"session_id": "S1"},
	})
	assert.Less(t, time.Since(start), time.Second)
	require.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
	assert.Equal(t, int(ocpi.StatusServerError), statusCode(envelope))
	assert.Equal(t, WaitExceeded, envelope["status_message"])

	data := envelope["data"].(map[string]interface{})
	assert.Equal(t, "CMD-WAIT", data["command_id"])
	assert.NotNil(t, data["deadline"])
	assert.Nil(t, data["result"])

	// 条目保留到指令自身超时
	assert.Equal(t, 1, f.registry.Pending())
}

func TestInitiateCommand_Failures(t *testing.T) {
	f := newFixture(t)

	testCases := []struct {
		name       string
		path       string
		body       interface{}
		wantStatus int
		wantCode   ocpi.StatusCode
		wantMsg    string
	}{
		{
			name:       "no route",
			path:       "/api/commands/STOP_SESSION",
			body:       map[string]interface{}{"country_code": "DE", "party_id": "ABC", "payload": map[string]interface{}{"session_id": "S1"}},
			wantStatus: http.StatusBadGateway,
			wantCode:   ocpi.StatusNoMatchingEndpoints,
			wantMsg:    command.NoRouteMessage,
		},
		{
			name:       "invalid payload",
			path:       "/api/commands/STOP_SESSION",
			body:       map[string]interface{}{"country_code": "DE", "party_id": "ABC", "payload": map[string]interface{}{}},
			wantStatus: http.StatusBadRequest,
			wantCode:   ocpi.StatusInvalidParameters,
		},
		{
			name:       "invalid party",
			path:       "/api/commands/STOP_SESSION",
			body:       map[string]interface{}{"country_code": "DEU", "party_id": "ABC", "payload": map[string]interface{}{"session_id": "S1"}},
			wantStatus: http.StatusBadRequest,
			wantCode:   ocpi.StatusInvalidParameters,
		},
		{
			name:       "unknown command",
			path:       "/api/commands/BREW_COFFEE",
			body:       map[string]interface{}{"country_code": "DE", "party_id": "ABC"},
			wantStatus: http.StatusBadRequest,
			wantCode:   ocpi.StatusInvalidParameters,
		},
		{
			name:       "unsupported version",
			path:       "/api/commands/STOP_SESSION",
			body:       map[string]interface{}{"country_code": "DE", "party_id": "ABC", "version": "1.0", "payload": map[string]interface{}{"session_id": "S1"}},
			wantStatus: http.StatusBadRequest,
			wantCode:   ocpi.StatusUnsupportedVersion,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp, envelope := f.do(t, http.MethodPost, tc.path, tc.body)
			assert.Equal(t, tc.wantStatus, resp.StatusCode)
			assert.Equal(t, int(tc.wantCode), statusCode(envelope))
			if tc.wantMsg != "" {
				assert.Equal(t, tc.wantMsg, envelope["status_message"])
			}
		})
	}
	assert.Zero(t, f.registry.Pending())
}

func TestPartyEndpoints(t *testing.T) {
	f := newFixture(t)
	path := "/api/parties/DE/ABC/endpoints"

	resp, _ := f.do(t, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPut, path, []storage.Endpoint{{Module: ocpi.ModuleCommands, Role: "BOTH", URL: "https://cpo.example.com/commands"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPut, path, []storage.Endpoint{{Module: ocpi.ModuleCommands, Role: ocpi.RoleReceiver, URL: "/relative"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPut, "/api/parties/DE/ABCD/endpoints", []storage.Endpoint{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	endpoints := []storage.Endpoint{
		{Module: ocpi.ModuleCommands, Role: ocpi.RoleReceiver, URL: "https://cpo.example.com/ocpi/2.2.1/commands"},
		{Module: ocpi.ModuleLocations, Role: ocpi.RoleSender, URL: "https://cpo.example.com/ocpi/2.2.1/locations"},
	}
	resp, _ = f.do(t, http.MethodPut, path, endpoints)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, envelope := f.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, envelope["data"], 2)

	url, err := f.endpoints.GetEndpoint(context.Background(), ocpi.Party{CountryCode: "DE", PartyID: "ABC"}, ocpi.ModuleCommands, ocpi.RoleReceiver)
	require.NoError(t, err)
	assert.Equal(t, endpoints[0].URL, url)

	resp, _ = f.do(t, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	f.store.PutLocation(sampleLocation("LOC1", t0))
	registerPending(t, f, 5*time.Second)

	resp, err := http.Get(f.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status HealthStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, 1, status.Pending)
	assert.Equal(t, 1, status.Store.Locations)
	assert.Nil(t, status.Hub)
}
