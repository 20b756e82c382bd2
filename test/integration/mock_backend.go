package integration

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// Operation names of the mock records backend.
const (
	OpListEntities  = "listEntities"
	OpGetMetadata   = "getMetadata"
	OpListRecords   = "listRecords"
	OpCreateRecord  = "createRecord"
	OpGetRecord     = "getRecord"
	OpUpdateRecord  = "updateRecord"
	OpDeleteRecord  = "deleteRecord"
	OpExportCSV     = "exportCSV"
	OpExportExcel   = "exportExcel"
	OpVendorOptions = "vendorOptions"
)

// backendRoutes maps operations to the default endpoint templates of the
// records backend.
var backendRoutes = map[string]string{
	OpListEntities:  "GET /master/entities",
	OpGetMetadata:   "GET /master/{entity}/metadata",
	OpListRecords:   "GET /master/{entity}/records",
	OpCreateRecord:  "POST /master/{entity}/records",
	OpGetRecord:     "GET /master/{entity}/records/{id}",
	OpUpdateRecord:  "PUT /master/{entity}/records/{id}",
	OpDeleteRecord:  "DELETE /master/{entity}/records/{id}",
	OpExportCSV:     "GET /master/{entity}/export/csv",
	OpExportExcel:   "GET /master/{entity}/export/excel",
	OpVendorOptions: "GET /master/vendors/options",
}

// MockBackend is an HTTP test server standing in for the records backend.
// Responses are configured per operation and every request is recorded.
type MockBackend struct {
	t      *testing.T
	server *httptest.Server

	mu         sync.RWMutex
	operations map[string]*operationConfig
	defaults   map[string]*mockResponse
	received   map[string][]*RecordedRequest
}

// RecordedRequest captures a request received by the mock backend.
type RecordedRequest struct {
	Method      string
	Path        string
	Entity      string
	ID          string
	QueryParams map[string]string
	Headers     http.Header
	Body        map[string]any
	RawBody     []byte
	ReceivedAt  time.Time
}

type operationConfig struct {
	mu        sync.Mutex
	responses []*mockResponse
	current   int
}

type mockResponse struct {
	status     int
	body       any
	raw        []byte
	delay      time.Duration
	connError  bool
	headerFunc func(http.Header)
}

// OperationMock configures the responses of one operation. Responses are
// served in order; the last one repeats.
type OperationMock struct {
	backend *MockBackend
	opID    string
}

func newMockBackend(t *testing.T) *MockBackend {
	t.Helper()

	mb := &MockBackend{
		t:          t,
		operations: make(map[string]*operationConfig),
		defaults:   make(map[string]*mockResponse),
		received:   make(map[string][]*RecordedRequest),
	}
	mux := http.NewServeMux()
	for opID, pattern := range backendRoutes {
		mux.HandleFunc(pattern, mb.handleOperation(opID))
	}
	mb.server = httptest.NewServer(mux)
	t.Cleanup(mb.server.Close)
	return mb
}

// URL returns the base URL of the mock backend.
func (mb *MockBackend) URL() string {
	return mb.server.URL
}

// OnOperation returns a builder for the responses of operationID.
func (mb *MockBackend) OnOperation(operationID string) *OperationMock {
	return &OperationMock{backend: mb, opID: operationID}
}

// RespondWith answers with status and a JSON body.
func (om *OperationMock) RespondWith(status int, body any) *OperationMock {
	om.backend.addResponse(om.opID, &mockResponse{status: status, body: body})
	return om
}

// RespondWithError answers with an error body carrying message.
func (om *OperationMock) RespondWithError(status int, message string) *OperationMock {
	return om.RespondWith(status, ErrorFixture(message))
}

// RespondWithDelay answers after delay.
func (om *OperationMock) RespondWithDelay(delay time.Duration, status int, body any) *OperationMock {
	om.backend.addResponse(om.opID, &mockResponse{status: status, body: body, delay: delay})
	return om
}

// RespondWithConnectionError drops the connection without answering.
func (om *OperationMock) RespondWithConnectionError() *OperationMock {
	om.backend.addResponse(om.opID, &mockResponse{connError: true})
	return om
}

// RespondWithFile answers with raw bytes and the given content headers.
// Empty header values are left out.
func (om *OperationMock) RespondWithFile(data []byte, contentType, disposition string) *OperationMock {
	om.backend.addResponse(om.opID, &mockResponse{
		status: http.StatusOK,
		raw:    data,
		headerFunc: func(h http.Header) {
			if contentType != "" {
				h.Set("Content-Type", contentType)
			}
			if disposition != "" {
				h.Set("Content-Disposition", disposition)
			}
		},
	})
	return om
}

func (mb *MockBackend) addResponse(opID string, resp *mockResponse) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	cfg, ok := mb.operations[opID]
	if !ok {
		cfg = &operationConfig{}
		mb.operations[opID] = cfg
	}
	cfg.responses = append(cfg.responses, resp)
}

// setDefault sets the answer used when no response is configured.
func (mb *MockBackend) setDefault(opID string, resp *mockResponse) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.defaults[opID] = resp
}

func (mb *MockBackend) handleOperation(opID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &RecordedRequest{
			Method:      r.Method,
			Path:        r.URL.Path,
			Entity:      r.PathValue("entity"),
			ID:          r.PathValue("id"),
			QueryParams: make(map[string]string),
			Headers:     r.Header.Clone(),
			ReceivedAt:  time.Now(),
		}
		for key, values := range r.URL.Query() {
			if len(values) > 0 {
				rec.QueryParams[key] = values[0]
			}
		}
		if body, _ := io.ReadAll(r.Body); len(body) > 0 {
			rec.RawBody = body
			var parsed map[string]any
			if err := json.Unmarshal(body, &parsed); err == nil {
				rec.Body = parsed
			}
		}

		mb.mu.Lock()
		mb.received[opID] = append(mb.received[opID], rec)
		mb.mu.Unlock()

		resp := mb.nextResponse(opID)
		if resp == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(ErrorFixture("mock: nothing configured for " + opID))
			return
		}

		if resp.connError {
			if hj, ok := w.(http.Hijacker); ok {
				if conn, _, _ := hj.Hijack(); conn != nil {
					_ = conn.Close()
				}
			}
			return
		}
		if resp.delay > 0 {
			select {
			case <-time.After(resp.delay):
			case <-r.Context().Done():
				return
			}
		}

		if resp.raw != nil {
			// No sniffing: a missing Content-Type stays missing.
			w.Header()["Content-Type"] = nil
			if resp.headerFunc != nil {
				resp.headerFunc(w.Header())
			}
			w.WriteHeader(resp.status)
			_, _ = w.Write(resp.raw)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if resp.headerFunc != nil {
			resp.headerFunc(w.Header())
		}
		w.WriteHeader(resp.status)
		if resp.body != nil {
			_ = json.NewEncoder(w).Encode(resp.body)
		}
	}
}

func (mb *MockBackend) nextResponse(opID string) *mockResponse {
	mb.mu.RLock()
	cfg, ok := mb.operations[opID]
	fallback := mb.defaults[opID]
	mb.mu.RUnlock()
	if !ok || cfg == nil {
		return fallback
	}

	cfg.mu.Lock()
	defer cfg.mu.Unlock()
	if len(cfg.responses) == 0 {
		return fallback
	}
	idx := cfg.current
	if idx >= len(cfg.responses) {
		idx = len(cfg.responses) - 1
	} else {
		cfg.current++
	}
	return cfg.responses[idx]
}

// AssertCalled verifies that operationID was called expected times.
func (mb *MockBackend) AssertCalled(t *testing.T, operationID string, expected int) {
	t.Helper()
	if actual := len(mb.AllRequests(operationID)); actual != expected {
		t.Errorf("mock backend: operation %q called %d times, want %d", operationID, actual, expected)
	}
}

// AssertNotCalled verifies that operationID was never called.
func (mb *MockBackend) AssertNotCalled(t *testing.T, operationID string) {
	t.Helper()
	mb.AssertCalled(t, operationID, 0)
}

// LastRequest returns the last request for operationID, or nil.
func (mb *MockBackend) LastRequest(operationID string) *RecordedRequest {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	reqs := mb.received[operationID]
	if len(reqs) == 0 {
		return nil
	}
	return reqs[len(reqs)-1]
}

// AllRequests returns a copy of the requests received for operationID.
func (mb *MockBackend) AllRequests(operationID string) []*RecordedRequest {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	return append([]*RecordedRequest(nil), mb.received[operationID]...)
}

// ResetOperation drops the configured responses and recorded requests of
// operationID. Its default answer stays.
func (mb *MockBackend) ResetOperation(operationID string) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	delete(mb.operations, operationID)
	delete(mb.received, operationID)
}
