// Package integration provides a reusable test harness for end-to-end
// integration testing of the masterdata BFF server. It starts a full HTTP
// server against a mock records backend, a Redis-backed session store and
// a test JWT issuer.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/masterdata/internal/config"
	"github.com/pitabwire/masterdata/internal/export"
	"github.com/pitabwire/masterdata/internal/form"
	"github.com/pitabwire/masterdata/internal/lookup"
	"github.com/pitabwire/masterdata/internal/observability"
	"github.com/pitabwire/masterdata/internal/openapi"
	"github.com/pitabwire/masterdata/internal/provider"
	"github.com/pitabwire/masterdata/internal/session"
	"github.com/pitabwire/masterdata/internal/transport"
	"github.com/pitabwire/masterdata/model"
)

// TestHarness encapsulates a fully wired BFF instance for integration
// testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	// Components exposed for advanced scenarios.
	Backend  *MockBackend
	Provider *provider.HTTPProvider
	Sessions *session.Manager
	Redis    *miniredis.Miniredis
	Metrics  *observability.Metrics
	Registry *prometheus.Registry

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	handlerTimeout time.Duration
	backendTimeout time.Duration
	breaker        *config.CircuitBreakerConfig
	retry          *config.RetryConfig
	memorySessions bool
	maxSessions    int
	maxExportBytes int64
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) { c.handlerTimeout = d }
}

// WithBackendTimeout sets the HTTP client timeout towards the backend.
func WithBackendTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) { c.backendTimeout = d }
}

// WithCircuitBreaker overrides the backend circuit breaker settings.
func WithCircuitBreaker(cb config.CircuitBreakerConfig) HarnessOption {
	return func(c *harnessConfig) { c.breaker = &cb }
}

// WithRetry overrides the backend retry settings. By default the harness
// makes a single attempt.
func WithRetry(r config.RetryConfig) HarnessOption {
	return func(c *harnessConfig) { c.retry = &r }
}

// WithMemorySessions keeps view sessions in process memory instead of Redis.
func WithMemorySessions() HarnessOption {
	return func(c *harnessConfig) { c.memorySessions = true }
}

// WithMaxExportBytes caps the size of export files accepted from the backend.
func WithMaxExportBytes(n int64) HarnessOption {
	return func(c *harnessConfig) { c.maxExportBytes = n }
}

// WithMaxSessions caps the number of live view sessions.
func WithMaxSessions(n int) HarnessOption {
	return func(c *harnessConfig) { c.maxSessions = n }
}

// NewTestHarness creates and starts a full BFF test instance. Everything is
// shut down when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		handlerTimeout: 10 * time.Second,
		backendTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(hc)
	}

	h := &TestHarness{t: t, Backend: newMockBackend(t), issuer: newTokenIssuer(t)}
	seedBackendDefaults(h.Backend)

	cfg := config.Defaults()
	cfg.Server.HandlerTimeout = hc.handlerTimeout
	cfg.Server.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	cfg.Identity.Enabled = true
	cfg.Identity.Issuer = testIssuer
	cfg.Identity.Audience = testAudience
	cfg.Identity.JWKSURL = h.issuer.JWKSURL()
	cfg.Backend.BaseURL = h.Backend.URL()
	cfg.Backend.Timeout = hc.backendTimeout
	cfg.Backend.Retry = config.RetryConfig{MaxAttempts: 1, IdempotentOnly: true}
	if hc.retry != nil {
		cfg.Backend.Retry = *hc.retry
	}
	if hc.breaker != nil {
		cfg.Backend.CircuitBreaker = *hc.breaker
	}
	if hc.maxSessions > 0 {
		cfg.Sessions.MaxSessions = hc.maxSessions
	}
	if hc.maxExportBytes > 0 {
		cfg.Backend.MaxExportBytes = hc.maxExportBytes
	}
	cfg.Observability.Metrics.Enabled = true
	h.cfg = cfg

	h.Registry = prometheus.NewRegistry()
	h.Metrics = observability.InitMetrics(h.Registry)

	var err error
	h.Provider, err = provider.New(cfg.Backend, provider.WithMetrics(h.Metrics))
	if err != nil {
		t.Fatalf("create provider: %v", err)
	}

	var store session.Store
	if hc.memorySessions {
		store = session.NewMemoryStore(cfg.Sessions.Store.TTL)
	} else {
		h.Redis = miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: h.Redis.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		store = session.NewRedisStore(client, time.Hour)
	}
	h.Sessions = session.NewManager(h.Provider, cfg.List, cfg.Sessions, store, h.Metrics, nil)

	api, err := openapi.Load()
	if err != nil {
		t.Fatalf("load API document: %v", err)
	}

	options := lookup.NewCachingProvider(h.Provider, lookup.NewMemoryCache(cfg.Lookup.Cache.MaxEntries),
		cfg.Lookup.Cache.TTL, h.Metrics, nil)
	materializer := form.NewMaterializer(options, cfg.Form.Locale, h.Metrics, nil)

	readiness := observability.ReadinessChecks{"backend": h.Provider}
	if checker, ok := store.(observability.HealthChecker); ok {
		readiness["session_store"] = checker
	}

	jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL, nil)
	router := transport.NewRouter(transport.Dependencies{
		Config:         cfg,
		Authenticate:   transport.JWTAuthenticator(cfg.Identity, jwks),
		Provider:       h.Provider,
		Sessions:       h.Sessions,
		Forms:          form.NewController(h.Provider, materializer, h.Metrics, nil),
		Exports:        export.NewRunner(h.Provider, h.Metrics, nil),
		API:            api,
		Metrics:        h.Metrics,
		MetricsHandler: observability.Handler(h.Registry),
		Readiness:      readiness,
	})

	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)
	return h
}

// seedBackendDefaults makes every backend operation answer with a products
// catalogue unless a test configures otherwise.
func seedBackendDefaults(mb *MockBackend) {
	ok := func(body any) *mockResponse { return &mockResponse{status: http.StatusOK, body: body} }

	mb.setDefault(OpListEntities, ok(map[string]any{"data": []map[string]any{
		{"tableName": "products", "displayName": "Products"},
		{"tableName": "vendors", "displayName": "Vendors"},
	}}))
	mb.setDefault(OpGetMetadata, ok(map[string]any{"data": ProductsMetadataFixture()}))
	mb.setDefault(OpListRecords, ok(RecordsPageFixture([]map[string]any{
		ProductFixture("1", "P-1", "Shoe"),
		ProductFixture("2", "P-2", "Boot"),
	}, 45)))
	mb.setDefault(OpGetRecord, ok(map[string]any{"data": ProductFixture("7", "P-7", "Sandal")}))
	mb.setDefault(OpCreateRecord, ok(map[string]any{"data": map[string]any{"id": "p-100"}}))
	mb.setDefault(OpUpdateRecord, ok(map[string]any{"data": map[string]any{"id": "7"}}))
	mb.setDefault(OpDeleteRecord, ok(map[string]any{"data": map[string]any{"id": "7"}}))
	mb.setDefault(OpVendorOptions, ok(map[string]any{"data": []map[string]any{
		{"id": 3, "name": "Acme"},
		{"id": 4, "name": "Globex"},
	}}))
	mb.setDefault(OpExportCSV, &mockResponse{
		status: http.StatusOK,
		raw:    []byte("code,title\nP-1,Shoe\n"),
		headerFunc: func(h http.Header) {
			h.Set("Content-Type", "text/csv")
			h.Set("Content-Disposition", `attachment; filename="products.csv"`)
		},
	})
	mb.setDefault(OpExportExcel, &mockResponse{status: http.StatusOK, raw: []byte("PK\x03\x04")})
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// Config returns the configuration the server runs with.
func (h *TestHarness) Config() *config.Config {
	return h.cfg
}

// GenerateToken creates a valid JWT with the given claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken creates a JWT that has already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// --- HTTP client helpers ---

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.Do(http.MethodGet, path, nil, token, nil)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.Do(http.MethodPost, path, body, token, nil)
}

// PUT performs an authenticated PUT request with a JSON body.
func (h *TestHarness) PUT(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.Do(http.MethodPut, path, body, token, nil)
}

// DELETE performs an authenticated DELETE request.
func (h *TestHarness) DELETE(path, token string) *http.Response {
	h.t.Helper()
	return h.Do(http.MethodDelete, path, nil, token, nil)
}

// Do performs a request. A string body is sent verbatim; other bodies are
// JSON encoded.
func (h *TestHarness) Do(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	var bodyReader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		bodyReader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	data := h.ReadBody(resp)
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, data)
	}
}

// ReadBody reads and closes the response body.
func (h *TestHarness) ReadBody(resp *http.Response) []byte {
	h.t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	return data
}

// AssertStatus checks the response status and closes the body.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != expected {
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, body)
	}
}

// AssertJSON checks the response status and parses the body into target.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, body)
	}
	h.ParseJSON(resp, target)
}

// AssertError checks the status and the error code of an error response.
func (h *TestHarness) AssertError(t *testing.T, resp *http.Response, status int, code string) model.ErrorEnvelope {
	t.Helper()
	var body struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	h.AssertJSON(t, resp, status, &body)
	if body.Error.Code != code {
		t.Errorf("error code = %q, want %q (message %q)", body.Error.Code, code, body.Error.Message)
	}
	return body.Error
}

// --- view helpers ---

// View is the decoded body of a view endpoint.
type View struct {
	ID     string `json:"id"`
	Issued *bool  `json:"issued"`
	State  struct {
		Phase      string               `json:"phase"`
		Entity     string               `json:"entity"`
		Entities   []model.Entity       `json:"entities"`
		Values     map[string]any       `json:"values"`
		Page       int                  `json:"page"`
		PageSize   int                  `json:"pageSize"`
		TotalPages int                  `json:"totalPages"`
		PageWindow []int                `json:"pageWindow"`
		Rows       []map[string]any     `json:"rows"`
		Total      int                  `json:"total"`
		Fetched    bool                 `json:"fetched"`
		LastError  *model.ErrorEnvelope `json:"lastError"`
	} `json:"state"`
}

// CreateView opens a view of entity and returns it.
func (h *TestHarness) CreateView(t *testing.T, token, entity string) View {
	t.Helper()
	var v View
	h.AssertJSON(t, h.POST("/api/views", map[string]string{"entity": entity}, token), http.StatusCreated, &v)
	return v
}

// ViewCall performs a view request that is expected to succeed.
func (h *TestHarness) ViewCall(t *testing.T, method, path string, body any, token string) View {
	t.Helper()
	var v View
	h.AssertJSON(t, h.Do(method, path, body, token, nil), http.StatusOK, &v)
	return v
}

// --- default claims ---

// EditorClaims returns claims of a catalogue editor of tenant acme-corp.
func EditorClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-editor",
		TenantID:  "acme-corp",
		Email:     "editor@acme.example.com",
		Roles:     []string{"catalogue_editor"},
	}
}

// OtherTenantClaims returns claims of a user of a different tenant.
func OtherTenantClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-globex",
		TenantID:  "globex",
		Email:     "editor@globex.example.com",
		Roles:     []string{"catalogue_editor"},
	}
}

// --- fixtures ---

// ProductsMetadataFixture returns the metadata the backend serves for
// products.
func ProductsMetadataFixture() map[string]any {
	return map[string]any{
		"parameterList": []map[string]any{
			{"name": "title", "label": "Title", "dataType": "string"},
			{"name": "status", "label": "Status", "dataType": "string", "options": []map[string]any{
				{"value": "active", "label": "Active"},
				{"value": "retired", "label": "Retired"},
			}},
			{"name": "created", "label": "Created", "dataType": "daterange"},
		},
		"resultsList": []map[string]any{
			{"name": "code", "label": "Code", "dataType": "string"},
			{"name": "title", "label": "Title", "dataType": "string"},
			{"name": "price", "label": "Price", "dataType": "float"},
		},
		"formConfig": map[string]any{
			"Code": map[string]any{
				"fieldName": "code", "dataType": "string", "fieldType": "text",
				"validation": map[string]any{"required": true},
			},
			"Price": map[string]any{
				"fieldName": "price", "dataType": "float", "fieldType": "number",
				"validation": map[string]any{"min": 0, "max": 1000},
			},
			"Vendor": map[string]any{
				"fieldName": "vendorId", "dataType": "number", "fieldType": "dropdown",
				"optionType": "API", "option": "/master/vendors/options",
				"validation": map[string]any{"required": true},
			},
			"Status": map[string]any{
				"fieldName": "status", "dataType": "string", "fieldType": "radio",
				"optionType": "Static", "option": []map[string]any{
					{"value": "active", "label": "Active"},
					{"value": "retired", "label": "Retired"},
				},
			},
			"ID": map[string]any{"fieldName": "id", "dataType": "number", "fieldType": "text"},
		},
	}
}

// ProductFixture returns a product record as the backend serves it.
func ProductFixture(id, code, title string) map[string]any {
	return map[string]any{
		"id":               id,
		"code":             code,
		"title":            title,
		"price":            19.5,
		"status":           "active",
		"vendorId":         3,
		"vendorId_display": "Acme",
	}
}

// RecordsPageFixture returns a page of records with the total match count.
func RecordsPageFixture(rows []map[string]any, total int) map[string]any {
	return map[string]any{"data": rows, "total": total}
}

// ErrorFixture returns a backend error body.
func ErrorFixture(message string) map[string]any {
	return map[string]any{"message": message}
}

// FormatJSON converts a value to indented JSON for test output.
func FormatJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
