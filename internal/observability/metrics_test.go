package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := InitMetrics(reg)
	return m, reg
}

func TestInitMetrics_registersAllMetrics(t *testing.T) {
	m, reg := newTestMetrics(t)

	// Vec metrics only appear in Gather once a label set exists.
	m.RecordHTTPRequest("GET", "/api/entities", 200, time.Millisecond, 10)
	m.RecordListFetch("products", "ok", time.Millisecond)
	m.RecordTriggerDeferred("products")
	m.RecordStaleResponse("products")
	m.RecordReveal("products")
	m.RecordFormSave("products", "create", "ok")
	m.RecordValidationFailure("products")
	m.RecordDropdownFailure("products")
	m.RecordExport("products", "csv", "ok", 2048)
	m.RecordBackendRequest("list_records", 200, time.Millisecond)
	m.RecordBackendRetry("list_records")
	m.RecordLookupCacheHit("memory")
	m.RecordLookupCacheMiss("memory")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	expected := []string{
		"masterdata_http_requests_total",
		"masterdata_http_request_duration_seconds",
		"masterdata_http_response_size_bytes",
		"masterdata_list_fetches_total",
		"masterdata_list_fetch_duration_seconds",
		"masterdata_list_triggers_deferred_total",
		"masterdata_list_stale_responses_total",
		"masterdata_list_reveals_total",
		"masterdata_view_sessions_active",
		"masterdata_view_sessions_expired_total",
		"masterdata_form_saves_total",
		"masterdata_form_validation_failures_total",
		"masterdata_dropdown_option_failures_total",
		"masterdata_exports_total",
		"masterdata_export_size_bytes",
		"masterdata_backend_requests_total",
		"masterdata_backend_request_duration_seconds",
		"masterdata_backend_circuit_breaker_state",
		"masterdata_backend_retries_total",
		"masterdata_lookup_cache_hits_total",
		"masterdata_lookup_cache_misses_total",
	}
	for _, name := range expected {
		if !names[name] {
			t.Errorf("metric %q not registered", name)
		}
	}
}

func TestRecordListFetch(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.RecordListFetch("products", "ok", 50*time.Millisecond)
	m.RecordListFetch("products", "ok", 10*time.Millisecond)
	m.RecordListFetch("products", "error", 10*time.Millisecond)

	if v := testutil.ToFloat64(m.ListFetchesTotal.WithLabelValues("products", "ok")); v != 2 {
		t.Errorf("ok fetches = %v, want 2", v)
	}
	if v := testutil.ToFloat64(m.ListFetchesTotal.WithLabelValues("products", "error")); v != 1 {
		t.Errorf("error fetches = %v, want 1", v)
	}
}

func TestRecordExport_sizeOnlyOnSuccess(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.RecordExport("products", "excel", "error", 0)
	m.RecordExport("products", "excel", "ok", 4096)

	if v := testutil.ToFloat64(m.ExportsTotal.WithLabelValues("products", "excel", "error")); v != 1 {
		t.Errorf("failed exports = %v, want 1", v)
	}
	if n := testutil.CollectAndCount(m.ExportSizeBytes); n != 1 {
		t.Errorf("export size series = %d, want 1", n)
	}
}

func TestSetBackendCircuitBreakerState(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.SetBackendCircuitBreakerState(2)
	if v := testutil.ToFloat64(m.BackendCircuitBreakerState); v != 2 {
		t.Errorf("breaker state = %v, want 2", v)
	}
}

func TestSessionGauges(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.SetActiveViewSessions(7)
	m.RecordViewSessionsExpired(3)
	if v := testutil.ToFloat64(m.ActiveViewSessions); v != 7 {
		t.Errorf("active sessions = %v, want 7", v)
	}
	if v := testutil.ToFloat64(m.ViewSessionsExpired); v != 3 {
		t.Errorf("expired sessions = %v, want 3", v)
	}
}

func TestNilMetrics_noPanic(t *testing.T) {
	var m *Metrics
	m.RecordListFetch("x", "ok", time.Second)
	m.RecordTriggerDeferred("x")
	m.RecordStaleResponse("x")
	m.RecordLookupCacheHit("memory")
	m.SetActiveViewSessions(1)
}

func TestMetricsMiddleware_recordsRoutePattern(t *testing.T) {
	m, _ := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Get("/api/views/{viewId}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("hello"))
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/views/abc-123", nil))

	if v := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/views/{viewId}", "418")); v != 1 {
		t.Errorf("requests by pattern = %v, want 1", v)
	}
}

func TestMetricsMiddleware_nestedRoutesKeepCleanPattern(t *testing.T) {
	m, _ := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Route("/api", func(r chi.Router) {
		r.Route("/views", func(r chi.Router) {
			r.Route("/{viewId}", func(r chi.Router) {
				r.Post("/reveal", func(w http.ResponseWriter, _ *http.Request) {
					w.WriteHeader(http.StatusOK)
				})
			})
		})
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/views/abc-123/reveal", nil))

	if v := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/api/views/{viewId}/reveal", "200")); v != 1 {
		t.Errorf("requests by nested pattern = %v, want 1", v)
	}
}

func TestMetricsMiddleware_fallsBackToPath(t *testing.T) {
	m, _ := newTestMetrics(t)

	handler := m.MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/raw/path", nil))

	if v := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/raw/path", "200")); v != 1 {
		t.Errorf("requests by raw path = %v, want 1", v)
	}
}

func TestHandler_servesMetrics(t *testing.T) {
	m, reg := newTestMetrics(t)
	m.RecordReveal("products")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "masterdata_list_reveals_total") {
		t.Error("metrics output missing masterdata_list_reveals_total")
	}
}
