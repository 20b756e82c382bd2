package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpDurationBuckets    = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	backendDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	bodySizeBuckets        = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the BFF.
type Metrics struct {
	// HTTP
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// List view
	ListFetchesTotal     *prometheus.CounterVec
	ListFetchDuration    *prometheus.HistogramVec
	ListTriggersDeferred *prometheus.CounterVec
	ListStaleResponses   *prometheus.CounterVec
	ListRevealsTotal     *prometheus.CounterVec
	ActiveViewSessions   prometheus.Gauge
	ViewSessionsExpired  prometheus.Counter

	// Forms
	FormSavesTotal         *prometheus.CounterVec
	FormValidationFailures *prometheus.CounterVec
	DropdownOptionFailures *prometheus.CounterVec

	// Exports
	ExportsTotal    *prometheus.CounterVec
	ExportSizeBytes *prometheus.HistogramVec

	// Backend
	BackendRequestsTotal       *prometheus.CounterVec
	BackendRequestDuration     *prometheus.HistogramVec
	BackendCircuitBreakerState prometheus.Gauge
	BackendRetriesTotal        *prometheus.CounterVec

	// Lookup cache
	LookupCacheHitsTotal   *prometheus.CounterVec
	LookupCacheMissesTotal *prometheus.CounterVec
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "masterdata_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "masterdata_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "masterdata_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		ListFetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "masterdata_list_fetches_total",
			Help: "Total number of list fetches issued to the records backend.",
		}, []string{"entity", "status"}),
		ListFetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "masterdata_list_fetch_duration_seconds",
			Help:    "List fetch duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"entity"}),
		ListTriggersDeferred: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "masterdata_list_triggers_deferred_total",
			Help: "Fetch triggers deferred to a follow-up because a fetch was already in flight.",
		}, []string{"entity"}),
		ListStaleResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "masterdata_list_stale_responses_total",
			Help: "List responses discarded because the entity changed while in flight.",
		}, []string{"entity"}),
		ListRevealsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "masterdata_list_reveals_total",
			Help: "Total number of explicit view reveals.",
		}, []string{"entity"}),
		ActiveViewSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "masterdata_view_sessions_active",
			Help: "Number of live list view sessions.",
		}),
		ViewSessionsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "masterdata_view_sessions_expired_total",
			Help: "Total number of view sessions evicted for inactivity.",
		}),

		FormSavesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "masterdata_form_saves_total",
			Help: "Total number of record saves.",
		}, []string{"entity", "mode", "status"}),
		FormValidationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "masterdata_form_validation_failures_total",
			Help: "Total number of submissions blocked by validation.",
		}, []string{"entity"}),
		DropdownOptionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "masterdata_dropdown_option_failures_total",
			Help: "Total number of dropdown option lists that failed to load.",
		}, []string{"entity"}),

		ExportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "masterdata_exports_total",
			Help: "Total number of exports.",
		}, []string{"entity", "format", "status"}),
		ExportSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "masterdata_export_size_bytes",
			Help:    "Export file size in bytes.",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		}, []string{"format"}),

		BackendRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "masterdata_backend_requests_total",
			Help: "Total number of records backend requests.",
		}, []string{"operation", "status"}),
		BackendRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "masterdata_backend_request_duration_seconds",
			Help:    "Records backend request duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"operation"}),
		BackendCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "masterdata_backend_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),
		BackendRetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "masterdata_backend_retries_total",
			Help: "Total number of records backend retries.",
		}, []string{"operation"}),

		LookupCacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "masterdata_lookup_cache_hits_total",
			Help: "Total dropdown option cache hits.",
		}, []string{"backend"}),
		LookupCacheMissesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "masterdata_lookup_cache_misses_total",
			Help: "Total dropdown option cache misses.",
		}, []string{"backend"}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSizeBytes,
		m.ListFetchesTotal,
		m.ListFetchDuration,
		m.ListTriggersDeferred,
		m.ListStaleResponses,
		m.ListRevealsTotal,
		m.ActiveViewSessions,
		m.ViewSessionsExpired,
		m.FormSavesTotal,
		m.FormValidationFailures,
		m.DropdownOptionFailures,
		m.ExportsTotal,
		m.ExportSizeBytes,
		m.BackendRequestsTotal,
		m.BackendRequestDuration,
		m.BackendCircuitBreakerState,
		m.BackendRetriesTotal,
		m.LookupCacheHitsTotal,
		m.LookupCacheMissesTotal,
	)

	return m
}

// Recording helpers are nil-safe so components can run without metrics.

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, respSize int) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordListFetch records a completed list fetch.
func (m *Metrics) RecordListFetch(entity, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ListFetchesTotal.WithLabelValues(entity, status).Inc()
	m.ListFetchDuration.WithLabelValues(entity).Observe(duration.Seconds())
}

// RecordTriggerDeferred records a trigger deferred by the single-flight guard.
func (m *Metrics) RecordTriggerDeferred(entity string) {
	if m == nil {
		return
	}
	m.ListTriggersDeferred.WithLabelValues(entity).Inc()
}

// RecordStaleResponse records a discarded list response.
func (m *Metrics) RecordStaleResponse(entity string) {
	if m == nil {
		return
	}
	m.ListStaleResponses.WithLabelValues(entity).Inc()
}

// RecordReveal records an explicit view reveal.
func (m *Metrics) RecordReveal(entity string) {
	if m == nil {
		return
	}
	m.ListRevealsTotal.WithLabelValues(entity).Inc()
}

// SetActiveViewSessions sets the number of live view sessions.
func (m *Metrics) SetActiveViewSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveViewSessions.Set(float64(n))
}

// RecordViewSessionsExpired records sessions evicted for inactivity.
func (m *Metrics) RecordViewSessionsExpired(n int) {
	if m == nil {
		return
	}
	m.ViewSessionsExpired.Add(float64(n))
}

// RecordFormSave records a record save attempt.
func (m *Metrics) RecordFormSave(entity, mode, status string) {
	if m == nil {
		return
	}
	m.FormSavesTotal.WithLabelValues(entity, mode, status).Inc()
}

// RecordValidationFailure records a submission blocked by validation.
func (m *Metrics) RecordValidationFailure(entity string) {
	if m == nil {
		return
	}
	m.FormValidationFailures.WithLabelValues(entity).Inc()
}

// RecordDropdownFailure records a dropdown option list that failed to load.
func (m *Metrics) RecordDropdownFailure(entity string) {
	if m == nil {
		return
	}
	m.DropdownOptionFailures.WithLabelValues(entity).Inc()
}

// RecordExport records an export and its size.
func (m *Metrics) RecordExport(entity, format, status string, size int) {
	if m == nil {
		return
	}
	m.ExportsTotal.WithLabelValues(entity, format, status).Inc()
	if status == "ok" {
		m.ExportSizeBytes.WithLabelValues(format).Observe(float64(size))
	}
}

// RecordBackendRequest records a records backend request.
func (m *Metrics) RecordBackendRequest(operation string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.BackendRequestsTotal.WithLabelValues(operation, strconv.Itoa(status)).Inc()
	m.BackendRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetBackendCircuitBreakerState sets the circuit breaker state.
// State: 0=closed, 1=half-open, 2=open.
func (m *Metrics) SetBackendCircuitBreakerState(state float64) {
	if m == nil {
		return
	}
	m.BackendCircuitBreakerState.Set(state)
}

// RecordBackendRetry records a backend request retry.
func (m *Metrics) RecordBackendRetry(operation string) {
	if m == nil {
		return
	}
	m.BackendRetriesTotal.WithLabelValues(operation).Inc()
}

// RecordLookupCacheHit records a dropdown option cache hit.
func (m *Metrics) RecordLookupCacheHit(backend string) {
	if m == nil {
		return
	}
	m.LookupCacheHitsTotal.WithLabelValues(backend).Inc()
}

// RecordLookupCacheMiss records a dropdown option cache miss.
func (m *Metrics) RecordLookupCacheMiss(backend string) {
	if m == nil {
		return
	}
	m.LookupCacheMissesTotal.WithLabelValues(backend).Inc()
}

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		m.RecordHTTPRequest(r.Method, routePattern(r), sw.status, time.Since(start), sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := rctx.RoutePattern()
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// statusWriter records the status and size of a response.
type statusWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
