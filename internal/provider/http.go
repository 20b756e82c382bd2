// Package provider implements model.RecordsProvider against the records
// backend's HTTP API.
package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/masterdata/internal/config"
	"github.com/pitabwire/masterdata/internal/observability"
	"github.com/pitabwire/masterdata/model"
)

// Body limits used when the configuration leaves them unset.
const (
	defaultMaxResponseBytes = 10 << 20
	defaultMaxExportBytes   = 256 << 20
)

// ErrResponseTooLarge is returned when a backend body exceeds its limit.
var ErrResponseTooLarge = errors.New("provider: response body exceeds limit")

// Backend operation names used for metrics and spans.
const (
	opListEntities = "list_entities"
	opGetMetadata  = "get_metadata"
	opListRecords  = "list_records"
	opGetRecord    = "get_record"
	opCreateRecord = "create_record"
	opUpdateRecord = "update_record"
	opDeleteRecord = "delete_record"
	opExportCSV    = "export_csv"
	opExportExcel  = "export_excel"
	opDropdown     = "dropdown_options"
)

// HTTPProvider calls the records backend with retry and circuit breaking.
// It is safe for concurrent use.
type HTTPProvider struct {
	baseURL   string
	endpoints config.EndpointsConfig
	retry     config.RetryConfig
	client    *http.Client
	breaker   *CircuitBreaker
	metrics   *observability.Metrics
	logger    *zap.Logger

	maxResponseBytes int64
	maxExportBytes   int64
}

var _ model.RecordsProvider = (*HTTPProvider)(nil)

// Option configures an HTTPProvider.
type Option func(*HTTPProvider)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *HTTPProvider) { p.client = c }
}

// WithMetrics records backend metrics on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *HTTPProvider) { p.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *HTTPProvider) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a provider for the backend described by cfg.
func New(cfg config.BackendConfig, opts ...Option) (*HTTPProvider, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("provider: base URL is required")
	}
	if !isAbsoluteURL(cfg.BaseURL) {
		return nil, fmt.Errorf("provider: base URL %q must be absolute", cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cb := cfg.CircuitBreaker
	p := &HTTPProvider{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		endpoints: cfg.Endpoints,
		retry:     cfg.Retry,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxConnsPerHost:     50,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		breaker: NewCircuitBreaker(cb.FailureThreshold, cb.SuccessThreshold, cb.Timeout,
			cb.ErrorRateThreshold, cb.ErrorRateWindow),
		logger:           zap.NewNop(),
		maxResponseBytes: cfg.MaxResponseBytes,
		maxExportBytes:   cfg.MaxExportBytes,
	}
	if p.maxResponseBytes <= 0 {
		p.maxResponseBytes = defaultMaxResponseBytes
	}
	if p.maxExportBytes <= 0 {
		p.maxExportBytes = defaultMaxExportBytes
	}
	for _, opt := range opts {
		opt(p)
	}
	p.breaker.OnStateChange(func(s BreakerState) {
		p.metrics.SetBackendCircuitBreakerState(float64(s))
		p.logger.Warn("records backend circuit breaker changed state", zap.Stringer("state", s))
	})
	return p, nil
}

// Breaker exposes the circuit breaker for diagnostics.
func (p *HTTPProvider) Breaker() *CircuitBreaker {
	return p.breaker
}

// HealthCheck fails while the circuit breaker is open.
func (p *HTTPProvider) HealthCheck(_ context.Context) error {
	if p.breaker.State() == BreakerOpen {
		return ErrCircuitOpen
	}
	return nil
}

// ListEntities returns the entities available for browsing.
func (p *HTTPProvider) ListEntities(ctx context.Context) ([]model.Entity, error) {
	resp, err := p.do(ctx, request{op: opListEntities, method: http.MethodGet, url: p.endpoint(p.endpoints.Entities, "", "")})
	if err != nil {
		return nil, err
	}
	var entities []model.Entity
	if err := decodeData(resp.body, &entities); err != nil {
		return nil, fmt.Errorf("provider: decode entities: %w", err)
	}
	return entities, nil
}

// GetMetadata returns the filter, column and form metadata of entity.
func (p *HTTPProvider) GetMetadata(ctx context.Context, entity string) (model.EntityMetadata, error) {
	resp, err := p.do(ctx, request{
		op:     opGetMetadata,
		entity: entity,
		method: http.MethodGet,
		url:    p.endpoint(p.endpoints.Metadata, entity, ""),
	})
	if err != nil {
		return model.EntityMetadata{}, err
	}
	var md model.EntityMetadata
	if err := decodeData(resp.body, &md); err != nil {
		return model.EntityMetadata{}, fmt.Errorf("provider: decode metadata: %w", err)
	}
	return md, nil
}

// ListRecords returns one page of records.
func (p *HTTPProvider) ListRecords(ctx context.Context, entity string, params model.RequestParams) (model.ListResult, error) {
	resp, err := p.do(ctx, request{
		op:     opListRecords,
		entity: entity,
		method: http.MethodGet,
		url:    withQuery(p.endpoint(p.endpoints.Records, entity, ""), params),
	})
	if err != nil {
		return model.ListResult{}, err
	}
	res, err := decodeList(resp.body)
	if err != nil {
		return model.ListResult{}, fmt.Errorf("provider: decode records: %w", err)
	}
	return res, nil
}

// GetRecord returns a single record.
func (p *HTTPProvider) GetRecord(ctx context.Context, entity, id string) (model.Record, error) {
	resp, err := p.do(ctx, request{
		op:     opGetRecord,
		entity: entity,
		method: http.MethodGet,
		url:    p.endpoint(p.endpoints.Record, entity, id),
	})
	if err != nil {
		return nil, err
	}
	return decodeRecord(resp.body)
}

// CreateRecord posts payload to the records collection of entity.
func (p *HTTPProvider) CreateRecord(ctx context.Context, entity string, payload map[string]any) (model.Record, error) {
	return p.write(ctx, opCreateRecord, http.MethodPost, entity, p.endpoint(p.endpoints.Records, entity, ""), payload)
}

// UpdateRecord replaces record id of entity with payload.
func (p *HTTPProvider) UpdateRecord(ctx context.Context, entity, id string, payload map[string]any) (model.Record, error) {
	return p.write(ctx, opUpdateRecord, http.MethodPut, entity, p.endpoint(p.endpoints.Record, entity, id), payload)
}

// DeleteRecord deletes record id of entity.
func (p *HTTPProvider) DeleteRecord(ctx context.Context, entity, id string) (model.Record, error) {
	resp, err := p.do(ctx, request{
		op:     opDeleteRecord,
		entity: entity,
		method: http.MethodDelete,
		url:    p.endpoint(p.endpoints.Record, entity, id),
	})
	if err != nil {
		return nil, err
	}
	return decodeRecord(resp.body)
}

// ExportCSV downloads the CSV export of entity.
func (p *HTTPProvider) ExportCSV(ctx context.Context, entity string, params model.RequestParams) (model.ExportFile, error) {
	return p.export(ctx, opExportCSV, model.ExportCSV, p.endpoints.ExportCSV, entity, params)
}

// ExportExcel downloads the Excel export of entity.
func (p *HTTPProvider) ExportExcel(ctx context.Context, entity string, params model.RequestParams) (model.ExportFile, error) {
	return p.export(ctx, opExportExcel, model.ExportExcel, p.endpoints.ExportExcel, entity, params)
}

// GetDropdownOptions loads the options served at rawURL. Relative URLs are
// resolved against the backend base URL.
func (p *HTTPProvider) GetDropdownOptions(ctx context.Context, rawURL string) ([]model.Option, error) {
	resp, err := p.do(ctx, request{op: opDropdown, method: http.MethodGet, url: p.resolve(rawURL)})
	if err != nil {
		return nil, err
	}
	opts, err := decodeOptions(resp.body)
	if err != nil {
		return nil, fmt.Errorf("provider: decode options: %w", err)
	}
	return opts, nil
}

func (p *HTTPProvider) write(ctx context.Context, op, method, entity, reqURL string, payload map[string]any) (model.Record, error) {
	body, err := encodeJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("provider: marshal payload: %w", err)
	}
	resp, err := p.do(ctx, request{op: op, entity: entity, method: method, url: reqURL, body: body})
	if err != nil {
		return nil, err
	}
	return decodeRecord(resp.body)
}

func (p *HTTPProvider) export(ctx context.Context, op string, format model.ExportFormat, tmpl, entity string, params model.RequestParams) (model.ExportFile, error) {
	resp, err := p.do(ctx, request{
		op:     op,
		entity: entity,
		method: http.MethodGet,
		url:    withQuery(p.endpoint(tmpl, entity, ""), params),
		accept: "*/*",
		limit:  p.maxExportBytes,
	})
	if err != nil {
		return model.ExportFile{}, err
	}
	contentType := resp.header.Get("Content-Type")
	if contentType == "" {
		contentType = format.DefaultContentType()
	}
	return model.ExportFile{
		Data:               resp.body,
		ContentType:        contentType,
		ContentDisposition: resp.header.Get("Content-Disposition"),
	}, nil
}

// --- request execution ---

type request struct {
	op     string
	entity string
	method string
	url    string
	body   []byte
	accept string
	limit  int64
}

type response struct {
	status int
	header http.Header
	body   []byte
}

// do executes req and turns non-2xx responses into BACKEND_REJECTED errors.
func (p *HTTPProvider) do(ctx context.Context, req request) (response, error) {
	ctx, span := observability.StartSpan(ctx, "provider."+req.op,
		observability.AttrOperation.String(req.op),
		observability.AttrEntity.String(req.entity),
	)
	resp, err := p.executeWithRetry(ctx, req)
	if err == nil && (resp.status < 200 || resp.status > 299) {
		err = model.NewBackendRejectedError(resp.status, backendMessage(resp.body))
	}
	observability.EndSpanWithError(span, err)
	if err != nil {
		observability.RequestLogger(ctx, p.logger).Debug("records backend call failed",
			zap.String("operation", req.op),
			zap.String("entity", req.entity),
			zap.Error(err),
		)
	}
	return resp, err
}

func (p *HTTPProvider) executeWithRetry(ctx context.Context, req request) (response, error) {
	maxAttempts := p.retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	canRetry := isIdempotentMethod(req.method) || !p.retry.IdempotentOnly

	var (
		lastErr  error
		lastResp response
	)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			p.metrics.RecordBackendRetry(req.op)
			select {
			case <-ctx.Done():
				return response{}, model.NewBackendTimeoutError().WithCause(ctx.Err())
			case <-time.After(backoff(p.retry, attempt)):
			}
		}

		resp, err := p.executeOnce(ctx, req)
		if err != nil {
			lastErr = err
			if !canRetry || !isRetryableError(err) {
				return response{}, err
			}
			p.logger.Debug("retrying records backend call after error",
				zap.String("operation", req.op),
				zap.Int("attempt", attempt+1),
				zap.Int("max", maxAttempts),
				zap.Error(err),
			)
			continue
		}

		if canRetry && isRetryableStatus(resp.status) && attempt < maxAttempts-1 {
			lastResp = resp
			p.logger.Debug("retrying records backend call after status",
				zap.String("operation", req.op),
				zap.Int("attempt", attempt+1),
				zap.Int("status", resp.status),
			)
			continue
		}
		return resp, nil
	}

	if lastErr != nil {
		return response{}, lastErr
	}
	return lastResp, nil
}

func (p *HTTPProvider) executeOnce(ctx context.Context, req request) (response, error) {
	if err := p.breaker.Allow(); err != nil {
		return response{}, model.NewBackendUnavailableError().WithCause(err)
	}

	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, req.url, body)
	if err != nil {
		return response{}, fmt.Errorf("provider: build request: %w", err)
	}
	httpReq.Header = buildHeaders(ctx, req)

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		p.breaker.RecordFailure()
		p.metrics.RecordBackendRequest(req.op, 0, time.Since(start))
		if ctx.Err() != nil || isTimeout(err) {
			return response{}, model.NewBackendTimeoutError().WithCause(err)
		}
		if isConnectionError(err) {
			return response{}, model.NewBackendUnavailableError().WithCause(err)
		}
		return response{}, fmt.Errorf("provider: %s %s: %w", req.method, req.op, err)
	}
	defer resp.Body.Close()

	limit := req.limit
	if limit <= 0 {
		limit = p.maxResponseBytes
	}
	var data []byte
	if resp.ContentLength > limit {
		err = fmt.Errorf("%w: %s announced %d bytes, limit %d", ErrResponseTooLarge, req.op, resp.ContentLength, limit)
	} else {
		data, err = io.ReadAll(io.LimitReader(resp.Body, limit+1))
		if err == nil && int64(len(data)) > limit {
			err = fmt.Errorf("%w: %s sent more than %d bytes", ErrResponseTooLarge, req.op, limit)
		}
	}
	p.metrics.RecordBackendRequest(req.op, resp.StatusCode, time.Since(start))
	if errors.Is(err, ErrResponseTooLarge) {
		return response{}, err
	}
	if err != nil {
		p.breaker.RecordFailure()
		return response{}, fmt.Errorf("provider: read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 500:
		p.breaker.RecordFailure()
	case resp.StatusCode < 400:
		p.breaker.RecordSuccess()
	}

	return response{status: resp.StatusCode, header: resp.Header, body: data}, nil
}

// --- URL and header building ---

func (p *HTTPProvider) endpoint(tmpl, entity, id string) string {
	path := strings.NewReplacer(
		"{entity}", url.PathEscape(entity),
		"{id}", url.PathEscape(id),
	).Replace(tmpl)
	return p.resolve(path)
}

func (p *HTTPProvider) resolve(ref string) string {
	if isAbsoluteURL(ref) {
		return ref
	}
	if !strings.HasPrefix(ref, "/") {
		ref = "/" + ref
	}
	return p.baseURL + ref
}

func isAbsoluteURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.IsAbs() && u.Host != ""
}

func withQuery(u string, params model.RequestParams) string {
	if len(params) == 0 {
		return u
	}
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + params.Encode()
}

func buildHeaders(ctx context.Context, req request) http.Header {
	h := make(http.Header)
	accept := req.accept
	if accept == "" {
		accept = "application/json"
	}
	h.Set("Accept", accept)
	if req.body != nil {
		h.Set("Content-Type", "application/json")
	}
	if rctx := model.RequestContextFrom(ctx); rctx != nil {
		if rctx.Token != "" {
			h.Set("Authorization", "Bearer "+sanitizeHeader(rctx.Token))
		}
		if rctx.CorrelationID != "" {
			h.Set("X-Correlation-Id", sanitizeHeader(rctx.CorrelationID))
		}
		if rctx.TenantID != "" {
			h.Set("X-Tenant-Id", sanitizeHeader(rctx.TenantID))
		}
		if rctx.Locale != "" {
			h.Set("Accept-Language", sanitizeHeader(rctx.Locale))
		}
	}
	observability.InjectTraceHeaders(ctx, h)
	return h
}

// sanitizeHeader strips CR and LF to prevent header injection.
func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(s)
}

// --- classification helpers ---

func isIdempotentMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodPut, http.MethodDelete,
		http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// isRetryableError reports whether a transport error may be retried. An
// open breaker or an expired context is final.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrResponseTooLarge) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isConnectionError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func backoff(cfg config.RetryConfig, attempt int) time.Duration {
	initial := cfg.BackoffInitial
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	mult := cfg.BackoffMultiplier
	if mult <= 0 {
		mult = 2
	}
	ceiling := cfg.BackoffMax
	if ceiling <= 0 {
		ceiling = 2 * time.Second
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * mult)
		if delay >= ceiling {
			return ceiling
		}
	}
	return delay
}
