package integration

import (
	"net/http"
	"testing"
	"time"

	"github.com/pitabwire/masterdata/internal/config"
	"github.com/pitabwire/masterdata/internal/provider"
	"github.com/pitabwire/masterdata/model"
)

// ==========================================================================
// Circuit Breaker Tests
// ==========================================================================

func TestResilience_CircuitBreakerTripsOnConsecutiveFailures(t *testing.T) {
	h := NewTestHarness(t,
		WithCircuitBreaker(config.CircuitBreakerConfig{
			FailureThreshold: 3,
			SuccessThreshold: 1,
			Timeout:          30 * time.Second,
		}),
	)
	token := h.GenerateToken(EditorClaims())
	view := h.CreateView(t, token, "products")
	reveal := "/api/views/" + view.ID + "/reveal"

	h.Backend.OnOperation(OpListRecords).RespondWithError(http.StatusInternalServerError, "internal error")

	for range 3 {
		h.ViewCall(t, http.MethodPost, reveal, nil, token)
	}
	if state := h.Provider.Breaker().State(); state != provider.BreakerOpen {
		t.Fatalf("breaker = %s, want open", state)
	}

	callsBefore := len(h.Backend.AllRequests(OpListRecords))

	// The view still answers; the failure is part of its state.
	got := h.ViewCall(t, http.MethodPost, reveal, nil, token)
	if got.State.LastError == nil || got.State.LastError.Code != model.ErrFetchList {
		t.Errorf("lastError = %+v, want %s", got.State.LastError, model.ErrFetchList)
	}

	// Other operations fail fast as well.
	h.AssertError(t, h.GET("/api/entities", token), http.StatusBadGateway, model.ErrEntitiesLoad)

	if callsAfter := len(h.Backend.AllRequests(OpListRecords)); callsAfter != callsBefore {
		t.Errorf("backend received %d calls after the circuit opened, want 0", callsAfter-callsBefore)
	}
	h.Backend.AssertNotCalled(t, OpListEntities)

	var ready struct {
		Status string `json:"status"`
	}
	h.AssertJSON(t, h.GET("/ui/ready", ""), http.StatusServiceUnavailable, &ready)
	if ready.Status != "not_ready" {
		t.Errorf("readiness = %q, want not_ready", ready.Status)
	}
}

func TestResilience_CircuitBreakerRecoveryAfterTimeout(t *testing.T) {
	h := NewTestHarness(t,
		WithCircuitBreaker(config.CircuitBreakerConfig{
			FailureThreshold: 2,
			SuccessThreshold: 1,
			Timeout:          1 * time.Second,
		}),
	)
	token := h.GenerateToken(EditorClaims())
	view := h.CreateView(t, token, "products")
	reveal := "/api/views/" + view.ID + "/reveal"

	h.Backend.OnOperation(OpListRecords).RespondWithError(http.StatusInternalServerError, "fail")
	for range 2 {
		h.ViewCall(t, http.MethodPost, reveal, nil, token)
	}

	// Wait for the open period to expire (half-open).
	time.Sleep(1500 * time.Millisecond)

	h.Backend.ResetOperation(OpListRecords)

	got := h.ViewCall(t, http.MethodPost, reveal, nil, token)
	if got.State.LastError != nil {
		t.Errorf("lastError = %+v, want recovery after the trial call succeeds", got.State.LastError)
	}
	if got.State.Total != 45 {
		t.Errorf("total = %d, want 45", got.State.Total)
	}
	if state := h.Provider.Breaker().State(); state != provider.BreakerClosed {
		t.Errorf("breaker = %s, want closed", state)
	}
	h.Backend.AssertCalled(t, OpListRecords, 1)
}

func TestResilience_ClientErrorsDoNotTripBreaker(t *testing.T) {
	h := NewTestHarness(t,
		WithCircuitBreaker(config.CircuitBreakerConfig{
			FailureThreshold: 2,
			SuccessThreshold: 1,
			Timeout:          30 * time.Second,
		}),
	)
	token := h.GenerateToken(EditorClaims())

	h.Backend.OnOperation(OpGetRecord).RespondWithError(http.StatusNotFound, "gone")
	for range 3 {
		h.AssertStatus(t, h.GET("/api/forms/products?mode=edit&id=9", token), http.StatusNotFound)
	}
	if state := h.Provider.Breaker().State(); state != provider.BreakerClosed {
		t.Errorf("breaker = %s, want closed after 4xx answers", state)
	}
}

// ==========================================================================
// Retry Tests
// ==========================================================================

func fastRetry(attempts int) config.RetryConfig {
	return config.RetryConfig{
		MaxAttempts:       attempts,
		BackoffInitial:    10 * time.Millisecond,
		BackoffMultiplier: 2,
		BackoffMax:        50 * time.Millisecond,
		IdempotentOnly:    true,
	}
}

func TestResilience_RetriesTransientReadFailures(t *testing.T) {
	h := NewTestHarness(t, WithRetry(fastRetry(3)))
	token := h.GenerateToken(EditorClaims())
	view := h.CreateView(t, token, "products")

	h.Backend.OnOperation(OpListRecords).
		RespondWithError(http.StatusServiceUnavailable, "warming up").
		RespondWithError(http.StatusBadGateway, "warming up").
		RespondWith(http.StatusOK, RecordsPageFixture([]map[string]any{ProductFixture("1", "P-1", "Shoe")}, 1))

	got := h.ViewCall(t, http.MethodPost, "/api/views/"+view.ID+"/reveal", nil, token)
	if got.State.LastError != nil {
		t.Fatalf("lastError = %+v, want success after retries", got.State.LastError)
	}
	if got.State.Total != 1 {
		t.Errorf("total = %d, want 1", got.State.Total)
	}
	h.Backend.AssertCalled(t, OpListRecords, 3)
}

func TestResilience_GivesUpAfterMaxAttempts(t *testing.T) {
	h := NewTestHarness(t, WithRetry(fastRetry(2)))
	token := h.GenerateToken(EditorClaims())
	view := h.CreateView(t, token, "products")

	h.Backend.OnOperation(OpListRecords).RespondWithError(http.StatusServiceUnavailable, "down")

	got := h.ViewCall(t, http.MethodPost, "/api/views/"+view.ID+"/reveal", nil, token)
	if got.State.LastError == nil || got.State.LastError.Code != model.ErrFetchList {
		t.Errorf("lastError = %+v, want %s", got.State.LastError, model.ErrFetchList)
	}
	h.Backend.AssertCalled(t, OpListRecords, 2)
}

func TestResilience_WritesAreNotRetried(t *testing.T) {
	h := NewTestHarness(t, WithRetry(fastRetry(3)))
	token := h.GenerateToken(EditorClaims())

	h.Backend.OnOperation(OpCreateRecord).RespondWithError(http.StatusServiceUnavailable, "down")

	h.AssertError(t, h.POST("/api/forms/products/records", map[string]any{"code": "P-1", "vendorId": 3}, token),
		http.StatusBadGateway, model.ErrSave)
	h.Backend.AssertCalled(t, OpCreateRecord, 1)
}

// ==========================================================================
// Timeout and Connection Tests
// ==========================================================================

func TestResilience_BackendTimeout(t *testing.T) {
	h := NewTestHarness(t, WithBackendTimeout(200*time.Millisecond))
	token := h.GenerateToken(EditorClaims())
	view := h.CreateView(t, token, "products")

	h.Backend.OnOperation(OpListRecords).RespondWithDelay(2*time.Second, http.StatusOK,
		RecordsPageFixture(nil, 0))

	start := time.Now()
	got := h.ViewCall(t, http.MethodPost, "/api/views/"+view.ID+"/reveal", nil, token)
	elapsed := time.Since(start)

	if got.State.LastError == nil || got.State.LastError.Code != model.ErrFetchList {
		t.Errorf("lastError = %+v, want %s", got.State.LastError, model.ErrFetchList)
	}
	if elapsed > 1500*time.Millisecond {
		t.Errorf("reveal took %v, want the backend timeout to cut it short", elapsed)
	}
}

func TestResilience_HandlerTimeoutBoundsTheRequest(t *testing.T) {
	h := NewTestHarness(t, WithHandlerTimeout(300*time.Millisecond))
	token := h.GenerateToken(EditorClaims())

	h.Backend.OnOperation(OpListEntities).RespondWithDelay(2*time.Second, http.StatusOK, map[string]any{"data": []any{}})

	start := time.Now()
	h.AssertStatus(t, h.GET("/api/entities", token), http.StatusBadGateway)
	if elapsed := time.Since(start); elapsed > 1500*time.Millisecond {
		t.Errorf("request took %v, want it bounded by the handler timeout", elapsed)
	}
}

func TestResilience_ConnectionErrorIsReported(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(EditorClaims())
	view := h.CreateView(t, token, "products")

	h.Backend.OnOperation(OpListRecords).RespondWithConnectionError()

	got := h.ViewCall(t, http.MethodPost, "/api/views/"+view.ID+"/reveal", nil, token)
	if got.State.LastError == nil || got.State.LastError.Code != model.ErrFetchList {
		t.Errorf("lastError = %+v, want %s", got.State.LastError, model.ErrFetchList)
	}
	if len(got.State.Rows) != 0 {
		t.Errorf("rows = %d, want none", len(got.State.Rows))
	}
}

func TestResilience_StoreOutageKeepsLiveViewsWorking(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(EditorClaims())
	view := h.CreateView(t, token, "products")

	h.Redis.Close()

	got := h.ViewCall(t, http.MethodPost, "/api/views/"+view.ID+"/reveal", nil, token)
	if got.State.Total != 45 {
		t.Errorf("total = %d, want the live view to keep fetching", got.State.Total)
	}
	h.AssertStatus(t, h.GET("/ui/ready", ""), http.StatusServiceUnavailable)
}
