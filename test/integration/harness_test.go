package integration

import (
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHarness_Startup(t *testing.T) {
	h := NewTestHarness(t, WithMemorySessions())

	resp := h.GET("/ui/health", "")
	h.AssertStatus(t, resp, http.StatusOK)
}

func TestHarness_HealthEndpoints(t *testing.T) {
	h := NewTestHarness(t)

	t.Run("health", func(t *testing.T) {
		var body map[string]string
		h.AssertJSON(t, h.GET("/ui/health", ""), http.StatusOK, &body)
		if body["status"] != "ok" {
			t.Errorf("health status = %q, want ok", body["status"])
		}
	})

	t.Run("ready", func(t *testing.T) {
		var body struct {
			Status string                    `json:"status"`
			Checks map[string]map[string]any `json:"checks"`
		}
		h.AssertJSON(t, h.GET("/ui/ready", ""), http.StatusOK, &body)
		if body.Status != "ready" {
			t.Errorf("ready status = %q, want ready", body.Status)
		}
		for _, name := range []string{"backend", "session_store"} {
			if _, ok := body.Checks[name]; !ok {
				t.Errorf("readiness check %q missing: %v", name, body.Checks)
			}
		}
	})
}

func TestHarness_OpenAPIDocumentIsPublic(t *testing.T) {
	h := NewTestHarness(t)

	resp := h.GET("/api/openapi.json", "")
	body := string(h.ReadBody(resp))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	for _, op := range []string{`"createView"`, `"changeSort"`, `"createRecord"`} {
		if !strings.Contains(body, op) {
			t.Errorf("document lacks operation %s", op)
		}
	}
}

func TestHarness_MetricsExposed(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(EditorClaims())

	view := h.CreateView(t, token, "products")
	h.ViewCall(t, http.MethodPost, "/api/views/"+view.ID+"/reveal", nil, token)

	if got := testutil.ToFloat64(h.Metrics.ListRevealsTotal.WithLabelValues("products")); got != 1 {
		t.Errorf("reveals = %v, want 1", got)
	}
	if got := testutil.ToFloat64(h.Metrics.ListFetchesTotal.WithLabelValues("products", "ok")); got != 1 {
		t.Errorf("successful fetches = %v, want 1", got)
	}

	resp := h.GET("/metrics", "")
	body := string(h.ReadBody(resp))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	for _, name := range []string{
		"masterdata_http_requests_total",
		"masterdata_backend_requests_total",
		"masterdata_view_sessions_active",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output lacks %s", name)
		}
	}
}

func TestHarness_MockBackendRecording(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(EditorClaims())

	h.Backend.OnOperation(OpListEntities).
		RespondWith(http.StatusOK, map[string]any{"data": []map[string]any{{"tableName": "first"}}}).
		RespondWith(http.StatusOK, map[string]any{"data": []map[string]any{{"tableName": "second"}}})

	var first, second, third struct {
		Entities []struct {
			Name string `json:"name"`
		} `json:"entities"`
	}
	h.AssertJSON(t, h.GET("/api/entities", token), http.StatusOK, &first)
	h.AssertJSON(t, h.GET("/api/entities", token), http.StatusOK, &second)
	h.AssertJSON(t, h.GET("/api/entities", token), http.StatusOK, &third)

	if first.Entities[0].Name != "first" || second.Entities[0].Name != "second" || third.Entities[0].Name != "second" {
		t.Errorf("sequence = %v %v %v, want first second second", first, second, third)
	}
	h.Backend.AssertCalled(t, OpListEntities, 3)

	req := h.Backend.LastRequest(OpListEntities)
	if req.Method != http.MethodGet || req.Path != "/master/entities" {
		t.Errorf("request = %s %s", req.Method, req.Path)
	}

	h.Backend.ResetOperation(OpListEntities)
	h.Backend.AssertNotCalled(t, OpListEntities)

	var fallback struct {
		Entities []struct {
			Name string `json:"name"`
		} `json:"entities"`
	}
	h.AssertJSON(t, h.GET("/api/entities", token), http.StatusOK, &fallback)
	if len(fallback.Entities) != 2 {
		t.Errorf("entities = %v, want the seeded default", fallback.Entities)
	}
}
