package openapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func loadTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return idx
}

func TestIndex_Load(t *testing.T) {
	idx := loadTestIndex(t)
	ids := idx.AllOperationIDs()
	if len(ids) != 18 {
		t.Fatalf("AllOperationIDs() = %v (len %d), want 18 operations", ids, len(ids))
	}
	if ids[0] != "changePage" {
		t.Errorf("ids[0] = %q, want changePage (sorted)", ids[0])
	}
}

func TestIndex_GetOperation_found(t *testing.T) {
	idx := loadTestIndex(t)

	op, ok := idx.GetOperation("changePageSize")
	if !ok {
		t.Fatal("GetOperation(changePageSize) not found")
	}
	if op.Method != "PUT" {
		t.Errorf("Method = %q, want PUT", op.Method)
	}
	if op.PathTemplate != "/api/views/{viewId}/page-size" {
		t.Errorf("PathTemplate = %q", op.PathTemplate)
	}
}

func TestIndex_GetOperation_with_path_params(t *testing.T) {
	idx := loadTestIndex(t)

	op, ok := idx.GetOperation("exportView")
	if !ok {
		t.Fatal("GetOperation(exportView) not found")
	}

	names := map[string]bool{}
	for _, p := range op.Parameters {
		if p.In == "path" {
			names[p.Name] = true
		}
	}
	if !names["viewId"] || !names["format"] {
		t.Errorf("path parameters = %v, want viewId and format", names)
	}
}

func TestIndex_GetOperation_not_found(t *testing.T) {
	idx := loadTestIndex(t)
	if _, ok := idx.GetOperation("nonexistent"); ok {
		t.Error("GetOperation(nonexistent) should return false")
	}
}

func TestIndex_ValidateRequest(t *testing.T) {
	idx := loadTestIndex(t)

	tests := []struct {
		name      string
		operation string
		body      any
		wantErrs  bool
	}{
		{"page ok", "changePage", map[string]any{"page": float64(3)}, false},
		{"page missing", "changePage", map[string]any{}, true},
		{"page zero", "changePage", map[string]any{"page": float64(0)}, true},
		{"page fractional", "changePage", map[string]any{"page": 1.5}, true},
		{"page wrong type", "changePage", map[string]any{"page": "2"}, true},
		{"page size ok", "changePageSize", map[string]any{"pageSize": float64(20)}, false},
		{"entity empty", "selectEntity", map[string]any{"entity": ""}, true},
		{"sort ok", "changeSort", []any{map[string]any{"colId": "name", "sort": "desc"}}, false},
		{"sort empty list", "changeSort", []any{}, false},
		{"sort bad direction", "changeSort", []any{map[string]any{"colId": "name", "sort": "up"}}, true},
		{"sort not a list", "changeSort", map[string]any{"colId": "name"}, true},
		{"params free form", "setParams", map[string]any{"status": "active", "price": float64(3)}, false},
		{"required body missing", "changePage", nil, true},
		{"optional body missing", "createView", nil, false},
		{"no body declared", "revealView", nil, false},
		{"unknown operation", "nonexistent", map[string]any{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := idx.ValidateRequest(tt.operation, tt.body)
			if got := len(errs) > 0; got != tt.wantErrs {
				t.Errorf("ValidateRequest() = %v, want errors %v", errs, tt.wantErrs)
			}
		})
	}
}

func TestIndex_ValidateRequest_codes(t *testing.T) {
	idx := loadTestIndex(t)

	errs := idx.ValidateRequest("changePage", nil)
	if len(errs) != 1 || errs[0].Code != CodeBodyRequired {
		t.Errorf("missing body: %v", errs)
	}
	errs = idx.ValidateRequest("nonexistent", nil)
	if len(errs) != 1 || errs[0].Code != CodeUnknownOp {
		t.Errorf("unknown operation: %v", errs)
	}
	errs = idx.ValidateRequest("changePage", map[string]any{"page": float64(0)})
	for _, e := range errs {
		if e.Code != CodeSchema || e.Message == "" {
			t.Errorf("schema error = %+v", e)
		}
	}
}

func TestLoadData_invalid(t *testing.T) {
	if _, err := LoadData([]byte("openapi: [")); err == nil {
		t.Fatal("LoadData() with malformed YAML should return error")
	}
	if _, err := LoadData([]byte("openapi: 3.0.3\ninfo: {}\npaths: {}\n")); err == nil {
		t.Fatal("LoadData() with invalid document should return error")
	}
}

func TestIndex_ServeHTTP(t *testing.T) {
	idx := loadTestIndex(t)

	rec := httptest.NewRecorder()
	idx.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/openapi.json", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var doc struct {
		OpenAPI string         `json:"openapi"`
		Paths   map[string]any `json:"paths"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.OpenAPI != "3.0.3" {
		t.Errorf("openapi = %q", doc.OpenAPI)
	}
	if _, ok := doc.Paths["/api/views/{viewId}/reveal"]; !ok {
		t.Error("reveal path missing from served document")
	}
	if idx.Document().Info.Title != "masterdata BFF" {
		t.Errorf("title = %q", idx.Document().Info.Title)
	}
}
