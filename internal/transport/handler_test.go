package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/masterdata/internal/config"
	"github.com/pitabwire/masterdata/internal/export"
	"github.com/pitabwire/masterdata/internal/form"
	"github.com/pitabwire/masterdata/internal/lookup"
	"github.com/pitabwire/masterdata/internal/observability"
	"github.com/pitabwire/masterdata/internal/openapi"
	"github.com/pitabwire/masterdata/internal/session"
	"github.com/pitabwire/masterdata/model"
)

// memBackend is an in-memory records backend.
type memBackend struct {
	model.RecordsProvider

	mu          sync.Mutex
	entitiesErr error
	listErr     error
	saveErr     error
	deleteErr   error
	exportErr   error
	total       int
	lists       []model.RequestParams
	exports     []model.RequestParams
	saved       []map[string]any
	deleted     []string
	optionCalls int
}

func newMemBackend() *memBackend {
	return &memBackend{total: 45}
}

func f64(v float64) *float64 { return &v }

func (b *memBackend) ListEntities(context.Context) ([]model.Entity, error) {
	if b.entitiesErr != nil {
		return nil, b.entitiesErr
	}
	return []model.Entity{{Name: "products", Label: "Products"}, {Name: "vendors", Label: "Vendors"}}, nil
}

func (b *memBackend) GetMetadata(_ context.Context, entity string) (model.EntityMetadata, error) {
	if entity != "products" && entity != "vendors" {
		return model.EntityMetadata{}, model.NewBackendRejectedError(404, "unknown entity")
	}
	return model.EntityMetadata{
		ParameterList: []model.ParameterSpec{
			{Name: "title", Label: "Title", DataType: model.DataTypeString},
			{Name: "status", Label: "Status", DataType: model.DataTypeString,
				Options: []model.Option{{Value: "active", Label: "Active"}, {Value: "retired", Label: "Retired"}}},
		},
		ResultsList: []model.ResultColumn{
			{Name: "code", Label: "Code", DataType: model.DataTypeString},
			{Name: "title", Label: "Title", DataType: model.DataTypeString},
		},
		FormConfig: map[string]model.FormFieldConfig{
			"Code": {FieldName: "code", DataType: model.DataTypeString, FieldType: model.FieldTypeText,
				Validation: model.Validation{Required: true}},
			"Price": {FieldName: "price", DataType: model.DataTypeFloat, FieldType: model.FieldTypeNumber,
				Validation: model.Validation{Min: f64(0), Max: f64(1000)}},
			"Vendor": {FieldName: "vendorId", DataType: model.DataTypeNumber, FieldType: model.FieldTypeDropdown,
				Options:    model.OptionSource{Kind: model.OptionsRemote, Type: model.OptionTypeAPI, URL: "/master/vendors/options"},
				Validation: model.Validation{Required: true}},
			"ID": {FieldName: "id", DataType: model.DataTypeString, FieldType: model.FieldTypeText},
		},
	}, nil
}

func (b *memBackend) ListRecords(_ context.Context, _ string, params model.RequestParams) (model.ListResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lists = append(b.lists, params)
	if b.listErr != nil {
		return model.ListResult{}, b.listErr
	}
	return model.ListResult{Rows: []model.Record{{"code": "P-1", "title": "Shoe"}}, Total: b.total}, nil
}

func (b *memBackend) GetRecord(_ context.Context, _, id string) (model.Record, error) {
	return model.Record{"id": id, "code": "P-" + id, "vendorId": 3, "vendorId_display": "Acme"}, nil
}

func (b *memBackend) CreateRecord(_ context.Context, _ string, payload map[string]any) (model.Record, error) {
	return b.save(payload, "p-new")
}

func (b *memBackend) UpdateRecord(_ context.Context, _, id string, payload map[string]any) (model.Record, error) {
	return b.save(payload, id)
}

func (b *memBackend) save(payload map[string]any, id string) (model.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.saved = append(b.saved, payload)
	if b.saveErr != nil {
		return nil, b.saveErr
	}
	return model.Record{"id": id}, nil
}

func (b *memBackend) ExportCSV(_ context.Context, _ string, params model.RequestParams) (model.ExportFile, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.exports = append(b.exports, params)
	if b.exportErr != nil {
		return model.ExportFile{}, b.exportErr
	}
	return model.ExportFile{
		Data:               []byte("code,title\nP-1,Shoe\n"),
		ContentType:        "text/csv",
		ContentDisposition: `attachment; filename="products-2026.csv"`,
	}, nil
}

func (b *memBackend) ExportExcel(_ context.Context, _ string, params model.RequestParams) (model.ExportFile, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.exports = append(b.exports, params)
	if b.exportErr != nil {
		return model.ExportFile{}, b.exportErr
	}
	return model.ExportFile{Data: []byte("PK\x03\x04")}, nil
}

func (b *memBackend) DeleteRecord(_ context.Context, entity, id string) (model.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, entity+"/"+id)
	return nil, b.deleteErr
}

func (b *memBackend) GetDropdownOptions(context.Context, string) ([]model.Option, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.optionCalls++
	return []model.Option{{Value: 3, Label: "Acme"}}, nil
}

func (b *memBackend) listCalls() []model.RequestParams {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.RequestParams(nil), b.lists...)
}

// headerIdentity stands in for JWT verification: every caller is user-1 of
// tenant-1 unless X-Test-Tenant says otherwise.
func headerIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := map[string]any{"sub": "user-1", "tenant_id": "tenant-1"}
		if tenant := r.Header.Get("X-Test-Tenant"); tenant != "" {
			claims["tenant_id"] = tenant
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

type testServer struct {
	backend *memBackend
	metrics *observability.Metrics
	handler http.Handler
}

func newTestServer(t *testing.T, backend *memBackend, store session.Store) *testServer {
	t.Helper()
	cfg := config.Defaults()
	cfg.Server.HandlerTimeout = 5 * time.Second
	metrics := observability.InitMetrics(prometheus.NewRegistry())

	api, err := openapi.Load()
	require.NoError(t, err)

	options := lookup.NewCachingProvider(backend, lookup.NewMemoryCache(100), time.Minute, metrics, nil)
	materializer := form.NewMaterializer(options, cfg.Form.Locale, metrics, nil)

	handler := NewRouter(Dependencies{
		Config:       cfg,
		Authenticate: headerIdentity,
		Provider:     backend,
		Sessions:     session.NewManager(backend, cfg.List, cfg.Sessions, store, metrics, nil),
		Forms:        form.NewController(backend, materializer, metrics, nil),
		Exports:      export.NewRunner(backend, metrics, nil),
		API:          api,
		Metrics:      metrics,
	})
	return &testServer{backend: backend, metrics: metrics, handler: handler}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
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
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

type viewBody struct {
	ID     string `json:"id"`
	Issued *bool  `json:"issued"`
	State  struct {
		Phase      string               `json:"phase"`
		Entity     string               `json:"entity"`
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

func decodeView(t *testing.T, w *httptest.ResponseRecorder) viewBody {
	t.Helper()
	var v viewBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

type errorBody struct {
	Error model.ErrorEnvelope `json:"error"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) model.ErrorEnvelope {
	t.Helper()
	var e errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e), w.Body.String())
	return e.Error
}

func createView(t *testing.T, s *testServer, entity string, headers ...string) string {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/views", map[string]string{"entity": entity}, headers...)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decodeView(t, w).ID
}

// --- entities ---

func TestEntities(t *testing.T) {
	s := newTestServer(t, newMemBackend(), nil)

	w := s.do(t, http.MethodGet, "/api/entities", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"entities":[{"name":"products","label":"Products"},{"name":"vendors","label":"Vendors"}]}`, w.Body.String())

	s.backend.entitiesErr = model.NewBackendUnavailableError()
	w = s.do(t, http.MethodGet, "/api/entities", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	e := decodeError(t, w)
	assert.Equal(t, model.ErrEntitiesLoad, e.Code)
	assert.Equal(t, model.MsgFailedLoadEntities, e.Message)
}

// --- view lifecycle ---

func TestView_filtersRevealPagingAndSort(t *testing.T) {
	s := newTestServer(t, newMemBackend(), session.NewMemoryStore(0))
	id := createView(t, s, "products")
	base := "/api/views/" + id

	v := decodeView(t, s.do(t, http.MethodGet, base, nil))
	assert.Equal(t, "hidden", v.State.Phase)
	assert.Equal(t, "products", v.State.Entity)
	assert.Empty(t, s.backend.listCalls(), "creating a view never fetches")

	w := s.do(t, http.MethodPut, base+"/params", map[string]any{"title": "shoe", "status": "active"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	v = decodeView(t, w)
	assert.Nil(t, v.Issued)
	assert.Equal(t, "shoe", v.State.Values["title"])
	assert.Empty(t, s.backend.listCalls(), "filter edits never fetch")

	w = s.do(t, http.MethodPost, base+"/reveal", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	v = decodeView(t, w)
	require.NotNil(t, v.Issued)
	assert.True(t, *v.Issued)
	assert.Equal(t, "revealed", v.State.Phase)
	assert.Equal(t, 5, v.State.TotalPages)
	assert.Len(t, v.State.Rows, 1)

	calls := s.backend.listCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "1", calls[0][model.ParamPage])
	assert.Equal(t, "10", calls[0][model.ParamLimit])
	assert.Equal(t, "shoe", calls[0][model.ParamSearch])
	assert.Equal(t, "active", calls[0][model.FilterKey("status")])

	v = decodeView(t, s.do(t, http.MethodPut, base+"/page", map[string]int{"page": 3}))
	assert.True(t, *v.Issued)
	assert.Equal(t, 3, v.State.Page)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, v.State.PageWindow)

	v = decodeView(t, s.do(t, http.MethodPut, base+"/page", map[string]int{"page": 3}))
	assert.False(t, *v.Issued, "same page does not fetch again")

	v = decodeView(t, s.do(t, http.MethodPut, base+"/page-size", map[string]int{"pageSize": 20}))
	assert.True(t, *v.Issued)
	assert.Equal(t, 1, v.State.Page)
	assert.Equal(t, 20, v.State.PageSize)

	v = decodeView(t, s.do(t, http.MethodPut, base+"/sort", []map[string]string{{"colId": "title", "sort": "desc"}}))
	assert.True(t, *v.Issued)

	calls = s.backend.listCalls()
	require.Len(t, calls, 4)
	assert.Equal(t, "3", calls[1][model.ParamPage])
	assert.Equal(t, "20", calls[2][model.ParamLimit])
	assert.Equal(t, "title", calls[3][model.ParamSortBy])
	assert.Equal(t, "DESC", calls[3][model.ParamSortOrder])

	w = s.do(t, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(t, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	reveals := testutil.ToFloat64(s.metrics.HTTPRequestsTotal.WithLabelValues("POST", "/api/views/{viewId}/reveal", "200"))
	assert.Equal(t, 1.0, reveals)
}

func TestView_createSelectsFirstEntity(t *testing.T) {
	s := newTestServer(t, newMemBackend(), nil)

	w := s.do(t, http.MethodPost, "/api/views", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	v := decodeView(t, w)
	assert.NotEmpty(t, v.ID)
	assert.Equal(t, "products", v.State.Entity)

	v = decodeView(t, s.do(t, http.MethodPut, "/api/views/"+v.ID+"/entity", map[string]string{"entity": "vendors"}))
	assert.Equal(t, "vendors", v.State.Entity)
	assert.Equal(t, "hidden", v.State.Phase)
}

func TestView_unknownEntity(t *testing.T) {
	s := newTestServer(t, newMemBackend(), nil)

	w := s.do(t, http.MethodPost, "/api/views", map[string]string{"entity": "nope"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	v := decodeView(t, w)
	require.NotNil(t, v.State.LastError, "metadata failures are part of the view state")
	assert.Equal(t, model.ErrMetadataLoad, v.State.LastError.Code)
	assert.Equal(t, model.MsgFailedLoadMetadata, v.State.LastError.Message)
}

func TestView_tenantIsolation(t *testing.T) {
	s := newTestServer(t, newMemBackend(), session.NewMemoryStore(0))
	id := createView(t, s, "products")

	w := s.do(t, http.MethodGet, "/api/views/"+id, nil, "X-Test-Tenant", "tenant-2")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = s.do(t, http.MethodPost, "/api/views/"+id+"/reveal", nil, "X-Test-Tenant", "tenant-2")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, s.backend.listCalls())
}

func TestView_invalidRequests(t *testing.T) {
	s := newTestServer(t, newMemBackend(), nil)
	base := "/api/views/" + createView(t, s, "products")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{"page zero", http.MethodPut, "/page", map[string]int{"page": 0}},
		{"page as string", http.MethodPut, "/page", map[string]string{"page": "2"}},
		{"page missing", http.MethodPut, "/page", map[string]int{}},
		{"no body", http.MethodPut, "/page", nil},
		{"malformed json", http.MethodPut, "/page", `{"page":`},
		{"page size not offered", http.MethodPut, "/page-size", map[string]int{"pageSize": 7}},
		{"sort direction", http.MethodPut, "/sort", []map[string]string{{"colId": "title", "sort": "sideways"}}},
		{"unknown filter", http.MethodPut, "/params", map[string]string{"colour": "red"}},
		{"empty entity", http.MethodPut, "/entity", map[string]string{"entity": ""}},
		{"export format", http.MethodGet, "/export/pdf", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, tt.method, base+tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Equal(t, model.ErrBadRequest, decodeError(t, w).Code)
		})
	}

	w := s.do(t, http.MethodPut, base+"/page", map[string]int{"page": 0})
	assert.NotEmpty(t, decodeError(t, w).Details, "schema violations carry field details")
	assert.Empty(t, s.backend.listCalls())
}

func TestView_fetchFailureIsPartOfState(t *testing.T) {
	backend := newMemBackend()
	backend.listErr = model.NewBackendUnavailableError()
	s := newTestServer(t, backend, nil)
	base := "/api/views/" + createView(t, s, "products")

	w := s.do(t, http.MethodPost, base+"/reveal", nil)
	require.Equal(t, http.StatusOK, w.Code)
	v := decodeView(t, w)
	require.NotNil(t, v.State.LastError)
	assert.Equal(t, model.ErrFetchList, v.State.LastError.Code)
	assert.Equal(t, model.MsgFailedFetchList, v.State.LastError.Message)
	assert.Empty(t, v.State.Rows)

	backend.listErr = nil
	v = decodeView(t, s.do(t, http.MethodPost, base+"/reveal", nil))
	assert.Nil(t, v.State.LastError)
	assert.Len(t, v.State.Rows, 1)
}

func TestView_restoredByAnotherReplica(t *testing.T) {
	store := session.NewMemoryStore(0)
	backend := newMemBackend()
	first := newTestServer(t, backend, store)
	base := "/api/views/" + createView(t, first, "products")

	first.do(t, http.MethodPut, base+"/params", map[string]any{"title": "shoe"})
	first.do(t, http.MethodPost, base+"/reveal", nil)
	first.do(t, http.MethodPut, base+"/page", map[string]int{"page": 4})

	second := newTestServer(t, backend, store)
	w := second.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	v := decodeView(t, w)
	assert.Equal(t, "revealed", v.State.Phase)
	assert.Equal(t, 4, v.State.Page)
	assert.Equal(t, "shoe", v.State.Values["title"])

	calls := backend.listCalls()
	assert.Equal(t, "4", calls[len(calls)-1][model.ParamPage], "restoring a revealed view refetches its page")
}

// --- export ---

func TestExport(t *testing.T) {
	s := newTestServer(t, newMemBackend(), nil)
	base := "/api/views/" + createView(t, s, "products")
	s.do(t, http.MethodPut, base+"/params", map[string]any{"status": "retired"})
	s.do(t, http.MethodPut, base+"/sort", []map[string]string{{"colId": "code", "sort": "asc"}})

	w := s.do(t, http.MethodGet, base+"/export/csv", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename=products-2026.csv`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "code,title\nP-1,Shoe\n", w.Body.String())

	w = s.do(t, http.MethodGet, base+"/export/EXCEL", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, model.ExportExcel.DefaultContentType(), w.Header().Get("Content-Type"))
	disposition := w.Header().Get("Content-Disposition")
	assert.True(t, strings.HasPrefix(disposition, "attachment; filename=products_"), disposition)
	assert.True(t, strings.HasSuffix(disposition, ".xlsx"), disposition)

	s.backend.mu.Lock()
	exports := append([]model.RequestParams(nil), s.backend.exports...)
	s.backend.mu.Unlock()
	require.Len(t, exports, 2)
	assert.Equal(t, "retired", exports[0][model.FilterKey("status")])
	assert.Equal(t, "code", exports[0][model.ParamSortBy])
	assert.NotContains(t, exports[0], model.ParamPage)
	assert.NotContains(t, exports[0], model.ParamLimit)
}

func TestExport_failure(t *testing.T) {
	backend := newMemBackend()
	backend.exportErr = errors.New("connection reset")
	s := newTestServer(t, backend, nil)
	base := "/api/views/" + createView(t, s, "products")

	w := s.do(t, http.MethodGet, base+"/export/excel", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	e := decodeError(t, w)
	assert.Equal(t, model.ErrExport, e.Code)
	assert.Equal(t, "Failed to export Excel", e.Message)
}

// --- forms ---

func TestForm_load(t *testing.T) {
	s := newTestServer(t, newMemBackend(), nil)

	w := s.do(t, http.MethodGet, "/api/forms/products?mode=edit&id=7", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var loaded struct {
		Mode string `json:"mode"`
		Form struct {
			OrderedFields   []string                  `json:"orderedFields"`
			ResolvedOptions map[string][]model.Option `json:"resolvedOptions"`
		} `json:"form"`
		Values map[string]any `json:"values"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &loaded))
	assert.Equal(t, "edit", loaded.Mode)
	assert.Equal(t, []string{"Code", "Vendor", "Price"}, loaded.Form.OrderedFields)
	require.Len(t, loaded.Form.ResolvedOptions["vendorId"], 1, "options are keyed by field name")
	assert.Equal(t, "Acme", loaded.Form.ResolvedOptions["vendorId"][0].Label)
	assert.Equal(t, "P-7", loaded.Values["code"])
	assert.NotContains(t, loaded.Values, "vendorId_display")

	w = s.do(t, http.MethodGet, "/api/forms/products", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, s.backend.optionCalls, "options are served from the lookup cache")

	w = s.do(t, http.MethodGet, "/api/forms/products?mode=clone", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(t, http.MethodGet, "/api/forms/products?mode=edit", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestForm_create(t *testing.T) {
	s := newTestServer(t, newMemBackend(), nil)

	w := s.do(t, http.MethodPost, "/api/forms/products/records", `{"code":"P-9","price":10.5,"vendorId":3,"notes":"x"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.JSONEq(t, `{"id":"p-new"}`, w.Body.String())

	require.Len(t, s.backend.saved, 1)
	data := s.backend.saved[0]["data"].(map[string]any)
	assert.Equal(t, "P-9", data["code"])
	assert.Equal(t, json.Number("10.5"), data["price"])
	assert.NotContains(t, data, "notes", "only configured fields are sent")
}

func TestForm_validationBlocksSave(t *testing.T) {
	s := newTestServer(t, newMemBackend(), nil)

	w := s.do(t, http.MethodPost, "/api/forms/products/records", map[string]any{"price": 5000})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	e := decodeError(t, w)
	assert.Equal(t, model.ErrValidationError, e.Code)
	require.Len(t, e.Details, 3)
	assert.Equal(t, "Code is required", e.Details[0].Message)
	assert.Empty(t, s.backend.saved)
}

func TestForm_updateRejectedByBackend(t *testing.T) {
	backend := newMemBackend()
	backend.saveErr = model.NewBackendRejectedError(http.StatusConflict, "code P-9 already exists")
	s := newTestServer(t, backend, nil)

	w := s.do(t, http.MethodPut, "/api/forms/products/records/7", map[string]any{"code": "P-9", "vendorId": 3})
	assert.Equal(t, http.StatusConflict, w.Code)
	e := decodeError(t, w)
	assert.Equal(t, model.ErrSave, e.Code)
	assert.Equal(t, "code P-9 already exists", e.Message)

	backend.saveErr = errors.New("connection reset")
	w = s.do(t, http.MethodPut, "/api/forms/products/records/7", map[string]any{"code": "P-9", "vendorId": 3})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, model.MsgFailedSaveRecord, decodeError(t, w).Message)
}

func TestForm_delete(t *testing.T) {
	backend := newMemBackend()
	s := newTestServer(t, backend, nil)

	w := s.do(t, http.MethodDelete, "/api/forms/products/records/7", nil)
	assert.Equal(t, http.StatusNoContent, w.Code, w.Body.String())
	assert.Equal(t, []string{"products/7"}, backend.deleted)

	backend.deleteErr = model.NewBackendRejectedError(http.StatusConflict, "Product is referenced by orders")
	w = s.do(t, http.MethodDelete, "/api/forms/products/records/7", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	e := decodeError(t, w)
	assert.Equal(t, model.ErrDelete, e.Code)
	assert.Equal(t, "Product is referenced by orders", e.Message)

	backend.deleteErr = errors.New("connection reset")
	w = s.do(t, http.MethodDelete, "/api/forms/products/records/7", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, model.MsgFailedDeleteRecord, decodeError(t, w).Message)
}
