package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/masterdata/internal/export"
	"github.com/pitabwire/masterdata/internal/listview"
	"github.com/pitabwire/masterdata/internal/openapi"
	"github.com/pitabwire/masterdata/internal/session"
	"github.com/pitabwire/masterdata/model"
)

const maxBodyBytes = 1 << 20

// viewResponse is the body of every view endpoint. Issued is set by the
// transitions that may fetch and reports whether a fetch was made or
// deferred behind the one in flight.
type viewResponse struct {
	ID     string            `json:"id"`
	State  listview.Snapshot `json:"state"`
	Issued *bool             `json:"issued,omitempty"`
}

func handleListEntities(provider model.RecordsProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entities, err := provider.ListEntities(r.Context())
		if err != nil {
			writeRequestError(w, r, model.NewEntitiesLoadError(err))
			return
		}
		if entities == nil {
			entities = []model.Entity{}
		}
		WriteJSON(w, http.StatusOK, map[string]any{"entities": entities})
	}
}

func handleCreateView(sessions *session.Manager, api *openapi.Index) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Entity string `json:"entity"`
		}
		if err := decodeBody(r, api, "createView", &body); err != nil {
			writeRequestError(w, r, err)
			return
		}

		s, err := sessions.Create(r.Context(), body.Entity)
		if err != nil {
			writeRequestError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusCreated, viewResponse{ID: s.ID, State: s.View.Snapshot()})
	}
}

func handleGetView(sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := sessions.Get(r.Context(), chi.URLParam(r, "viewId"))
		if err != nil {
			writeRequestError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, viewResponse{ID: s.ID, State: s.View.Snapshot()})
	}
}

func handleDeleteView(sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := sessions.Delete(r.Context(), chi.URLParam(r, "viewId")); err != nil {
			writeRequestError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// viewTransition applies one transition to a view. It reports whether a
// fetch was issued; ok is false for transitions that never fetch.
type viewTransition func(ctx context.Context, view *listview.Coordinator, r *http.Request) (issued, ok bool, err error)

// handleTransition loads the caller's view, applies fn and persists the
// resulting state, whether or not fn succeeded.
func handleTransition(sessions *session.Manager, fn viewTransition) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		s, err := sessions.Get(ctx, chi.URLParam(r, "viewId"))
		if err != nil {
			writeRequestError(w, r, err)
			return
		}

		issued, ok, err := fn(ctx, s.View, r)
		sessions.Persist(ctx, s)
		if err != nil {
			writeRequestError(w, r, err)
			return
		}

		resp := viewResponse{ID: s.ID, State: s.View.Snapshot()}
		if ok {
			resp.Issued = &issued
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func selectEntity(api *openapi.Index) viewTransition {
	return func(ctx context.Context, view *listview.Coordinator, r *http.Request) (bool, bool, error) {
		var body struct {
			Entity string `json:"entity"`
		}
		if err := decodeBody(r, api, "selectEntity", &body); err != nil {
			return false, false, err
		}
		if body.Entity == "" {
			return false, false, model.NewBadRequestError("entity is required")
		}
		return false, false, view.SelectEntity(ctx, body.Entity)
	}
}

func setParams(api *openapi.Index) viewTransition {
	return func(_ context.Context, view *listview.Coordinator, r *http.Request) (bool, bool, error) {
		var values model.ParamValues
		if err := decodeBody(r, api, "setParams", &values); err != nil {
			return false, false, err
		}
		return false, false, view.SetParamValues(values)
	}
}

func reveal(ctx context.Context, view *listview.Coordinator, _ *http.Request) (bool, bool, error) {
	issued, err := view.Reveal(ctx)
	return issued, true, err
}

func changePage(api *openapi.Index) viewTransition {
	return func(ctx context.Context, view *listview.Coordinator, r *http.Request) (bool, bool, error) {
		var body struct {
			Page int `json:"page"`
		}
		if err := decodeBody(r, api, "changePage", &body); err != nil {
			return false, false, err
		}
		issued, err := view.OnPageChanged(ctx, body.Page)
		return issued, true, err
	}
}

func changePageSize(api *openapi.Index) viewTransition {
	return func(ctx context.Context, view *listview.Coordinator, r *http.Request) (bool, bool, error) {
		var body struct {
			PageSize int `json:"pageSize"`
		}
		if err := decodeBody(r, api, "changePageSize", &body); err != nil {
			return false, false, err
		}
		issued, err := view.OnPageSizeChanged(ctx, body.PageSize)
		return issued, true, err
	}
}

func changeSort(api *openapi.Index) viewTransition {
	return func(ctx context.Context, view *listview.Coordinator, r *http.Request) (bool, bool, error) {
		var sort model.SortSpec
		if err := decodeBody(r, api, "changeSort", &sort); err != nil {
			return false, false, err
		}
		issued, err := view.OnSortChanged(ctx, sort)
		return issued, true, err
	}
}

func handleExport(sessions *session.Manager, exports *export.Runner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		format, err := export.ParseFormat(chi.URLParam(r, "format"))
		if err != nil {
			writeRequestError(w, r, err)
			return
		}
		s, err := sessions.Get(r.Context(), chi.URLParam(r, "viewId"))
		if err != nil {
			writeRequestError(w, r, err)
			return
		}

		file, err := exports.Run(r.Context(), s.View, format)
		if err != nil {
			writeRequestError(w, r, err)
			return
		}

		w.Header().Set("Content-Type", file.ContentType)
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": file.Filename}))
		w.Header().Set("Content-Length", strconv.Itoa(len(file.Data)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(file.Data)
	}
}

// decodeBody reads a JSON request body, checks it against the operation's
// schema and decodes it into dst. An empty body leaves dst untouched.
// Numbers are decoded as json.Number so record values keep their precision.
func decodeBody(r *http.Request, api *openapi.Index, operationID string, dst any) error {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return model.NewBadRequestError("failed to read request body")
	}
	if len(raw) > maxBodyBytes {
		return model.NewBadRequestError("request body too large")
	}
	raw = bytes.TrimSpace(raw)

	var generic any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &generic); err != nil {
			return model.NewBadRequestError("malformed JSON body")
		}
	}
	if api != nil {
		if details := api.ValidateRequest(operationID, generic); len(details) > 0 {
			ee := model.NewBadRequestError("request body does not match the API schema")
			ee.Details = details
			return ee
		}
	}
	if len(raw) == 0 {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return model.NewBadRequestError("field " + typeErr.Field + " has the wrong type")
		}
		return model.NewBadRequestError("malformed JSON body")
	}
	return nil
}
