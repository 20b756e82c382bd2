package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/masterdata/internal/form"
	"github.com/pitabwire/masterdata/internal/openapi"
)

func handleGetForm(forms *form.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mode, err := form.ParseMode(r.URL.Query().Get("mode"))
		if err != nil {
			writeRequestError(w, r, err)
			return
		}

		loaded, err := forms.Load(r.Context(), chi.URLParam(r, "entity"), r.URL.Query().Get("id"), mode)
		if err != nil {
			writeRequestError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, loaded)
	}
}

func handleCreateRecord(forms *form.Controller, api *openapi.Index) http.HandlerFunc {
	return handleSubmit(forms, api, "createRecord", form.ModeCreate, http.StatusCreated)
}

func handleUpdateRecord(forms *form.Controller, api *openapi.Index) http.HandlerFunc {
	return handleSubmit(forms, api, "updateRecord", form.ModeEdit, http.StatusOK)
}

func handleSubmit(forms *form.Controller, api *openapi.Index, operationID string, mode form.Mode, status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		values := map[string]any{}
		if err := decodeBody(r, api, operationID, &values); err != nil {
			writeRequestError(w, r, err)
			return
		}

		saved, err := forms.Submit(r.Context(), chi.URLParam(r, "entity"), chi.URLParam(r, "id"), mode, values)
		if err != nil {
			writeRequestError(w, r, err)
			return
		}
		WriteJSON(w, status, saved)
	}
}

func handleDeleteRecord(forms *form.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := forms.Delete(r.Context(), chi.URLParam(r, "entity"), chi.URLParam(r, "id")); err != nil {
			writeRequestError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
