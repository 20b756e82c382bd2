// Package transport contains the HTTP router, middleware chain, and
// request handlers of the masterdata BFF.
package transport

import (
	"encoding/json"
	"net/http"

	"github.com/pitabwire/masterdata/internal/observability"
	"github.com/pitabwire/masterdata/model"
)

// statusForCode maps ErrorEnvelope codes to HTTP status codes.
var statusForCode = map[string]int{
	model.ErrBadRequest:         http.StatusBadRequest,
	model.ErrUnauthorized:       http.StatusUnauthorized,
	model.ErrNotFound:           http.StatusNotFound,
	model.ErrConflict:           http.StatusConflict,
	model.ErrValidationError:    http.StatusUnprocessableEntity,
	model.ErrInternalError:      http.StatusInternalServerError,
	model.ErrBackendUnavailable: http.StatusBadGateway,
	model.ErrBackendTimeout:     http.StatusGatewayTimeout,
	model.ErrBackendRejected:    http.StatusBadGateway,
	model.ErrMetadataLoad:       http.StatusBadGateway,
	model.ErrRecordLoad:         http.StatusBadGateway,
	model.ErrFetchList:          http.StatusBadGateway,
	model.ErrSave:               http.StatusBadGateway,
	model.ErrDelete:             http.StatusBadGateway,
	model.ErrExport:             http.StatusBadGateway,
	model.ErrDropdownOptions:    http.StatusBadGateway,
	model.ErrEntitiesLoad:       http.StatusBadGateway,
}

// statusFor returns the HTTP status for ee. A save or delete rejected by the
// backend with a 4xx keeps that status so the UI can tell a conflict from an
// outage.
func statusFor(ee *model.ErrorEnvelope) int {
	switch ee.Code {
	case model.ErrSave, model.ErrDelete, model.ErrRecordLoad:
		if cause, ok := model.AsEnvelope(ee.Unwrap()); ok && cause.Status >= 400 && cause.Status < 500 {
			return cause.Status
		}
	}
	if status := statusForCode[ee.Code]; status != 0 {
		return status
	}
	return http.StatusInternalServerError
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

type errorResponse struct {
	Error *model.ErrorEnvelope `json:"error"`
}

// WriteError writes err as an ErrorEnvelope with the matching HTTP status.
// Errors without an envelope in their chain become a generic 500.
func WriteError(w http.ResponseWriter, err error) {
	ee, ok := model.AsEnvelope(err)
	if !ok {
		ee = model.NewInternalError()
	}
	WriteJSON(w, statusFor(ee), errorResponse{Error: ee})
}

// writeRequestError logs err with the request logger and writes it with the
// request's trace ID attached.
func writeRequestError(w http.ResponseWriter, r *http.Request, err error) {
	ee, ok := model.AsEnvelope(err)
	if !ok {
		ee = model.NewInternalError()
	}
	status := statusFor(ee)

	logger := observability.RequestLogger(r.Context(), nil)
	if status >= http.StatusInternalServerError {
		logger.Sugar().Errorw("request failed", "code", ee.Code, "error", err)
	} else {
		logger.Sugar().Debugw("request rejected", "code", ee.Code, "error", err)
	}

	out := *ee
	out.TraceID = observability.TraceIDFromContext(r.Context())
	WriteJSON(w, status, errorResponse{Error: &out})
}
