package model

import (
	"errors"
	"fmt"
	"strings"
)

// Standard error codes.
const (
	ErrBadRequest         = "BAD_REQUEST"
	ErrUnauthorized       = "UNAUTHORIZED"
	ErrNotFound           = "NOT_FOUND"
	ErrConflict           = "CONFLICT"
	ErrValidationError    = "VALIDATION_ERROR"
	ErrInternalError      = "INTERNAL_ERROR"
	ErrBackendUnavailable = "BACKEND_UNAVAILABLE"
	ErrBackendTimeout     = "BACKEND_TIMEOUT"
	ErrBackendRejected    = "BACKEND_REJECTED"
)

// Records workflow error codes. Each one surfaces a single user-visible
// message; the underlying cause is kept for logging.
const (
	ErrMetadataLoad    = "METADATA_LOAD_FAILED"
	ErrRecordLoad      = "RECORD_LOAD_FAILED"
	ErrFetchList       = "FETCH_LIST_FAILED"
	ErrSave            = "SAVE_FAILED"
	ErrDelete          = "DELETE_FAILED"
	ErrExport          = "EXPORT_FAILED"
	ErrDropdownOptions = "DROPDOWN_OPTIONS_FAILED"
	ErrEntitiesLoad    = "ENTITIES_LOAD_FAILED"
)

// User-visible messages.
const (
	MsgFailedLoadEntities   = "Failed to load entities"
	MsgFailedLoadMetadata   = "Failed to load metadata"
	MsgFailedLoadFormConfig = "Failed to load form configuration"
	MsgFailedLoadRecord     = "Failed to load record"
	MsgFailedFetchList      = "Failed to fetch list"
	MsgFailedSaveRecord     = "Failed to save record. Please try again."
	MsgFailedDeleteRecord   = "Failed to delete record"
)

// ErrorEnvelope is the standard error response envelope returned by the BFF.
// It implements the error interface.
type ErrorEnvelope struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id,omitempty"`

	// Status is the backend HTTP status when the error came from a backend
	// response. It is never serialized.
	Status int `json:"-"`

	backendMessage string
	cause          error
}

// Error implements the error interface.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *ErrorEnvelope) Unwrap() error {
	return e.cause
}

// WithCause returns a copy of e that wraps cause.
func (e *ErrorEnvelope) WithCause(cause error) *ErrorEnvelope {
	c := *e
	c.cause = cause
	return &c
}

// FieldError describes a field-level validation error.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AsEnvelope extracts an ErrorEnvelope from err's chain.
func AsEnvelope(err error) (*ErrorEnvelope, bool) {
	var ee *ErrorEnvelope
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}

// HasCode reports whether err carries an ErrorEnvelope with the given code.
func HasCode(err error, code string) bool {
	ee, ok := AsEnvelope(err)
	return ok && ee.Code == code
}

// NewBadRequestError returns a BAD_REQUEST error.
func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

// NewUnauthorizedError returns an UNAUTHORIZED error.
func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewValidationError returns a VALIDATION_ERROR whose message joins every
// field message, matching what the form shows above its fields.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	msgs := make([]string, 0, len(details))
	for _, d := range details {
		msgs = append(msgs, d.Message)
	}
	msg := strings.Join(msgs, ", ")
	if msg == "" {
		msg = "One or more fields are invalid"
	}
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: msg,
		Details: details,
	}
}

// NewInternalError returns an INTERNAL_ERROR.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "An unexpected error occurred",
	}
}

// NewBackendUnavailableError returns a BACKEND_UNAVAILABLE error.
func NewBackendUnavailableError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrBackendUnavailable,
		Message: "The backend service is temporarily unavailable",
	}
}

// NewBackendTimeoutError returns a BACKEND_TIMEOUT error.
func NewBackendTimeoutError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrBackendTimeout,
		Message: "The backend service did not respond in time",
	}
}

// NewBackendRejectedError returns a BACKEND_REJECTED error for a non-2xx
// backend response. msg is the backend's own message when it sent one.
func NewBackendRejectedError(status int, msg string) *ErrorEnvelope {
	e := &ErrorEnvelope{Code: ErrBackendRejected, Message: msg, Status: status, backendMessage: msg}
	if msg == "" {
		e.Message = fmt.Sprintf("backend returned status %d", status)
	}
	return e
}

// NewMetadataLoadError returns a METADATA_LOAD_FAILED error wrapping cause.
func NewMetadataLoadError(msg string, cause error) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrMetadataLoad, Message: msg, cause: cause}
}

// NewRecordLoadError returns a RECORD_LOAD_FAILED error wrapping cause.
func NewRecordLoadError(cause error) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrRecordLoad, Message: MsgFailedLoadRecord, cause: cause}
}

// NewFetchListError returns a FETCH_LIST_FAILED error wrapping cause.
func NewFetchListError(cause error) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrFetchList, Message: MsgFailedFetchList, cause: cause}
}

// NewSaveError returns a SAVE_FAILED error. The backend's message is
// preferred over the generic one.
func NewSaveError(cause error) *ErrorEnvelope {
	msg := MsgFailedSaveRecord
	if ee, ok := AsEnvelope(cause); ok && ee.backendMessage != "" {
		msg = ee.backendMessage
	}
	return &ErrorEnvelope{Code: ErrSave, Message: msg, cause: cause}
}

// NewDeleteError returns a DELETE_FAILED error. Like NewSaveError it
// prefers the backend's own message.
func NewDeleteError(cause error) *ErrorEnvelope {
	msg := MsgFailedDeleteRecord
	if ee, ok := AsEnvelope(cause); ok && ee.backendMessage != "" {
		msg = ee.backendMessage
	}
	return &ErrorEnvelope{Code: ErrDelete, Message: msg, cause: cause}
}

// NewExportError returns an EXPORT_FAILED error for the given format label.
func NewExportError(formatLabel string, cause error) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrExport,
		Message: fmt.Sprintf("Failed to export %s", formatLabel),
		cause:   cause,
	}
}

// NewDropdownOptionsError returns a DROPDOWN_OPTIONS_FAILED error for a
// single field.
func NewDropdownOptionsError(label string, cause error) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrDropdownOptions,
		Message: fmt.Sprintf("Failed to load options for %s", label),
		cause:   cause,
	}
}

// NewEntitiesLoadError returns an ENTITIES_LOAD_FAILED error wrapping cause.
func NewEntitiesLoadError(cause error) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrEntitiesLoad, Message: MsgFailedLoadEntities, cause: cause}
}
