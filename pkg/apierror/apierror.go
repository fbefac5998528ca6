// Package apierror renders failures as the JSON error body every endpoint
// returns: {"error", "code", "message", "details", "request_id"}.
package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/openctemio/scanmerge/pkg/domain/shared"
	"github.com/openctemio/scanmerge/pkg/domain/workspace"
	"github.com/openctemio/scanmerge/pkg/validator"
)

// Code is the machine-readable error code of a response.
type Code string

const (
	CodeBadRequest          Code = "BAD_REQUEST"
	CodeNotFound            Code = "NOT_FOUND"
	CodeWorkspaceInactive   Code = "WORKSPACE_INACTIVE"
	CodeConflict            Code = "CONFLICT"
	CodeValidationFailed    Code = "VALIDATION_FAILED"
	CodePayloadTooLarge     Code = "PAYLOAD_TOO_LARGE"
	CodeUnsupportedEncoding Code = "UNSUPPORTED_ENCODING"
	CodeRateLimitExceeded   Code = "RATE_LIMIT_EXCEEDED"
	CodeInternalError       Code = "INTERNAL_ERROR"
	CodeQueueFull           Code = "QUEUE_FULL"
	CodeTimeout             Code = "TIMEOUT"
)

// Error is an HTTP error response. Err is kept for logging and never
// serialized.
type Error struct {
	Status  int
	Code    Code
	Message string
	Details any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Response is the wire form of an Error. Error duplicates Code for clients
// that only look at the "error" key.
type Response struct {
	Error     string `json:"error"`
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// WriteJSON writes the error with its status.
func (e *Error) WriteJSON(w http.ResponseWriter) {
	e.WriteJSONWithRequestID(w, "")
}

// WriteJSONWithRequestID writes the error and echoes the request id, when
// there is one, in both the body and the X-Request-ID header.
func (e *Error) WriteJSONWithRequestID(w http.ResponseWriter, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	if requestID != "" {
		w.Header().Set("X-Request-ID", requestID)
	}
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(Response{
		Error:     string(e.Code),
		Code:      e.Code,
		Message:   e.Message,
		Details:   e.Details,
		RequestID: requestID,
	})
}

// New creates an API error.
func New(status int, code Code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

func wrap(err error, status int, code Code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message, Err: err}
}

// =============================================================================
// Constructors
// =============================================================================

func BadRequest(message string) *Error {
	return New(http.StatusBadRequest, CodeBadRequest, message)
}

func PayloadTooLarge(message string) *Error {
	return New(http.StatusRequestEntityTooLarge, CodePayloadTooLarge, message)
}

// UnsupportedEncoding rejects a Content-Encoding the server cannot inflate.
func UnsupportedEncoding(encoding string) *Error {
	return New(http.StatusUnsupportedMediaType, CodeUnsupportedEncoding,
		fmt.Sprintf("Content-Encoding %q is not supported", encoding))
}

func RateLimitExceeded() *Error {
	return New(http.StatusTooManyRequests, CodeRateLimitExceeded, "Rate limit exceeded")
}

// QueueFull tells an uploader the ingestion queue has no room. The report
// was not accepted and can be resent as is.
func QueueFull() *Error {
	return New(http.StatusServiceUnavailable, CodeQueueFull, "Ingestion queue is full, retry later")
}

func Timeout() *Error {
	return New(http.StatusGatewayTimeout, CodeTimeout, "Request timeout")
}

// InternalError hides err behind a generic message.
func InternalError(err error) *Error {
	return wrap(err, http.StatusInternalServerError, CodeInternalError, "An internal error occurred")
}

// FromError maps a service error to its response. Domain sentinels pick the
// status; anything unknown is an internal error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}

	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		details := make(ValidationErrors, 0, len(verrs))
		for _, e := range verrs {
			details = append(details, ValidationError{Field: e.Field, Message: e.Message})
		}
		apiErr = wrap(err, http.StatusUnprocessableEntity, CodeValidationFailed, "Validation failed")
		apiErr.Details = details
		return apiErr
	case errors.Is(err, workspace.ErrInactive):
		return wrap(err, http.StatusNotFound, CodeWorkspaceInactive, "workspace not found or inactive")
	case errors.Is(err, shared.ErrNotFound):
		return wrap(err, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, shared.ErrAlreadyExists), errors.Is(err, shared.ErrConflict):
		// the stored row is not echoed back
		return wrap(err, http.StatusConflict, CodeConflict, "Resource conflict")
	case errors.Is(err, shared.ErrValidation), errors.Is(err, shared.ErrInvalidInput), errors.Is(err, shared.ErrInvalidParent):
		return wrap(err, http.StatusBadRequest, CodeBadRequest, err.Error())
	}
	return InternalError(err)
}

// ValidationError is one failed request field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is the details payload of a VALIDATION_FAILED response.
type ValidationErrors []ValidationError
