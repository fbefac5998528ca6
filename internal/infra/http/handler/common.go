package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/openctemio/scanmerge/internal/infra/http/middleware"
	"github.com/openctemio/scanmerge/pkg/apierror"
	"github.com/openctemio/scanmerge/pkg/logger"
)

// ListResponse wraps a list result.
type ListResponse[T any] struct {
	Data  []T `json:"data"`
	Total int `json:"total"`
}

// writeJSON encodes data with the given status.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// handleServiceError maps a service error to an API error response. Internal
// errors are logged; their message never reaches the client.
func handleServiceError(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error) {
	apiErr := apierror.FromError(err)
	if apiErr.Status >= http.StatusInternalServerError {
		log.WithContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	}
	apiErr.WriteJSONWithRequestID(w, middleware.GetRequestID(r.Context()))
}

// decodeJSON decodes a request body, distinguishing an oversized body from
// malformed JSON.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			middleware.WriteBodyError(w, err)
			return false
		}
		apierror.BadRequest("Invalid JSON request body").WriteJSON(w)
		return false
	}
	return true
}
