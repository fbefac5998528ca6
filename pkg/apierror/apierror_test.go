package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/scanmerge/pkg/domain/shared"
	"github.com/openctemio/scanmerge/pkg/domain/workspace"
	"github.com/openctemio/scanmerge/pkg/validator"
)

func TestFromError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   Code
	}{
		{"not found", fmt.Errorf("load: %w", workspace.ErrNotFound), http.StatusNotFound, CodeNotFound},
		{"inactive workspace", workspace.ErrInactive, http.StatusNotFound, CodeWorkspaceInactive},
		{"exists", workspace.ErrExists, http.StatusConflict, CodeConflict},
		{"conflict", shared.ErrConflict, http.StatusConflict, CodeConflict},
		{"validation", fmt.Errorf("%w: bad id", shared.ErrValidation), http.StatusBadRequest, CodeBadRequest},
		{"invalid parent", shared.ErrInvalidParent, http.StatusBadRequest, CodeBadRequest},
		{"field errors", validator.ValidationErrors{{Field: "name", Message: "required"}}, http.StatusUnprocessableEntity, CodeValidationFailed},
		{"api error", QueueFull(), http.StatusServiceUnavailable, CodeQueueFull},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, CodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apiErr := FromError(tt.err)
			require.NotNil(t, apiErr)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.code, apiErr.Code)
		})
	}

	assert.Nil(t, FromError(nil))
}

func TestFromError_ValidationDetails(t *testing.T) {
	apiErr := FromError(validator.ValidationErrors{{Field: "workspace", Message: "required"}})
	details, ok := apiErr.Details.(ValidationErrors)
	require.True(t, ok)
	assert.Equal(t, ValidationErrors{{Field: "workspace", Message: "required"}}, details)
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	InternalError(errors.New("db password is hunter2")).WriteJSON(rec)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotContains(t, rec.Body.String(), "hunter2")

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, CodeInternalError, resp.Code)
	assert.Equal(t, "INTERNAL_ERROR", resp.Error)
}

func TestWriteJSONWithRequestID(t *testing.T) {
	rec := httptest.NewRecorder()
	FromError(fmt.Errorf("create: %w", workspace.ErrExists)).WriteJSONWithRequestID(rec, "req-1")

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "req-1", resp.RequestID)
	assert.Equal(t, "Resource conflict", resp.Message)
	assert.Nil(t, resp.Details)
}
