package handler

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/openctemio/scanmerge/internal/app/ingest"
	"github.com/openctemio/scanmerge/internal/infra/http/middleware"
	"github.com/openctemio/scanmerge/pkg/apierror"
	"github.com/openctemio/scanmerge/pkg/domain/command"
	"github.com/openctemio/scanmerge/pkg/logger"
)

const (
	// maxMultipartMemory is kept in memory before parts spill to disk.
	maxMultipartMemory = 32 << 20

	formFile         = "file"
	formTool         = "tool"
	formImportSource = "import_source"
	formHostname     = "hostname"
	hostnameHeader   = "X-Client-Hostname"
)

// UploadHandler accepts scan reports for asynchronous ingestion.
type UploadHandler struct {
	service *ingest.Service
	logger  *logger.Logger
}

// NewUploadHandler creates a new upload handler.
func NewUploadHandler(svc *ingest.Service, log *logger.Logger) *UploadHandler {
	return &UploadHandler{
		service: svc,
		logger:  log.With("handler", "upload"),
	}
}

// UploadResponse is returned once a report is queued.
type UploadResponse struct {
	JobID     string `json:"job_id"`
	Workspace string `json:"workspace"`
	Status    string `json:"status"`
}

// Upload handles POST /api/v1/ws/{workspace}/upload_report. The report is
// either the multipart "file" part or the raw request body. Optional
// "tool", "import_source" and "hostname" come from form fields or the query
// string. The response is 202 once the job is queued; parsing and merging
// happen later and their failures are not reported back.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	workspaceName := chi.URLParam(r, "workspace")

	payload, err := readReport(r)
	if err != nil {
		var maxBytes *http.MaxBytesError
		switch {
		case errors.As(err, &maxBytes):
			middleware.WriteBodyError(w, err)
		case errors.Is(err, http.ErrMissingFile):
			apierror.BadRequest("Report file is required").WriteJSON(w)
		default:
			apierror.BadRequest("Failed to read report").WriteJSON(w)
		}
		return
	}
	if len(payload) == 0 {
		apierror.BadRequest("Report file is required").WriteJSON(w)
		return
	}

	source, err := command.ParseImportSource(formValue(r, formImportSource))
	if err != nil {
		apierror.BadRequest(err.Error()).WriteJSON(w)
		return
	}
	hostname := formValue(r, formHostname)
	if hostname == "" {
		hostname = r.Header.Get(hostnameHeader)
	}

	job := ingest.Job{
		Workspace: workspaceName,
		Payload:   payload,
		ToolHint:  formValue(r, formTool),
		Identity: ingest.Identity{
			User:         middleware.GetUploader(r.Context()),
			Hostname:     hostname,
			IP:           middleware.ClientIP(r),
			ImportSource: source,
		},
	}

	jobID, err := h.service.Enqueue(r.Context(), job)
	if err != nil {
		if errors.Is(err, ingest.ErrQueueFull) || errors.Is(err, ingest.ErrStopped) {
			w.Header().Set("Retry-After", "5")
			apierror.QueueFull().WriteJSON(w)
			return
		}
		handleServiceError(w, r, h.logger, err)
		return
	}

	h.logger.Info("report accepted",
		"job_id", jobID.String(),
		"workspace", workspaceName,
		"tool", job.ToolHint,
		"size", len(payload),
		"user", job.Identity.User,
	)
	writeJSON(w, http.StatusAccepted, UploadResponse{
		JobID:     jobID.String(),
		Workspace: workspaceName,
		Status:    "queued",
	})
}

func readReport(r *http.Request) ([]byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return io.ReadAll(r.Body)
	}

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		return nil, err
	}
	file, _, err := r.FormFile(formFile)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

// formValue reads a multipart field, falling back to the query string.
func formValue(r *http.Request, key string) string {
	if r.MultipartForm != nil {
		if v := r.MultipartForm.Value[key]; len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
	}
	return strings.TrimSpace(r.URL.Query().Get(key))
}
