package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openctemio/scanmerge/internal/app"
	"github.com/openctemio/scanmerge/pkg/domain/command"
	"github.com/openctemio/scanmerge/pkg/logger"
)

// HistoryHandler serves provenance queries for hosts and services.
type HistoryHandler struct {
	service *app.HistoryService
	logger  *logger.Logger
}

// NewHistoryHandler creates a new history handler.
func NewHistoryHandler(svc *app.HistoryService, log *logger.Logger) *HistoryHandler {
	return &HistoryHandler{
		service: svc,
		logger:  log.With("handler", "history"),
	}
}

// ToolsHistoryEntry is one command that created or touched an object.
type ToolsHistoryEntry struct {
	CommandID         string    `json:"command_id"`
	Tool              string    `json:"tool"`
	User              string    `json:"user"`
	Params            string    `json:"params"`
	ImportSource      string    `json:"import_source"`
	CreatedPersistent bool      `json:"created_persistent"`
	CreateDate        time.Time `json:"create_date"`
}

// ToolsHistoryResponse lists the commands newest first.
type ToolsHistoryResponse struct {
	ToolsHistory []ToolsHistoryEntry `json:"tools_history"`
}

// HostToolsHistory handles GET /api/v1/ws/{workspace}/hosts/{id}/tools_history.
func (h *HistoryHandler) HostToolsHistory(w http.ResponseWriter, r *http.Request) {
	h.toolsHistory(w, r, command.ObjectHost)
}

// ServiceToolsHistory handles GET /api/v1/ws/{workspace}/services/{id}/tools_history.
func (h *HistoryHandler) ServiceToolsHistory(w http.ResponseWriter, r *http.Request) {
	h.toolsHistory(w, r, command.ObjectService)
}

func (h *HistoryHandler) toolsHistory(w http.ResponseWriter, r *http.Request, objectType command.ObjectType) {
	entries, err := h.service.ToolsHistory(r.Context(), chi.URLParam(r, "workspace"), objectType, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	resp := ToolsHistoryResponse{ToolsHistory: make([]ToolsHistoryEntry, 0, len(entries))}
	for _, e := range entries {
		resp.ToolsHistory = append(resp.ToolsHistory, ToolsHistoryEntry{
			CommandID:         e.CommandID.String(),
			Tool:              e.Tool,
			User:              e.User,
			Params:            e.Params,
			ImportSource:      string(e.ImportSource),
			CreatedPersistent: e.CreatedPersistent,
			CreateDate:        e.CreateDate,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// VulnCountResponse is the vulnerability count of a host.
type VulnCountResponse struct {
	HostID string `json:"host_id"`
	Count  int64  `json:"count"`
}

// HostVulnCount handles GET /api/v1/ws/{workspace}/hosts/{id}/vulns/count.
// Vulnerabilities on the host's services are included.
func (h *HistoryHandler) HostVulnCount(w http.ResponseWriter, r *http.Request) {
	hostID := chi.URLParam(r, "id")
	count, err := h.service.HostVulnCount(r.Context(), chi.URLParam(r, "workspace"), hostID)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, VulnCountResponse{HostID: hostID, Count: count})
}
