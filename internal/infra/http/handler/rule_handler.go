package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openctemio/scanmerge/internal/app"
	"github.com/openctemio/scanmerge/internal/app/searcher"
	"github.com/openctemio/scanmerge/pkg/apierror"
	"github.com/openctemio/scanmerge/pkg/domain/rule"
	"github.com/openctemio/scanmerge/pkg/logger"
)

// RuleHandler manages stored rules and runs the searcher on demand.
type RuleHandler struct {
	service *app.RuleService
	logger  *logger.Logger
}

// NewRuleHandler creates a new rule handler.
func NewRuleHandler(svc *app.RuleService, log *logger.Logger) *RuleHandler {
	return &RuleHandler{
		service: svc,
		logger:  log.With("handler", "rule"),
	}
}

// =============================================================================
// Request/Response Types
// =============================================================================

// RunRulesRequest carries ad hoc rule definitions.
type RunRulesRequest struct {
	Rules []rule.Definition `json:"rules"`
}

// UpdateRuleRequest toggles a stored rule.
type UpdateRuleRequest struct {
	Disabled *bool `json:"disabled"`
}

// RuleResponse represents a stored rule.
type RuleResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Model     string    `json:"model"`
	Query     string    `json:"object"`
	Actions   []string  `json:"actions"`
	Disabled  bool      `json:"disabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toRuleResponse(r *rule.Rule) RuleResponse {
	actions := r.Actions()
	tokens := make([]string, 0, len(actions))
	for _, a := range actions {
		tokens = append(tokens, a.Token())
	}
	return RuleResponse{
		ID:        r.ID().String(),
		Name:      r.Name(),
		Model:     string(r.Model()),
		Query:     r.RawQuery(),
		Actions:   tokens,
		Disabled:  r.Disabled(),
		CreatedAt: r.CreatedAt(),
		UpdatedAt: r.UpdatedAt(),
	}
}

// =============================================================================
// Runs
// =============================================================================

// Run handles POST /api/v1/ws/{workspace}/rules/run. With rule definitions
// in the body they are evaluated without being stored; an empty body runs the
// workspace's stored rules.
func (h *RuleHandler) Run(w http.ResponseWriter, r *http.Request) {
	workspaceName := chi.URLParam(r, "workspace")
	ctx := searcher.WithTrigger(r.Context(), searcher.TriggerAPI)

	var req RunRulesRequest
	if r.ContentLength != 0 && r.Body != nil && r.Body != http.NoBody {
		if !decodeJSON(w, r, &req) {
			return
		}
	}

	var (
		report *searcher.Report
		err    error
	)
	if len(req.Rules) == 0 {
		report, err = h.service.RunStored(ctx, workspaceName)
	} else {
		report, err = h.service.Run(ctx, workspaceName, req.Rules)
	}
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// =============================================================================
// Stored Rules
// =============================================================================

// List handles GET /api/v1/ws/{workspace}/rules.
func (h *RuleHandler) List(w http.ResponseWriter, r *http.Request) {
	rules, err := h.service.List(r.Context(), chi.URLParam(r, "workspace"))
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	resp := ListResponse[RuleResponse]{Data: make([]RuleResponse, 0, len(rules)), Total: len(rules)}
	for _, rl := range rules {
		resp.Data = append(resp.Data, toRuleResponse(rl))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Create handles POST /api/v1/ws/{workspace}/rules.
func (h *RuleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var def rule.Definition
	if !decodeJSON(w, r, &def) {
		return
	}

	created, err := h.service.Create(r.Context(), chi.URLParam(r, "workspace"), def)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRuleResponse(created))
}

// Update handles PATCH /api/v1/ws/{workspace}/rules/{id}.
func (h *RuleHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateRuleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Disabled == nil {
		apierror.BadRequest("disabled is required").WriteJSON(w)
		return
	}

	updated, err := h.service.SetDisabled(r.Context(), chi.URLParam(r, "workspace"), chi.URLParam(r, "id"), *req.Disabled)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toRuleResponse(updated))
}

// Delete handles DELETE /api/v1/ws/{workspace}/rules/{id}.
func (h *RuleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "workspace"), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
