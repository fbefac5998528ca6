package app

import (
	"context"
	"fmt"

	"github.com/openctemio/scanmerge/internal/app/searcher"
	"github.com/openctemio/scanmerge/pkg/domain/rule"
	"github.com/openctemio/scanmerge/pkg/domain/shared"
	"github.com/openctemio/scanmerge/pkg/domain/store"
	"github.com/openctemio/scanmerge/pkg/domain/workspace"
	"github.com/openctemio/scanmerge/pkg/logger"
	"github.com/openctemio/scanmerge/pkg/validator"
)

// RuleService handles stored automation rules and rule runs.
type RuleService struct {
	store     store.Store
	searcher  *searcher.Searcher
	validator *validator.Validator
	logger    *logger.Logger
}

// NewRuleService creates a new RuleService.
func NewRuleService(st store.Store, s *searcher.Searcher, log *logger.Logger) *RuleService {
	return &RuleService{
		store:     st,
		searcher:  s,
		validator: validator.New(),
		logger:    log.With("service", "rule"),
	}
}

func (s *RuleService) workspace(ctx context.Context, name string) (*workspace.Workspace, error) {
	return s.store.Workspaces().GetByName(ctx, name)
}

// =============================================================================
// Stored Rules
// =============================================================================

// Create validates a definition and stores it as the workspace's last rule.
func (s *RuleService) Create(ctx context.Context, workspaceName string, def rule.Definition) (*rule.Rule, error) {
	if err := s.validator.Validate(def); err != nil {
		return nil, err
	}
	ws, err := s.workspace(ctx, workspaceName)
	if err != nil {
		return nil, err
	}

	r, err := rule.FromDefinition(ws.ID(), def)
	if err != nil {
		return nil, err
	}
	if err := s.store.Rules().Create(ctx, r); err != nil {
		return nil, err
	}

	s.logger.Info("rule created", "workspace", ws.Name(), "rule_id", r.ID().String(), "model", r.Model(), "query", r.RawQuery())
	return r, nil
}

// SetDisabled turns a stored rule off or back on.
func (s *RuleService) SetDisabled(ctx context.Context, workspaceName, ruleID string, disabled bool) (*rule.Rule, error) {
	ws, err := s.workspace(ctx, workspaceName)
	if err != nil {
		return nil, err
	}
	id, err := shared.IDFromString(ruleID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid rule id", shared.ErrValidation)
	}

	r, err := s.store.Rules().GetByID(ctx, ws.ID(), id)
	if err != nil {
		return nil, err
	}
	if disabled {
		r.Disable()
	} else {
		r.Enable()
	}
	if err := s.store.Rules().Update(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Delete removes a stored rule and its ordered actions.
func (s *RuleService) Delete(ctx context.Context, workspaceName, ruleID string) error {
	ws, err := s.workspace(ctx, workspaceName)
	if err != nil {
		return err
	}
	id, err := shared.IDFromString(ruleID)
	if err != nil {
		return fmt.Errorf("%w: invalid rule id", shared.ErrValidation)
	}
	if err := s.store.Rules().Delete(ctx, ws.ID(), id); err != nil {
		return err
	}

	s.logger.Info("rule deleted", "workspace", ws.Name(), "rule_id", id.String())
	return nil
}

// List returns the workspace's rules in evaluation order.
func (s *RuleService) List(ctx context.Context, workspaceName string) ([]*rule.Rule, error) {
	ws, err := s.workspace(ctx, workspaceName)
	if err != nil {
		return nil, err
	}
	return s.store.Rules().ListByWorkspace(ctx, ws.ID())
}

// =============================================================================
// Runs
// =============================================================================

// RunStored evaluates the workspace's stored rules.
func (s *RuleService) RunStored(ctx context.Context, workspaceName string) (*searcher.Report, error) {
	ws, err := s.workspace(ctx, workspaceName)
	if err != nil {
		return nil, err
	}
	rules, err := s.store.Rules().ListByWorkspace(ctx, ws.ID())
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	return s.searcher.Process(ctx, rules, ws), nil
}

// Run evaluates ad hoc definitions without storing them. Disabled definitions
// are ignored; one that does not parse is skipped and reported while the rest
// still run.
func (s *RuleService) Run(ctx context.Context, workspaceName string, defs []rule.Definition) (*searcher.Report, error) {
	ws, err := s.workspace(ctx, workspaceName)
	if err != nil {
		return nil, err
	}
	return s.searcher.ProcessEntries(ctx, searcher.EntriesFromDefinitions(ws.ID(), defs), ws), nil
}
