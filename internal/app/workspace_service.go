package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/openctemio/scanmerge/pkg/domain/shared"
	"github.com/openctemio/scanmerge/pkg/domain/workspace"
	"github.com/openctemio/scanmerge/pkg/logger"
	"github.com/openctemio/scanmerge/pkg/validator"
)

// WorkspaceService handles workspace administration.
type WorkspaceService struct {
	repo      workspace.Repository
	validator *validator.Validator
	logger    *logger.Logger
}

// NewWorkspaceService creates a new WorkspaceService.
func NewWorkspaceService(repo workspace.Repository, log *logger.Logger) *WorkspaceService {
	return &WorkspaceService{
		repo:      repo,
		validator: validator.New(),
		logger:    log.With("service", "workspace"),
	}
}

// CreateWorkspaceInput represents the input for creating a workspace.
type CreateWorkspaceInput struct {
	Name        string `json:"name" validate:"required,workspace_name"`
	Description string `json:"description" validate:"max=1000"`
}

// Create creates an active workspace. Names are unique.
func (s *WorkspaceService) Create(ctx context.Context, input CreateWorkspaceInput) (*workspace.Workspace, error) {
	if err := s.validator.Validate(input); err != nil {
		return nil, err
	}

	if _, err := s.repo.GetByName(ctx, input.Name); err == nil {
		return nil, fmt.Errorf("%w: %s", workspace.ErrExists, input.Name)
	} else if !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}

	ws, err := workspace.NewWorkspace(input.Name, input.Description)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, ws); err != nil {
		return nil, err
	}

	s.logger.Info("workspace created", "workspace", ws.Name(), "workspace_id", ws.ID().String())
	return ws, nil
}

// Get returns a workspace by name.
func (s *WorkspaceService) Get(ctx context.Context, name string) (*workspace.Workspace, error) {
	return s.repo.GetByName(ctx, name)
}

// SetActive activates or deactivates a workspace. Inactive workspaces reject
// new ingestion jobs.
func (s *WorkspaceService) SetActive(ctx context.Context, name string, active bool) (*workspace.Workspace, error) {
	ws, err := s.repo.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if ws.IsActive() == active {
		return ws, nil
	}

	if active {
		ws.Activate()
	} else {
		ws.Deactivate()
	}
	if err := s.repo.Update(ctx, ws); err != nil {
		return nil, err
	}

	s.logger.Info("workspace state changed", "workspace", ws.Name(), "active", active)
	return ws, nil
}

// List returns every workspace.
func (s *WorkspaceService) List(ctx context.Context) ([]*workspace.Workspace, error) {
	return s.repo.List(ctx)
}
