package app

import (
	"context"
	"fmt"

	"github.com/openctemio/scanmerge/pkg/domain/command"
	"github.com/openctemio/scanmerge/pkg/domain/shared"
	"github.com/openctemio/scanmerge/pkg/domain/store"
	"github.com/openctemio/scanmerge/pkg/domain/workspace"
)

// HistoryService answers provenance queries: which imports touched an object.
type HistoryService struct {
	repos store.Repositories
}

// NewHistoryService creates a new HistoryService.
func NewHistoryService(repos store.Repositories) *HistoryService {
	return &HistoryService{repos: repos}
}

func (s *HistoryService) workspace(ctx context.Context, name string) (*workspace.Workspace, error) {
	return s.repos.Workspaces().GetByName(ctx, name)
}

// ToolsHistory returns the commands that created or touched a host or a
// service, newest edge first.
func (s *HistoryService) ToolsHistory(ctx context.Context, workspaceName string, objectType command.ObjectType, objectID string) ([]command.HistoryEntry, error) {
	ws, err := s.workspace(ctx, workspaceName)
	if err != nil {
		return nil, err
	}
	id, err := shared.IDFromString(objectID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid %s id", shared.ErrValidation, objectType)
	}

	switch objectType {
	case command.ObjectHost:
		_, err = s.repos.Hosts().GetByID(ctx, ws.ID(), id)
	case command.ObjectService:
		_, err = s.repos.Services().GetByID(ctx, ws.ID(), id)
	default:
		return nil, fmt.Errorf("%w: tools history is kept for hosts and services, not %q", shared.ErrValidation, objectType)
	}
	if err != nil {
		return nil, err
	}

	entries, err := s.repos.Commands().History(ctx, ws.ID(), objectType, id)
	if err != nil {
		return nil, fmt.Errorf("tools history: %w", err)
	}
	return entries, nil
}

// HostVulnCount counts the vulnerabilities of a host and of its services.
func (s *HistoryService) HostVulnCount(ctx context.Context, workspaceName, hostID string) (int64, error) {
	ws, err := s.workspace(ctx, workspaceName)
	if err != nil {
		return 0, err
	}
	id, err := shared.IDFromString(hostID)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid host id", shared.ErrValidation)
	}
	if _, err := s.repos.Hosts().GetByID(ctx, ws.ID(), id); err != nil {
		return 0, err
	}
	return s.repos.Vulnerabilities().CountByHost(ctx, ws.ID(), id)
}
