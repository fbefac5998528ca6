package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/openctemio/scanmerge/pkg/domain/shared"
	"github.com/openctemio/scanmerge/pkg/domain/workspace"
)

const workspaceColumns = `id, name, description, active, created_at, updated_at`

// WorkspaceRepository implements workspace.Repository using PostgreSQL.
type WorkspaceRepository struct {
	q querier
}

// NewWorkspaceRepository creates a new WorkspaceRepository.
func NewWorkspaceRepository(db *DB) *WorkspaceRepository {
	return &WorkspaceRepository{q: db.DB}
}

// Create persists a new workspace.
func (r *WorkspaceRepository) Create(ctx context.Context, ws *workspace.Workspace) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO workspaces (`+workspaceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		ws.ID().String(), ws.Name(), ws.Description(), ws.IsActive(), ws.CreatedAt(), ws.UpdatedAt(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", workspace.ErrExists, ws.Name())
		}
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	return nil
}

// Update persists the mutable workspace fields.
func (r *WorkspaceRepository) Update(ctx context.Context, ws *workspace.Workspace) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE workspaces SET description = $2, active = $3, updated_at = $4
		WHERE id = $1`,
		ws.ID().String(), ws.Description(), ws.IsActive(), ws.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to update workspace: %w", err)
	}
	return expectOneRow(res, workspace.ErrNotFound)
}

// GetByID retrieves a workspace by its ID.
func (r *WorkspaceRepository) GetByID(ctx context.Context, id shared.ID) (*workspace.Workspace, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+workspaceColumns+` FROM workspaces WHERE id = $1`, id.String())
	return scanWorkspace(row)
}

// GetByName retrieves a workspace by its unique name.
func (r *WorkspaceRepository) GetByName(ctx context.Context, name string) (*workspace.Workspace, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+workspaceColumns+` FROM workspaces WHERE name = $1`, name)
	return scanWorkspace(row)
}

// List returns every workspace ordered by name.
func (r *WorkspaceRepository) List(ctx context.Context) ([]*workspace.Workspace, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+workspaceColumns+` FROM workspaces ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	defer rows.Close()

	var out []*workspace.Workspace
	for rows.Next() {
		ws, err := scanWorkspace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ws)
	}
	return out, rows.Err()
}

func scanWorkspace(s scanner) (*workspace.Workspace, error) {
	var d workspace.Data
	err := s.Scan(&d.ID, &d.Name, &d.Description, &d.Active, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, workspace.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan workspace: %w", err)
	}
	return workspace.Reconstitute(d), nil
}
