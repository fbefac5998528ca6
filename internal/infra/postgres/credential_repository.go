package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/openctemio/scanmerge/pkg/domain/credential"
	"github.com/openctemio/scanmerge/pkg/domain/shared"
)

const credentialColumns = `id, workspace_id, host_id, service_id, username, name, password, type, description, owned, creator, created_at, updated_at`

// CredentialRepository implements credential.Repository using PostgreSQL.
type CredentialRepository struct {
	q querier
}

// NewCredentialRepository creates a new CredentialRepository.
func NewCredentialRepository(db *DB) *CredentialRepository {
	return &CredentialRepository{q: db.DB}
}

// Create persists a new credential.
func (r *CredentialRepository) Create(ctx context.Context, c *credential.Credential) error {
	hostID, serviceID := parentColumns(c.Parent())
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO credentials (`+credentialColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		c.ID().String(), c.WorkspaceID().String(), hostID, serviceID, c.Username(), c.Name(),
		c.Password(), string(c.Type()), c.Description(), c.Owned(), c.Creator(), c.CreatedAt(), c.UpdatedAt(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: credential %s", shared.ErrAlreadyExists, c.Username())
		}
		return fmt.Errorf("failed to create credential: %w", err)
	}
	return nil
}

// Update persists the mutable credential fields.
func (r *CredentialRepository) Update(ctx context.Context, c *credential.Credential) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE credentials SET name = $2, password = $3, type = $4, description = $5, owned = $6, updated_at = $7
		WHERE id = $1`,
		c.ID().String(), c.Name(), c.Password(), string(c.Type()), c.Description(), c.Owned(), c.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to update credential: %w", err)
	}
	return expectOneRow(res, credential.ErrNotFound)
}

// GetByKey retrieves the credential for a parent and username.
func (r *CredentialRepository) GetByKey(ctx context.Context, workspaceID shared.ID, parent shared.Parent, username string) (*credential.Credential, error) {
	hostID, serviceID := parentColumns(parent)
	row := r.q.QueryRowContext(ctx, `
		SELECT `+credentialColumns+` FROM credentials
		WHERE workspace_id = $1 AND host_id IS NOT DISTINCT FROM $2
			AND service_id IS NOT DISTINCT FROM $3 AND username = $4`,
		workspaceID.String(), hostID, serviceID, username)
	return scanCredential(row)
}

// ListByWorkspace returns the workspace's credentials ordered by id.
func (r *CredentialRepository) ListByWorkspace(ctx context.Context, workspaceID shared.ID) ([]*credential.Credential, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE workspace_id = $1 ORDER BY id`,
		workspaceID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	defer rows.Close()

	var out []*credential.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Count counts credentials in a workspace.
func (r *CredentialRepository) Count(ctx context.Context, workspaceID shared.ID) (int64, error) {
	return count(ctx, r.q, `SELECT COUNT(*) FROM credentials WHERE workspace_id = $1`, workspaceID.String())
}

func scanCredential(s scanner) (*credential.Credential, error) {
	var (
		d                 credential.Data
		hostID, serviceID sql.NullString
		credType          string
	)
	err := s.Scan(&d.ID, &d.WorkspaceID, &hostID, &serviceID, &d.Username, &d.Name, &d.Password,
		&credType, &d.Description, &d.Owned, &d.Creator, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, credential.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan credential: %w", err)
	}
	d.Parent = scanParent(hostID, serviceID)
	d.Type = credential.Type(credType)
	return credential.Reconstitute(d), nil
}
