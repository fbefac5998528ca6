package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/openctemio/scanmerge/pkg/domain/host"
	"github.com/openctemio/scanmerge/pkg/domain/shared"
)

const hostColumns = `id, workspace_id, ip, os, mac, description, default_gateway, hostnames, owned, creator, created_at, updated_at`

// HostRepository implements host.Repository using PostgreSQL.
type HostRepository struct {
	q querier
}

// NewHostRepository creates a new HostRepository.
func NewHostRepository(db *DB) *HostRepository {
	return &HostRepository{q: db.DB}
}

// Create persists a new host.
func (r *HostRepository) Create(ctx context.Context, h *host.Host) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO hosts (`+hostColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		h.ID().String(), h.WorkspaceID().String(), h.IP(), h.OS(), h.MAC(), h.Description(),
		h.DefaultGateway(), stringArray(h.Hostnames()), h.Owned(), h.Creator(), h.CreatedAt(), h.UpdatedAt(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: host %s", shared.ErrAlreadyExists, h.IP())
		}
		return fmt.Errorf("failed to create host: %w", err)
	}
	return nil
}

// Update persists the mutable host fields.
func (r *HostRepository) Update(ctx context.Context, h *host.Host) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE hosts SET os = $2, mac = $3, description = $4, default_gateway = $5,
			hostnames = $6, owned = $7, updated_at = $8
		WHERE id = $1`,
		h.ID().String(), h.OS(), h.MAC(), h.Description(), h.DefaultGateway(),
		stringArray(h.Hostnames()), h.Owned(), h.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to update host: %w", err)
	}
	return expectOneRow(res, host.ErrHostNotFound)
}

// GetByID retrieves a host by workspace and ID.
func (r *HostRepository) GetByID(ctx context.Context, workspaceID, id shared.ID) (*host.Host, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+hostColumns+` FROM hosts WHERE workspace_id = $1 AND id = $2`,
		workspaceID.String(), id.String())
	return scanHost(row)
}

// GetByIP retrieves a host by its natural key.
func (r *HostRepository) GetByIP(ctx context.Context, workspaceID shared.ID, ip string) (*host.Host, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+hostColumns+` FROM hosts WHERE workspace_id = $1 AND ip = $2`,
		workspaceID.String(), ip)
	return scanHost(row)
}

// ListByWorkspace returns the workspace's hosts ordered by id.
func (r *HostRepository) ListByWorkspace(ctx context.Context, workspaceID shared.ID) ([]*host.Host, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+hostColumns+` FROM hosts WHERE workspace_id = $1 ORDER BY id`,
		workspaceID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list hosts: %w", err)
	}
	defer rows.Close()

	var out []*host.Host
	for rows.Next() {
		h, err := scanHost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// Count counts hosts in a workspace.
func (r *HostRepository) Count(ctx context.Context, workspaceID shared.ID) (int64, error) {
	return count(ctx, r.q, `SELECT COUNT(*) FROM hosts WHERE workspace_id = $1`, workspaceID.String())
}

func scanHost(s scanner) (*host.Host, error) {
	var d host.HostData
	err := s.Scan(&d.ID, &d.WorkspaceID, &d.IP, &d.OS, &d.MAC, &d.Description, &d.DefaultGateway,
		pq.Array(&d.Hostnames), &d.Owned, &d.Creator, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, host.ErrHostNotFound
		}
		return nil, fmt.Errorf("failed to scan host: %w", err)
	}
	return host.ReconstituteHost(d), nil
}

// =============================================================================
// Services
// =============================================================================

const serviceColumns = `id, workspace_id, host_id, port, protocol, name, status, version, description, owned, creator, created_at, updated_at`

// ServiceRepository implements host.ServiceRepository using PostgreSQL.
type ServiceRepository struct {
	q querier
}

// NewServiceRepository creates a new ServiceRepository.
func NewServiceRepository(db *DB) *ServiceRepository {
	return &ServiceRepository{q: db.DB}
}

// Create persists a new service.
func (r *ServiceRepository) Create(ctx context.Context, s *host.Service) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO services (`+serviceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		s.ID().String(), s.WorkspaceID().String(), s.HostID().String(), s.Port(), string(s.Protocol()),
		s.Name(), string(s.Status()), s.Version(), s.Description(), s.Owned(), s.Creator(),
		s.CreatedAt(), s.UpdatedAt(),
	)
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return fmt.Errorf("%w: service %d/%s", shared.ErrAlreadyExists, s.Port(), s.Protocol())
		case isForeignKeyViolation(err):
			return host.ErrHostNotFound
		}
		return fmt.Errorf("failed to create service: %w", err)
	}
	return nil
}

// Update persists the mutable service fields.
func (r *ServiceRepository) Update(ctx context.Context, s *host.Service) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE services SET name = $2, status = $3, version = $4, description = $5, owned = $6, updated_at = $7
		WHERE id = $1`,
		s.ID().String(), s.Name(), string(s.Status()), s.Version(), s.Description(), s.Owned(), s.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to update service: %w", err)
	}
	return expectOneRow(res, host.ErrServiceNotFound)
}

// GetByID retrieves a service by workspace and ID.
func (r *ServiceRepository) GetByID(ctx context.Context, workspaceID, id shared.ID) (*host.Service, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+serviceColumns+` FROM services WHERE workspace_id = $1 AND id = $2`,
		workspaceID.String(), id.String())
	return scanService(row)
}

// GetByKey retrieves a service by its natural key.
func (r *ServiceRepository) GetByKey(ctx context.Context, hostID shared.ID, port int, protocol host.Protocol) (*host.Service, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT `+serviceColumns+` FROM services
		WHERE host_id = $1 AND port = $2 AND protocol = $3`,
		hostID.String(), port, string(protocol))
	return scanService(row)
}

// ListByHost returns a host's services ordered by port and protocol.
func (r *ServiceRepository) ListByHost(ctx context.Context, hostID shared.ID) ([]*host.Service, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+serviceColumns+` FROM services
		WHERE host_id = $1 ORDER BY port, protocol`, hostID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}
	defer rows.Close()

	var out []*host.Service
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Count counts services in a workspace.
func (r *ServiceRepository) Count(ctx context.Context, workspaceID shared.ID) (int64, error) {
	return count(ctx, r.q, `SELECT COUNT(*) FROM services WHERE workspace_id = $1`, workspaceID.String())
}

func scanService(s scanner) (*host.Service, error) {
	var (
		d                host.ServiceData
		protocol, status string
	)
	err := s.Scan(&d.ID, &d.WorkspaceID, &d.HostID, &d.Port, &protocol, &d.Name, &status, &d.Version,
		&d.Description, &d.Owned, &d.Creator, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, host.ErrServiceNotFound
		}
		return nil, fmt.Errorf("failed to scan service: %w", err)
	}
	d.Protocol = host.Protocol(protocol)
	d.Status = host.ServiceStatus(status)
	return host.ReconstituteService(d), nil
}
