package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/openctemio/scanmerge/pkg/domain/shared"
	"github.com/openctemio/scanmerge/pkg/domain/vulnerability"
)

const vulnerabilityColumns = `id, workspace_id, host_id, service_id, kind, name, description, resolution, data,
	severity, status, confirmed, refs, method, parameter_name, path, website, request, response,
	dedup_key, creator, created_at, updated_at`

// VulnerabilityRepository implements vulnerability.Repository using PostgreSQL.
type VulnerabilityRepository struct {
	q querier
}

// NewVulnerabilityRepository creates a new VulnerabilityRepository.
func NewVulnerabilityRepository(db *DB) *VulnerabilityRepository {
	return &VulnerabilityRepository{q: db.DB}
}

// vulnerabilityArgs returns the column values in vulnerabilityColumns order.
func vulnerabilityArgs(v *vulnerability.Vulnerability) []any {
	d := v.Snapshot()
	hostID, serviceID := parentColumns(d.Parent)
	web := d.Web
	if web == nil {
		web = &vulnerability.WebDetails{}
	}
	return []any{
		d.ID.String(), d.WorkspaceID.String(), hostID, serviceID, string(d.Kind), d.Name,
		d.Description, d.Resolution, d.Data, string(d.Severity), string(d.Status), d.Confirmed,
		stringArray(d.References), web.Method, web.ParameterName, web.Path, web.Website,
		web.Request, web.Response, d.DedupKey, d.Creator, d.CreatedAt, d.UpdatedAt,
	}
}

// Create persists a new vulnerability. A dedup key collision returns
// shared.ErrAlreadyExists.
func (r *VulnerabilityRepository) Create(ctx context.Context, v *vulnerability.Vulnerability) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO vulnerabilities (`+vulnerabilityColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`,
		vulnerabilityArgs(v)...,
	)
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return fmt.Errorf("%w: vulnerability %q", shared.ErrAlreadyExists, v.Name())
		case isCheckViolation(err), isForeignKeyViolation(err):
			return fmt.Errorf("%w: vulnerability parent: %v", shared.ErrValidation, err)
		}
		return fmt.Errorf("failed to create vulnerability: %w", err)
	}
	return nil
}

// Update persists every mutable column. An update that would make the
// vulnerability collide with another one returns shared.ErrConflict.
func (r *VulnerabilityRepository) Update(ctx context.Context, v *vulnerability.Vulnerability) error {
	d := v.Snapshot()
	web := d.Web
	if web == nil {
		web = &vulnerability.WebDetails{}
	}
	res, err := r.q.ExecContext(ctx, `
		UPDATE vulnerabilities SET
			kind = $3, name = $4, description = $5, resolution = $6, data = $7,
			severity = $8, status = $9, confirmed = $10, refs = $11, method = $12,
			parameter_name = $13, path = $14, website = $15, request = $16, response = $17,
			dedup_key = $18, updated_at = $19
		WHERE id = $1 AND workspace_id = $2`,
		d.ID.String(), d.WorkspaceID.String(), string(d.Kind), d.Name, d.Description, d.Resolution,
		d.Data, string(d.Severity), string(d.Status), d.Confirmed, stringArray(d.References),
		web.Method, web.ParameterName, web.Path, web.Website, web.Request, web.Response,
		d.DedupKey, d.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: another vulnerability already has this identity", shared.ErrConflict)
		}
		return fmt.Errorf("failed to update vulnerability: %w", err)
	}
	return expectOneRow(res, vulnerability.ErrNotFound)
}

// Delete removes a vulnerability.
func (r *VulnerabilityRepository) Delete(ctx context.Context, workspaceID, id shared.ID) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM vulnerabilities WHERE workspace_id = $1 AND id = $2`,
		workspaceID.String(), id.String())
	if err != nil {
		return fmt.Errorf("failed to delete vulnerability: %w", err)
	}
	return expectOneRow(res, vulnerability.ErrNotFound)
}

// GetByID retrieves a vulnerability by workspace and ID.
func (r *VulnerabilityRepository) GetByID(ctx context.Context, workspaceID, id shared.ID) (*vulnerability.Vulnerability, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+vulnerabilityColumns+` FROM vulnerabilities WHERE workspace_id = $1 AND id = $2`,
		workspaceID.String(), id.String())
	return scanVulnerability(row)
}

// GetByDedupKey retrieves a vulnerability by its identity key.
func (r *VulnerabilityRepository) GetByDedupKey(ctx context.Context, workspaceID shared.ID, key string) (*vulnerability.Vulnerability, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+vulnerabilityColumns+` FROM vulnerabilities WHERE workspace_id = $1 AND dedup_key = $2`,
		workspaceID.String(), key)
	return scanVulnerability(row)
}

// Find returns the vulnerabilities matching every condition, ordered by id.
// Columns come from the field registry, never from user input.
func (r *VulnerabilityRepository) Find(ctx context.Context, workspaceID shared.ID, conds []vulnerability.Condition) ([]*vulnerability.Vulnerability, error) {
	query, args := buildFindQuery(workspaceID, conds)

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find vulnerabilities: %w", err)
	}
	defer rows.Close()

	var out []*vulnerability.Vulnerability
	for rows.Next() {
		v, err := scanVulnerability(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func buildFindQuery(workspaceID shared.ID, conds []vulnerability.Condition) (string, []any) {
	var b strings.Builder
	b.WriteString(`SELECT ` + vulnerabilityColumns + ` FROM vulnerabilities WHERE workspace_id = $1`)
	args := []any{workspaceID.String()}
	for _, c := range conds {
		args = append(args, c.Value)
		fmt.Fprintf(&b, " AND %s = $%d", pq.QuoteIdentifier(c.Field.Column), len(args))
	}
	b.WriteString(" ORDER BY id")
	return b.String(), args
}

// Count counts vulnerabilities in a workspace.
func (r *VulnerabilityRepository) Count(ctx context.Context, workspaceID shared.ID) (int64, error) {
	return count(ctx, r.q, `SELECT COUNT(*) FROM vulnerabilities WHERE workspace_id = $1`, workspaceID.String())
}

// CountByHost counts vulnerabilities on the host and on its services.
func (r *VulnerabilityRepository) CountByHost(ctx context.Context, workspaceID, hostID shared.ID) (int64, error) {
	return count(ctx, r.q, `
		SELECT COUNT(*) FROM vulnerabilities v
		WHERE v.workspace_id = $1
			AND (v.host_id = $2 OR v.service_id IN (SELECT s.id FROM services s WHERE s.host_id = $2))`,
		workspaceID.String(), hostID.String())
}

func scanVulnerability(s scanner) (*vulnerability.Vulnerability, error) {
	var (
		d                      vulnerability.Data
		hostID, serviceID      sql.NullString
		kind, severity, status string
		web                    vulnerability.WebDetails
	)
	err := s.Scan(&d.ID, &d.WorkspaceID, &hostID, &serviceID, &kind, &d.Name, &d.Description,
		&d.Resolution, &d.Data, &severity, &status, &d.Confirmed, pq.Array(&d.References),
		&web.Method, &web.ParameterName, &web.Path, &web.Website, &web.Request, &web.Response,
		&d.DedupKey, &d.Creator, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, vulnerability.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan vulnerability: %w", err)
	}

	d.Parent = scanParent(hostID, serviceID)
	d.Kind = vulnerability.Kind(kind)
	d.Severity = vulnerability.Severity(severity)
	d.Status = vulnerability.Status(status)
	if d.Kind == vulnerability.KindWeb {
		d.Web = &web
	}
	return vulnerability.Reconstitute(d), nil
}
