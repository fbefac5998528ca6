package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/openctemio/scanmerge/pkg/domain/command"
	"github.com/openctemio/scanmerge/pkg/domain/shared"
)

const commandColumns = `id, workspace_id, tool, command_line, params, import_source, "user", hostname, ip,
	creator, status, error_message, start_date, end_date, created_at`

// CommandRepository implements command.Repository using PostgreSQL.
type CommandRepository struct {
	q querier
}

// NewCommandRepository creates a new CommandRepository.
func NewCommandRepository(db *DB) *CommandRepository {
	return &CommandRepository{q: db.DB}
}

// Create persists a new command.
func (r *CommandRepository) Create(ctx context.Context, cmd *command.Command) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO commands (`+commandColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		cmd.ID.String(), cmd.WorkspaceID.String(), cmd.Tool, cmd.CommandLine, cmd.Params,
		string(cmd.ImportSource), cmd.User, cmd.Hostname, cmd.IP, cmd.Creator,
		string(cmd.Status), cmd.ErrorMessage, cmd.StartDate, nullTime(cmd.EndDate), cmd.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create command: %w", err)
	}
	return nil
}

// Update persists the command's run metadata and outcome.
func (r *CommandRepository) Update(ctx context.Context, cmd *command.Command) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE commands SET command_line = $2, params = $3, "user" = $4, hostname = $5, ip = $6,
			status = $7, error_message = $8, start_date = $9, end_date = $10
		WHERE id = $1`,
		cmd.ID.String(), cmd.CommandLine, cmd.Params, cmd.User, cmd.Hostname, cmd.IP,
		string(cmd.Status), cmd.ErrorMessage, cmd.StartDate, nullTime(cmd.EndDate),
	)
	if err != nil {
		return fmt.Errorf("failed to update command: %w", err)
	}
	return expectOneRow(res, command.ErrNotFound)
}

// GetByID retrieves a command by workspace and ID.
func (r *CommandRepository) GetByID(ctx context.Context, workspaceID, id shared.ID) (*command.Command, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+commandColumns+` FROM commands WHERE workspace_id = $1 AND id = $2`,
		workspaceID.String(), id.String())

	var (
		cmd            command.Command
		source, status string
		endDate        sql.NullTime
	)
	err := row.Scan(&cmd.ID, &cmd.WorkspaceID, &cmd.Tool, &cmd.CommandLine, &cmd.Params, &source,
		&cmd.User, &cmd.Hostname, &cmd.IP, &cmd.Creator, &status, &cmd.ErrorMessage,
		&cmd.StartDate, &endDate, &cmd.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, command.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get command: %w", err)
	}
	cmd.ImportSource = command.ImportSource(source)
	cmd.Status = command.CommandStatus(status)
	if endDate.Valid {
		cmd.EndDate = &endDate.Time
	}
	return &cmd, nil
}

// Count counts commands in a workspace.
func (r *CommandRepository) Count(ctx context.Context, workspaceID shared.ID) (int64, error) {
	return count(ctx, r.q, `SELECT COUNT(*) FROM commands WHERE workspace_id = $1`, workspaceID.String())
}

// =============================================================================
// Audit edges
// =============================================================================

// AddObject records an edge unless one already exists for the same command
// and object.
func (r *CommandRepository) AddObject(ctx context.Context, obj *command.Object) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO command_objects (id, command_id, workspace_id, object_type, object_id, created_persistent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (command_id, object_type, object_id) DO NOTHING`,
		obj.ID.String(), obj.CommandID.String(), obj.WorkspaceID.String(), string(obj.ObjectType),
		obj.ObjectID.String(), obj.CreatedPersistent, obj.CreatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return false, command.ErrNotFound
		}
		return false, fmt.Errorf("failed to add command object: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

// ListObjects returns the edges of a command in creation order.
func (r *CommandRepository) ListObjects(ctx context.Context, commandID shared.ID) ([]*command.Object, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, command_id, workspace_id, object_type, object_id, created_persistent, created_at
		FROM command_objects WHERE command_id = $1 ORDER BY seq`, commandID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list command objects: %w", err)
	}
	defer rows.Close()

	var out []*command.Object
	for rows.Next() {
		var (
			obj        command.Object
			objectType string
		)
		if err := rows.Scan(&obj.ID, &obj.CommandID, &obj.WorkspaceID, &objectType, &obj.ObjectID,
			&obj.CreatedPersistent, &obj.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan command object: %w", err)
		}
		obj.ObjectType = command.ObjectType(objectType)
		out = append(out, &obj)
	}
	return out, rows.Err()
}

// CountObjects counts edges in a workspace.
func (r *CommandRepository) CountObjects(ctx context.Context, workspaceID shared.ID) (int64, error) {
	return count(ctx, r.q, `SELECT COUNT(*) FROM command_objects WHERE workspace_id = $1`, workspaceID.String())
}

// DeleteObjectsFor removes every edge pointing at an object.
func (r *CommandRepository) DeleteObjectsFor(ctx context.Context, workspaceID shared.ID, objectType command.ObjectType, objectID shared.ID) error {
	_, err := r.q.ExecContext(ctx, `
		DELETE FROM command_objects WHERE workspace_id = $1 AND object_type = $2 AND object_id = $3`,
		workspaceID.String(), string(objectType), objectID.String())
	if err != nil {
		return fmt.Errorf("failed to delete command objects: %w", err)
	}
	return nil
}

// History returns the commands that touched an object, newest edge first.
func (r *CommandRepository) History(ctx context.Context, workspaceID shared.ID, objectType command.ObjectType, objectID shared.ID) ([]command.HistoryEntry, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT c.id, c.tool, c."user", c.params, c.command_line, c.import_source, co.created_persistent, co.created_at
		FROM command_objects co
		JOIN commands c ON c.id = co.command_id
		WHERE co.workspace_id = $1 AND co.object_type = $2 AND co.object_id = $3
		ORDER BY co.created_at DESC, co.seq DESC`,
		workspaceID.String(), string(objectType), objectID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query tools history: %w", err)
	}
	defer rows.Close()

	var out []command.HistoryEntry
	for rows.Next() {
		var (
			e      command.HistoryEntry
			source string
		)
		if err := rows.Scan(&e.CommandID, &e.Tool, &e.User, &e.Params, &e.CommandLine, &source,
			&e.CreatedPersistent, &e.CreateDate); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		e.ImportSource = command.ImportSource(source)
		out = append(out, e)
	}
	return out, rows.Err()
}
