package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/openctemio/scanmerge/pkg/domain/rule"
	"github.com/openctemio/scanmerge/pkg/domain/shared"
)

// RuleRepository implements rule.Repository using PostgreSQL. Actions live in
// their own table and are ordered through rule_actions.position.
type RuleRepository struct {
	q querier
}

// NewRuleRepository creates a new RuleRepository.
func NewRuleRepository(db *DB) *RuleRepository {
	return &RuleRepository{q: db.DB}
}

// Create stores the rule, its actions and their order.
func (r *RuleRepository) Create(ctx context.Context, rl *rule.Rule) error {
	d := rl.Snapshot()
	return inTx(ctx, r.q, func(q querier) error {
		_, err := q.ExecContext(ctx, `
			INSERT INTO rules (id, workspace_id, name, model, query, disabled, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			d.ID.String(), d.WorkspaceID.String(), d.Name, string(d.Model), d.Query, d.Disabled,
			d.CreatedAt, d.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: rule %s", shared.ErrAlreadyExists, d.ID)
			}
			if isForeignKeyViolation(err) {
				return fmt.Errorf("%w: workspace %s", shared.ErrNotFound, d.WorkspaceID)
			}
			return fmt.Errorf("failed to create rule: %w", err)
		}
		return insertActions(ctx, q, d.ID, d.Actions)
	})
}

// Update replaces the rule row and its action list.
func (r *RuleRepository) Update(ctx context.Context, rl *rule.Rule) error {
	d := rl.Snapshot()
	return inTx(ctx, r.q, func(q querier) error {
		res, err := q.ExecContext(ctx, `
			UPDATE rules SET name = $3, model = $4, query = $5, disabled = $6, updated_at = $7
			WHERE workspace_id = $1 AND id = $2`,
			d.WorkspaceID.String(), d.ID.String(), d.Name, string(d.Model), d.Query, d.Disabled, d.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to update rule: %w", err)
		}
		if err := expectOneRow(res, rule.ErrNotFound); err != nil {
			return err
		}
		if err := deleteActions(ctx, q, d.ID); err != nil {
			return err
		}
		return insertActions(ctx, q, d.ID, d.Actions)
	})
}

// Delete removes the rule and its actions.
func (r *RuleRepository) Delete(ctx context.Context, workspaceID, id shared.ID) error {
	return inTx(ctx, r.q, func(q querier) error {
		if err := deleteActions(ctx, q, id); err != nil {
			return err
		}
		res, err := q.ExecContext(ctx, `DELETE FROM rules WHERE workspace_id = $1 AND id = $2`,
			workspaceID.String(), id.String())
		if err != nil {
			return fmt.Errorf("failed to delete rule: %w", err)
		}
		return expectOneRow(res, rule.ErrNotFound)
	})
}

// GetByID retrieves a rule with its actions.
func (r *RuleRepository) GetByID(ctx context.Context, workspaceID, id shared.ID) (*rule.Rule, error) {
	rules, err := r.query(ctx, `r.workspace_id = $1 AND r.id = $2`, workspaceID.String(), id.String())
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, rule.ErrNotFound
	}
	return rules[0], nil
}

// ListByWorkspace returns the workspace's rules in creation order.
func (r *RuleRepository) ListByWorkspace(ctx context.Context, workspaceID shared.ID) ([]*rule.Rule, error) {
	return r.query(ctx, `r.workspace_id = $1`, workspaceID.String())
}

// query loads rules and their actions in one pass; rows arrive grouped by
// rule in seq order with actions in position order.
func (r *RuleRepository) query(ctx context.Context, where string, args ...any) ([]*rule.Rule, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT r.id, r.workspace_id, r.name, r.model, r.query, r.disabled, r.created_at, r.updated_at,
			a.id, a.command, a.field, a.value
		FROM rules r
		LEFT JOIN rule_actions ra ON ra.rule_id = r.id
		LEFT JOIN actions a ON a.id = ra.action_id
		WHERE `+where+`
		ORDER BY r.seq, ra.position`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var data []*rule.Data
	for rows.Next() {
		var (
			d                       rule.Data
			model                   string
			actionID, cmd, fld, val sql.NullString
		)
		if err := rows.Scan(&d.ID, &d.WorkspaceID, &d.Name, &model, &d.Query, &d.Disabled,
			&d.CreatedAt, &d.UpdatedAt, &actionID, &cmd, &fld, &val); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}

		if len(data) == 0 || data[len(data)-1].ID != d.ID {
			d.Model = rule.Model(model)
			data = append(data, &d)
		}
		if actionID.Valid {
			aid, err := shared.IDFromString(actionID.String)
			if err != nil {
				return nil, fmt.Errorf("failed to scan rule action: %w", err)
			}
			cur := data[len(data)-1]
			cur.Actions = append(cur.Actions, rule.ActionData{
				ID:      aid,
				Command: rule.Command(cmd.String),
				Field:   fld.String,
				Value:   val.String,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rules: %w", err)
	}

	out := make([]*rule.Rule, 0, len(data))
	for _, d := range data {
		rl, err := rule.Reconstitute(*d)
		if err != nil {
			return nil, err
		}
		out = append(out, rl)
	}
	return out, nil
}

func insertActions(ctx context.Context, q querier, ruleID shared.ID, actions []rule.ActionData) error {
	for i, a := range actions {
		if _, err := q.ExecContext(ctx, `INSERT INTO actions (id, command, field, value) VALUES ($1, $2, $3, $4)`,
			a.ID.String(), string(a.Command), a.Field, a.Value); err != nil {
			return fmt.Errorf("failed to create action: %w", err)
		}
		if _, err := q.ExecContext(ctx, `INSERT INTO rule_actions (rule_id, action_id, position) VALUES ($1, $2, $3)`,
			ruleID.String(), a.ID.String(), i); err != nil {
			return fmt.Errorf("failed to link action: %w", err)
		}
	}
	return nil
}

func deleteActions(ctx context.Context, q querier, ruleID shared.ID) error {
	_, err := q.ExecContext(ctx, `
		DELETE FROM actions WHERE id IN (SELECT action_id FROM rule_actions WHERE rule_id = $1)`,
		ruleID.String())
	if err != nil {
		return fmt.Errorf("failed to delete rule actions: %w", err)
	}
	return nil
}
