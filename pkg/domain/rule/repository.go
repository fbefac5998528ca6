package rule

import (
	"context"

	"github.com/openctemio/scanmerge/pkg/domain/shared"
)

// Repository persists rules together with their ordered actions.
type Repository interface {
	// Create stores the rule, its actions and the RuleAction ordering.
	Create(ctx context.Context, r *Rule) error

	// Update replaces the rule row and its action list.
	Update(ctx context.Context, r *Rule) error

	// Delete removes the rule and its RuleAction rows.
	Delete(ctx context.Context, workspaceID, id shared.ID) error

	// GetByID retrieves a rule by workspace and ID.
	GetByID(ctx context.Context, workspaceID, id shared.ID) (*Rule, error)

	// ListByWorkspace returns the workspace's rules in evaluation order
	// (creation time, then id).
	ListByWorkspace(ctx context.Context, workspaceID shared.ID) ([]*Rule, error)
}
