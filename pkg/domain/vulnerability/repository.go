package vulnerability

import (
	"context"
	"fmt"

	"github.com/openctemio/scanmerge/pkg/domain/shared"
)

// ErrNotFound is returned when a vulnerability does not exist.
var ErrNotFound = fmt.Errorf("%w: vulnerability not found", shared.ErrNotFound)

// Repository persists vulnerabilities.
type Repository interface {
	Create(ctx context.Context, v *Vulnerability) error
	Update(ctx context.Context, v *Vulnerability) error
	Delete(ctx context.Context, workspaceID, id shared.ID) error
	GetByID(ctx context.Context, workspaceID, id shared.ID) (*Vulnerability, error)
	// GetByDedupKey returns the vulnerability with the given identity or ErrNotFound.
	GetByDedupKey(ctx context.Context, workspaceID shared.ID, key string) (*Vulnerability, error)
	// Find returns the vulnerabilities matching every condition, ordered by id ascending.
	Find(ctx context.Context, workspaceID shared.ID, conds []Condition) ([]*Vulnerability, error)
	Count(ctx context.Context, workspaceID shared.ID) (int64, error)
	// CountByHost counts vulnerabilities on the host and on its services.
	CountByHost(ctx context.Context, workspaceID, hostID shared.ID) (int64, error)
}
