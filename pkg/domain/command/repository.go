package command

import (
	"context"
	"fmt"

	"github.com/openctemio/scanmerge/pkg/domain/shared"
)

// ErrNotFound is returned when a command does not exist.
var ErrNotFound = fmt.Errorf("%w: command not found", shared.ErrNotFound)

// Repository defines the interface for command and audit edge persistence.
type Repository interface {
	// Create creates a new command.
	Create(ctx context.Context, cmd *Command) error

	// Update updates a command.
	Update(ctx context.Context, cmd *Command) error

	// GetByID retrieves a command by workspace and ID.
	GetByID(ctx context.Context, workspaceID, id shared.ID) (*Command, error)

	// Count counts commands in a workspace.
	Count(ctx context.Context, workspaceID shared.ID) (int64, error)

	// AddObject records an audit edge. It is a no-op returning false when an edge for
	// the same (command, object type, object id) already exists.
	AddObject(ctx context.Context, obj *Object) (bool, error)

	// ListObjects returns the edges of a command in creation order.
	ListObjects(ctx context.Context, commandID shared.ID) ([]*Object, error)

	// CountObjects counts edges in a workspace.
	CountObjects(ctx context.Context, workspaceID shared.ID) (int64, error)

	// DeleteObjectsFor removes every edge pointing at an object.
	DeleteObjectsFor(ctx context.Context, workspaceID shared.ID, objectType ObjectType, objectID shared.ID) error

	// History returns the commands that touched an object, newest edge first.
	History(ctx context.Context, workspaceID shared.ID, objectType ObjectType, objectID shared.ID) ([]HistoryEntry, error)
}
