package command

import (
	"fmt"
	"time"

	"github.com/openctemio/scanmerge/pkg/domain/shared"
)

// ObjectType is the kind of object a CommandObject edge points at.
type ObjectType string

const (
	ObjectHost          ObjectType = "host"
	ObjectService       ObjectType = "service"
	ObjectVulnerability ObjectType = "vulnerability"
	ObjectCredential    ObjectType = "credential"
	ObjectNote          ObjectType = "comment"
)

// Object is an audit edge recording that a command created or touched an object.
// There is at most one edge per (command, object type, object id).
type Object struct {
	ID          shared.ID
	CommandID   shared.ID
	WorkspaceID shared.ID
	ObjectType  ObjectType
	ObjectID    shared.ID

	// CreatedPersistent is true when the command created the object rather than
	// updating or merely re-reporting it.
	CreatedPersistent bool
	CreatedAt         time.Time
}

// NewObject creates an audit edge.
func NewObject(cmd *Command, objectType ObjectType, objectID shared.ID, created bool) (*Object, error) {
	if cmd == nil || cmd.ID.IsZero() {
		return nil, fmt.Errorf("%w: command is required", shared.ErrValidation)
	}
	if objectID.IsZero() {
		return nil, fmt.Errorf("%w: object id is required", shared.ErrValidation)
	}
	return &Object{
		ID:                shared.NewID(),
		CommandID:         cmd.ID,
		WorkspaceID:       cmd.WorkspaceID,
		ObjectType:        objectType,
		ObjectID:          objectID,
		CreatedPersistent: created,
		CreatedAt:         time.Now().UTC(),
	}, nil
}

// HistoryEntry is one row of a tools history: a command that touched an object.
type HistoryEntry struct {
	CommandID         shared.ID
	Tool              string
	User              string
	Params            string
	CommandLine       string
	ImportSource      ImportSource
	CreatedPersistent bool
	CreateDate        time.Time
}
