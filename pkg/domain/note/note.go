// Package note provides free-text comments attached to workspace objects.
package note

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openctemio/scanmerge/pkg/domain/shared"
)

// ObjectType is the kind of object a note is attached to.
type ObjectType string

const (
	ObjectHost          ObjectType = "host"
	ObjectService       ObjectType = "service"
	ObjectVulnerability ObjectType = "vulnerability"
)

// ParseObjectType parses an object type.
func ParseObjectType(s string) (ObjectType, error) {
	switch t := ObjectType(strings.ToLower(strings.TrimSpace(s))); t {
	case ObjectHost, ObjectService, ObjectVulnerability:
		return t, nil
	default:
		return "", fmt.Errorf("%w: invalid note object type %q", shared.ErrValidation, s)
	}
}

// Note is a comment on a host, service or vulnerability.
type Note struct {
	id          shared.ID
	workspaceID shared.ID
	objectType  ObjectType
	objectID    shared.ID
	text        string
	creator     string
	createdAt   time.Time
}

// NewNote creates a note.
func NewNote(workspaceID shared.ID, objectType ObjectType, objectID shared.ID, text, creator string) (*Note, error) {
	if objectID.IsZero() {
		return nil, fmt.Errorf("%w: object id is required", shared.ErrValidation)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: text is required", shared.ErrValidation)
	}
	return &Note{
		id:          shared.NewID(),
		workspaceID: workspaceID,
		objectType:  objectType,
		objectID:    objectID,
		text:        text,
		creator:     creator,
		createdAt:   time.Now().UTC(),
	}, nil
}

// Data holds the persisted form of a Note.
type Data struct {
	ID          shared.ID
	WorkspaceID shared.ID
	ObjectType  ObjectType
	ObjectID    shared.ID
	Text        string
	Creator     string
	CreatedAt   time.Time
}

// Reconstitute rebuilds a Note from persistence.
func Reconstitute(d Data) *Note {
	return &Note{
		id:          d.ID,
		workspaceID: d.WorkspaceID,
		objectType:  d.ObjectType,
		objectID:    d.ObjectID,
		text:        d.Text,
		creator:     d.Creator,
		createdAt:   d.CreatedAt,
	}
}

func (n *Note) ID() shared.ID          { return n.id }
func (n *Note) WorkspaceID() shared.ID { return n.workspaceID }
func (n *Note) ObjectType() ObjectType { return n.objectType }
func (n *Note) ObjectID() shared.ID    { return n.objectID }
func (n *Note) Text() string           { return n.text }
func (n *Note) Creator() string        { return n.creator }
func (n *Note) CreatedAt() time.Time   { return n.createdAt }

// Repository persists notes.
type Repository interface {
	Create(ctx context.Context, n *Note) error
	// Find returns the note with identical object and text, or an error wrapping shared.ErrNotFound.
	Find(ctx context.Context, workspaceID shared.ID, objectType ObjectType, objectID shared.ID, text string) (*Note, error)
	ListByObject(ctx context.Context, workspaceID shared.ID, objectType ObjectType, objectID shared.ID) ([]*Note, error)
	DeleteByObject(ctx context.Context, workspaceID shared.ID, objectType ObjectType, objectID shared.ID) error
}
