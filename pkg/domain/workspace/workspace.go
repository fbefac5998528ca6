// Package workspace provides the root aggregate that scopes every other entity.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/openctemio/scanmerge/pkg/domain/shared"
)

var (
	// ErrInactive is returned when work is submitted to a deactivated workspace.
	ErrInactive = errors.New("workspace inactive")
	ErrNotFound = fmt.Errorf("%w: workspace not found", shared.ErrNotFound)
	ErrExists   = fmt.Errorf("%w: workspace already exists", shared.ErrAlreadyExists)

	nameRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_$()+\-]{0,249}$`)
)

// Workspace owns hosts, services, vulnerabilities, credentials, commands and rules.
type Workspace struct {
	id          shared.ID
	name        string
	description string
	active      bool
	createdAt   time.Time
	updatedAt   time.Time
}

// NewWorkspace creates an active workspace.
func NewWorkspace(name, description string) (*Workspace, error) {
	if !nameRegex.MatchString(name) {
		return nil, fmt.Errorf("%w: invalid workspace name %q", shared.ErrValidation, name)
	}
	now := time.Now().UTC()
	return &Workspace{
		id:          shared.NewID(),
		name:        name,
		description: description,
		active:      true,
		createdAt:   now,
		updatedAt:   now,
	}, nil
}

// Data holds the persisted form of a Workspace.
type Data struct {
	ID          shared.ID
	Name        string
	Description string
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Reconstitute rebuilds a Workspace from persistence.
func Reconstitute(d Data) *Workspace {
	return &Workspace{
		id:          d.ID,
		name:        d.Name,
		description: d.Description,
		active:      d.Active,
		createdAt:   d.CreatedAt,
		updatedAt:   d.UpdatedAt,
	}
}

func (w *Workspace) ID() shared.ID        { return w.id }
func (w *Workspace) Name() string         { return w.name }
func (w *Workspace) Description() string  { return w.description }
func (w *Workspace) IsActive() bool       { return w.active }
func (w *Workspace) CreatedAt() time.Time { return w.createdAt }
func (w *Workspace) UpdatedAt() time.Time { return w.updatedAt }

// Activate re-enables ingestion.
func (w *Workspace) Activate() {
	w.active = true
	w.updatedAt = time.Now().UTC()
}

// Deactivate makes the workspace reject new ingestion jobs.
func (w *Workspace) Deactivate() {
	w.active = false
	w.updatedAt = time.Now().UTC()
}

// EnsureActive returns ErrInactive when the workspace is deactivated.
func (w *Workspace) EnsureActive() error {
	if !w.active {
		return fmt.Errorf("%w: %s", ErrInactive, w.name)
	}
	return nil
}

// Repository persists workspaces.
type Repository interface {
	Create(ctx context.Context, ws *Workspace) error
	Update(ctx context.Context, ws *Workspace) error
	GetByID(ctx context.Context, id shared.ID) (*Workspace, error)
	GetByName(ctx context.Context, name string) (*Workspace, error)
	List(ctx context.Context) ([]*Workspace, error)
}
