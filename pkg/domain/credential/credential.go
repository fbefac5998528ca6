// Package credential provides credentials discovered on hosts and services.
package credential

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openctemio/scanmerge/pkg/domain/shared"
)

// Type is the kind of secret a credential holds.
type Type string

const (
	TypePassword     Type = "password"
	TypePasswordHash Type = "password_hash"
	TypeAPIKey       Type = "api_key"
	TypeSSHKey       Type = "ssh_key"
	TypeOther        Type = "other"
)

// ParseType parses a credential type. Empty input means password.
func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case "":
		return TypePassword, nil
	case TypePassword, TypePasswordHash, TypeAPIKey, TypeSSHKey, TypeOther:
		return t, nil
	default:
		return "", fmt.Errorf("%w: invalid credential type %q", shared.ErrValidation, s)
	}
}

// Attributes are the mergeable fields of a credential.
type Attributes struct {
	Name        string
	Password    string
	Type        Type
	Description string
	Owned       bool
}

// Credential belongs to exactly one host or one service.
type Credential struct {
	id          shared.ID
	workspaceID shared.ID
	parent      shared.Parent
	username    string
	name        string
	password    string
	credType    Type
	description string
	owned       bool
	creator     string
	createdAt   time.Time
	updatedAt   time.Time
}

// NewCredential creates a credential, enforcing parent exclusivity.
func NewCredential(workspaceID shared.ID, parent shared.Parent, username, creator string, attrs Attributes) (*Credential, error) {
	if workspaceID.IsZero() {
		return nil, fmt.Errorf("%w: workspace id is required", shared.ErrValidation)
	}
	if err := parent.Validate(); err != nil {
		return nil, err
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", shared.ErrValidation)
	}
	credType := attrs.Type
	if credType == "" {
		credType = TypePassword
	}
	now := time.Now().UTC()
	return &Credential{
		id:          shared.NewID(),
		workspaceID: workspaceID,
		parent:      parent,
		username:    username,
		name:        strings.TrimSpace(attrs.Name),
		password:    attrs.Password,
		credType:    credType,
		description: strings.TrimSpace(attrs.Description),
		owned:       attrs.Owned,
		creator:     creator,
		createdAt:   now,
		updatedAt:   now,
	}, nil
}

// Data holds the persisted form of a Credential.
type Data struct {
	ID          shared.ID
	WorkspaceID shared.ID
	Parent      shared.Parent
	Username    string
	Name        string
	Password    string
	Type        Type
	Description string
	Owned       bool
	Creator     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Reconstitute rebuilds a Credential from persistence.
func Reconstitute(d Data) *Credential {
	return &Credential{
		id:          d.ID,
		workspaceID: d.WorkspaceID,
		parent:      d.Parent,
		username:    d.Username,
		name:        d.Name,
		password:    d.Password,
		credType:    d.Type,
		description: d.Description,
		owned:       d.Owned,
		creator:     d.Creator,
		createdAt:   d.CreatedAt,
		updatedAt:   d.UpdatedAt,
	}
}

func (c *Credential) ID() shared.ID          { return c.id }
func (c *Credential) WorkspaceID() shared.ID { return c.workspaceID }
func (c *Credential) Parent() shared.Parent  { return c.parent }
func (c *Credential) Username() string       { return c.username }
func (c *Credential) Name() string           { return c.name }
func (c *Credential) Password() string       { return c.password }
func (c *Credential) Type() Type             { return c.credType }
func (c *Credential) Description() string    { return c.description }
func (c *Credential) Owned() bool            { return c.owned }
func (c *Credential) Creator() string        { return c.creator }
func (c *Credential) CreatedAt() time.Time   { return c.createdAt }
func (c *Credential) UpdatedAt() time.Time   { return c.updatedAt }

// Merge fills empty fields. A stored password is never replaced by a different one;
// the first secret reported for a (parent, username) pair wins.
func (c *Credential) Merge(in Attributes) bool {
	changed := false
	for _, f := range []struct {
		dst *string
		val string
	}{
		{&c.name, in.Name},
		{&c.password, in.Password},
		{&c.description, in.Description},
	} {
		v := strings.TrimSpace(f.val)
		if v != "" && *f.dst == "" {
			*f.dst = v
			changed = true
		}
	}
	if in.Owned && !c.owned {
		c.owned = true
		changed = true
	}
	if changed {
		c.updatedAt = time.Now().UTC()
	}
	return changed
}

// Repository persists credentials.
type Repository interface {
	Create(ctx context.Context, c *Credential) error
	Update(ctx context.Context, c *Credential) error
	// GetByKey returns the credential for (workspace, parent, username) or ErrNotFound.
	GetByKey(ctx context.Context, workspaceID shared.ID, parent shared.Parent, username string) (*Credential, error)
	ListByWorkspace(ctx context.Context, workspaceID shared.ID) ([]*Credential, error)
	Count(ctx context.Context, workspaceID shared.ID) (int64, error)
}
