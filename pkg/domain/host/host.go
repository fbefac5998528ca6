// Package host provides the host and service entities of a workspace.
package host

import (
	"fmt"
	"net"
	"slices"
	"strings"
	"time"

	"github.com/openctemio/scanmerge/pkg/domain/shared"
)

// Attributes are the mergeable fields of a host as reported by a tool.
type Attributes struct {
	OS             string
	MAC            string
	Description    string
	DefaultGateway string
	Hostnames      []string
	Owned          bool
}

// Host is a network node identified by (workspace, ip).
type Host struct {
	id             shared.ID
	workspaceID    shared.ID
	ip             string
	os             string
	mac            string
	description    string
	defaultGateway string
	hostnames      []string
	owned          bool
	creator        string
	createdAt      time.Time
	updatedAt      time.Time
}

// NewHost creates a host. The address is stored as reported; textual IPs are canonicalized.
func NewHost(workspaceID shared.ID, ip, creator string, attrs Attributes) (*Host, error) {
	if workspaceID.IsZero() {
		return nil, fmt.Errorf("%w: workspace id is required", shared.ErrValidation)
	}
	ip = NormalizeIP(ip)
	if ip == "" {
		return nil, fmt.Errorf("%w: ip is required", shared.ErrValidation)
	}
	now := time.Now().UTC()
	h := &Host{
		id:          shared.NewID(),
		workspaceID: workspaceID,
		ip:          ip,
		creator:     creator,
		createdAt:   now,
		updatedAt:   now,
	}
	h.Merge(attrs)
	h.updatedAt = now
	return h, nil
}

// NormalizeIP trims the address and canonicalizes it when it parses as an IP.
// Non-IP identifiers (hostnames used as ip by some tools) are kept verbatim.
func NormalizeIP(ip string) string {
	ip = strings.TrimSpace(ip)
	if parsed := net.ParseIP(ip); parsed != nil {
		return parsed.String()
	}
	return ip
}

// HostData holds the persisted form of a Host.
type HostData struct {
	ID             shared.ID
	WorkspaceID    shared.ID
	IP             string
	OS             string
	MAC            string
	Description    string
	DefaultGateway string
	Hostnames      []string
	Owned          bool
	Creator        string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ReconstituteHost rebuilds a Host from persistence.
func ReconstituteHost(d HostData) *Host {
	return &Host{
		id:             d.ID,
		workspaceID:    d.WorkspaceID,
		ip:             d.IP,
		os:             d.OS,
		mac:            d.MAC,
		description:    d.Description,
		defaultGateway: d.DefaultGateway,
		hostnames:      slices.Clone(d.Hostnames),
		owned:          d.Owned,
		creator:        d.Creator,
		createdAt:      d.CreatedAt,
		updatedAt:      d.UpdatedAt,
	}
}

func (h *Host) ID() shared.ID          { return h.id }
func (h *Host) WorkspaceID() shared.ID { return h.workspaceID }
func (h *Host) IP() string             { return h.ip }
func (h *Host) OS() string             { return h.os }
func (h *Host) MAC() string            { return h.mac }
func (h *Host) Description() string    { return h.description }
func (h *Host) DefaultGateway() string { return h.defaultGateway }
func (h *Host) Hostnames() []string    { return slices.Clone(h.hostnames) }
func (h *Host) Owned() bool            { return h.owned }
func (h *Host) Creator() string        { return h.creator }
func (h *Host) CreatedAt() time.Time   { return h.createdAt }
func (h *Host) UpdatedAt() time.Time   { return h.updatedAt }

// Merge fills empty fields from the incoming attributes. A non-empty field is never
// replaced by an empty one; hostnames are unioned and owned only ever turns on.
// It reports whether anything changed.
func (h *Host) Merge(in Attributes) bool {
	changed := false
	changed = fillString(&h.os, in.OS) || changed
	changed = fillString(&h.mac, strings.ToLower(in.MAC)) || changed
	changed = fillString(&h.description, in.Description) || changed
	changed = fillString(&h.defaultGateway, in.DefaultGateway) || changed
	for _, name := range in.Hostnames {
		if h.AddHostname(name) {
			changed = true
		}
	}
	if in.Owned && !h.owned {
		h.owned = true
		changed = true
	}
	if changed {
		h.updatedAt = time.Now().UTC()
	}
	return changed
}

// AddHostname adds a hostname unless it is already known (case-insensitive).
func (h *Host) AddHostname(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	for _, existing := range h.hostnames {
		if strings.EqualFold(existing, name) {
			return false
		}
	}
	h.hostnames = append(h.hostnames, name)
	return true
}

// SetOS overwrites the operating system. Used by direct edits, not by merges.
func (h *Host) SetOS(os string) {
	h.os = os
	h.updatedAt = time.Now().UTC()
}

// fillString sets *dst to v when dst is empty and v is not. Reports whether it wrote.
func fillString(dst *string, v string) bool {
	v = strings.TrimSpace(v)
	if v == "" || *dst != "" {
		return false
	}
	*dst = v
	return true
}
