package host

import (
	"fmt"
	"strings"
	"time"

	"github.com/openctemio/scanmerge/pkg/domain/shared"
)

// Protocol is the transport protocol of a service.
type Protocol string

const (
	ProtocolTCP Protocol = "tcp"
	ProtocolUDP Protocol = "udp"
)

// ParseProtocol parses a protocol, defaulting empty input to tcp.
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "tcp":
		return ProtocolTCP, nil
	case "udp":
		return ProtocolUDP, nil
	default:
		return "", fmt.Errorf("%w: invalid protocol %q", shared.ErrValidation, s)
	}
}

// ServiceStatus is the observed port state.
type ServiceStatus string

const (
	StatusOpen     ServiceStatus = "open"
	StatusClosed   ServiceStatus = "closed"
	StatusFiltered ServiceStatus = "filtered"
)

// ParseServiceStatus maps scanner port states onto the three stored states.
// Ambiguous nmap states such as "open|filtered" are stored as filtered.
func ParseServiceStatus(s string) (ServiceStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "open":
		return StatusOpen, nil
	case "closed", "down":
		return StatusClosed, nil
	case "filtered", "open|filtered", "closed|filtered", "unfiltered":
		return StatusFiltered, nil
	default:
		return "", fmt.Errorf("%w: invalid service status %q", shared.ErrValidation, s)
	}
}

// ServiceAttributes are the mergeable fields of a service.
type ServiceAttributes struct {
	Name        string
	Status      ServiceStatus
	Version     string
	Description string
	Owned       bool
}

// Service is a port on a host identified by (host, port, protocol).
type Service struct {
	id          shared.ID
	workspaceID shared.ID
	hostID      shared.ID
	port        int
	protocol    Protocol
	name        string
	status      ServiceStatus
	version     string
	description string
	owned       bool
	creator     string
	createdAt   time.Time
	updatedAt   time.Time
}

// NewService creates a service on a host.
func NewService(workspaceID, hostID shared.ID, port int, protocol Protocol, creator string, attrs ServiceAttributes) (*Service, error) {
	if hostID.IsZero() {
		return nil, fmt.Errorf("%w: host id is required", shared.ErrValidation)
	}
	if port < 0 || port > 65535 {
		return nil, fmt.Errorf("%w: port %d out of range", shared.ErrValidation, port)
	}
	if protocol != ProtocolTCP && protocol != ProtocolUDP {
		return nil, fmt.Errorf("%w: invalid protocol %q", shared.ErrValidation, protocol)
	}
	status := attrs.Status
	if status == "" {
		status = StatusOpen
	}
	now := time.Now().UTC()
	return &Service{
		id:          shared.NewID(),
		workspaceID: workspaceID,
		hostID:      hostID,
		port:        port,
		protocol:    protocol,
		name:        strings.TrimSpace(attrs.Name),
		status:      status,
		version:     strings.TrimSpace(attrs.Version),
		description: strings.TrimSpace(attrs.Description),
		owned:       attrs.Owned,
		creator:     creator,
		createdAt:   now,
		updatedAt:   now,
	}, nil
}

// ServiceData holds the persisted form of a Service.
type ServiceData struct {
	ID          shared.ID
	WorkspaceID shared.ID
	HostID      shared.ID
	Port        int
	Protocol    Protocol
	Name        string
	Status      ServiceStatus
	Version     string
	Description string
	Owned       bool
	Creator     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ReconstituteService rebuilds a Service from persistence.
func ReconstituteService(d ServiceData) *Service {
	return &Service{
		id:          d.ID,
		workspaceID: d.WorkspaceID,
		hostID:      d.HostID,
		port:        d.Port,
		protocol:    d.Protocol,
		name:        d.Name,
		status:      d.Status,
		version:     d.Version,
		description: d.Description,
		owned:       d.Owned,
		creator:     d.Creator,
		createdAt:   d.CreatedAt,
		updatedAt:   d.UpdatedAt,
	}
}

func (s *Service) ID() shared.ID          { return s.id }
func (s *Service) WorkspaceID() shared.ID { return s.workspaceID }
func (s *Service) HostID() shared.ID      { return s.hostID }
func (s *Service) Port() int              { return s.port }
func (s *Service) Protocol() Protocol     { return s.protocol }
func (s *Service) Name() string           { return s.name }
func (s *Service) Status() ServiceStatus  { return s.status }
func (s *Service) Version() string        { return s.version }
func (s *Service) Description() string    { return s.description }
func (s *Service) Owned() bool            { return s.owned }
func (s *Service) Creator() string        { return s.creator }
func (s *Service) CreatedAt() time.Time   { return s.createdAt }
func (s *Service) UpdatedAt() time.Time   { return s.updatedAt }

// Merge fills empty fields from a newer observation. A reported status replaces
// the stored one; an empty status leaves it alone.
func (s *Service) Merge(in ServiceAttributes) bool {
	changed := false
	changed = fillString(&s.name, in.Name) || changed
	changed = fillString(&s.version, in.Version) || changed
	changed = fillString(&s.description, in.Description) || changed
	if in.Status != "" && in.Status != s.status {
		s.status = in.Status
		changed = true
	}
	if in.Owned && !s.owned {
		s.owned = true
		changed = true
	}
	if changed {
		s.updatedAt = time.Now().UTC()
	}
	return changed
}
