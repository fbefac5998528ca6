package shared

import "fmt"

// ParentKind names the kind of entity a credential or vulnerability hangs off.
type ParentKind string

const (
	ParentHost    ParentKind = "host"
	ParentService ParentKind = "service"
)

// Parent references exactly one host or one service.
type Parent struct {
	HostID    *ID
	ServiceID *ID
}

// HostParent returns a parent pointing at a host.
func HostParent(id ID) Parent {
	return Parent{HostID: id.Ptr()}
}

// ServiceParent returns a parent pointing at a service.
func ServiceParent(id ID) Parent {
	return Parent{ServiceID: id.Ptr()}
}

// Validate enforces that exactly one of host or service is set.
func (p Parent) Validate() error {
	hasHost := p.HostID != nil && !p.HostID.IsZero()
	hasService := p.ServiceID != nil && !p.ServiceID.IsZero()
	switch {
	case hasHost && hasService:
		return fmt.Errorf("%w: both host and service set", ErrInvalidParent)
	case !hasHost && !hasService:
		return fmt.Errorf("%w: neither host nor service set", ErrInvalidParent)
	}
	return nil
}

// Kind returns the parent kind. Only meaningful after Validate succeeds.
func (p Parent) Kind() ParentKind {
	if p.ServiceID != nil {
		return ParentService
	}
	return ParentHost
}

// ID returns the referenced entity id.
func (p Parent) ID() ID {
	if p.ServiceID != nil {
		return *p.ServiceID
	}
	if p.HostID != nil {
		return *p.HostID
	}
	return ID{}
}

// Key renders the parent as "kind:id" for natural keys.
func (p Parent) Key() string {
	return string(p.Kind()) + ":" + p.ID().String()
}
