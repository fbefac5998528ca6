package host

import (
	"context"

	"github.com/openctemio/scanmerge/pkg/domain/shared"
)

// Repository persists hosts.
type Repository interface {
	Create(ctx context.Context, h *Host) error
	Update(ctx context.Context, h *Host) error
	GetByID(ctx context.Context, workspaceID, id shared.ID) (*Host, error)
	// GetByIP returns the host with the given natural key or an error wrapping shared.ErrNotFound.
	GetByIP(ctx context.Context, workspaceID shared.ID, ip string) (*Host, error)
	ListByWorkspace(ctx context.Context, workspaceID shared.ID) ([]*Host, error)
	Count(ctx context.Context, workspaceID shared.ID) (int64, error)
}

// ServiceRepository persists services.
type ServiceRepository interface {
	Create(ctx context.Context, s *Service) error
	Update(ctx context.Context, s *Service) error
	GetByID(ctx context.Context, workspaceID, id shared.ID) (*Service, error)
	// GetByKey returns the service with the given natural key or an error wrapping shared.ErrNotFound.
	GetByKey(ctx context.Context, hostID shared.ID, port int, protocol Protocol) (*Service, error)
	ListByHost(ctx context.Context, hostID shared.ID) ([]*Service, error)
	Count(ctx context.Context, workspaceID shared.ID) (int64, error)
}
