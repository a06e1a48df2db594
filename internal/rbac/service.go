package rbac

import (
	"context"

	"github.com/google/uuid"
)

// FlagStore loads per-center capability overrides.
type FlagStore interface {
	ListFlags(ctx context.Context, centerID uuid.UUID, role Role) ([]Flag, error)
}

// Service resolves effective capability sets.
type Service struct {
	store FlagStore
}

// NewService constructs the resolver.
func NewService(store FlagStore) *Service {
	return &Service{store: store}
}

// Resolve combines role defaults with the center's overrides. Admins ignore overrides.
func (s *Service) Resolve(ctx context.Context, role Role, centerID uuid.UUID) (Set, error) {
	base := Defaults(role)
	if role == RoleAdmin || centerID == uuid.Nil || s == nil || s.store == nil {
		return base, nil
	}
	flags, err := s.store.ListFlags(ctx, centerID, role)
	if err != nil {
		return nil, err
	}
	return Apply(base, role, flags), nil
}
