package repository

import (
	"context"
	"errors"

	"nuomoria/backend/internal/identity/domain"
)

// ErrLinkedElsewhere is returned by Link when the provider subject is already linked to a different user.
var ErrLinkedElsewhere = errors.New("identity already linked to another user")

// Repository defines persistence for provider identities linked to profile-store users.
type Repository interface {
	// GetByProviderSubject returns the identity for provider and subject, or nil if not linked.
	GetByProviderSubject(ctx context.Context, provider domain.IdentityProvider, providerID string) (*domain.Identity, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.Identity, error)
	// Link records i. Linking the same provider subject to the same user again is a no-op.
	Link(ctx context.Context, i *domain.Identity) error
}
