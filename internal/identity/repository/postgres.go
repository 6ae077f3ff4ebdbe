package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"nuomoria/backend/internal/identity/domain"
)

type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository returns an identity repository backed by the given pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// GetByProviderSubject returns the identity, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByProviderSubject(ctx context.Context, provider domain.IdentityProvider, providerID string) (*domain.Identity, error) {
	var i domain.Identity
	var p string
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, user_id::text, provider, provider_id, email, created_at
		FROM user_identities WHERE provider = $1 AND provider_id = $2`,
		string(provider), providerID,
	).Scan(&i.ID, &i.UserID, &p, &i.ProviderID, &i.Email, &i.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	i.Provider = domain.IdentityProvider(p)
	return &i, nil
}

// ListByUser returns all identities linked to userID, oldest first.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Identity, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, user_id::text, provider, provider_id, email, created_at
		FROM user_identities WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Identity
	for rows.Next() {
		var i domain.Identity
		var p string
		if err := rows.Scan(&i.ID, &i.UserID, &p, &i.ProviderID, &i.Email, &i.CreatedAt); err != nil {
			return nil, err
		}
		i.Provider = domain.IdentityProvider(p)
		out = append(out, &i)
	}
	return out, rows.Err()
}

// Link inserts the identity. The id and created_at are assigned when empty.
func (r *PostgresRepository) Link(ctx context.Context, i *domain.Identity) error {
	if i.UserID == "" || i.Provider == "" || i.ProviderID == "" {
		return errors.New("link identity: user, provider and provider id are required")
	}
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	if i.CreatedAt.IsZero() {
		i.CreatedAt = time.Now().UTC()
	}
	var owner string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO user_identities (id, user_id, provider, provider_id, email, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (provider, provider_id) DO UPDATE SET email = user_identities.email
		RETURNING user_id::text`,
		i.ID, i.UserID, string(i.Provider), i.ProviderID, i.Email, i.CreatedAt,
	).Scan(&owner)
	if err != nil {
		return err
	}
	if owner != i.UserID {
		return fmt.Errorf("%w: %s/%s", ErrLinkedElsewhere, i.Provider, i.ProviderID)
	}
	return nil
}
