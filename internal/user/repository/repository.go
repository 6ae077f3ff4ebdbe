package repository

import (
	"context"
	"errors"

	"nuomoria/backend/internal/user/domain"
)

var (
	// ErrNicknameTaken is returned by Upsert when another user already holds the nickname.
	ErrNicknameTaken = errors.New("nickname already taken")
	// ErrEmailTaken is returned when the email belongs to a row with a different id.
	ErrEmailTaken = errors.New("email already registered to another user")
)

// Repository defines persistence for users in the profile store.
// Reads return nil, nil when the row does not exist.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByNickname(ctx context.Context, nickname string) (*domain.User, error)
	// Upsert writes the editable fields of u, creating the row if needed.
	Upsert(ctx context.Context, u *domain.User) error
	// EnsureUserRow creates the row for u.ID if it does not exist and returns the stored row.
	// An existing row is returned unchanged.
	EnsureUserRow(ctx context.Context, u *domain.User) (*domain.User, error)
}
