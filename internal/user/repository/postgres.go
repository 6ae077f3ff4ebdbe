package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"nuomoria/backend/internal/db"
	"nuomoria/backend/internal/user/domain"
)

const userColumns = `id::text, email, first_name, last_name, COALESCE(nickname, ''), role::text,
	is_active, permissions, avatar_url, created_at, updated_at`

// upsertUserSQL updates every column a profile edit may change. Role and
// permissions always move together.
const upsertUserSQL = `
	INSERT INTO users (id, email, first_name, last_name, nickname, role, is_active, permissions, avatar_url, created_at, updated_at)
	VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6::user_role, $7, $8, $9, $10, $10)
	ON CONFLICT (id) DO UPDATE SET
		first_name  = EXCLUDED.first_name,
		last_name   = EXCLUDED.last_name,
		nickname    = EXCLUDED.nickname,
		role        = EXCLUDED.role,
		permissions = EXCLUDED.permissions,
		is_active   = EXCLUDED.is_active,
		avatar_url  = EXCLUDED.avatar_url,
		updated_at  = EXCLUDED.updated_at`

type PostgresRepository struct {
	pool *pgxpool.Pool
	nowF func() time.Time
}

// NewPostgresRepository returns a user repository backed by the given pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool, nowF: time.Now}
}

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetByEmail returns the user with the given email (case-insensitive), or nil if not found.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, strings.TrimSpace(email))
}

// GetByNickname returns the user holding nickname (case-insensitive), or nil if not found.
func (r *PostgresRepository) GetByNickname(ctx context.Context, nickname string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE lower(nickname) = lower($1)`, strings.TrimSpace(nickname))
}

// Upsert inserts u or updates the editable fields of the existing row with the same id.
func (r *PostgresRepository) Upsert(ctx context.Context, u *domain.User) error {
	if err := u.Validate(); err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	now := r.nowF().UTC()
	_, err := r.pool.Exec(ctx, upsertUserSQL,
		u.ID, u.Email, u.FirstName, u.LastName, u.Nickname, string(u.Role), u.Active, permissions(u), u.AvatarURL, now)
	return mapWriteError(err)
}

// EnsureUserRow creates the row if absent (ON CONFLICT DO NOTHING) and returns the stored row.
func (r *PostgresRepository) EnsureUserRow(ctx context.Context, u *domain.User) (*domain.User, error) {
	if err := u.Validate(); err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	now := r.nowF().UTC()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (id, email, first_name, last_name, nickname, role, is_active, permissions, avatar_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6::user_role, TRUE, $7, $8, $9, $9)
		ON CONFLICT (id) DO NOTHING`,
		u.ID, u.Email, u.FirstName, u.LastName, u.Nickname, string(u.Role), permissions(u), u.AvatarURL, now)
	if err := mapWriteError(err); err != nil {
		return nil, err
	}
	stored, err := r.GetByID(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("ensure user %s: row missing after insert", u.ID)
	}
	return stored, nil
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg string) (*domain.User, error) {
	var u domain.User
	var role string
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.Nickname, &role,
		&u.Active, &u.Permissions, &u.AvatarURL, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.Role = domain.Role(role)
	return &u, nil
}

func permissions(u *domain.User) []string {
	if u.Permissions == nil {
		return []string{}
	}
	return u.Permissions
}

// mapWriteError turns unique violations into the package sentinels.
func mapWriteError(err error) error {
	if err == nil || db.Classify(err) != db.ClassUniqueViolation {
		return err
	}
	switch db.ConstraintName(err) {
	case "users_nickname_lower_idx":
		return fmt.Errorf("%w: %v", ErrNicknameTaken, err)
	case "users_email_lower_idx":
		return fmt.Errorf("%w: %v", ErrEmailTaken, err)
	}
	return err
}
