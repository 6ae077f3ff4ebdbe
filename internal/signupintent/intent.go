// Package signupintent records which role and flow a user picked before leaving
// for a provider round-trip, so the resolver can honour it on return.
package signupintent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nuomoria/backend/internal/localstate"
	userdomain "nuomoria/backend/internal/user/domain"
)

// Key is the local state key of the pending intent.
const Key = "signup.intent"

// DefaultFreshness is how long a saved intent stays usable.
const DefaultFreshness = 10 * time.Minute

// Flows.
const (
	FlowPassword = "password"
	FlowGoogle   = "google"
)

var ErrInvalidRole = errors.New("signupintent: invalid role")

// Intent is a pending signup choice.
type Intent struct {
	Role      userdomain.Role `json:"role"`
	Flow      string          `json:"flow"`
	CreatedAt time.Time       `json:"created_at"`
}

// Store reads and writes the single pending intent. Freshness is enforced here
// and nowhere else: a stale intent behaves as absent.
type Store struct {
	kv        localstate.Store
	freshness time.Duration
	nowF      func() time.Time
}

// NewStore returns a Store over kv. A non-positive freshness uses DefaultFreshness.
func NewStore(kv localstate.Store, freshness time.Duration) *Store {
	if freshness <= 0 {
		freshness = DefaultFreshness
	}
	return &Store{kv: kv, freshness: freshness, nowF: time.Now}
}

// Freshness returns the configured freshness window.
func (s *Store) Freshness() time.Duration { return s.freshness }

// Fresh reports whether t lies within the freshness window.
func (s *Store) Fresh(t time.Time) bool {
	return !t.IsZero() && s.nowF().Sub(t) < s.freshness
}

// Save stores a new intent for role and flow, replacing any previous one.
func (s *Store) Save(ctx context.Context, role userdomain.Role, flow string) (*Intent, error) {
	r, ok := userdomain.ParseRole(string(role))
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	in := &Intent{Role: r, Flow: flow, CreatedAt: s.nowF().UTC()}
	if err := localstate.SetJSON(ctx, s.kv, Key, in, s.freshness); err != nil {
		return nil, err
	}
	return in, nil
}

// Peek returns the pending intent without consuming it, or nil when there is
// no fresh intent. Stale or unreadable intents are removed.
func (s *Store) Peek(ctx context.Context) (*Intent, error) {
	in, err := localstate.GetJSON[Intent](ctx, s.kv, Key)
	if err != nil {
		if errors.Is(err, localstate.ErrNotFound) {
			return nil, nil
		}
		if errors.Is(err, localstate.ErrBackend) {
			return nil, err
		}
		_ = s.kv.Delete(ctx, Key)
		return nil, nil
	}
	if _, ok := userdomain.ParseRole(string(in.Role)); !ok || !s.Fresh(in.CreatedAt) {
		_ = s.kv.Delete(ctx, Key)
		return nil, nil
	}
	return in, nil
}

// Consume returns the pending intent and deletes it. Read-once.
func (s *Store) Consume(ctx context.Context) (*Intent, error) {
	in, err := s.Peek(ctx)
	if err != nil || in == nil {
		return in, err
	}
	if err := s.kv.Delete(ctx, Key); err != nil {
		return nil, err
	}
	return in, nil
}

// Clear removes any pending intent.
func (s *Store) Clear(ctx context.Context) error {
	return s.kv.Delete(ctx, Key)
}
