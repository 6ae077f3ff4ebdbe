package session

import (
	"context"
	"errors"
	"time"

	"nuomoria/backend/internal/localstate"
	"nuomoria/backend/internal/session/domain"
)

// DirectCacheKey is the local state key of the direct-session snapshot.
const DirectCacheKey = "session.directCacheFallback"

// DefaultDirectCacheMaxAge bounds how old a snapshot may be when used.
const DefaultDirectCacheMaxAge = 24 * time.Hour

// DirectCache holds the last session that resolved authoritatively. It is read
// only when the provider round-trip fails, never when the provider reports no session.
type DirectCache struct {
	kv     localstate.Store
	maxAge time.Duration
	nowF   func() time.Time
}

// NewDirectCache returns a cache over kv. A non-positive maxAge uses DefaultDirectCacheMaxAge.
func NewDirectCache(kv localstate.Store, maxAge time.Duration) *DirectCache {
	if maxAge <= 0 {
		maxAge = DefaultDirectCacheMaxAge
	}
	return &DirectCache{kv: kv, maxAge: maxAge, nowF: time.Now}
}

// Save records s as the latest authoritative session.
func (c *DirectCache) Save(ctx context.Context, s *domain.Session) error {
	if s == nil {
		return nil
	}
	return localstate.SetJSON(ctx, c.kv, DirectCacheKey, domain.Snapshot{Session: s, SavedAt: c.nowF().UTC()}, c.maxAge)
}

// Load returns the snapshot session if one younger than maxAge exists, else nil.
func (c *DirectCache) Load(ctx context.Context) (*domain.Session, error) {
	snap, err := localstate.GetJSON[domain.Snapshot](ctx, c.kv, DirectCacheKey)
	if errors.Is(err, localstate.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if snap.Session == nil || c.nowF().Sub(snap.SavedAt) >= c.maxAge {
		return nil, nil
	}
	return snap.Session, nil
}

// Clear removes the snapshot.
func (c *DirectCache) Clear(ctx context.Context) error {
	return c.kv.Delete(ctx, DirectCacheKey)
}
