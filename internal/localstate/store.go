// Package localstate is the ephemeral client-side key/value store: it survives a
// restart of the client but carries no authority. Signup intents, MFA markers and
// session snapshots are layered on top of it with their own freshness rules.
package localstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned by Get when the key is missing or expired.
	ErrNotFound = errors.New("localstate: key not found")
	// ErrBackend wraps failures of the underlying storage.
	ErrBackend = errors.New("localstate: backend unavailable")
)

// Store is a last-write-wins key/value store with optional per-key expiry.
// A ttl of zero means the key does not expire.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// GetJSON reads key and decodes it into a new T. Returns ErrNotFound when absent.
func GetJSON[T any](ctx context.Context, s Store, key string) (*T, error) {
	data, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("localstate: decode %s: %w", key, err)
	}
	return &v, nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("localstate: encode %s: %w", key, err)
	}
	return s.Set(ctx, key, data, ttl)
}
