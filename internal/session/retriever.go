// Package session retrieves the provider session for a reconciliation run.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"nuomoria/backend/internal/identity/provider"
	"nuomoria/backend/internal/session/domain"
)

// Status is the outcome of a retrieval.
type Status int

const (
	// StatusReady means a session is available.
	StatusReady Status = iota
	// StatusNotReady means the provider could not be reached; the caller keeps its previous state.
	StatusNotReady
	// StatusSignedOut means the provider answered that there is no session.
	StatusSignedOut
)

func (s Status) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusNotReady:
		return "not_ready"
	case StatusSignedOut:
		return "signed_out"
	default:
		return "unknown"
	}
}

// Result is the retrieved session state.
type Result struct {
	Status  Status
	Session *domain.Session
	// FromCache is set when Session came from the direct-session cache.
	FromCache bool
}

// Getter is the part of the provider the retriever uses.
type Getter interface {
	GetSession(ctx context.Context) (*domain.Session, error)
}

// Config bounds the retrieval loop.
type Config struct {
	Attempts       int
	Delay          time.Duration
	AttemptTimeout time.Duration
}

// DefaultConfig is 6 attempts, 500ms apart, 3s each.
var DefaultConfig = Config{Attempts: 6, Delay: 500 * time.Millisecond, AttemptTimeout: 3 * time.Second}

// Retriever polls the provider for the current session. It never mutates provider state.
type Retriever struct {
	getter Getter
	cache  *DirectCache
	cfg    Config
	log    zerolog.Logger
}

// NewRetriever returns a retriever. cache may be nil to disable the direct-session fallback.
func NewRetriever(getter Getter, cache *DirectCache, cfg Config, log zerolog.Logger) *Retriever {
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultConfig.Attempts
	}
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultConfig.Delay
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultConfig.AttemptTimeout
	}
	return &Retriever{getter: getter, cache: cache, cfg: cfg, log: log}
}

// Retrieve returns the session, retrying "no session" and transport failures up to
// the configured attempts. A terminal provider error is returned immediately.
// Exhausted transport failures fall back to the direct-session cache, then NotReady.
func (r *Retriever) Retrieve(ctx context.Context) (Result, error) {
	attempt := 0
	op := func() (*domain.Session, error) {
		attempt++
		actx, cancel := context.WithTimeout(ctx, r.cfg.AttemptTimeout)
		defer cancel()

		s, err := r.getter.GetSession(actx)
		switch {
		case err == nil && s != nil:
			return s, nil
		case err == nil:
			return nil, provider.ErrNoSession
		case provider.IsTerminal(err):
			return nil, backoff.Permanent(err)
		}
		r.log.Debug().Err(err).Int("attempt", attempt).Msg("session: retrieve attempt failed")
		return nil, err
	}

	s, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(r.cfg.Delay)),
		backoff.WithMaxTries(uint(r.cfg.Attempts)),
	)
	switch {
	case err == nil:
		return Result{Status: StatusReady, Session: s}, nil
	case provider.IsTerminal(err):
		return Result{}, err
	case errors.Is(err, provider.ErrNoSession):
		return Result{Status: StatusSignedOut}, nil
	}

	r.log.Warn().Err(err).Int("attempts", attempt).Msg("session: provider unreachable")
	if r.cache != nil && ctx.Err() == nil {
		cached, cerr := r.cache.Load(ctx)
		if cerr != nil {
			r.log.Warn().Err(cerr).Msg("session: direct cache read failed")
		}
		if cached != nil {
			return Result{Status: StatusReady, Session: cached, FromCache: true}, nil
		}
	}
	return Result{Status: StatusNotReady}, nil
}
