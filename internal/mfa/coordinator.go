// Package mfa coordinates the second-factor flow of one session at a time.
package mfa

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nuomoria/backend/internal/identity/provider"
	"nuomoria/backend/internal/localstate"
	"nuomoria/backend/internal/mfa/domain"
	"nuomoria/backend/internal/security"
	sessiondomain "nuomoria/backend/internal/session/domain"
)

// Local state keys.
const (
	PendingKey        = "mfa.pending"
	verifiedMarkerKey = "mfa.verifiedSessionMarker:"
	verifiedMarkerTTL = 30 * 24 * time.Hour
)

var (
	// ErrInvalidCode is a rejected TOTP code. The flow stays challenged; retry freely.
	ErrInvalidCode = errors.New("mfa: invalid code")
	// ErrChallengeExpired means the challenge lapsed; the next Verify issues a new one.
	ErrChallengeExpired = errors.New("mfa: challenge expired")
	// ErrNotRequired is returned by Challenge/Verify when no second factor is outstanding.
	ErrNotRequired = errors.New("mfa: no second factor required")
	// ErrNoFactor is returned when no verified factor is available to challenge.
	ErrNoFactor = errors.New("mfa: no verified factor")
)

// FactorAPI is the part of the provider the coordinator uses.
type FactorAPI interface {
	ListFactors(ctx context.Context) ([]domain.Factor, error)
	Challenge(ctx context.Context, factorID string) (string, error)
	Verify(ctx context.Context, factorID, challengeID, code string) (*sessiondomain.Session, error)
}

// flow is the MFA state of one session, identified by the hash of its refresh token.
type flow struct {
	sessionKey string
	state      domain.State
	req        *domain.Requirement
	factorID   string
}

type pendingRecord struct {
	SessionKey  string              `json:"session_key"`
	Requirement *domain.Requirement `json:"requirement"`
	State       string              `json:"state"`
}

// Coordinator owns the MFA flow of the current session. A new session replaces the flow.
type Coordinator struct {
	api FactorAPI
	kv  localstate.Store
	log zerolog.Logger

	mu   sync.Mutex
	flow *flow
}

// NewCoordinator returns a coordinator over the provider's factor API and local state.
func NewCoordinator(api FactorAPI, kv localstate.Store, log zerolog.Logger) *Coordinator {
	return &Coordinator{api: api, kv: kv, log: log}
}

// Evaluate decides the MFA gate for s. A second factor is required when
//   - the provider signals one (current aal1, next aal2), or
//   - the principal has verified TOTP factors and this session was never cleared.
// An unreadable marker counts as absent.
func (c *Coordinator) Evaluate(ctx context.Context, s *sessiondomain.Session) domain.Gate {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s == nil {
		c.flow = nil
		return domain.Gate{State: domain.StateNone}
	}
	key := security.SessionKey(s.RefreshToken)
	if c.flow != nil && c.flow.sessionKey == key {
		if c.flow.state == domain.StateRequired && c.flow.factorID == "" {
			c.relistLocked(ctx, c.flow)
		}
		return c.gateLocked()
	}

	f := &flow{sessionKey: key, state: domain.StateNone}
	var factors []domain.Factor
	if s.Principal != nil {
		factors = domain.VerifiedTOTP(s.Principal.Factors)
	}

	switch {
	case s.AAL == security.AAL2:
		f.state = domain.StateVerified
	case s.NeedsSecondFactor():
		if len(factors) == 0 {
			listed, err := c.api.ListFactors(ctx)
			if err != nil {
				c.log.Warn().Err(err).Msg("mfa: list factors")
			}
			factors = domain.VerifiedTOTP(listed)
		}
		f.state = domain.StateRequired
	case len(factors) > 0:
		cleared, err := c.isCleared(ctx, key)
		if err != nil {
			c.log.Warn().Err(err).Msg("mfa: read verified session marker")
		}
		if cleared {
			f.state = domain.StateVerified
		} else {
			f.state = domain.StateRequired
		}
	}
	if f.state == domain.StateRequired {
		f.req = &domain.Requirement{Factors: factors}
		if len(factors) > 0 {
			f.factorID = factors[0].ID
		}
	}
	c.flow = f
	c.persistLocked(ctx)
	return c.gateLocked()
}

// Current returns the gate of the current flow.
func (c *Coordinator) Current() domain.Gate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gateLocked()
}

// Challenge issues a challenge for factorID (or the first verified factor when empty).
func (c *Coordinator) Challenge(ctx context.Context, factorID string) (*domain.Requirement, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.challengeLocked(ctx, factorID); err != nil {
		return nil, err
	}
	return c.gateLocked().Requirement, nil
}

func (c *Coordinator) challengeLocked(ctx context.Context, factorID string) error {
	f := c.flow
	if f == nil || f.state.AllowsIdentity() {
		return ErrNotRequired
	}
	if factorID == "" {
		if f.factorID == "" {
			c.relistLocked(ctx, f)
		}
		factorID = f.factorID
	}
	if factorID == "" {
		return ErrNoFactor
	}
	ticket, err := c.api.Challenge(ctx, factorID)
	if err != nil {
		return fmt.Errorf("mfa: challenge: %w", err)
	}
	f.factorID = factorID
	f.req.Ticket = ticket
	f.state = domain.StateChallenged
	c.persistLocked(ctx)
	return nil
}

// relistLocked asks the provider for factors again when the flow was created
// without any, e.g. because the first listing failed.
func (c *Coordinator) relistLocked(ctx context.Context, f *flow) {
	listed, err := c.api.ListFactors(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("mfa: list factors")
		return
	}
	factors := domain.VerifiedTOTP(listed)
	if len(factors) == 0 {
		return
	}
	if f.req == nil {
		f.req = &domain.Requirement{}
	}
	f.req.Factors = factors
	f.factorID = factors[0].ID
	c.persistLocked(ctx)
}

// Verify checks code against the outstanding challenge, issuing one first when
// there is none. On success the new session is marked cleared and returned.
func (c *Coordinator) Verify(ctx context.Context, code string) (*sessiondomain.Session, error) {
	normalized, err := NormalizeCode(code)
	if err != nil {
		return nil, ErrInvalidCode
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	f := c.flow
	if f == nil || f.state.AllowsIdentity() {
		return nil, ErrNotRequired
	}
	if f.state != domain.StateChallenged || f.req.Ticket == "" {
		if err := c.challengeLocked(ctx, ""); err != nil {
			return nil, err
		}
	}

	ns, err := c.api.Verify(ctx, f.factorID, f.req.Ticket, normalized)
	switch {
	case errors.Is(err, provider.ErrInvalidMFACode):
		f.state = domain.StateChallenged
		c.log.Info().Str("code", MaskCode(normalized)).Msg("mfa: invalid code")
		return nil, ErrInvalidCode
	case errors.Is(err, provider.ErrChallengeExpired):
		f.state = domain.StateFailed
		f.req.Ticket = ""
		c.persistLocked(ctx)
		return nil, ErrChallengeExpired
	case err != nil:
		return nil, fmt.Errorf("mfa: verify: %w", err)
	}

	newKey := security.SessionKey(ns.RefreshToken)
	if err := c.markCleared(ctx, newKey); err != nil {
		c.log.Warn().Err(err).Msg("mfa: record verified session marker")
	}
	c.flow = &flow{sessionKey: newKey, state: domain.StateVerified}
	c.persistLocked(ctx)
	return ns, nil
}

// Reset drops the flow and the advisory pending record.
func (c *Coordinator) Reset(ctx context.Context) {
	c.mu.Lock()
	c.flow = nil
	c.mu.Unlock()
	if err := c.kv.Delete(ctx, PendingKey); err != nil {
		c.log.Warn().Err(err).Msg("mfa: clear pending")
	}
}

// IsCleared reports whether the session with refreshToken passed a second factor on this client.
func (c *Coordinator) IsCleared(ctx context.Context, refreshToken string) (bool, error) {
	return c.isCleared(ctx, security.SessionKey(refreshToken))
}

func (c *Coordinator) gateLocked() domain.Gate {
	if c.flow == nil {
		return domain.Gate{State: domain.StateNone}
	}
	g := domain.Gate{State: c.flow.state}
	if c.flow.req != nil {
		req := *c.flow.req
		req.Factors = append([]domain.Factor(nil), c.flow.req.Factors...)
		g.Requirement = &req
	}
	return g
}

// persistLocked mirrors the flow to mfa.pending. The record is advisory only.
func (c *Coordinator) persistLocked(ctx context.Context) {
	var err error
	if c.flow == nil || c.flow.state.AllowsIdentity() {
		err = c.kv.Delete(ctx, PendingKey)
	} else {
		err = localstate.SetJSON(ctx, c.kv, PendingKey, pendingRecord{
			SessionKey:  c.flow.sessionKey,
			Requirement: c.flow.req,
			State:       c.flow.state.String(),
		}, 0)
	}
	if err != nil {
		c.log.Warn().Err(err).Msg("mfa: persist pending")
	}
}

func (c *Coordinator) markCleared(ctx context.Context, key string) error {
	return c.kv.Set(ctx, verifiedMarkerKey+key, []byte(time.Now().UTC().Format(time.RFC3339)), verifiedMarkerTTL)
}

func (c *Coordinator) isCleared(ctx context.Context, key string) (bool, error) {
	_, err := c.kv.Get(ctx, verifiedMarkerKey+key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, localstate.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}
