package domain

import "time"

// Event types emitted by the reconciler.
const (
	EventAuthStatePublished = "auth_state.published"
	EventAuthStateDiscarded = "auth_state.discarded"
	EventFallbackUsed       = "auth.fallback_used"
	EventIdentityConflict   = "auth.identity_conflict"
	EventSessionExpired     = "auth.session_expired"
	EventMFARequired        = "auth.mfa_required"
)

// Event is an auth-state telemetry event (principal-scoped, optional user).
type Event struct {
	Type        string
	PrincipalID string
	UserID      string
	Generation  uint64
	// Outcome is a short label such as "resolved", "fallback" or "signed_out".
	Outcome   string
	Source    string
	Metadata  []byte // JSON
	CreatedAt time.Time
}
