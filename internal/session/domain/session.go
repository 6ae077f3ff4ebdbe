package domain

import (
	"time"

	identitydomain "nuomoria/backend/internal/identity/domain"
)

// Session is the provider session held by the client.
type Session struct {
	AccessToken  string                    `json:"access_token"`
	RefreshToken string                    `json:"refresh_token"`
	ExpiresAt    time.Time                 `json:"expires_at"`
	Principal    *identitydomain.Principal `json:"principal"`
	// AAL is the assurance level asserted by the access token (aal1 or aal2).
	AAL string `json:"aal,omitempty"`
	// NextAAL is the level the provider requires for this principal; aal2 while
	// a verified factor is registered.
	NextAAL string `json:"next_aal,omitempty"`
	// AMR lists the authentication methods used for this session (password, oauth, totp).
	AMR []string `json:"amr,omitempty"`
}

// Expired reports whether the access token has expired at now.
func (s *Session) Expired(now time.Time) bool {
	return s == nil || (!s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt))
}

// PrincipalID returns the principal id or "".
func (s *Session) PrincipalID() string {
	if s == nil || s.Principal == nil {
		return ""
	}
	return s.Principal.ID
}

// NeedsSecondFactor reports whether the provider signals an outstanding factor.
func (s *Session) NeedsSecondFactor() bool {
	return s != nil && s.AAL == "aal1" && s.NextAAL == "aal2"
}

// Snapshot is the direct-session cache entry written after a successful resolution.
type Snapshot struct {
	Session *Session  `json:"session"`
	SavedAt time.Time `json:"saved_at"`
}
