package domain

import (
	"strings"
	"time"

	mfadomain "nuomoria/backend/internal/mfa/domain"
)

type IdentityProvider string

const (
	IdentityProviderEmail  IdentityProvider = "email"
	IdentityProviderGoogle IdentityProvider = "google"
)

// Identity is a provider identity recorded against a profile-store user row.
// It lets a later sign-in through the same provider subject adopt the row.
type Identity struct {
	ID         string
	UserID     string
	Provider   IdentityProvider
	ProviderID string // provider subject (e.g. Google "sub")
	Email      string
	CreatedAt  time.Time
}

// LinkedIdentity is a provider claim set attached to the current principal.
type LinkedIdentity struct {
	Provider   IdentityProvider `json:"provider"`
	ProviderID string           `json:"provider_id"`
	Email      string           `json:"email,omitempty"`
	GivenName  string           `json:"given_name,omitempty"`
	FamilyName string           `json:"family_name,omitempty"`
	FullName   string           `json:"full_name,omitempty"`
	AvatarURL  string           `json:"avatar_url,omitempty"`
}

// Metadata is the user-editable metadata the provider stores with the principal.
// Role and Flow are written by signup flows and act as inferred signup intent.
type Metadata struct {
	Role      string `json:"role,omitempty"`
	Flow      string `json:"signup_flow,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	FullName  string `json:"full_name,omitempty"`
	Nickname  string `json:"nickname,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Principal is the identity asserted by the provider for the current session.
// Read-only to this module.
type Principal struct {
	ID            string             `json:"id"`
	Email         string             `json:"email,omitempty"`
	EmailVerified bool               `json:"email_verified"`
	Identities    []LinkedIdentity   `json:"identities,omitempty"`
	Metadata      Metadata           `json:"metadata"`
	Factors       []mfadomain.Factor `json:"factors,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	LastSignInAt  time.Time          `json:"last_sign_in_at"`
}

// OAuthIdentity returns the first non-email linked identity, or nil.
func (p *Principal) OAuthIdentity() *LinkedIdentity {
	if p == nil {
		return nil
	}
	for i := range p.Identities {
		if p.Identities[i].Provider != IdentityProviderEmail {
			return &p.Identities[i]
		}
	}
	return nil
}

// NormalizedEmail returns the lower-cased, trimmed principal email.
func (p *Principal) NormalizedEmail() string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(strings.ToLower(p.Email))
}
