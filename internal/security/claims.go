package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token cannot be decoded.
	ErrInvalidToken = errors.New("invalid token")
)

// Authenticator assurance levels asserted by the identity provider.
const (
	AAL1 = "aal1"
	AAL2 = "aal2"
)

// AMREntry is one authentication method reference (e.g. password, oauth, totp).
type AMREntry struct {
	Method    string `json:"method"`
	Timestamp int64  `json:"timestamp"`
}

// AccessClaims are the provider access-token claims the reconciler reads.
type AccessClaims struct {
	jwt.RegisteredClaims
	Email     string     `json:"email"`
	SessionID string     `json:"session_id"`
	AAL       string     `json:"aal"`
	AMR       []AMREntry `json:"amr"`
	Role      string     `json:"role"`
}

// DecodeAccessClaims reads the claims of a provider access token without
// verifying its signature. The provider remains the authority for the token;
// the claims are only used to route the session (assurance level, expiry).
func DecodeAccessClaims(token string) (*AccessClaims, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	claims := &AccessClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Expiry returns the exp claim, or the zero time when absent.
func (c *AccessClaims) Expiry() time.Time {
	if c == nil || c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// HasMethod reports whether the session was authenticated with method (e.g. "totp").
func (c *AccessClaims) HasMethod(method string) bool {
	if c == nil {
		return false
	}
	for _, m := range c.AMR {
		if m.Method == method {
			return true
		}
	}
	return false
}
