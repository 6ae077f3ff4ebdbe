// Package provider defines the remote identity/session provider the reconciler
// talks to. The provider is the authority for credentials, tokens and factors.
package provider

import (
	"context"
	"errors"
	"fmt"

	identitydomain "nuomoria/backend/internal/identity/domain"
	mfadomain "nuomoria/backend/internal/mfa/domain"
	sessiondomain "nuomoria/backend/internal/session/domain"
)

var (
	// ErrNoSession means the provider answered and there is no session.
	ErrNoSession = errors.New("provider: no session")
	// ErrTransport covers network failures, timeouts and provider 5xx/429 answers.
	ErrTransport = errors.New("provider: transport failure")
	// ErrUnauthorized means the session or refresh token was rejected. Terminal.
	ErrUnauthorized = errors.New("provider: unauthorized")
	// ErrInvalidCredentials is a rejected email/password pair.
	ErrInvalidCredentials = errors.New("provider: invalid credentials")
	// ErrUserExists is returned by SignUp when the email is already registered.
	ErrUserExists = errors.New("provider: user already exists")
	// ErrWeakPassword is returned when the provider's password policy rejects a password.
	ErrWeakPassword = errors.New("provider: weak password")
	// ErrInvalidMFACode is a wrong TOTP code.
	ErrInvalidMFACode = errors.New("provider: invalid mfa code")
	// ErrChallengeExpired means the MFA challenge is no longer valid; issue a new one.
	ErrChallengeExpired = errors.New("provider: mfa challenge expired")
	// ErrRejected is any other 4xx answer.
	ErrRejected = errors.New("provider: request rejected")
)

// Error is a provider HTTP error. It unwraps to one of the package sentinels.
type Error struct {
	Status  int
	Code    string
	Message string
	Kind    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%v (status %d, %s): %s", e.Kind, e.Status, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Kind }

// IsTerminal reports whether err means the session can no longer be used.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsTransient reports whether err may succeed when retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, context.DeadlineExceeded)
}

// EventKind is the type of a session-change event.
type EventKind string

const (
	EventSignedIn       EventKind = "SIGNED_IN"
	EventTokenRefreshed EventKind = "TOKEN_REFRESHED"
	EventUserUpdated    EventKind = "USER_UPDATED"
	EventMFAVerified    EventKind = "MFA_CHALLENGE_VERIFIED"
	EventSignedOut      EventKind = "SIGNED_OUT"
)

// Event is a session-change notification. Session is nil for EventSignedOut.
type Event struct {
	Kind    EventKind
	Session *sessiondomain.Session
}

// UserUpdate is a partial update of the principal. Nil fields are left as-is.
type UserUpdate struct {
	Password *string
	Metadata *identitydomain.Metadata
}

// SignUpResult is the outcome of SignUp. Session is nil when the provider
// requires email confirmation first.
type SignUpResult struct {
	Session   *sessiondomain.Session
	Principal *identitydomain.Principal
}

// Provider is the remote identity/session provider.
type Provider interface {
	// GetSession returns the current validated session or ErrNoSession.
	GetSession(ctx context.Context) (*sessiondomain.Session, error)
	// OnSessionChange registers fn for session-change events and returns an unsubscribe func.
	OnSessionChange(fn func(Event)) (unsubscribe func())

	SignInWithPassword(ctx context.Context, email, password string) (*sessiondomain.Session, error)
	SignUp(ctx context.Context, email, password string, meta identitydomain.Metadata) (*SignUpResult, error)
	// OAuthURL returns the URL the user opens to sign in with the named OAuth provider.
	OAuthURL(ctx context.Context, oauthProvider string) (string, error)
	// ExchangeCode completes an OAuth sign-in started with OAuthURL.
	ExchangeCode(ctx context.Context, code string) (*sessiondomain.Session, error)

	ListFactors(ctx context.Context) ([]mfadomain.Factor, error)
	// Challenge issues a challenge for factorID and returns its id.
	Challenge(ctx context.Context, factorID string) (string, error)
	// Verify answers a challenge. On success the returned session is at aal2.
	Verify(ctx context.Context, factorID, challengeID, code string) (*sessiondomain.Session, error)

	UpdateUser(ctx context.Context, upd UserUpdate) (*identitydomain.Principal, error)
	RefreshSession(ctx context.Context) (*sessiondomain.Session, error)
	// SignOut ends the session. Local session state is cleared even when the provider is unreachable.
	SignOut(ctx context.Context) error
}
