// Package providertest provides an in-memory provider.Provider for tests.
package providertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	identitydomain "nuomoria/backend/internal/identity/domain"
	"nuomoria/backend/internal/identity/provider"
	mfadomain "nuomoria/backend/internal/mfa/domain"
	sessiondomain "nuomoria/backend/internal/session/domain"
)

// Account is a password account known to the fake.
type Account struct {
	Password string
	Session  *sessiondomain.Session
}

// Fake is a scriptable provider. Exported fields may be set before use or
// changed under Lock/Unlock.
type Fake struct {
	mu sync.Mutex

	Session *sessiondomain.Session
	// GetSessionErrs are returned by GetSession, one per call, before Session is consulted.
	GetSessionErrs []error
	// GetSessionDelay is waited (or ctx) on every GetSession call.
	GetSessionDelay time.Duration
	GetSessionCalls int

	Accounts     map[string]*Account
	OAuthSession *sessiondomain.Session
	OAuthCalls   []string

	Factors []mfadomain.Factor
	// ValidCode is the TOTP code Verify accepts.
	ValidCode string
	// ExpireNextChallenge makes the next Verify fail with ErrChallengeExpired.
	ExpireNextChallenge bool
	Challenges          int

	UpdateErr    error
	Updates      []provider.UserUpdate
	SignOutCalls int

	listeners map[int]func(provider.Event)
	nextID    int
}

// New returns an empty Fake accepting code 123456.
func New() *Fake {
	return &Fake{Accounts: map[string]*Account{}, ValidCode: "123456", listeners: map[int]func(provider.Event){}}
}

var _ provider.Provider = (*Fake)(nil)

func (f *Fake) Lock()   { f.mu.Lock() }
func (f *Fake) Unlock() { f.mu.Unlock() }

// NewSession builds an unexpired session for p.
func NewSession(p *identitydomain.Principal, aal, nextAAL string) *sessiondomain.Session {
	return &sessiondomain.Session{
		AccessToken:  "at-" + p.ID,
		RefreshToken: "rt-" + p.ID,
		ExpiresAt:    time.Now().Add(time.Hour),
		Principal:    p,
		AAL:          aal,
		NextAAL:      nextAAL,
	}
}

func clone(s *sessiondomain.Session) *sessiondomain.Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// Emit delivers ev to every listener.
func (f *Fake) Emit(ev provider.Event) {
	f.mu.Lock()
	fns := make([]func(provider.Event), 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (f *Fake) OnSessionChange(fn func(provider.Event)) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

func (f *Fake) GetSession(ctx context.Context) (*sessiondomain.Session, error) {
	f.mu.Lock()
	f.GetSessionCalls++
	delay := f.GetSessionDelay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", provider.ErrTransport, ctx.Err())
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.GetSessionErrs) > 0 {
		err := f.GetSessionErrs[0]
		f.GetSessionErrs = f.GetSessionErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if f.Session == nil {
		return nil, provider.ErrNoSession
	}
	return clone(f.Session), nil
}

func (f *Fake) SignInWithPassword(ctx context.Context, email, password string) (*sessiondomain.Session, error) {
	f.mu.Lock()
	acct, ok := f.Accounts[email]
	if !ok || acct.Password != password {
		f.mu.Unlock()
		return nil, provider.ErrInvalidCredentials
	}
	f.Session = clone(acct.Session)
	s := clone(f.Session)
	f.mu.Unlock()
	f.Emit(provider.Event{Kind: provider.EventSignedIn, Session: s})
	return s, nil
}

func (f *Fake) SignUp(ctx context.Context, email, password string, meta identitydomain.Metadata) (*provider.SignUpResult, error) {
	f.mu.Lock()
	if _, ok := f.Accounts[email]; ok {
		f.mu.Unlock()
		return nil, provider.ErrUserExists
	}
	if len(password) < 8 {
		f.mu.Unlock()
		return nil, provider.ErrWeakPassword
	}
	p := &identitydomain.Principal{
		ID:         fmt.Sprintf("00000000-0000-0000-0000-%012d", len(f.Accounts)+1),
		Email:      email,
		Metadata:   meta,
		Identities: []identitydomain.LinkedIdentity{{Provider: identitydomain.IdentityProviderEmail, ProviderID: email, Email: email}},
		CreatedAt:  time.Now().UTC(),
	}
	s := NewSession(p, "aal1", "aal1")
	f.Accounts[email] = &Account{Password: password, Session: s}
	f.Session = clone(s)
	f.mu.Unlock()
	f.Emit(provider.Event{Kind: provider.EventSignedIn, Session: clone(s)})
	return &provider.SignUpResult{Session: clone(s), Principal: p}, nil
}

func (f *Fake) OAuthURL(ctx context.Context, oauthProvider string) (string, error) {
	f.mu.Lock()
	f.OAuthCalls = append(f.OAuthCalls, oauthProvider)
	f.mu.Unlock()
	return "https://auth.test/authorize?provider=" + oauthProvider, nil
}

func (f *Fake) ExchangeCode(ctx context.Context, code string) (*sessiondomain.Session, error) {
	f.mu.Lock()
	if f.OAuthSession == nil {
		f.mu.Unlock()
		return nil, provider.ErrUnauthorized
	}
	f.Session = clone(f.OAuthSession)
	s := clone(f.Session)
	f.mu.Unlock()
	f.Emit(provider.Event{Kind: provider.EventSignedIn, Session: s})
	return s, nil
}

func (f *Fake) ListFactors(ctx context.Context) ([]mfadomain.Factor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Session == nil {
		return nil, provider.ErrNoSession
	}
	return append([]mfadomain.Factor(nil), f.Factors...), nil
}

func (f *Fake) Challenge(ctx context.Context, factorID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Session == nil {
		return "", provider.ErrNoSession
	}
	f.Challenges++
	return fmt.Sprintf("ch-%d", f.Challenges), nil
}

func (f *Fake) Verify(ctx context.Context, factorID, challengeID, code string) (*sessiondomain.Session, error) {
	f.mu.Lock()
	if f.Session == nil {
		f.mu.Unlock()
		return nil, provider.ErrNoSession
	}
	if f.ExpireNextChallenge {
		f.ExpireNextChallenge = false
		f.mu.Unlock()
		return nil, provider.ErrChallengeExpired
	}
	if code != f.ValidCode {
		f.mu.Unlock()
		return nil, provider.ErrInvalidMFACode
	}
	s := clone(f.Session)
	s.AAL = "aal2"
	s.RefreshToken = s.RefreshToken + "-aal2"
	f.Session = s
	out := clone(s)
	f.mu.Unlock()
	f.Emit(provider.Event{Kind: provider.EventMFAVerified, Session: out})
	return clone(out), nil
}

func (f *Fake) UpdateUser(ctx context.Context, upd provider.UserUpdate) (*identitydomain.Principal, error) {
	f.mu.Lock()
	f.Updates = append(f.Updates, upd)
	if f.UpdateErr != nil {
		err := f.UpdateErr
		f.mu.Unlock()
		return nil, err
	}
	if f.Session == nil || f.Session.Principal == nil {
		f.mu.Unlock()
		return nil, provider.ErrNoSession
	}
	p := *f.Session.Principal
	if upd.Metadata != nil {
		p.Metadata = *upd.Metadata
	}
	s := clone(f.Session)
	s.Principal = &p
	f.Session = s
	out := clone(s)
	f.mu.Unlock()
	f.Emit(provider.Event{Kind: provider.EventUserUpdated, Session: out})
	return &p, nil
}

func (f *Fake) RefreshSession(ctx context.Context) (*sessiondomain.Session, error) {
	f.mu.Lock()
	if f.Session == nil {
		f.mu.Unlock()
		return nil, provider.ErrNoSession
	}
	s := clone(f.Session)
	s.ExpiresAt = time.Now().Add(time.Hour)
	f.Session = s
	out := clone(s)
	f.mu.Unlock()
	f.Emit(provider.Event{Kind: provider.EventTokenRefreshed, Session: out})
	return out, nil
}

func (f *Fake) SignOut(ctx context.Context) error {
	f.mu.Lock()
	f.Session = nil
	f.SignOutCalls++
	f.mu.Unlock()
	f.Emit(provider.Event{Kind: provider.EventSignedOut})
	return nil
}
