package reconciler

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	identitydomain "nuomoria/backend/internal/identity/domain"
	"nuomoria/backend/internal/identity/provider"
	"nuomoria/backend/internal/mfa"
	mfadomain "nuomoria/backend/internal/mfa/domain"
	"nuomoria/backend/internal/profile"
	"nuomoria/backend/internal/signupintent"
	userdomain "nuomoria/backend/internal/user/domain"
)

// User-facing action errors. Provider and store errors never cross the Service boundary.
var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountExists      = errors.New("an account with this email already exists")
	ErrWeakPassword       = errors.New("password does not meet the requirements")
	ErrUnavailable        = errors.New("authentication service unavailable, try again")
	ErrSessionExpired     = errors.New("session expired, please sign in again")
	ErrNotSignedIn        = errors.New("not signed in")
	ErrInvalidRole        = errors.New("role must be tenant or landlord")
	ErrRejected           = errors.New("request rejected")
)

// ActionResult is the outcome of a user action.
type ActionResult struct {
	Success     bool                   `json:"success" yaml:"success"`
	Err         error                  `json:"-" yaml:"-"`
	FieldErrors profile.FieldErrors    `json:"field_errors,omitempty" yaml:"field_errors,omitempty"`
	MFA         *mfadomain.Requirement `json:"mfa,omitempty" yaml:"mfa,omitempty"`
	// URL is the page to open for an OAuth sign-in.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`
	// ConfirmationSent is set by SignUp when the provider wants the email confirmed first.
	ConfirmationSent bool `json:"confirmation_sent,omitempty" yaml:"confirmation_sent,omitempty"`
}

func failed(err error) ActionResult { return ActionResult{Err: err} }

// Service is the application layer over a Reconciler.
type Service struct {
	rec *Reconciler
	log zerolog.Logger
}

// NewService wraps rec.
func NewService(rec *Reconciler, log zerolog.Logger) *Service {
	return &Service{rec: rec, log: log}
}

// State returns the last published state.
func (s *Service) State() AuthState { return s.rec.State() }

// Subscribe streams published states. Call the returned func to stop.
func (s *Service) Subscribe() (<-chan AuthState, func()) { return s.rec.Subscribe() }

// Wait blocks until the reconciler is idle.
func (s *Service) Wait(ctx context.Context) error { return s.rec.Wait(ctx) }

// SignInWithPassword signs in with email and password. The reconciler picks up
// the new session; the result carries the MFA requirement when one is pending.
func (s *Service) SignInWithPassword(ctx context.Context, email, password string) ActionResult {
	email = strings.TrimSpace(email)
	sess, err := s.rec.Provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		return failed(s.userError("sign in", err))
	}
	gate := s.rec.MFA.Evaluate(ctx, sess)
	if !gate.Open() {
		return ActionResult{Success: true, MFA: gate.Requirement}
	}
	return ActionResult{Success: true}
}

// SignUp registers a password account. The chosen role is saved as a signup
// intent before the provider round-trip.
func (s *Service) SignUp(ctx context.Context, email, password, role string) ActionResult {
	r, ok := userdomain.ParseRole(role)
	if !ok {
		return ActionResult{Err: ErrInvalidRole, FieldErrors: profile.FieldErrors{"role": ErrInvalidRole.Error()}}
	}
	if _, err := s.rec.Intents.Save(ctx, r, signupintent.FlowPassword); err != nil {
		s.log.Warn().Err(err).Msg("service: save signup intent")
	}
	res, err := s.rec.Provider.SignUp(ctx, strings.TrimSpace(email), password, identitydomain.Metadata{
		Role: string(r),
		Flow: signupintent.FlowPassword,
	})
	if err != nil {
		if errors.Is(err, provider.ErrWeakPassword) {
			return ActionResult{Err: ErrWeakPassword, FieldErrors: profile.FieldErrors{"password": ErrWeakPassword.Error()}}
		}
		return failed(s.userError("sign up", err))
	}
	return ActionResult{Success: true, ConfirmationSent: res.Session == nil}
}

// SignInWithGoogle returns the Google sign-in URL. A non-empty role is saved as
// a signup intent so a new account gets it on return.
func (s *Service) SignInWithGoogle(ctx context.Context, role string) ActionResult {
	if role != "" {
		r, ok := userdomain.ParseRole(role)
		if !ok {
			return ActionResult{Err: ErrInvalidRole, FieldErrors: profile.FieldErrors{"role": ErrInvalidRole.Error()}}
		}
		if _, err := s.rec.Intents.Save(ctx, r, signupintent.FlowGoogle); err != nil {
			s.log.Warn().Err(err).Msg("service: save signup intent")
		}
	}
	url, err := s.rec.Provider.OAuthURL(ctx, string(identitydomain.IdentityProviderGoogle))
	if err != nil {
		return failed(s.userError("oauth url", err))
	}
	return ActionResult{Success: true, URL: url}
}

// ExchangeOAuthCode completes a Google sign-in.
func (s *Service) ExchangeOAuthCode(ctx context.Context, code string) ActionResult {
	sess, err := s.rec.Provider.ExchangeCode(ctx, strings.TrimSpace(code))
	if err != nil {
		return failed(s.userError("exchange code", err))
	}
	gate := s.rec.MFA.Evaluate(ctx, sess)
	if !gate.Open() {
		return ActionResult{Success: true, MFA: gate.Requirement}
	}
	return ActionResult{Success: true}
}

// VerifyMFACode answers the pending second-factor challenge. A wrong code
// leaves the session untouched and can be retried.
func (s *Service) VerifyMFACode(ctx context.Context, code string) ActionResult {
	_, err := s.rec.MFA.Verify(ctx, code)
	switch {
	case err == nil:
		return ActionResult{Success: true}
	case errors.Is(err, mfa.ErrInvalidCode), errors.Is(err, mfa.ErrChallengeExpired),
		errors.Is(err, mfa.ErrNotRequired), errors.Is(err, mfa.ErrNoFactor):
		return ActionResult{Err: err, MFA: s.rec.MFA.Current().Requirement}
	default:
		return ActionResult{Err: s.userError("verify mfa", err), MFA: s.rec.MFA.Current().Requirement}
	}
}

// CompleteProfile sets the nickname, optionally a password, and optionally
// upgrades the role of the signed-in user.
func (s *Service) CompleteProfile(ctx context.Context, nickname, password, role string) ActionResult {
	st := s.rec.State()
	if st.User == nil {
		return failed(ErrNotSignedIn)
	}
	c := profile.Completion{Nickname: strings.TrimSpace(nickname), Password: password, Role: role}
	// The whole form is checked before the password changes on the provider.
	fe, err := s.rec.Resolver.Check(ctx, st.User, c)
	if fe != nil {
		return ActionResult{FieldErrors: fe}
	}
	if err != nil {
		return failed(s.userError("complete profile", err))
	}

	if password != "" {
		pw := password
		if _, err := s.rec.Provider.UpdateUser(ctx, provider.UserUpdate{Password: &pw}); err != nil {
			if errors.Is(err, provider.ErrWeakPassword) {
				return ActionResult{FieldErrors: profile.FieldErrors{"password": ErrWeakPassword.Error()}}
			}
			return failed(s.userError("update password", err))
		}
	}

	u, fe, err := s.rec.Resolver.Complete(ctx, st.User, c)
	if fe != nil {
		return ActionResult{FieldErrors: fe}
	}
	if err != nil {
		return failed(s.userError("complete profile", err))
	}
	s.rec.amend(ctx, u)
	s.log.Info().Str("user_id", u.ID).Str("role", string(u.Role)).Msg("service: profile completed")
	return ActionResult{Success: true}
}

// SignOut ends the session. Local state is cleared even when the provider is unreachable.
func (s *Service) SignOut(ctx context.Context) ActionResult {
	if err := s.rec.Provider.SignOut(ctx); err != nil {
		s.log.Warn().Err(err).Msg("service: remote sign out failed, local session cleared")
	}
	s.rec.clearLocal(ctx, false)
	s.rec.MFA.Reset(ctx)
	return ActionResult{Success: true}
}

// Refresh renews the access token. The reconciler re-runs on the resulting event.
func (s *Service) Refresh(ctx context.Context) ActionResult {
	if _, err := s.rec.Provider.RefreshSession(ctx); err != nil {
		return failed(s.userError("refresh", err))
	}
	return ActionResult{Success: true}
}

// userError maps provider and resolver errors to the exported sentinels.
func (s *Service) userError(op string, err error) error {
	var out error
	switch {
	case errors.Is(err, provider.ErrInvalidCredentials):
		out = ErrInvalidCredentials
	case errors.Is(err, provider.ErrUserExists):
		out = ErrAccountExists
	case errors.Is(err, provider.ErrWeakPassword):
		out = ErrWeakPassword
	case errors.Is(err, provider.ErrNoSession):
		out = ErrNotSignedIn
	case provider.IsTerminal(err), profile.KindOf(err) == profile.KindTerminal:
		out = ErrSessionExpired
	case provider.IsTransient(err), profile.KindOf(err) == profile.KindTransient:
		out = ErrUnavailable
	default:
		out = ErrRejected
	}
	s.log.Warn().Err(err).Str("op", op).Msg("service: action failed")
	return out
}
