package reconciler

import (
	mfadomain "nuomoria/backend/internal/mfa/domain"
	userdomain "nuomoria/backend/internal/user/domain"
)

// ErrorKind classifies an AuthError.
type ErrorKind string

const (
	ErrorSessionExpired ErrorKind = "session_expired"
	ErrorConflict       ErrorKind = "conflict"
)

// AuthError is a user-facing failure that ended the session.
type AuthError struct {
	Kind    ErrorKind `json:"kind" yaml:"kind"`
	Message string    `json:"message" yaml:"message"`
}

func (e *AuthError) Error() string { return e.Message }

func sessionExpired() *AuthError {
	return &AuthError{Kind: ErrorSessionExpired, Message: "session expired, please sign in again"}
}

func identityConflict() *AuthError {
	return &AuthError{Kind: ErrorConflict, Message: "this email already belongs to another account; accounts must be merged by an administrator"}
}

// AuthState is what the presentation layer renders.
// MFAPending implies User == nil.
type AuthState struct {
	User                   *userdomain.User       `json:"user,omitempty" yaml:"user,omitempty"`
	Loading                bool                   `json:"loading" yaml:"loading"`
	MFAPending             bool                   `json:"mfa_pending" yaml:"mfa_pending"`
	NeedsProfileCompletion bool                   `json:"needs_profile_completion" yaml:"needs_profile_completion"`
	MFA                    *mfadomain.Requirement `json:"mfa,omitempty" yaml:"mfa,omitempty"`
	Err                    *AuthError             `json:"error,omitempty" yaml:"error,omitempty"`
	Generation             uint64                 `json:"generation" yaml:"generation"`
}

// SignedIn reports whether a user is published.
func (s AuthState) SignedIn() bool { return s.User != nil }

func (s AuthState) clone() AuthState {
	out := s
	if s.User != nil {
		out.User = s.User.Clone()
	}
	if s.MFA != nil {
		req := *s.MFA
		req.Factors = append([]mfadomain.Factor(nil), s.MFA.Factors...)
		out.MFA = &req
	}
	if s.Err != nil {
		e := *s.Err
		out.Err = &e
	}
	return out
}

func userState(u *userdomain.User) AuthState {
	return AuthState{User: u, NeedsProfileCompletion: !u.LooksComplete()}
}

func mfaState(gate mfadomain.Gate) AuthState {
	return AuthState{MFAPending: true, MFA: gate.Requirement}
}
