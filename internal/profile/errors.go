package profile

import (
	"errors"
	"fmt"
)

// Kind classifies a resolution failure.
type Kind int

const (
	// KindTransient: the profile store was unreachable or slow. Absorbed by fallback.
	KindTransient Kind = iota + 1
	// KindTerminal: the session is not authorized to read its profile. The session must be cleared.
	KindTerminal
	// KindConflict: the email belongs to another user that this principal may not adopt.
	KindConflict
	// KindNotFound: no row exists and none could be created.
	KindNotFound
	// KindMFARequired: the second factor gate is closed.
	KindMFARequired
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindTerminal:
		return "terminal"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindMFARequired:
		return "mfa_required"
	default:
		return "unknown"
	}
}

// ResolutionError is the only error type Resolve returns.
type ResolutionError struct {
	Kind        Kind
	PrincipalID string
	Err         error
}

func (e *ResolutionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("profile: resolve %s: %s", e.PrincipalID, e.Kind)
	}
	return fmt.Sprintf("profile: resolve %s: %s: %v", e.PrincipalID, e.Kind, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// KindOf returns the kind of err, or 0 when err is not a ResolutionError.
func KindOf(err error) Kind {
	var re *ResolutionError
	if errors.As(err, &re) {
		return re.Kind
	}
	return 0
}

// Action is what the reconciler does with a resolution outcome.
type Action int

const (
	// ActionPublish publishes the resolved user.
	ActionPublish Action = iota
	// ActionFallback publishes a provisional user built from the session.
	ActionFallback
	// ActionClearSession signs out and reports an expired session.
	ActionClearSession
	// ActionBlock signs out and reports the identity conflict.
	ActionBlock
	// ActionPrompt publishes no user and asks for the second factor.
	ActionPrompt
)

func (a Action) String() string {
	switch a {
	case ActionPublish:
		return "publish"
	case ActionFallback:
		return "fallback"
	case ActionClearSession:
		return "clear_session"
	case ActionBlock:
		return "block"
	case ActionPrompt:
		return "prompt"
	default:
		return "unknown"
	}
}

// Decide maps a Resolve error to the reconciler action.
func Decide(err error) Action {
	if err == nil {
		return ActionPublish
	}
	switch KindOf(err) {
	case KindTerminal:
		return ActionClearSession
	case KindConflict:
		return ActionBlock
	case KindMFARequired:
		return ActionPrompt
	default:
		return ActionFallback
	}
}
