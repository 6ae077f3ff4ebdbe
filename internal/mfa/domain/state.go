package domain

// State is the MFA coordinator state for one session.
type State int

const (
	StateNone State = iota
	StateRequired
	StateChallenged
	StateVerified
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateRequired:
		return "required"
	case StateChallenged:
		return "challenged"
	case StateVerified:
		return "verified"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// AllowsIdentity reports whether a local user may be published in this state.
func (s State) AllowsIdentity() bool {
	return s == StateNone || s == StateVerified
}

// Gate is the MFA outcome handed to the profile resolver for one reconciliation run.
type Gate struct {
	State       State
	Requirement *Requirement
}

// Open reports whether resolution may proceed.
func (g Gate) Open() bool {
	return g.State.AllowsIdentity()
}
