package domain

// FactorStatus is the enrollment status of a second factor.
type FactorStatus string

const (
	FactorVerified   FactorStatus = "verified"
	FactorUnverified FactorStatus = "unverified"
)

// FactorTypeTOTP is the only factor type the reconciler gates on.
const FactorTypeTOTP = "totp"

// Factor is a second factor registered with the identity provider.
type Factor struct {
	ID           string       `json:"id"`
	FriendlyName string       `json:"friendly_name,omitempty"`
	Type         string       `json:"factor_type"`
	Status       FactorStatus `json:"status"`
}

// Requirement describes an outstanding second factor for the current session.
// Ticket is the opaque handle of the last issued challenge, if any.
type Requirement struct {
	Factors []Factor `json:"factors"`
	Ticket  string   `json:"ticket,omitempty"`
}

// VerifiedTOTP returns the verified TOTP factors in fs.
func VerifiedTOTP(fs []Factor) []Factor {
	var out []Factor
	for _, f := range fs {
		if f.Status == FactorVerified && f.Type == FactorTypeTOTP {
			out = append(out, f)
		}
	}
	return out
}

// HasVerified reports whether the requirement lists at least one verified factor.
func (r *Requirement) HasVerified() bool {
	if r == nil {
		return false
	}
	for _, f := range r.Factors {
		if f.Status == FactorVerified {
			return true
		}
	}
	return false
}
