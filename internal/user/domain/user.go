package domain

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// ErrInvalidUser wraps every Validate failure.
var ErrInvalidUser = errors.New("invalid user")

type Role string

const (
	RoleTenant   Role = "tenant"
	RoleLandlord Role = "landlord"
)

// ParseRole returns the role named by s, or false when s is not a known role.
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleTenant:
		return RoleTenant, true
	case RoleLandlord:
		return RoleLandlord, true
	}
	return "", false
}

// CanChangeTo reports whether a user-initiated role change from r to to is allowed.
// Only tenant → landlord upgrades are allowed.
func (r Role) CanChangeTo(to Role) bool {
	return r == to || (r == RoleTenant && to == RoleLandlord)
}

// DefaultPermissions returns the permission set granted to role.
func DefaultPermissions(r Role) []string {
	switch r {
	case RoleLandlord:
		return []string{"properties:manage", "tenants:manage", "invoices:manage", "meters:read"}
	case RoleTenant:
		return []string{"lease:read", "invoices:read", "meters:submit"}
	}
	return nil
}

// User is the resolved local identity.
type User struct {
	ID          string    `json:"id" yaml:"id"`
	Email       string    `json:"email" yaml:"email"`
	LinkedEmail string    `json:"linked_email,omitempty" yaml:"linked_email,omitempty"` // email of a linked OAuth identity when it differs
	FirstName   string    `json:"first_name,omitempty" yaml:"first_name,omitempty"`
	LastName    string    `json:"last_name,omitempty" yaml:"last_name,omitempty"`
	Nickname    string    `json:"nickname,omitempty" yaml:"nickname,omitempty"`
	Role        Role      `json:"role" yaml:"role"`
	Active      bool      `json:"active" yaml:"active"`
	Permissions []string  `json:"permissions,omitempty" yaml:"permissions,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty" yaml:"avatar_url,omitempty"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"updated_at"`
	// Provisional is set on users built without the profile store.
	Provisional bool `json:"provisional,omitempty" yaml:"provisional,omitempty"`
}

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if u.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidUser)
	}
	if u.Email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidUser)
	}
	if _, ok := ParseRole(string(u.Role)); !ok {
		return fmt.Errorf("%w: role must be tenant or landlord", ErrInvalidUser)
	}
	return nil
}

// Clone returns a deep copy of u.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.Permissions = slices.Clone(u.Permissions)
	return &c
}

// placeholders are default values written by earlier onboarding screens; they
// count as empty when merging provider claims.
var placeholders = map[string]bool{
	"":            true,
	"user":        true,
	"new user":    true,
	"vartotojas":  true,
	"naudotojas":  true,
	"nuomininkas": true,
}

// IsPlaceholder reports whether v is empty or a default placeholder.
func IsPlaceholder(v string) bool {
	return placeholders[strings.ToLower(strings.TrimSpace(v))]
}

// LooksComplete reports whether the profile has the fields onboarding asks for.
func (u *User) LooksComplete() bool {
	if u == nil {
		return false
	}
	return !IsPlaceholder(u.Nickname) && !IsPlaceholder(u.FirstName) && u.Role != ""
}
