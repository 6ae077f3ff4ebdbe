package profile

import (
	identitydomain "nuomoria/backend/internal/identity/domain"
	"nuomoria/backend/internal/signupintent"
	userdomain "nuomoria/backend/internal/user/domain"
)

// FallbackRole picks the role for a user built without the profile store:
// signup intent, then the metadata role claim, then the cached role, then tenant.
func FallbackRole(p *identitydomain.Principal, intent *signupintent.Intent, cached userdomain.Role) userdomain.Role {
	if intent != nil {
		if r, ok := userdomain.ParseRole(string(intent.Role)); ok {
			return r
		}
	}
	if p != nil {
		if r, ok := metadataRole(p); ok {
			return r
		}
	}
	if r, ok := userdomain.ParseRole(string(cached)); ok {
		return r
	}
	return userdomain.RoleTenant
}

// BuildFallback builds a provisional user from the session alone. It is pure.
func BuildFallback(p *identitydomain.Principal, intent *signupintent.Intent, cached userdomain.Role) *userdomain.User {
	if p == nil {
		return nil
	}
	role := FallbackRole(p, intent, cached)
	u := &userdomain.User{
		ID:          p.ID,
		Email:       p.Email,
		Role:        role,
		Active:      true,
		Permissions: userdomain.DefaultPermissions(role),
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.LastSignInAt,
		Provisional: true,
	}
	mergeClaims(u, p)
	return u
}
