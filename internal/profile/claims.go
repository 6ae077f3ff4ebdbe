package profile

import (
	"strings"

	identitydomain "nuomoria/backend/internal/identity/domain"
	userdomain "nuomoria/backend/internal/user/domain"
)

// names extracts first and last name from the principal: OAuth given/family
// names, then metadata, then a split of the full name.
func names(p *identitydomain.Principal) (first, last string) {
	if oauth := p.OAuthIdentity(); oauth != nil {
		first, last = oauth.GivenName, oauth.FamilyName
		if first == "" && last == "" {
			first, last = splitFullName(oauth.FullName)
		}
	}
	if first == "" {
		first = p.Metadata.FirstName
	}
	if last == "" {
		last = p.Metadata.LastName
	}
	if first == "" && last == "" {
		first, last = splitFullName(p.Metadata.FullName)
	}
	return strings.TrimSpace(first), strings.TrimSpace(last)
}

func splitFullName(full string) (string, string) {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	}
	return strings.Join(parts[:len(parts)-1], " "), parts[len(parts)-1]
}

func avatar(p *identitydomain.Principal) string {
	if oauth := p.OAuthIdentity(); oauth != nil && oauth.AvatarURL != "" {
		return oauth.AvatarURL
	}
	return p.Metadata.AvatarURL
}

// mergeClaims fills empty or placeholder fields of u from the principal's
// claims. Stored values are never overwritten. Reports whether a persisted field changed.
func mergeClaims(u *userdomain.User, p *identitydomain.Principal) bool {
	changed := false
	first, last := names(p)
	if userdomain.IsPlaceholder(u.FirstName) && first != "" && u.FirstName != first {
		u.FirstName = first
		changed = true
	}
	if userdomain.IsPlaceholder(u.LastName) && last != "" && u.LastName != last {
		u.LastName = last
		changed = true
	}
	if u.AvatarURL == "" {
		if a := avatar(p); a != "" {
			u.AvatarURL = a
			changed = true
		}
	}
	if userdomain.IsPlaceholder(u.Nickname) && !userdomain.IsPlaceholder(p.Metadata.Nickname) {
		u.Nickname = strings.TrimSpace(p.Metadata.Nickname)
		changed = true
	}
	if len(u.Permissions) == 0 {
		u.Permissions = userdomain.DefaultPermissions(u.Role)
	}
	if oauth := p.OAuthIdentity(); oauth != nil && oauth.Email != "" && !strings.EqualFold(oauth.Email, u.Email) {
		u.LinkedEmail = oauth.Email
	}
	return changed
}

// metadataRole returns the role claim stored with the principal, if valid.
func metadataRole(p *identitydomain.Principal) (userdomain.Role, bool) {
	return userdomain.ParseRole(p.Metadata.Role)
}
