package gotrue

import (
	"time"

	identitydomain "nuomoria/backend/internal/identity/domain"
	mfadomain "nuomoria/backend/internal/mfa/domain"
	"nuomoria/backend/internal/security"
	sessiondomain "nuomoria/backend/internal/session/domain"
)

type wireIdentity struct {
	ID           string `json:"id"`
	Provider     string `json:"provider"`
	IdentityData struct {
		Sub        string `json:"sub"`
		Email      string `json:"email"`
		Name       string `json:"name"`
		FullName   string `json:"full_name"`
		GivenName  string `json:"given_name"`
		FamilyName string `json:"family_name"`
		AvatarURL  string `json:"avatar_url"`
		Picture    string `json:"picture"`
	} `json:"identity_data"`
}

type wireUser struct {
	ID               string                  `json:"id"`
	Email            string                  `json:"email"`
	EmailConfirmedAt *time.Time              `json:"email_confirmed_at"`
	CreatedAt        time.Time               `json:"created_at"`
	LastSignInAt     *time.Time              `json:"last_sign_in_at"`
	UserMetadata     identitydomain.Metadata `json:"user_metadata"`
	Identities       []wireIdentity          `json:"identities"`
	Factors          []mfadomain.Factor      `json:"factors"`
}

type tokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	ExpiresAt    int64     `json:"expires_at"`
	User         *wireUser `json:"user"`
}

type challengeResponse struct {
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

func (u *wireUser) principal() *identitydomain.Principal {
	if u == nil {
		return nil
	}
	p := &identitydomain.Principal{
		ID:            u.ID,
		Email:         u.Email,
		EmailVerified: u.EmailConfirmedAt != nil,
		Metadata:      u.UserMetadata,
		Factors:       u.Factors,
		CreatedAt:     u.CreatedAt,
	}
	if u.LastSignInAt != nil {
		p.LastSignInAt = *u.LastSignInAt
	}
	for _, wi := range u.Identities {
		d := wi.IdentityData
		subject := d.Sub
		if subject == "" {
			subject = wi.ID
		}
		p.Identities = append(p.Identities, identitydomain.LinkedIdentity{
			Provider:   identitydomain.IdentityProvider(wi.Provider),
			ProviderID: subject,
			Email:      d.Email,
			GivenName:  d.GivenName,
			FamilyName: d.FamilyName,
			FullName:   firstNonEmpty(d.FullName, d.Name),
			AvatarURL:  firstNonEmpty(d.AvatarURL, d.Picture),
		})
	}
	return p
}

// toSession builds a session from a token response, reading the assurance level from the access token.
func (tr *tokenResponse) toSession(now time.Time) *sessiondomain.Session {
	s := &sessiondomain.Session{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		Principal:    tr.User.principal(),
		AAL:          security.AAL1,
	}
	switch {
	case tr.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(tr.ExpiresAt, 0).UTC()
	case tr.ExpiresIn > 0:
		s.ExpiresAt = now.Add(time.Duration(tr.ExpiresIn) * time.Second).UTC()
	}
	if claims, err := security.DecodeAccessClaims(tr.AccessToken); err == nil {
		if claims.AAL != "" {
			s.AAL = claims.AAL
		}
		for _, m := range claims.AMR {
			s.AMR = append(s.AMR, m.Method)
		}
		if s.ExpiresAt.IsZero() {
			if exp := claims.Expiry(); !exp.IsZero() {
				s.ExpiresAt = exp
			}
		}
	}
	s.NextAAL = nextAAL(s.Principal)
	return s
}

// nextAAL is aal2 once the principal has a verified factor.
func nextAAL(p *identitydomain.Principal) string {
	if p != nil {
		for _, f := range p.Factors {
			if f.Status == mfadomain.FactorVerified {
				return security.AAL2
			}
		}
	}
	return security.AAL1
}
