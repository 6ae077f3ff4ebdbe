package gotrue

import (
	"context"
	"net/http"
	"net/url"

	"nuomoria/backend/internal/identity/provider"
	mfadomain "nuomoria/backend/internal/mfa/domain"
	sessiondomain "nuomoria/backend/internal/session/domain"
)

// ListFactors returns the factors registered for the signed-in principal.
func (c *Client) ListFactors(ctx context.Context) ([]mfadomain.Factor, error) {
	s, err := c.stored(ctx)
	if err != nil {
		return nil, err
	}
	var u wireUser
	if err := c.do(ctx, http.MethodGet, "/user", s.AccessToken, nil, &u); err != nil {
		return nil, err
	}
	return u.Factors, nil
}

// Challenge issues a challenge for factorID.
func (c *Client) Challenge(ctx context.Context, factorID string) (string, error) {
	s, err := c.stored(ctx)
	if err != nil {
		return "", err
	}
	var cr challengeResponse
	path := "/factors/" + url.PathEscape(factorID) + "/challenge"
	if err := c.do(ctx, http.MethodPost, path, s.AccessToken, map[string]string{}, &cr); err != nil {
		return "", err
	}
	return cr.ID, nil
}

// Verify answers a challenge. The aal2 session replaces the current one and MFAChallengeVerified is emitted.
func (c *Client) Verify(ctx context.Context, factorID, challengeID, code string) (*sessiondomain.Session, error) {
	s, err := c.stored(ctx)
	if err != nil {
		return nil, err
	}
	var tr tokenResponse
	path := "/factors/" + url.PathEscape(factorID) + "/verify"
	body := map[string]string{"challenge_id": challengeID, "code": code}
	if err := c.do(ctx, http.MethodPost, path, s.AccessToken, body, &tr); err != nil {
		return nil, err
	}
	return c.signedIn(ctx, &tr, provider.EventMFAVerified, s.Principal)
}
