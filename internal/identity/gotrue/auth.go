package gotrue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	identitydomain "nuomoria/backend/internal/identity/domain"
	"nuomoria/backend/internal/identity/provider"
	"nuomoria/backend/internal/localstate"
	sessiondomain "nuomoria/backend/internal/session/domain"
)

// pkceTTL bounds how long an OAuth sign-in may stay open.
const pkceTTL = 10 * time.Minute

// ErrNoPendingOAuth is returned by ExchangeCode when no OAuth sign-in was started on this client.
var ErrNoPendingOAuth = errors.New("gotrue: no pending oauth sign-in")

// SignInWithPassword signs in with email and password and emits SignedIn.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*sessiondomain.Session, error) {
	var tr tokenResponse
	err := c.do(ctx, http.MethodPost, "/token?grant_type=password", "",
		map[string]string{"email": email, "password": password}, &tr)
	if err != nil {
		return nil, err
	}
	return c.signedIn(ctx, &tr, provider.EventSignedIn, nil)
}

// SignUp registers a new principal with meta as user metadata. The result has no
// session when the provider requires email confirmation.
func (c *Client) SignUp(ctx context.Context, email, password string, meta identitydomain.Metadata) (*provider.SignUpResult, error) {
	var raw json.RawMessage
	body := map[string]any{"email": email, "password": password, "data": meta}
	if redirect := c.redirectURL; redirect != "" {
		body["email_redirect_to"] = redirect
	}
	if err := c.do(ctx, http.MethodPost, "/signup", "", body, &raw); err != nil {
		return nil, err
	}

	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return nil, fmt.Errorf("failed to decode signup response: %w", err)
	}
	if tr.AccessToken != "" {
		s, err := c.signedIn(ctx, &tr, provider.EventSignedIn, nil)
		if err != nil {
			return nil, err
		}
		return &provider.SignUpResult{Session: s, Principal: s.Principal}, nil
	}

	var u wireUser
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, fmt.Errorf("failed to decode signup user: %w", err)
	}
	return &provider.SignUpResult{Principal: u.principal()}, nil
}

// OAuthURL starts a PKCE sign-in: the verifier is kept in local state and the
// returned URL carries its S256 challenge.
func (c *Client) OAuthURL(ctx context.Context, oauthProvider string) (string, error) {
	verifier := oauth2.GenerateVerifier()
	if err := c.state.Set(ctx, PKCEVerifierKey, []byte(verifier), pkceTTL); err != nil {
		return "", fmt.Errorf("gotrue: store pkce verifier: %w", err)
	}
	q := url.Values{}
	q.Set("provider", oauthProvider)
	q.Set("code_challenge", oauth2.S256ChallengeFromVerifier(verifier))
	q.Set("code_challenge_method", "s256")
	if c.redirectURL != "" {
		q.Set("redirect_to", c.redirectURL)
	}
	return c.baseURL + "/authorize?" + q.Encode(), nil
}

// ExchangeCode completes a PKCE sign-in and emits SignedIn.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*sessiondomain.Session, error) {
	verifier, err := c.state.Get(ctx, PKCEVerifierKey)
	if errors.Is(err, localstate.ErrNotFound) {
		return nil, ErrNoPendingOAuth
	}
	if err != nil {
		return nil, err
	}
	var tr tokenResponse
	err = c.do(ctx, http.MethodPost, "/token?grant_type=pkce", "",
		map[string]string{"auth_code": code, "code_verifier": string(verifier)}, &tr)
	if err != nil {
		return nil, err
	}
	_ = c.state.Delete(ctx, PKCEVerifierKey)
	return c.signedIn(ctx, &tr, provider.EventSignedIn, nil)
}

// UpdateUser changes the password and/or metadata of the signed-in principal and emits UserUpdated.
func (c *Client) UpdateUser(ctx context.Context, upd provider.UserUpdate) (*identitydomain.Principal, error) {
	s, err := c.stored(ctx)
	if err != nil {
		return nil, err
	}
	body := map[string]any{}
	if upd.Password != nil {
		body["password"] = *upd.Password
	}
	if upd.Metadata != nil {
		body["data"] = upd.Metadata
	}
	var u wireUser
	if err := c.do(ctx, http.MethodPut, "/user", s.AccessToken, body, &u); err != nil {
		return nil, err
	}
	s.Principal = u.principal()
	if err := c.save(ctx, s); err != nil {
		return nil, err
	}
	c.emit(provider.Event{Kind: provider.EventUserUpdated, Session: s})
	return s.Principal, nil
}

// signedIn persists the session from tr and emits kind. prev fills in the
// principal when the response carries no user.
func (c *Client) signedIn(ctx context.Context, tr *tokenResponse, kind provider.EventKind, prev *identitydomain.Principal) (*sessiondomain.Session, error) {
	if tr.AccessToken == "" || tr.RefreshToken == "" {
		return nil, fmt.Errorf("gotrue: token response without session")
	}
	s := tr.toSession(c.nowF())
	if s.Principal == nil && prev != nil {
		s.Principal = prev
		s.NextAAL = nextAAL(prev)
	}
	if err := c.save(ctx, s); err != nil {
		return nil, err
	}
	c.emit(provider.Event{Kind: kind, Session: s})
	return s, nil
}
