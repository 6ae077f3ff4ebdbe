package gotrue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	identitydomain "nuomoria/backend/internal/identity/domain"
	"nuomoria/backend/internal/identity/provider"
	"nuomoria/backend/internal/localstate"
	"nuomoria/backend/internal/security"
	sessiondomain "nuomoria/backend/internal/session/domain"
)

func accessToken(t *testing.T, aal string, exp time.Time) string {
	t.Helper()
	claims := security.AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "11111111-1111-1111-1111-111111111111", ExpiresAt: jwt.NewNumericDate(exp)},
		AAL:              aal,
		AMR:              []security.AMREntry{{Method: "password", Timestamp: 1}},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

func userJSON(factorStatus string) map[string]any {
	u := map[string]any{
		"id":                 "11111111-1111-1111-1111-111111111111",
		"email":              "jonas@example.lt",
		"email_confirmed_at": "2026-01-01T00:00:00Z",
		"created_at":         "2026-01-01T00:00:00Z",
		"user_metadata":      map[string]any{"role": "landlord", "signup_flow": "google"},
		"identities": []any{map[string]any{
			"id":       "google-sub-1",
			"provider": "google",
			"identity_data": map[string]any{
				"sub": "google-sub-1", "email": "jonas@gmail.com", "full_name": "Jonas Jonaitis", "picture": "https://img/1",
			},
		}},
	}
	if factorStatus != "" {
		u["factors"] = []any{map[string]any{"id": "f1", "factor_type": "totp", "status": factorStatus}}
	}
	return u
}

type recorder struct {
	mu     sync.Mutex
	events []provider.Event
}

func (r *recorder) add(ev provider.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) kinds() []provider.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []provider.EventKind
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func newTestClient(t *testing.T, h http.Handler) (*Client, localstate.Store, *recorder) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	st := localstate.NewMemoryStore()
	c := New(srv.URL, "anon", st, WithHTTPClient(srv.Client()), WithRedirectURL("http://localhost/callback"))
	rec := &recorder{}
	c.OnSessionChange(rec.add)
	return c, st, rec
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestSignInWithPassword(t *testing.T) {
	exp := time.Now().Add(time.Hour)
	tok := accessToken(t, security.AAL1, exp)
	c, st, rec := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/token", r.URL.Path)
		assert.Equal(t, "password", r.URL.Query().Get("grant_type"))
		assert.Equal(t, "anon", r.Header.Get("apikey"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "jonas@example.lt", body["email"])
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": tok, "refresh_token": "rt-1", "expires_at": exp.Unix(), "user": userJSON("verified"),
		})
	}))

	s, err := c.SignInWithPassword(context.Background(), "jonas@example.lt", "secret")
	require.NoError(t, err)
	assert.Equal(t, security.AAL1, s.AAL)
	assert.Equal(t, security.AAL2, s.NextAAL)
	assert.True(t, s.NeedsSecondFactor())
	assert.Equal(t, []string{"password"}, s.AMR)
	require.NotNil(t, s.Principal)
	assert.True(t, s.Principal.EmailVerified)
	require.Len(t, s.Principal.Identities, 1)
	assert.Equal(t, "google-sub-1", s.Principal.Identities[0].ProviderID)
	assert.Equal(t, "https://img/1", s.Principal.Identities[0].AvatarURL)
	assert.Equal(t, "landlord", s.Principal.Metadata.Role)

	persisted, err := localstate.GetJSON[sessiondomain.Session](context.Background(), st, SessionKey)
	require.NoError(t, err)
	assert.Equal(t, "rt-1", persisted.RefreshToken)
	assert.Equal(t, []provider.EventKind{provider.EventSignedIn}, rec.kinds())
}

func TestSignInWithPassword_InvalidCredentials(t *testing.T) {
	c, _, rec := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"code": 400, "error_code": "invalid_credentials", "msg": "Invalid login credentials"})
	}))
	_, err := c.SignInWithPassword(context.Background(), "a@b.lt", "bad")
	assert.ErrorIs(t, err, provider.ErrInvalidCredentials)
	assert.Empty(t, rec.kinds())
}

func TestGetSession_NoSession(t *testing.T) {
	c, _, _ := newTestClient(t, http.NotFoundHandler())
	_, err := c.GetSession(context.Background())
	assert.ErrorIs(t, err, provider.ErrNoSession)
}

func seedSession(t *testing.T, st localstate.Store, exp time.Time) {
	t.Helper()
	s := &sessiondomain.Session{AccessToken: accessToken(t, security.AAL1, exp), RefreshToken: "rt-old", ExpiresAt: exp}
	require.NoError(t, localstate.SetJSON(context.Background(), st, SessionKey, s, 0))
}

func TestGetSession_ValidatesWithProvider(t *testing.T) {
	c, st, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/user", r.URL.Path)
		assert.Contains(t, r.Header.Get("Authorization"), "Bearer ey")
		writeJSON(w, http.StatusOK, userJSON(""))
	}))
	seedSession(t, st, time.Now().Add(time.Hour))

	s, err := c.GetSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "11111111-1111-1111-1111-111111111111", s.PrincipalID())
	assert.Equal(t, security.AAL1, s.NextAAL)
}

func TestGetSession_UnauthorizedClearsLocal(t *testing.T) {
	c, st, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error_code": "bad_jwt", "msg": "invalid JWT"})
	}))
	seedSession(t, st, time.Now().Add(time.Hour))

	_, err := c.GetSession(context.Background())
	assert.True(t, provider.IsTerminal(err))
	_, err = st.Get(context.Background(), SessionKey)
	assert.ErrorIs(t, err, localstate.ErrNotFound)
}

func TestGetSession_ServerErrorIsTransport(t *testing.T) {
	c, st, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	seedSession(t, st, time.Now().Add(time.Hour))

	_, err := c.GetSession(context.Background())
	assert.True(t, provider.IsTransient(err))
	_, err = st.Get(context.Background(), SessionKey)
	assert.NoError(t, err, "transport failures must keep the local session")
}

func TestGetSession_RefreshesExpiredSession(t *testing.T) {
	exp := time.Now().Add(time.Hour)
	var refreshed bool
	c, st, rec := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/v1/token":
			assert.Equal(t, "refresh_token", r.URL.Query().Get("grant_type"))
			refreshed = true
			writeJSON(w, http.StatusOK, map[string]any{
				"access_token": accessToken(t, security.AAL1, exp), "refresh_token": "rt-new", "expires_in": 3600,
			})
		case "/auth/v1/user":
			writeJSON(w, http.StatusOK, userJSON(""))
		}
	}))
	seedSession(t, st, time.Now().Add(-time.Minute))

	s, err := c.GetSession(context.Background())
	require.NoError(t, err)
	assert.True(t, refreshed)
	assert.Equal(t, "rt-new", s.RefreshToken)
	assert.NotNil(t, s.Principal)
	assert.Equal(t, []provider.EventKind{provider.EventTokenRefreshed}, rec.kinds())
}

func TestRefreshSession_InvalidGrantSignsOut(t *testing.T) {
	c, st, rec := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_grant", "error_description": "Invalid Refresh Token: Already Used"})
	}))
	seedSession(t, st, time.Now().Add(time.Hour))

	_, err := c.RefreshSession(context.Background())
	assert.ErrorIs(t, err, provider.ErrUnauthorized)
	assert.Equal(t, []provider.EventKind{provider.EventSignedOut}, rec.kinds())
	_, err = st.Get(context.Background(), SessionKey)
	assert.ErrorIs(t, err, localstate.ErrNotFound)
}

func TestOAuthURLAndExchangeCode(t *testing.T) {
	exp := time.Now().Add(time.Hour)
	var gotVerifier string
	c, st, rec := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "pkce", r.URL.Query().Get("grant_type"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "code-123", body["auth_code"])
		gotVerifier = body["code_verifier"]
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": accessToken(t, security.AAL1, exp), "refresh_token": "rt-g", "expires_at": exp.Unix(), "user": userJSON(""),
		})
	}))
	ctx := context.Background()

	raw, err := c.OAuthURL(ctx, "google")
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/auth/v1/authorize", u.Path)
	assert.Equal(t, "google", u.Query().Get("provider"))
	assert.Equal(t, "http://localhost/callback", u.Query().Get("redirect_to"))

	s, err := c.ExchangeCode(ctx, "code-123")
	require.NoError(t, err)
	assert.Equal(t, "rt-g", s.RefreshToken)
	assert.Equal(t, u.Query().Get("code_challenge"), oauth2.S256ChallengeFromVerifier(gotVerifier))
	assert.Equal(t, []provider.EventKind{provider.EventSignedIn}, rec.kinds())

	_, err = st.Get(ctx, PKCEVerifierKey)
	assert.ErrorIs(t, err, localstate.ErrNotFound)
	_, err = c.ExchangeCode(ctx, "code-123")
	assert.ErrorIs(t, err, ErrNoPendingOAuth)
}

func TestVerify(t *testing.T) {
	exp := time.Now().Add(time.Hour)
	c, st, rec := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/v1/factors/f1/challenge":
			writeJSON(w, http.StatusOK, map[string]any{"id": "ch-1", "expires_at": exp.Unix()})
		case "/auth/v1/factors/f1/verify":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			if body["code"] != "123456" {
				writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error_code": "mfa_verification_failed", "msg": "Invalid TOTP code entered"})
				return
			}
			assert.Equal(t, "ch-1", body["challenge_id"])
			writeJSON(w, http.StatusOK, map[string]any{
				"access_token": accessToken(t, security.AAL2, exp), "refresh_token": "rt-aal2", "expires_at": exp.Unix(), "user": userJSON("verified"),
			})
		}
	}))
	seedSession(t, st, exp)
	ctx := context.Background()

	ch, err := c.Challenge(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "ch-1", ch)

	_, err = c.Verify(ctx, "f1", ch, "000000")
	assert.ErrorIs(t, err, provider.ErrInvalidMFACode)

	s, err := c.Verify(ctx, "f1", ch, "123456")
	require.NoError(t, err)
	assert.Equal(t, security.AAL2, s.AAL)
	assert.False(t, s.NeedsSecondFactor())
	assert.Equal(t, []provider.EventKind{provider.EventMFAVerified}, rec.kinds())
}

func TestSignOut_ClearsLocallyWhenProviderDown(t *testing.T) {
	c, st, rec := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	seedSession(t, st, time.Now().Add(time.Hour))

	require.NoError(t, c.SignOut(context.Background()))
	_, err := st.Get(context.Background(), SessionKey)
	assert.ErrorIs(t, err, localstate.ErrNotFound)
	assert.Equal(t, []provider.EventKind{provider.EventSignedOut}, rec.kinds())
}

func TestSignUp_ConfirmationRequired(t *testing.T) {
	c, _, rec := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		data := body["data"].(map[string]any)
		assert.Equal(t, "landlord", data["role"])
		writeJSON(w, http.StatusOK, userJSON(""))
	}))
	res, err := c.SignUp(context.Background(), "jonas@example.lt", "Secret123!", identityMeta())
	require.NoError(t, err)
	assert.Nil(t, res.Session)
	require.NotNil(t, res.Principal)
	assert.Empty(t, rec.kinds())
}

func TestClassify(t *testing.T) {
	testCases := []struct {
		status int
		code   string
		msg    string
		want   error
	}{
		{400, "user_already_exists", "", provider.ErrUserExists},
		{422, "weak_password", "", provider.ErrWeakPassword},
		{422, "mfa_challenge_expired", "", provider.ErrChallengeExpired},
		{400, "invalid_grant", "Invalid login credentials", provider.ErrInvalidCredentials},
		{403, "", "forbidden", provider.ErrUnauthorized},
		{429, "over_request_rate_limit", "", provider.ErrTransport},
		{500, "", "", provider.ErrTransport},
		{400, "validation_failed", "", provider.ErrRejected},
	}
	for _, tc := range testCases {
		assert.ErrorIs(t, classify(tc.status, tc.code, tc.msg), tc.want, "%d %s", tc.status, tc.code)
	}
}

func identityMeta() identitydomain.Metadata {
	return identitydomain.Metadata{Role: "landlord", Flow: "password"}
}
