// Package gotrue is a Provider over a GoTrue-compatible auth REST API (/auth/v1).
package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"nuomoria/backend/internal/identity/provider"
	"nuomoria/backend/internal/localstate"
)

// Local state keys owned by the client.
const (
	SessionKey      = "session.current"
	PKCEVerifierKey = "oauth.pkceVerifier"
)

// refreshMargin is how long before expiry a session is refreshed proactively.
const refreshMargin = 30 * time.Second

// Client is the GoTrue REST client. It keeps the current session in local state.
type Client struct {
	baseURL     string
	anonKey     string
	redirectURL string
	httpClient  *http.Client
	state       localstate.Store
	log         zerolog.Logger
	nowF        func() time.Time

	refreshMu sync.Mutex

	mu        sync.Mutex
	listeners map[int]func(provider.Event)
	nextID    int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default instrumented HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRedirectURL sets the redirect_to used for OAuth sign-in.
func WithRedirectURL(u string) Option {
	return func(c *Client) { c.redirectURL = u }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New creates a client for the provider at baseURL (e.g. https://xyz.supabase.co).
func New(baseURL, anonKey string, state localstate.Store, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/") + "/auth/v1",
		anonKey: anonKey,
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		state:     state,
		log:       zerolog.Nop(),
		nowF:      time.Now,
		listeners: make(map[int]func(provider.Event)),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

var _ provider.Provider = (*Client)(nil)

// OnSessionChange registers fn. Listeners are called synchronously from the goroutine that changed the session.
func (c *Client) OnSessionChange(fn func(provider.Event)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Client) emit(ev provider.Event) {
	c.mu.Lock()
	fns := make([]func(provider.Event), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	c.log.Debug().Str("event", string(ev.Kind)).Msg("gotrue: session change")
	for _, fn := range fns {
		fn(ev)
	}
}

// do performs an HTTP request against the auth API and decodes the JSON response into result.
// bearer is sent as the Authorization token; the anon key is used when empty.
func (c *Client) do(ctx context.Context, method, path, bearer string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("apikey", c.anonKey)
	if bearer == "" {
		bearer = c.anonKey
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", provider.ErrTransport, method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", provider.ErrTransport, err)
	}

	if resp.StatusCode >= 400 {
		return decodeError(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// apiError covers both GoTrue error shapes ({error_code, msg} and OAuth {error, error_description}).
type apiError struct {
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func decodeError(status int, body []byte) error {
	var ae apiError
	_ = json.Unmarshal(body, &ae)
	code := ae.ErrorCode
	if code == "" {
		code = ae.Error
	}
	msg := firstNonEmpty(ae.Msg, ae.Message, ae.ErrorDescription, strings.TrimSpace(string(body)))
	return &provider.Error{Status: status, Code: code, Message: msg, Kind: classify(status, code, msg)}
}

func classify(status int, code, msg string) error {
	lower := strings.ToLower(msg)
	switch code {
	case "invalid_credentials":
		return provider.ErrInvalidCredentials
	case "user_already_exists", "email_exists":
		return provider.ErrUserExists
	case "weak_password":
		return provider.ErrWeakPassword
	case "mfa_verification_failed":
		return provider.ErrInvalidMFACode
	case "mfa_challenge_expired":
		return provider.ErrChallengeExpired
	case "refresh_token_not_found", "refresh_token_already_used", "session_not_found", "session_expired", "bad_jwt", "no_authorization":
		return provider.ErrUnauthorized
	case "invalid_grant":
		if strings.Contains(lower, "invalid login credentials") {
			return provider.ErrInvalidCredentials
		}
		return provider.ErrUnauthorized
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return provider.ErrUnauthorized
	case status == http.StatusTooManyRequests || status >= 500:
		return provider.ErrTransport
	case strings.Contains(lower, "invalid totp code"):
		return provider.ErrInvalidMFACode
	case strings.Contains(lower, "challenge") && strings.Contains(lower, "expired"):
		return provider.ErrChallengeExpired
	}
	return provider.ErrRejected
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
