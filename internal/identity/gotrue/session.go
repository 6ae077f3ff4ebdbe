package gotrue

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"nuomoria/backend/internal/identity/provider"
	"nuomoria/backend/internal/localstate"
	sessiondomain "nuomoria/backend/internal/session/domain"
)

// stored returns the locally persisted session, or provider.ErrNoSession.
func (c *Client) stored(ctx context.Context) (*sessiondomain.Session, error) {
	s, err := localstate.GetJSON[sessiondomain.Session](ctx, c.state, SessionKey)
	if errors.Is(err, localstate.ErrNotFound) {
		return nil, provider.ErrNoSession
	}
	if err != nil {
		return nil, err
	}
	if s.AccessToken == "" || s.RefreshToken == "" {
		return nil, provider.ErrNoSession
	}
	return s, nil
}

func (c *Client) save(ctx context.Context, s *sessiondomain.Session) error {
	if err := localstate.SetJSON(ctx, c.state, SessionKey, s, 0); err != nil {
		return fmt.Errorf("gotrue: persist session: %w", err)
	}
	return nil
}

func (c *Client) clearLocal(ctx context.Context) {
	if err := c.state.Delete(ctx, SessionKey, PKCEVerifierKey); err != nil {
		c.log.Warn().Err(err).Msg("gotrue: clear local session")
	}
}

// GetSession returns the persisted session after checking it with the provider.
// An expiring session is refreshed first. A rejected session is removed locally.
func (c *Client) GetSession(ctx context.Context) (*sessiondomain.Session, error) {
	s, err := c.stored(ctx)
	if err != nil {
		return nil, err
	}
	if !s.ExpiresAt.IsZero() && c.nowF().Add(refreshMargin).After(s.ExpiresAt) {
		s, err = c.refresh(ctx, s.RefreshToken, false)
		if err != nil {
			return nil, err
		}
	}

	var u wireUser
	if err := c.do(ctx, http.MethodGet, "/user", s.AccessToken, nil, &u); err != nil {
		if provider.IsTerminal(err) {
			c.clearLocal(ctx)
		}
		return nil, err
	}
	s.Principal = u.principal()
	s.NextAAL = nextAAL(s.Principal)
	if err := c.save(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// RefreshSession exchanges the refresh token for a new session and emits TokenRefreshed.
// A rejected refresh token signs the session out.
func (c *Client) RefreshSession(ctx context.Context) (*sessiondomain.Session, error) {
	s, err := c.stored(ctx)
	if err != nil {
		return nil, err
	}
	return c.refresh(ctx, s.RefreshToken, true)
}

func (c *Client) refresh(ctx context.Context, refreshToken string, force bool) (*sessiondomain.Session, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// Another caller may have rotated the token while we waited.
	cur, curErr := c.stored(ctx)
	if curErr == nil && cur.RefreshToken != refreshToken && !force {
		return cur, nil
	}

	var tr tokenResponse
	err := c.do(ctx, http.MethodPost, "/token?grant_type=refresh_token", "",
		map[string]string{"refresh_token": refreshToken}, &tr)
	if err != nil {
		if provider.IsTerminal(err) {
			c.clearLocal(ctx)
			c.emit(provider.Event{Kind: provider.EventSignedOut})
		}
		return nil, err
	}
	s := tr.toSession(c.nowF())
	if s.Principal == nil && curErr == nil {
		s.Principal = cur.Principal
		s.NextAAL = nextAAL(cur.Principal)
	}
	if err := c.save(ctx, s); err != nil {
		return nil, err
	}
	c.emit(provider.Event{Kind: provider.EventTokenRefreshed, Session: s})
	return s, nil
}

// AutoRefresh refreshes the session whenever it is about to expire, until ctx is done.
func (c *Client) AutoRefresh(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = refreshMargin
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s, err := c.stored(ctx)
			if err != nil {
				continue
			}
			if s.ExpiresAt.IsZero() || c.nowF().Add(interval+refreshMargin).Before(s.ExpiresAt) {
				continue
			}
			if _, err := c.refresh(ctx, s.RefreshToken, false); err != nil {
				c.log.Warn().Err(err).Msg("gotrue: auto refresh")
			}
		}
	}
}

// SignOut revokes the session with the provider and always clears it locally.
func (c *Client) SignOut(ctx context.Context) error {
	s, err := c.stored(ctx)
	var remoteErr error
	if err == nil {
		remoteErr = c.do(ctx, http.MethodPost, "/logout?scope=local", s.AccessToken, nil, nil)
		if remoteErr != nil && !provider.IsTerminal(remoteErr) {
			c.log.Warn().Err(remoteErr).Msg("gotrue: remote sign out failed, clearing locally")
		}
	}
	c.clearLocal(ctx)
	c.emit(provider.Event{Kind: provider.EventSignedOut})
	return nil
}
