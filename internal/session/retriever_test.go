package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	identitydomain "nuomoria/backend/internal/identity/domain"
	"nuomoria/backend/internal/identity/provider"
	"nuomoria/backend/internal/identity/provider/providertest"
	"nuomoria/backend/internal/localstate"
)

var fastConfig = Config{Attempts: 6, Delay: time.Millisecond, AttemptTimeout: 50 * time.Millisecond}

func principal() *identitydomain.Principal {
	return &identitydomain.Principal{ID: "11111111-1111-1111-1111-111111111111", Email: "jonas@example.lt"}
}

func TestRetrieve_Ready(t *testing.T) {
	f := providertest.New()
	f.Session = providertest.NewSession(principal(), "aal1", "aal1")
	r := NewRetriever(f, nil, fastConfig, zerolog.Nop())

	res, err := r.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusReady, res.Status)
	assert.Equal(t, principal().ID, res.Session.PrincipalID())
	assert.Equal(t, 1, f.GetSessionCalls)
}

func TestRetrieve_SessionAppearsAfterRetries(t *testing.T) {
	f := providertest.New()
	f.Session = providertest.NewSession(principal(), "aal1", "aal1")
	f.GetSessionErrs = []error{provider.ErrNoSession, provider.ErrNoSession, provider.ErrTransport}
	r := NewRetriever(f, nil, fastConfig, zerolog.Nop())

	res, err := r.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusReady, res.Status)
	assert.Equal(t, 4, f.GetSessionCalls)
}

func TestRetrieve_NoSessionExhaustsToSignedOut(t *testing.T) {
	f := providertest.New()
	r := NewRetriever(f, nil, fastConfig, zerolog.Nop())

	res, err := r.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusSignedOut, res.Status)
	assert.Equal(t, 6, f.GetSessionCalls)
}

func TestRetrieve_TerminalStopsImmediately(t *testing.T) {
	f := providertest.New()
	f.GetSessionErrs = []error{fmt.Errorf("user: %w", provider.ErrUnauthorized)}
	r := NewRetriever(f, nil, fastConfig, zerolog.Nop())

	_, err := r.Retrieve(context.Background())
	assert.True(t, provider.IsTerminal(err))
	assert.Equal(t, 1, f.GetSessionCalls)
}

func transportErrs(n int) []error {
	errs := make([]error, n)
	for i := range errs {
		errs[i] = provider.ErrTransport
	}
	return errs
}

func TestRetrieve_TransportExhaustedIsNotReady(t *testing.T) {
	f := providertest.New()
	f.GetSessionErrs = transportErrs(6)
	r := NewRetriever(f, NewDirectCache(localstate.NewMemoryStore(), 0), fastConfig, zerolog.Nop())

	res, err := r.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusNotReady, res.Status)
}

func TestRetrieve_AttemptTimeoutCountsAsTransport(t *testing.T) {
	f := providertest.New()
	f.Session = providertest.NewSession(principal(), "aal1", "aal1")
	f.GetSessionDelay = time.Second
	cfg := Config{Attempts: 2, Delay: time.Millisecond, AttemptTimeout: 10 * time.Millisecond}
	r := NewRetriever(f, nil, cfg, zerolog.Nop())

	start := time.Now()
	res, err := r.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusNotReady, res.Status)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestRetrieve_TransportFallsBackToDirectCache(t *testing.T) {
	ctx := context.Background()
	cache := NewDirectCache(localstate.NewMemoryStore(), time.Hour)
	require.NoError(t, cache.Save(ctx, providertest.NewSession(principal(), "aal1", "aal1")))

	f := providertest.New()
	f.GetSessionErrs = transportErrs(6)
	r := NewRetriever(f, cache, fastConfig, zerolog.Nop())

	res, err := r.Retrieve(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusReady, res.Status)
	assert.True(t, res.FromCache)
	assert.Equal(t, principal().ID, res.Session.PrincipalID())
}

func TestRetrieve_NoSessionIgnoresDirectCache(t *testing.T) {
	ctx := context.Background()
	cache := NewDirectCache(localstate.NewMemoryStore(), time.Hour)
	require.NoError(t, cache.Save(ctx, providertest.NewSession(principal(), "aal1", "aal1")))

	r := NewRetriever(providertest.New(), cache, fastConfig, zerolog.Nop())
	res, err := r.Retrieve(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusSignedOut, res.Status)
}

func TestDirectCache_Stale(t *testing.T) {
	ctx := context.Background()
	cache := NewDirectCache(localstate.NewMemoryStore(), 24*time.Hour)
	now := time.Now()
	cache.nowF = func() time.Time { return now }
	require.NoError(t, cache.Save(ctx, providertest.NewSession(principal(), "aal1", "aal1")))

	now = now.Add(23 * time.Hour)
	s, err := cache.Load(ctx)
	require.NoError(t, err)
	assert.NotNil(t, s)

	now = now.Add(2 * time.Hour)
	s, err = cache.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, s)
}
