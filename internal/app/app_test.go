package app

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nuomoria/backend/internal/config"
	"nuomoria/backend/internal/localstate"
)

func roundTrip(t *testing.T, st localstate.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.Set(ctx, "profile.lastRole", []byte("landlord"), 0))
	got, err := st.Get(ctx, "profile.lastRole")
	require.NoError(t, err)
	assert.Equal(t, "landlord", string(got))
	require.NoError(t, st.Close())
}

func TestOpenState_Memory(t *testing.T) {
	st, err := OpenState(context.Background(), &config.Config{StateBackend: config.StateBackendMemory})
	require.NoError(t, err)
	roundTrip(t, st)
}

func TestOpenState_Badger(t *testing.T) {
	st, err := OpenState(context.Background(), &config.Config{StateBackend: config.StateBackendBadger, StateDir: t.TempDir()})
	require.NoError(t, err)
	roundTrip(t, st)
}

func TestOpenState_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	st, err := OpenState(context.Background(), &config.Config{
		StateBackend:   config.StateBackendRedis,
		RedisURL:       "redis://" + mr.Addr(),
		StateKeyPrefix: "test",
	})
	require.NoError(t, err)
	roundTrip(t, st)
	assert.True(t, mr.Exists("test:profile.lastRole"))
}

func TestOpenState_Unknown(t *testing.T) {
	_, err := OpenState(context.Background(), &config.Config{StateBackend: "etcd"})
	assert.Error(t, err)
}

func TestNew_RequiresDatabase(t *testing.T) {
	cfg := &config.Config{
		StateBackend: config.StateBackendMemory,
		AuthURL:      "https://auth.example.test",
		AuthAnonKey:  "anon",
		ServiceName:  "test",
	}
	_, err := New(context.Background(), cfg, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}
