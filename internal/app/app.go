// Package app wires configuration into a running reconciler: local state,
// provider client, profile store, telemetry.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"nuomoria/backend/internal/config"
	"nuomoria/backend/internal/db"
	"nuomoria/backend/internal/identity/gotrue"
	identityrepo "nuomoria/backend/internal/identity/repository"
	"nuomoria/backend/internal/localstate"
	"nuomoria/backend/internal/mfa"
	"nuomoria/backend/internal/profile"
	"nuomoria/backend/internal/reconciler"
	"nuomoria/backend/internal/session"
	"nuomoria/backend/internal/signupintent"
	"nuomoria/backend/internal/telemetry"
	telemetryotel "nuomoria/backend/internal/telemetry/otel"
	userrepo "nuomoria/backend/internal/user/repository"
)

// telemetryShutdown lets in-flight async emits finish before the exporters close.
const telemetryShutdown = 2 * telemetry.ShutdownDrainDuration

// App holds the wired components of one client profile.
type App struct {
	Config     *config.Config
	Log        zerolog.Logger
	State      localstate.Store
	Provider   *gotrue.Client
	Reconciler *reconciler.Reconciler
	Service    *reconciler.Service

	pool      *pgxpool.Pool
	providers *telemetryotel.Providers
}

// New opens every backend named by cfg. The reconciler is not started.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (_ *App, err error) {
	a := &App{Config: cfg, Log: log}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	a.providers, err = telemetryotel.NewProviders(ctx, telemetryotel.Options{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.ServiceName,
		Insecure:    cfg.OTLPInsecure,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	a.providers.SetGlobal()
	metrics, err := telemetryotel.NewInstruments(a.providers.MeterProvider, a.providers.TracerProvider)
	if err != nil {
		return nil, fmt.Errorf("telemetry instruments: %w", err)
	}

	a.State, err = OpenState(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("app: DATABASE_URL must be set")
	}
	a.pool, err = db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	opts := []gotrue.Option{gotrue.WithLogger(log.With().Str("component", "gotrue").Logger())}
	if cfg.AuthRedirectURL != "" {
		opts = append(opts, gotrue.WithRedirectURL(cfg.AuthRedirectURL))
	}
	a.Provider = gotrue.New(cfg.AuthURL, cfg.AuthAnonKey, a.State, opts...)

	intents := signupintent.NewStore(a.State, cfg.Freshness())
	cache := session.NewDirectCache(a.State, cfg.DirectCacheTTL())
	retriever := session.NewRetriever(a.Provider, cache, session.Config{
		Attempts:       cfg.SessionRetryAttempts,
		Delay:          cfg.RetryDelay(),
		AttemptTimeout: cfg.AttemptTimeout(),
	}, log.With().Str("component", "session").Logger())
	coordinator := mfa.NewCoordinator(a.Provider, a.State, log.With().Str("component", "mfa").Logger())
	resolver := profile.NewResolver(
		userrepo.NewPostgresRepository(a.pool),
		identityrepo.NewPostgresRepository(a.pool),
		intents, a.State,
		log.With().Str("component", "profile").Logger(),
	)

	a.Reconciler = reconciler.New(reconciler.Deps{
		Provider:    a.Provider,
		Retriever:   retriever,
		DirectCache: cache,
		MFA:         coordinator,
		Resolver:    resolver,
		Intents:     intents,
		Emitter:     telemetryotel.NewEventEmitter(a.providers.LoggerProvider),
		Metrics:     metrics,
	}, reconciler.Config{
		Timebox:          cfg.Timebox(),
		ResolverDeadline: cfg.ResolveDeadline(),
	}, log.With().Str("component", "reconciler").Logger())
	a.Service = reconciler.NewService(a.Reconciler, log.With().Str("component", "service").Logger())
	return a, nil
}

// OpenState opens the local state backend selected by STATE_BACKEND.
func OpenState(ctx context.Context, cfg *config.Config) (localstate.Store, error) {
	switch cfg.StateBackend {
	case config.StateBackendRedis:
		return localstate.OpenRedis(ctx, cfg.RedisURL, cfg.StateKeyPrefix)
	case config.StateBackendMemory:
		return localstate.NewMemoryStore(), nil
	case config.StateBackendBadger, "":
		return localstate.OpenBadger(cfg.StateDir, cfg.StateKeyPrefix)
	default:
		return nil, fmt.Errorf("app: unknown state backend %q", cfg.StateBackend)
	}
}

// Close stops the reconciler and releases every backend. Safe on a partly built App.
func (a *App) Close(ctx context.Context) {
	if a.Reconciler != nil {
		if err := a.Reconciler.Stop(ctx); err != nil {
			a.Log.Warn().Err(err).Msg("app: stop reconciler")
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.State != nil {
		if err := a.State.Close(); err != nil {
			a.Log.Warn().Err(err).Msg("app: close local state")
		}
	}
	if a.providers != nil {
		sctx, cancel := context.WithTimeout(ctx, telemetryShutdown)
		defer cancel()
		_ = a.providers.Shutdown(sctx)
	}
}
