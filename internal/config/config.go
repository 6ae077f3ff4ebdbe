// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// State backends for the ephemeral local state store.
const (
	StateBackendBadger = "badger"
	StateBackendRedis  = "redis"
	StateBackendMemory = "memory"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// LogLevel is the zerolog level name (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	// LogPretty switches the logger to the human-readable console writer.
	LogPretty bool `mapstructure:"LOG_PRETTY"`

	// AuthURL is the base URL of the identity provider (e.g. https://xyz.supabase.co).
	AuthURL string `mapstructure:"AUTH_URL" validate:"required,url"`
	// AuthAnonKey is the public API key sent with every provider request.
	AuthAnonKey string `mapstructure:"AUTH_ANON_KEY" validate:"required"`
	// AuthRedirectURL is where the provider sends the browser after Google sign-in.
	AuthRedirectURL string `mapstructure:"AUTH_REDIRECT_URL" validate:"omitempty,url"`

	// DatabaseURL is the Postgres DSN of the profile store.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// StateBackend selects where signup intents, MFA markers and session snapshots live.
	StateBackend string `mapstructure:"STATE_BACKEND" validate:"oneof=badger redis memory"`
	// StateDir is the Badger directory when StateBackend is badger.
	StateDir string `mapstructure:"STATE_DIR"`
	// RedisURL is the redis:// URL when StateBackend is redis.
	RedisURL string `mapstructure:"REDIS_URL"`
	// StateKeyPrefix namespaces every local state key (one prefix per client profile).
	StateKeyPrefix string `mapstructure:"STATE_KEY_PREFIX"`

	// SessionRetryAttempts is how many times the provider is polled for a session (default 6).
	SessionRetryAttempts int `mapstructure:"SESSION_RETRY_ATTEMPTS" validate:"gte=1,lte=20"`
	// SessionRetryDelay is the fixed delay between session polls (e.g. "500ms").
	SessionRetryDelay string `mapstructure:"SESSION_RETRY_DELAY"`
	// SessionAttemptTimeout bounds a single session poll (e.g. "3s").
	SessionAttemptTimeout string `mapstructure:"SESSION_ATTEMPT_TIMEOUT"`
	// ReconcileTimebox is how long the reconciler waits for the profile store before falling back (e.g. "8s").
	ReconcileTimebox string `mapstructure:"RECONCILE_TIMEBOX"`
	// ResolverDeadline bounds a detached profile resolution after the time-box fired (e.g. "30s").
	ResolverDeadline string `mapstructure:"RESOLVER_DEADLINE"`
	// IntentFreshness is how long a signup intent stays usable (e.g. "10m").
	IntentFreshness string `mapstructure:"INTENT_FRESHNESS"`
	// DirectCacheMaxAge is the max age of the direct session snapshot used during provider outages (e.g. "24h").
	DirectCacheMaxAge string `mapstructure:"DIRECT_CACHE_MAX_AGE"`

	// OTLPEndpoint is the OTLP gRPC collector endpoint; empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces a plaintext connection to the collector.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// ServiceName is the OTel service.name resource attribute.
	ServiceName string `mapstructure:"OTEL_SERVICE_NAME"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("APP_ENV", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)
	v.SetDefault("AUTH_URL", "")
	v.SetDefault("AUTH_ANON_KEY", "")
	v.SetDefault("AUTH_REDIRECT_URL", "")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("STATE_BACKEND", StateBackendBadger)
	v.SetDefault("STATE_DIR", ".nuomoria/state")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("STATE_KEY_PREFIX", "nuomoria")
	v.SetDefault("SESSION_RETRY_ATTEMPTS", 6)
	v.SetDefault("SESSION_RETRY_DELAY", "500ms")
	v.SetDefault("SESSION_ATTEMPT_TIMEOUT", "3s")
	v.SetDefault("RECONCILE_TIMEBOX", "8s")
	v.SetDefault("RESOLVER_DEADLINE", "30s")
	v.SetDefault("INTENT_FRESHNESS", "10m")
	v.SetDefault("DIRECT_CACHE_MAX_AGE", "24h")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "nuomoria-auth")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.StateBackend = strings.ToLower(strings.TrimSpace(cfg.StateBackend))
	cfg.AuthURL = strings.TrimRight(strings.TrimSpace(cfg.AuthURL), "/")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags and cross-field rules. Returns the first failure as a config error.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("config: %s failed %q validation", verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("config: %w", err)
	}
	if c.StateBackend == StateBackendRedis && c.RedisURL == "" {
		return errors.New("config: REDIS_URL must be set when STATE_BACKEND=redis")
	}
	if c.StateBackend == StateBackendBadger && c.StateDir == "" {
		return errors.New("config: STATE_DIR must be set when STATE_BACKEND=badger")
	}
	if c.StateBackend == StateBackendMemory && c.Env == "production" {
		return errors.New("config: STATE_BACKEND=memory must not be used when APP_ENV=production")
	}
	return nil
}

// RetryDelay parses SessionRetryDelay. Returns 500ms if unset or invalid.
func (c *Config) RetryDelay() time.Duration {
	return parseDuration(c.SessionRetryDelay, 500*time.Millisecond)
}

// AttemptTimeout parses SessionAttemptTimeout. Returns 3s if unset or invalid.
func (c *Config) AttemptTimeout() time.Duration {
	return parseDuration(c.SessionAttemptTimeout, 3*time.Second)
}

// Timebox parses ReconcileTimebox. Returns 8s if unset or invalid.
func (c *Config) Timebox() time.Duration {
	return parseDuration(c.ReconcileTimebox, 8*time.Second)
}

// ResolveDeadline parses ResolverDeadline. Returns 30s if unset, invalid, or shorter than the time-box.
func (c *Config) ResolveDeadline() time.Duration {
	d := parseDuration(c.ResolverDeadline, 30*time.Second)
	if d < c.Timebox() {
		return 30 * time.Second
	}
	return d
}

// Freshness parses IntentFreshness. Returns 10m if unset or invalid.
func (c *Config) Freshness() time.Duration {
	return parseDuration(c.IntentFreshness, 10*time.Minute)
}

// DirectCacheTTL parses DirectCacheMaxAge. Returns 24h if unset or invalid.
func (c *Config) DirectCacheTTL() time.Duration {
	return parseDuration(c.DirectCacheMaxAge, 24*time.Hour)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
