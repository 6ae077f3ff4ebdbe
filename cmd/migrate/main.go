// migrate applies the profile-store schema from embedded SQL; go run ./cmd/migrate -direction up.
package main

import (
	"flag"
	"os"

	"nuomoria/backend/internal/config"
	"nuomoria/backend/internal/db/migrate"
	"nuomoria/backend/internal/logger"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up, down or version")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		l := logger.Setup("info", false)
		l.Fatal().Err(err).Msg("config")
	}
	log := logger.Setup(cfg.LogLevel, cfg.LogPretty)
	if cfg.DatabaseURL == "" {
		log.Error().Msg("DATABASE_URL is not set; create a .env or set DATABASE_URL")
		os.Exit(1)
	}

	var st migrate.Status
	if *direction == "version" {
		st, err = migrate.Version(cfg.DatabaseURL)
	} else {
		st, err = migrate.Run(cfg.DatabaseURL, *direction)
	}
	if err != nil {
		log.Error().Err(err).Str("direction", *direction).Msg("migrate")
		os.Exit(1)
	}
	log.Info().Uint("version", st.Version).Bool("dirty", st.Dirty).Str("direction", *direction).Msg("migrate: done")
}
