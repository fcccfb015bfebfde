package main

import (
	"os"

	"github.com/Rrens/insights-gateway/internal/config"
	"github.com/Rrens/insights-gateway/internal/logging"
	"github.com/Rrens/insights-gateway/internal/repository/postgres"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if _, err := logging.Setup(config.LoggingConfig{Level: cfg.Logging.Level, Format: "console"}); err != nil {
		log.Fatal().Err(err).Msg("Failed to set up logging")
	}

	if cfg.KnowledgeBase.Backend != "postgres" {
		log.Info().Str("backend", cfg.KnowledgeBase.Backend).Msg("Knowledge base has no SQL migrations, nothing to do")
		return
	}

	source := cfg.KnowledgeBase.MigrationsPath
	if len(os.Args) > 1 {
		source = os.Args[1]
	}

	log.Info().
		Str("host", cfg.Database.Host).
		Int("port", cfg.Database.Port).
		Str("source", source).
		Msg("Applying knowledge base migrations")

	if err := postgres.RunMigrations(cfg.Database.DSN(), source); err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
}
