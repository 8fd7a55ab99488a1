package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/climateriver/river/internal/app"
	"github.com/climateriver/river/internal/platform/config"
	db "github.com/climateriver/river/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := newLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	poolOpts := db.PoolOptions{
		MaxConns:          cfg.DBMaxConnections,
		MinConns:          cfg.DBMinConnections,
		MaxConnIdleTime:   cfg.DBMaxConnIdleTime,
		MaxConnLifetime:   cfg.DBMaxConnLifetime,
		HealthCheckPeriod: cfg.DBHealthCheckPeriod,
		StatementTimeout:  cfg.DBStatementTimeout,
	}

	database, err := db.NewWithOptions(ctx, cfg.DatabaseURL, poolOpts, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}

	application := app.New(cfg, database, &logger)

	go func() {
		if err := application.StartHealthServer(ctx); err != nil {
			logger.Error().Err(err).Msg("health server error")
		}
	}()

	if err := application.RunCronServer(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info().Msg("server stopped")

			return
		}

		logger.Fatal().Err(err).Msg("server error")
	}
}

func newLogger(appEnv string) zerolog.Logger {
	if appEnv == "local" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
