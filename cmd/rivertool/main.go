// rivertool runs one-off pipeline maintenance from the command line.
package main

import (
	"context"
	"flag"
	"fmt"
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
	mode := flag.String("mode", "", "Tool mode (backfill, maintain, retention, migrate)")

	flag.Parse()

	if err := run(*mode); err != nil {
		log.Printf("rivertool: %v", err)
		os.Exit(1)
	}
}

func run(mode string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.New(ctx, cfg.DatabaseURL, &logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	application := app.New(cfg, database, &logger)

	switch mode {
	case "backfill":
		return application.RunBackfill(ctx)
	case "maintain":
		return application.RunMaintain(ctx)
	case "retention":
		_, err := application.RunRetention(ctx)

		return err
	case "migrate":
		// Migrations already ran above.
		return nil
	default:
		return fmt.Errorf("usage: %s --mode=[backfill|maintain|retention|migrate]", os.Args[0])
	}
}

func newLogger(appEnv string) zerolog.Logger {
	if appEnv == "local" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
