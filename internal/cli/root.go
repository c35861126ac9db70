package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"

	"github.com/sjperalta/fintera-ledger/internal/config"
	"github.com/sjperalta/fintera-ledger/internal/database"
	"github.com/sjperalta/fintera-ledger/internal/repository"
	"github.com/sjperalta/fintera-ledger/internal/services"
	"github.com/sjperalta/fintera-ledger/pkg/logger"
)

// app is what a command needs to run a batch job
type app struct {
	svcs  *services.Services
	close func()
}

// openApp builds the services over Postgres. Tests replace it with an
// in-memory store.
var openApp = func(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// stdout carries the run result only
	logger.SetupWriter(os.Stderr, cfg.Environment, cfg.LogLevel)

	sentryEnabled := false
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.Environment,
		}); err != nil {
			logger.Error("Sentry initialization failed", "error", err)
		} else {
			sentryEnabled = true
		}
	}

	db, err := database.Connect(cfg.DatabaseURL, cfg.Environment)
	if err != nil {
		return nil, err
	}

	return &app{
		svcs: services.NewServices(repository.NewRepositories(db), nil, cfg, nil),
		close: func() {
			if err := database.Close(db); err != nil {
				logger.Warn("failed to close database", "error", err)
			}
			if sentryEnabled {
				sentry.Flush(5 * time.Second)
			}
		},
	}, nil
}

var rootCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Commercial lending ledger maintenance",
	Long: `Batch maintenance for the lending ledger: recompute financial summaries
flagged dirty by ledger changes, rebuild one date for every company, and purge
rows left behind by earlier runs. Every job is a dry run unless --confirm is
given. The run result is printed to stdout as JSON; logs go to stderr.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// ExecuteContext runs the root command with a cancellable context
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
