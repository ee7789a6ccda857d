// Command agent runs the warehouse-side query agent. It connects to the
// orchestrator event stream, executes operations against the host account,
// and serves the local HTTP API for callbacks and health checks.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/mattn/go-sqlite3"

	"snowbridge/internal/app"
	"snowbridge/internal/config"
	"snowbridge/internal/db"
	"snowbridge/internal/logs"
	"snowbridge/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load .env file (if present). Failures are non-fatal: inside the
	// container platform all configuration arrives via the environment.
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not load .env: %v\n", err)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Every log record is teed into the ring so get_logs operations can
	// return recent history without touching the platform log table.
	ring := logs.NewRing(logs.DefaultRingCapacity)
	handler := logs.NewTeeHandler(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}), ring)
	logger := slog.New(handler)
	slog.SetDefault(logger)

	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	ledgerDB, err := db.Open(cfg.LedgerPath)
	if err != nil {
		return fmt.Errorf("open dispatch ledger: %w", err)
	}
	defer ledgerDB.Close()

	if err := db.Migrate(ledgerDB); err != nil {
		return fmt.Errorf("migrate dispatch ledger: %w", err)
	}

	a, err := app.New(ctx, app.Deps{
		Cfg:      cfg,
		LedgerDB: ledgerDB,
		Ring:     ring,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("build agent: %w", err)
	}

	srv := server.New(cfg, a.Dispatcher, a.Backend, a, a, a.MetricsHandler(), logger)

	a.Start(ctx)
	defer a.Stop()

	// Finish any restart that died between its suspend and resume. Runs in
	// the background; the maintenance loop retries until it succeeds.
	go func() {
		if err := a.Lifecycle.RetryPendingResume(ctx); err != nil {
			logger.Warn("pending service resume not finished", "error", err)
		}
	}()

	return srv.Run(ctx)
}
