package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/open-dqm/open-dqm/internal/config"
	"github.com/open-dqm/open-dqm/internal/logging"
	"github.com/open-dqm/open-dqm/internal/metrics"
	"github.com/open-dqm/open-dqm/internal/scan"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the background scan scheduler without the HTTP API.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorker()
	},
}

func runWorker() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.ScanInterval <= 0 {
		return errors.New("SCAN_INTERVAL must be > 0 to run the worker")
	}
	logger, err := logging.BootstrapFromEnv(logging.BootstrapOptions{Command: "worker"})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	eng, err := buildEngine(ctx, cfg, pool, logger)
	if err != nil {
		return err
	}
	defer eng.Close()

	metrics.StartServer(ctx, cfg.MetricsAddr)

	logger.Info("scan worker started", "interval", cfg.ScanInterval, "workers", cfg.ScanWorkers)
	scheduler := scan.Scheduler{Runner: eng.runner, Interval: cfg.ScanInterval}
	scheduler.Run(ctx)
	return nil
}
