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
	"github.com/open-dqm/open-dqm/internal/scan"
	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run a single scan pass and exit.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScan()
	},
}

func runScan() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.BootstrapFromEnv(logging.BootstrapOptions{Command: "scan"})
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

	if err := eng.runner.RunOnce(ctx); err != nil {
		switch {
		case errors.Is(err, scan.ErrScanAlreadyRunning):
			return &exitError{code: 2, err: err}
		case errors.Is(err, scan.ErrNoAssets):
			logger.Warn("nothing to scan, no assets registered")
			return nil
		default:
			return err
		}
	}
	return nil
}
