package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/open-dqm/open-dqm/internal/config"
	httpapp "github.com/open-dqm/open-dqm/internal/http"
	"github.com/open-dqm/open-dqm/internal/http/handlers"
	"github.com/open-dqm/open-dqm/internal/logging"
	"github.com/open-dqm/open-dqm/internal/metrics"
	"github.com/open-dqm/open-dqm/internal/scan"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and background scan scheduler.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.BootstrapFromEnv(logging.BootstrapOptions{Command: "serve"})
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

	if cfg.ScanInterval > 0 {
		scheduler := scan.Scheduler{Runner: eng.runner, Interval: cfg.ScanInterval}
		go scheduler.Run(ctx)
	}

	metricsServer, metricsErrCh := metrics.StartServer(ctx, cfg.MetricsAddr)

	srv, err := httpapp.NewEchoServer(&handlers.Handlers{
		Store:      eng.store,
		Scanner:    eng.runner,
		Scores:     eng.scores,
		Compliance: eng.monitor,
		Groups:     eng.grouper,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr)
		errCh <- srv.StartServer(httpServer)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		if metricsServer != nil {
			_ = metricsServer.Shutdown(shutdownCtx)
		}
		return nil
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-metricsErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
