package main

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/open-dqm/open-dqm/internal/alerting"
	"github.com/open-dqm/open-dqm/internal/anomaly"
	"github.com/open-dqm/open-dqm/internal/cache"
	"github.com/open-dqm/open-dqm/internal/config"
	"github.com/open-dqm/open-dqm/internal/cost"
	"github.com/open-dqm/open-dqm/internal/evaluate"
	"github.com/open-dqm/open-dqm/internal/grouping"
	"github.com/open-dqm/open-dqm/internal/notify"
	"github.com/open-dqm/open-dqm/internal/queryexec"
	"github.com/open-dqm/open-dqm/internal/scan"
	"github.com/open-dqm/open-dqm/internal/scoring"
	"github.com/open-dqm/open-dqm/internal/sla"
	"github.com/open-dqm/open-dqm/internal/store"
	"github.com/open-dqm/open-dqm/internal/suppress"
	"github.com/redis/go-redis/v9"
)

// engine bundles the wired evaluation stack shared by serve, worker, and
// the one-shot scan command.
type engine struct {
	store    *store.Store
	exec     queryexec.Executor
	governor *cost.Governor
	monitor  *sla.Monitor
	grouper  *grouping.Grouper
	scores   *cache.ScoreCache
	runner   *scan.ScanRunner
}

func buildEngine(ctx context.Context, cfg config.Config, pool *pgxpool.Pool, logger *slog.Logger) (*engine, error) {
	st := store.New(pool)

	exec := queryexec.NewReliabilityExecutor(
		queryexec.NewSQLExecutor(cfg.QueryTimeout), cfg.QueryRateLimit)

	governor := cost.NewGovernor(st, logger, cfg.CostDailyBudget, cfg.CostMonthlyBudget)
	if err := governor.Seed(ctx); err != nil {
		return nil, err
	}

	dims := &scoring.DimensionScorer{Results: st, Window: cfg.ScoreWindow}

	channels := []notify.Channel{&notify.LogChannel{Logger: logger}}
	routes := []notify.Route{{Channels: []string{"log"}}}
	if cfg.AlertWebhookURL != "" {
		channels = append(channels, notify.NewWebhookChannel("webhook", cfg.AlertWebhookURL))
		routes = append(routes, notify.Route{
			MinSeverity: cfg.AlertWebhookMinSeverity,
			Channels:    []string{"webhook"},
		})
	}

	pipeline := &alerting.Pipeline{
		Store:       st,
		Criticality: &scoring.CriticalityScorer{History: st},
		Suppress:    suppress.NewFilter(st),
		Groups:      &grouping.Grouper{Store: st},
		Router:      notify.NewRouter(routes, channels, logger),
		Logger:      logger,
	}

	evaluator := &evaluate.Evaluator{
		Rules:              st,
		Results:            st,
		Issues:             st,
		Exec:               exec,
		Anomaly:            anomaly.NewDetector(st, cfg.AnomalySensitivity, cfg.AnomalyMinSamples),
		Cost:               governor,
		Pipeline:           pipeline,
		Logger:             logger,
		ConfigFailureLimit: cfg.ConfigFailureLimit,
	}

	monitor := sla.NewMonitor(st, dims, logger, cfg.ComplianceWindows)

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}
	scores := cache.NewScoreCache(redisClient, dims, cfg.ScoreCacheTTL, logger)

	locks, err := scan.NewLockManager(pool, scan.LockManagerConfig{})
	if err != nil {
		return nil, err
	}

	runner := &scan.ScanRunner{
		Store:       st,
		Evaluator:   evaluator,
		Contracts:   monitor,
		Cache:       scores,
		Suppression: pipeline,
		Locks:       locks,
		Logger:      logger,
		Workers:     cfg.ScanWorkers,
	}

	return &engine{
		store:    st,
		exec:     exec,
		governor: governor,
		monitor:  monitor,
		grouper:  pipeline.Groups,
		scores:   scores,
		runner:   runner,
	}, nil
}

func (e *engine) Close() {
	if err := e.exec.Close(); err != nil {
		slog.Warn("closing query executor", "err", err)
	}
}
