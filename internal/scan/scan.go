package scan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/open-dqm/open-dqm/internal/evaluate"
	"github.com/open-dqm/open-dqm/internal/metrics"
	"github.com/open-dqm/open-dqm/internal/sla"
	"github.com/open-dqm/open-dqm/internal/store"
)

// Store is the persistence surface a scan pass needs.
type Store interface {
	CreateScanRun(ctx context.Context, run *store.ScanRun) error
	UpdateScanRun(ctx context.Context, run *store.ScanRun) error
	ListDataSources(ctx context.Context) ([]store.DataSource, error)
	ListAssets(ctx context.Context) ([]store.Asset, error)
}

// AssetEvaluator runs all rules for one asset.
type AssetEvaluator interface {
	EvaluateAsset(ctx context.Context, scanID string, ds *store.DataSource, asset store.Asset) (evaluate.AssetOutcome, error)
}

// ContractChecker runs SLA checks after scoring.
type ContractChecker interface {
	CheckAll(ctx context.Context) ([]sla.Breach, error)
}

// ScoreInvalidator drops cached scores for rescanned assets.
type ScoreInvalidator interface {
	Invalidate(ctx context.Context, assetIDs ...string)
}

// SuppressionReviewer re-checks suppressed open alerts against the live
// suppression rules and lifts the flag where none match anymore.
type SuppressionReviewer interface {
	ReviewSuppressed(ctx context.Context) (int, error)
}

// ScanRunner executes one full scan pass: one lock per schedule, parallel
// asset fan-out with per-asset serialization, then scoring and contract
// checks.
type ScanRunner struct {
	Store       Store
	Evaluator   AssetEvaluator
	Contracts   ContractChecker
	Cache       ScoreInvalidator
	Suppression SuppressionReviewer
	Locks       LockManager
	Logger      *slog.Logger

	Schedule string
	Workers  int
}

func (r *ScanRunner) RunOnce(ctx context.Context) error {
	schedule := r.Schedule
	if schedule == "" {
		schedule = "default"
	}

	if r.Locks != nil {
		lock, ok, err := r.Locks.TryAcquire(ctx, "scan", schedule)
		if err != nil {
			return fmt.Errorf("acquire scan lock: %w", err)
		}
		if !ok {
			return ErrScanAlreadyRunning
		}
		defer func() {
			if err := lock.Release(context.Background()); err != nil {
				r.log().Warn("scan lock release failed", "err", err)
			}
		}()

		hbCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		ctx = hbCtx
		stopHB := lock.StartHeartbeat(hbCtx, func(err error) {
			r.log().Error("scan lock lease lost, canceling pass", "err", err)
			cancel()
		})
		defer stopHB()
	}

	started := time.Now()
	err := r.run(ctx, schedule)
	metrics.ScanDuration.WithLabelValues(schedule).Observe(time.Since(started).Seconds())
	return err
}

func (r *ScanRunner) run(ctx context.Context, schedule string) error {
	sources, err := r.Store.ListDataSources(ctx)
	if err != nil {
		return fmt.Errorf("list data sources: %w", err)
	}
	byID := make(map[string]*store.DataSource, len(sources))
	for i := range sources {
		byID[sources[i].ID] = &sources[i]
	}

	assets, err := r.Store.ListAssets(ctx)
	if err != nil {
		return fmt.Errorf("list assets: %w", err)
	}
	if len(assets) == 0 {
		return ErrNoAssets
	}

	run := &store.ScanRun{
		Schedule:    schedule,
		Phase:       store.ScanPhasePending,
		AssetsTotal: len(assets),
		StartedAt:   time.Now().UTC(),
	}
	if err := r.Store.CreateScanRun(ctx, run); err != nil {
		return fmt.Errorf("create scan run: %w", err)
	}

	run.Phase = store.ScanPhaseEvaluating
	if err := r.Store.UpdateScanRun(ctx, run); err != nil {
		return err
	}
	r.log().Info("scan pass started", "scan_id", run.ID, "assets", len(assets), "workers", r.Workers)

	type assetPass struct {
		asset   store.Asset
		outcome evaluate.AssetOutcome
	}
	results := ParallelCollect(ctx, assets, r.Workers,
		func(ctx context.Context, asset store.Asset) (assetPass, error) {
			ds, ok := byID[asset.DataSourceID]
			if !ok {
				return assetPass{}, fmt.Errorf("asset %s: unknown data source %s", asset.ID, asset.DataSourceID)
			}
			outcome, err := r.Evaluator.EvaluateAsset(ctx, run.ID, ds, asset)
			return assetPass{asset: asset, outcome: outcome}, err
		},
		nil)

	scanned := make([]string, 0, len(results))
	errored := 0
	for _, res := range results {
		if res.Err != nil {
			errored++
			run.Errors = append(run.Errors, res.Err.Error())
			continue
		}
		run.AssetsScanned++
		scanned = append(scanned, res.Value.asset.ID)
		o := res.Value.outcome
		run.RulesEvaluated += o.Evaluated
		run.RulesFailed += o.Failed
		run.RulesErrored += o.Errored
		run.RulesSkipped += o.Skipped
	}

	if ctx.Err() != nil {
		return r.finish(run, schedule, store.ScanPhaseCanceled)
	}

	run.Phase = store.ScanPhaseScoring
	if err := r.Store.UpdateScanRun(context.Background(), run); err != nil {
		return err
	}
	if r.Cache != nil {
		r.Cache.Invalidate(context.Background(), scanned...)
	}
	if r.Contracts != nil {
		if _, err := r.Contracts.CheckAll(context.Background()); err != nil {
			run.Errors = append(run.Errors, fmt.Sprintf("contract checks: %v", err))
		}
	}
	if r.Suppression != nil {
		cleared, err := r.Suppression.ReviewSuppressed(context.Background())
		if err != nil {
			run.Errors = append(run.Errors, fmt.Sprintf("suppression review: %v", err))
		} else if cleared > 0 {
			r.log().Info("suppression review lifted alerts", "scan_id", run.ID, "cleared", cleared)
		}
	}

	phase := store.ScanPhaseCompleted
	if errored == len(assets) {
		phase = store.ScanPhaseFailed
	}
	return r.finish(run, schedule, phase)
}

func (r *ScanRunner) finish(run *store.ScanRun, schedule, phase string) error {
	run.Phase = phase
	run.FinishedAt = time.Now().UTC()
	// The scan context may already be canceled; the final write must land.
	if err := r.Store.UpdateScanRun(context.Background(), run); err != nil {
		return err
	}

	metrics.ScanRunsTotal.WithLabelValues(schedule, phase).Inc()
	if phase == store.ScanPhaseCompleted {
		metrics.ScanLastSuccessTimestamp.WithLabelValues(schedule).Set(float64(run.FinishedAt.Unix()))
	}
	r.log().Info("scan pass finished",
		"scan_id", run.ID,
		"phase", phase,
		"assets_scanned", run.AssetsScanned,
		"rules_evaluated", run.RulesEvaluated,
		"rules_failed", run.RulesFailed,
		"rules_errored", run.RulesErrored,
		"rules_skipped", run.RulesSkipped)
	return nil
}

func (r *ScanRunner) log() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
