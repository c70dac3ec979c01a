package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const scanColumns = `id, schedule, phase, assets_total, assets_scanned, rules_evaluated,
	rules_failed, rules_errored, rules_skipped, errors, started_at, finished_at`

func (s *Store) CreateScanRun(ctx context.Context, run *ScanRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Phase == "" {
		run.Phase = ScanPhasePending
	}
	if run.Errors == nil {
		run.Errors = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scan_runs (id, schedule, phase, assets_total, assets_scanned,
			rules_evaluated, rules_failed, rules_errored, rules_skipped, errors, started_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		run.ID, run.Schedule, run.Phase, run.AssetsTotal, run.AssetsScanned,
		run.RulesEvaluated, run.RulesFailed, run.RulesErrored, run.RulesSkipped,
		run.Errors, run.StartedAt)
	return err
}

func (s *Store) UpdateScanRun(ctx context.Context, run *ScanRun) error {
	if run.Errors == nil {
		run.Errors = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE scan_runs
		SET phase=$2, assets_total=$3, assets_scanned=$4, rules_evaluated=$5,
		    rules_failed=$6, rules_errored=$7, rules_skipped=$8, errors=$9, finished_at=$10
		WHERE id=$1`,
		run.ID, run.Phase, run.AssetsTotal, run.AssetsScanned, run.RulesEvaluated,
		run.RulesFailed, run.RulesErrored, run.RulesSkipped, run.Errors,
		nullTime(run.FinishedAt))
	return err
}

func (s *Store) GetScanRun(ctx context.Context, id string) (*ScanRun, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+scanColumns+` FROM scan_runs WHERE id = $1`, id)
	return scanScanRun(row)
}

// GetRunningScan returns the in-flight scan, if one exists.
func (s *Store) GetRunningScan(ctx context.Context) (*ScanRun, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+scanColumns+` FROM scan_runs
		WHERE phase IN ('pending','evaluating','scoring')
		ORDER BY started_at DESC LIMIT 1`)
	return scanScanRun(row)
}

// LastCompletedScan returns the most recent scan that finished in the given
// phase (completed or failed).
func (s *Store) LastCompletedScan(ctx context.Context, phase string) (*ScanRun, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+scanColumns+` FROM scan_runs
		WHERE phase = $1
		ORDER BY started_at DESC LIMIT 1`, phase)
	return scanScanRun(row)
}

func scanScanRun(row interface{ Scan(...any) error }) (*ScanRun, error) {
	var run ScanRun
	var finished *time.Time
	err := row.Scan(&run.ID, &run.Schedule, &run.Phase, &run.AssetsTotal, &run.AssetsScanned,
		&run.RulesEvaluated, &run.RulesFailed, &run.RulesErrored, &run.RulesSkipped,
		&run.Errors, &run.StartedAt, &finished)
	if err != nil {
		return nil, notFound(err)
	}
	if finished != nil {
		run.FinishedAt = *finished
	}
	return &run, nil
}
