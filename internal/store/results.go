package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

func (s *Store) InsertResult(ctx context.Context, r *Result) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.RunAt.IsZero() {
		r.RunAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rule_results (id, rule_id, asset_id, scan_id, status, metric_value,
			threshold_value, rows_checked, rows_failed, duration_ms, error_detail, run_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		r.ID, r.RuleID, r.AssetID, nullable(r.ScanID), r.Status, r.MetricValue,
		r.ThresholdValue, r.RowsChecked, r.RowsFailed, r.Duration.Milliseconds(),
		r.ErrorDetail, r.RunAt)
	return err
}

// DimensionCounts aggregates pass/fail counts for one dimension in a window.
type DimensionCounts struct {
	Dimension string
	Passed    int
	Failed    int
}

// CountResultsByDimension aggregates non-error results for an asset since the
// given time, joined to the owning rule's dimension.
func (s *Store) CountResultsByDimension(ctx context.Context, assetID string, since time.Time) ([]DimensionCounts, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT q.dimension,
		       count(*) FILTER (WHERE r.status = 'passed'),
		       count(*) FILTER (WHERE r.status = 'failed')
		FROM rule_results r
		JOIN quality_rules q ON q.id = r.rule_id
		WHERE r.asset_id = $1 AND r.run_at >= $2 AND r.status <> 'error'
		GROUP BY q.dimension`, assetID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DimensionCounts
	for rows.Next() {
		var c DimensionCounts
		if err := rows.Scan(&c.Dimension, &c.Passed, &c.Failed); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// RecentMetricValues returns the trailing metric values for one (rule, asset),
// newest first, for trend detection.
func (s *Store) RecentMetricValues(ctx context.Context, ruleID, assetID string, limit int) ([]float64, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.pool.Query(ctx, `
		SELECT metric_value FROM rule_results
		WHERE rule_id = $1 AND asset_id = $2 AND status <> 'error'
		ORDER BY run_at DESC LIMIT $3`, ruleID, assetID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
