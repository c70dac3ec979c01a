package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

func (s *Store) InsertCostRecord(ctx context.Context, r *CostRecord) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.RecordedAt.IsZero() {
		r.RecordedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO cost_records (id, rule_id, asset_id, scan_id, cost, recorded_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		r.ID, r.RuleID, r.AssetID, nullable(r.ScanID), r.Cost, r.RecordedAt)
	return err
}

// SumCostSince totals recorded spend at or after the given time. Used to seed
// the governor's in-process counters on startup.
func (s *Store) SumCostSince(ctx context.Context, since time.Time) (float64, error) {
	var total float64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(sum(cost), 0) FROM cost_records WHERE recorded_at >= $1`, since).Scan(&total)
	return total, err
}
