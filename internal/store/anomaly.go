package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

func (s *Store) GetAnomalyModel(ctx context.Context, assetID, metric string) (*AnomalyModel, error) {
	var m AnomalyModel
	err := s.pool.QueryRow(ctx, `
		SELECT id, asset_id, metric, version, sample_count, mean, m2, updated_at
		FROM anomaly_models WHERE asset_id = $1 AND metric = $2`, assetID, metric).
		Scan(&m.ID, &m.AssetID, &m.Metric, &m.Version, &m.SampleCount, &m.Mean, &m.M2, &m.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

// SaveAnomalyModel upserts the rolling baseline keyed by (asset, metric).
func (s *Store) SaveAnomalyModel(ctx context.Context, m *AnomalyModel) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.UpdatedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO anomaly_models (id, asset_id, metric, version, sample_count, mean, m2, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (asset_id, metric) DO UPDATE
		SET version = EXCLUDED.version, sample_count = EXCLUDED.sample_count,
		    mean = EXCLUDED.mean, m2 = EXCLUDED.m2, updated_at = EXCLUDED.updated_at`,
		m.ID, m.AssetID, m.Metric, m.Version, m.SampleCount, m.Mean, m.M2, m.UpdatedAt)
	return err
}

func (s *Store) InsertAnomalyEvent(ctx context.Context, e *AnomalyEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.DetectedAt.IsZero() {
		e.DetectedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO anomaly_events (id, asset_id, metric, model_version, value, score,
			model_mean, model_stddev, resolved, detected_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		e.ID, e.AssetID, e.Metric, e.ModelVersion, e.Value, e.Score,
		e.ModelMean, e.ModelStdDev, e.Resolved, e.DetectedAt)
	return err
}

func (s *Store) ResolveAnomalyEvent(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `UPDATE anomaly_events SET resolved = true WHERE id = $1`, id)
	return err
}
