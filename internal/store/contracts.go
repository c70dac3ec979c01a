package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

func (s *Store) CreateContract(ctx context.Context, c *Contract) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	thresholds, err := json.Marshal(c.Thresholds)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO data_contracts (id, name, owner, asset_ids, thresholds, enforcement,
			penalty, enabled, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		c.ID, c.Name, c.Owner, c.AssetIDs, thresholds, c.Enforcement, c.Penalty,
		c.Enabled, c.CreatedAt)
	return err
}

func (s *Store) ListContracts(ctx context.Context, enabledOnly bool) ([]Contract, error) {
	q := `SELECT id, name, owner, asset_ids, thresholds, enforcement, penalty, enabled, created_at
		FROM data_contracts`
	if enabledOnly {
		q += ` WHERE enabled`
	}
	q += ` ORDER BY created_at`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Contract
	for rows.Next() {
		var c Contract
		var thresholds []byte
		if err := rows.Scan(&c.ID, &c.Name, &c.Owner, &c.AssetIDs, &thresholds,
			&c.Enforcement, &c.Penalty, &c.Enabled, &c.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(thresholds, &c.Thresholds); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const violationColumns = `id, contract_id, asset_id, metric, expected, actual, deviation,
	severity, detected_at, resolved_at, open`

// GetOpenViolation finds the currently open breach for one
// (contract, asset, metric), if any.
func (s *Store) GetOpenViolation(ctx context.Context, contractID, assetID, metric string) (*Violation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+violationColumns+` FROM sla_violations
		WHERE contract_id = $1 AND asset_id = $2 AND metric = $3 AND open
		LIMIT 1`, contractID, assetID, metric)
	return scanViolation(row)
}

func (s *Store) InsertViolation(ctx context.Context, v *Violation) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.DetectedAt.IsZero() {
		v.DetectedAt = time.Now().UTC()
	}
	v.Open = true
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sla_violations (id, contract_id, asset_id, metric, expected, actual,
			deviation, severity, detected_at, open)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,true)`,
		v.ID, v.ContractID, v.AssetID, v.Metric, v.Expected, v.Actual, v.Deviation,
		v.Severity, v.DetectedAt)
	return err
}

// UpdateViolationActual refreshes the observed value on a re-breach instead of
// opening a duplicate.
func (s *Store) UpdateViolationActual(ctx context.Context, id string, actual, deviation float64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE sla_violations SET actual = $2, deviation = $3 WHERE id = $1 AND open`, id, actual, deviation)
	return err
}

// ResolveViolation closes the breach. resolved_at is write-once.
func (s *Store) ResolveViolation(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sla_violations
		SET open = false, resolved_at = COALESCE(resolved_at, $2)
		WHERE id = $1`, id, at)
	return err
}

func (s *Store) CountOpenViolations(ctx context.Context, contractID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM sla_violations WHERE contract_id = $1 AND open`, contractID).Scan(&n)
	return n, err
}

// RecordComplianceWindow appends one check-window outcome for the rolling
// compliance rate.
func (s *Store) RecordComplianceWindow(ctx context.Context, contractID string, compliant bool, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO compliance_windows (id, contract_id, compliant, checked_at)
		VALUES ($1,$2,$3,$4)`, uuid.NewString(), contractID, compliant, at)
	return err
}

// RecentComplianceWindows returns the outcomes of the most recent check
// windows, newest first.
func (s *Store) RecentComplianceWindows(ctx context.Context, contractID string, limit int) ([]bool, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := s.pool.Query(ctx, `
		SELECT compliant FROM compliance_windows
		WHERE contract_id = $1
		ORDER BY checked_at DESC LIMIT $2`, contractID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []bool
	for rows.Next() {
		var c bool
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanViolation(row interface{ Scan(...any) error }) (*Violation, error) {
	var v Violation
	var resolved *time.Time
	err := row.Scan(&v.ID, &v.ContractID, &v.AssetID, &v.Metric, &v.Expected, &v.Actual,
		&v.Deviation, &v.Severity, &v.DetectedAt, &resolved, &v.Open)
	if err != nil {
		return nil, notFound(err)
	}
	if resolved != nil {
		v.ResolvedAt = *resolved
	}
	return &v, nil
}
