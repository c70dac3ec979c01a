package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

func (s *Store) CreateSuppressionRule(ctx context.Context, r *SuppressionRule) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO suppression_rules (id, name, condition, params, priority, enabled, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (name) DO NOTHING`,
		r.ID, r.Name, r.Condition, r.Params, r.Priority, r.Enabled, r.CreatedAt)
	return err
}

// ListActiveSuppressionRules returns enabled rules in ascending priority
// order; the first match wins.
func (s *Store) ListActiveSuppressionRules(ctx context.Context) ([]SuppressionRule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, condition, params, priority, enabled, created_at
		FROM suppression_rules
		WHERE enabled
		ORDER BY priority, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SuppressionRule
	for rows.Next() {
		var r SuppressionRule
		if err := rows.Scan(&r.ID, &r.Name, &r.Condition, &r.Params, &r.Priority, &r.Enabled, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) InsertSuppression(ctx context.Context, sup *Suppression) error {
	if sup.ID == "" {
		sup.ID = uuid.NewString()
	}
	if sup.AppliedAt.IsZero() {
		sup.AppliedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO alert_suppressions (id, alert_id, suppression_rule_id, condition, applied_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (alert_id) DO NOTHING`,
		sup.ID, sup.AlertID, sup.SuppressionRuleID, sup.Condition, sup.AppliedAt)
	return err
}

func (s *Store) GetSuppressionForAlert(ctx context.Context, alertID string) (*Suppression, error) {
	var sup Suppression
	err := s.pool.QueryRow(ctx, `
		SELECT id, alert_id, suppression_rule_id, condition, applied_at
		FROM alert_suppressions WHERE alert_id = $1`, alertID).
		Scan(&sup.ID, &sup.AlertID, &sup.SuppressionRuleID, &sup.Condition, &sup.AppliedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &sup, nil
}

// UnsuppressByRule clears the suppressed flag on alerts whose winning rule was
// disabled. The applied suppression records are kept.
func (s *Store) UnsuppressByRule(ctx context.Context, suppressionRuleID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE alerts SET suppressed = false, updated_at = now()
		WHERE suppressed AND id IN (
			SELECT alert_id FROM alert_suppressions WHERE suppression_rule_id = $1
		)`, suppressionRuleID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
