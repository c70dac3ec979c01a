package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const alertColumns = `id, issue_id, rule_id, asset_id, category, dimension, severity, title,
	description, current_value, threshold_value, revenue_at_risk, affected_users, trend,
	crit_base, crit_financial, crit_users, crit_compliance, crit_trend, crit_downstream,
	crit_total, recommendations, suppressed, group_id, resolved, created_at, updated_at`

func (s *Store) InsertAlert(ctx context.Context, a *Alert) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	_, err := s.pool.Exec(ctx, `
		INSERT INTO alerts (id, issue_id, rule_id, asset_id, category, dimension, severity,
			title, description, current_value, threshold_value, revenue_at_risk, affected_users,
			trend, crit_base, crit_financial, crit_users, crit_compliance, crit_trend,
			crit_downstream, crit_total, recommendations, suppressed, group_id, resolved,
			created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,
			$22,$23,$24,$25,$26,$27)`,
		a.ID, a.IssueID, a.RuleID, a.AssetID, a.Category, a.Dimension, a.Severity,
		a.Title, a.Description, a.CurrentValue, a.ThresholdValue, a.RevenueAtRisk,
		a.AffectedUsers, a.Trend, a.Criticality.BaseSeverity, a.Criticality.FinancialImpact,
		a.Criticality.UserImpact, a.Criticality.ComplianceRisk, a.Criticality.Trend,
		a.Criticality.DownstreamImpact, a.Criticality.Total, a.Recommendations,
		a.Suppressed, nullable(a.GroupID), a.Resolved, a.CreatedAt, a.UpdatedAt)
	return err
}

// ListOpenAlertsForIssue returns the unresolved alerts tied to one issue.
func (s *Store) ListOpenAlertsForIssue(ctx context.Context, issueID string) ([]Alert, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+alertColumns+` FROM alerts
		WHERE issue_id = $1 AND NOT resolved
		ORDER BY created_at`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// ListSuppressedOpenAlerts returns unresolved alerts still carrying the
// suppressed flag, for periodic review against the live suppression rules.
func (s *Store) ListSuppressedOpenAlerts(ctx context.Context) ([]Alert, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+alertColumns+` FROM alerts
		WHERE suppressed AND NOT resolved
		ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// UpdateAlertCriticality rewrites the component breakdown after a recompute.
func (s *Store) UpdateAlertCriticality(ctx context.Context, id string, c CriticalityScore) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE alerts
		SET crit_base=$2, crit_financial=$3, crit_users=$4, crit_compliance=$5,
		    crit_trend=$6, crit_downstream=$7, crit_total=$8, updated_at=now()
		WHERE id=$1`,
		id, c.BaseSeverity, c.FinancialImpact, c.UserImpact, c.ComplianceRisk,
		c.Trend, c.DownstreamImpact, c.Total)
	return err
}

func (s *Store) SetAlertSuppressed(ctx context.Context, id string, suppressed bool) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE alerts SET suppressed = $2, updated_at = now() WHERE id = $1`, id, suppressed)
	return err
}

func (s *Store) SetAlertGroup(ctx context.Context, id, groupID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE alerts SET group_id = $2, updated_at = now() WHERE id = $1`, id, nullable(groupID))
	return err
}

// ResolveAlertsForIssue closes all open alerts tied to an issue and returns
// the distinct groups they belonged to, so group lifecycle can be
// reconciled.
func (s *Store) ResolveAlertsForIssue(ctx context.Context, issueID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE alerts SET resolved = true, updated_at = now()
		WHERE issue_id = $1 AND NOT resolved
		RETURNING group_id`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seen := make(map[string]bool)
	var groups []string
	for rows.Next() {
		var groupID *string
		if err := rows.Scan(&groupID); err != nil {
			return nil, err
		}
		if groupID != nil && !seen[*groupID] {
			seen[*groupID] = true
			groups = append(groups, *groupID)
		}
	}
	return groups, rows.Err()
}

// ListActiveAlerts returns unresolved alerts, unsuppressed first, highest
// criticality first.
func (s *Store) ListActiveAlerts(ctx context.Context, limit int) ([]Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+alertColumns+` FROM alerts
		WHERE NOT resolved
		ORDER BY suppressed, crit_total DESC, created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *Store) ListAlertsByGroup(ctx context.Context, groupID string) ([]Alert, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE group_id = $1 ORDER BY created_at`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func scanAlert(row interface{ Scan(...any) error }) (*Alert, error) {
	var a Alert
	var groupID *string
	err := row.Scan(&a.ID, &a.IssueID, &a.RuleID, &a.AssetID, &a.Category, &a.Dimension,
		&a.Severity, &a.Title, &a.Description, &a.CurrentValue, &a.ThresholdValue,
		&a.RevenueAtRisk, &a.AffectedUsers, &a.Trend, &a.Criticality.BaseSeverity,
		&a.Criticality.FinancialImpact, &a.Criticality.UserImpact, &a.Criticality.ComplianceRisk,
		&a.Criticality.Trend, &a.Criticality.DownstreamImpact, &a.Criticality.Total,
		&a.Recommendations, &a.Suppressed, &groupID, &a.Resolved, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	if groupID != nil {
		a.GroupID = *groupID
	}
	return &a, nil
}
