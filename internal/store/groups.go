package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const groupColumns = `id, group_key, category, asset_id, dimension, status, severity,
	snooze_until, first_seen, last_updated`

func (s *Store) GetActiveGroupByKey(ctx context.Context, key string) (*AlertGroup, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+groupColumns+` FROM alert_groups
		WHERE group_key = $1 AND status <> 'resolved'
		ORDER BY first_seen DESC LIMIT 1`, key)
	return scanGroup(row)
}

func (s *Store) GetGroup(ctx context.Context, id string) (*AlertGroup, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+groupColumns+` FROM alert_groups WHERE id = $1`, id)
	return scanGroup(row)
}

func (s *Store) CreateGroup(ctx context.Context, g *AlertGroup) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if g.FirstSeen.IsZero() {
		g.FirstSeen = now
	}
	g.LastUpdated = now
	_, err := s.pool.Exec(ctx, `
		INSERT INTO alert_groups (id, group_key, category, asset_id, dimension, status,
			severity, snooze_until, first_seen, last_updated)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		g.ID, g.GroupKey, g.Category, g.AssetID, g.Dimension, g.Status, g.Severity,
		nullTime(g.SnoozeUntil), g.FirstSeen, g.LastUpdated)
	return err
}

// TouchGroup updates last_updated and raises severity if the new member
// outranks the current group severity.
func (s *Store) TouchGroup(ctx context.Context, id, memberSeverity string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE alert_groups
		SET last_updated = $3,
		    severity = CASE
			WHEN CASE $2 WHEN 'critical' THEN 4 WHEN 'high' THEN 3 WHEN 'medium' THEN 2 WHEN 'low' THEN 1 ELSE 0 END
			   > CASE severity WHEN 'critical' THEN 4 WHEN 'high' THEN 3 WHEN 'medium' THEN 2 WHEN 'low' THEN 1 ELSE 0 END
			THEN $2 ELSE severity END
		WHERE id = $1`, id, memberSeverity, at)
	return err
}

// SetGroupSeverity overwrites the group severity after a member recompute.
func (s *Store) SetGroupSeverity(ctx context.Context, id, severity string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE alert_groups SET severity = $2, last_updated = $3 WHERE id = $1`, id, severity, at)
	return err
}

func (s *Store) SetGroupStatus(ctx context.Context, id, status string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE alert_groups SET status = $2, last_updated = now() WHERE id = $1`, id, status)
	return err
}

func (s *Store) SnoozeGroup(ctx context.Context, id string, until time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE alert_groups SET status = 'snoozed', snooze_until = $2, last_updated = now()
		WHERE id = $1`, id, until)
	return err
}

func scanGroup(row interface{ Scan(...any) error }) (*AlertGroup, error) {
	var g AlertGroup
	var snooze *time.Time
	err := row.Scan(&g.ID, &g.GroupKey, &g.Category, &g.AssetID, &g.Dimension, &g.Status,
		&g.Severity, &snooze, &g.FirstSeen, &g.LastUpdated)
	if err != nil {
		return nil, notFound(err)
	}
	if snooze != nil {
		g.SnoozeUntil = *snooze
	}
	return &g, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
