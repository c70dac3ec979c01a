package store

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const ruleColumns = `id, name, scope, asset_id, column_name, data_source_id, dimension, kind,
	config, severity, enabled, schedule, template, config_failures, version, created_at, updated_at`

// RuleFilter narrows ListRules. Enabled is a tri-state: nil means both.
type RuleFilter struct {
	Enabled *bool
	Limit   int
	Offset  int
}

func (s *Store) CreateRule(ctx context.Context, r *Rule) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	if r.Version == 0 {
		r.Version = 1
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO quality_rules (id, name, scope, asset_id, column_name, data_source_id,
			dimension, kind, config, severity, enabled, schedule, template, config_failures,
			version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		r.ID, r.Name, r.Scope, nullable(r.AssetID), r.ColumnName, nullable(r.DataSourceID),
		r.Dimension, r.Kind, r.Config, r.Severity, r.Enabled, r.Schedule, r.Template,
		r.ConfigFailures, r.Version, r.CreatedAt, r.UpdatedAt)
	return err
}

func (s *Store) GetRule(ctx context.Context, id string) (*Rule, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+ruleColumns+` FROM quality_rules WHERE id = $1`, id)
	r, err := scanRule(row)
	if err != nil {
		return nil, notFound(err)
	}
	return r, nil
}

func (s *Store) ListRules(ctx context.Context, f RuleFilter) ([]Rule, int, error) {
	where := ""
	args := []any{}
	if f.Enabled != nil {
		where = " WHERE enabled = $1"
		args = append(args, *f.Enabled)
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM quality_rules`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + ruleColumns + ` FROM quality_rules` + where +
		` ORDER BY created_at DESC LIMIT ` + itoaArg(len(args)+1) + ` OFFSET ` + itoaArg(len(args)+2)
	args = append(args, limit, f.Offset)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *r)
	}
	return out, total, rows.Err()
}

// ListActiveRulesForAsset returns enabled, non-template rules whose scope
// resolves to the given asset, including data-source and global scoped rules.
func (s *Store) ListActiveRulesForAsset(ctx context.Context, assetID, dataSourceID string) ([]Rule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+ruleColumns+` FROM quality_rules
		WHERE enabled AND NOT template
		  AND (asset_id = $1
		       OR (scope = 'data_source' AND data_source_id = $2)
		       OR scope = 'global')
		ORDER BY created_at`, assetID, dataSourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// RulePatch carries the editable fields for UpdateRule; nil means unchanged.
type RulePatch struct {
	Name     *string
	Config   []byte
	Severity *string
	Enabled  *bool
	Schedule *string
}

func (s *Store) UpdateRule(ctx context.Context, id string, p RulePatch) (*Rule, error) {
	r, err := s.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Name != nil {
		r.Name = strings.TrimSpace(*p.Name)
	}
	if p.Config != nil {
		r.Config = p.Config
	}
	if p.Severity != nil {
		r.Severity = *p.Severity
	}
	if p.Enabled != nil {
		r.Enabled = *p.Enabled
	}
	if p.Schedule != nil {
		r.Schedule = *p.Schedule
	}
	r.Version++
	r.UpdatedAt = time.Now().UTC()

	_, err = s.pool.Exec(ctx, `
		UPDATE quality_rules
		SET name=$2, config=$3, severity=$4, enabled=$5, schedule=$6, version=$7, updated_at=$8
		WHERE id=$1`,
		r.ID, r.Name, r.Config, r.Severity, r.Enabled, r.Schedule, r.Version, r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// RecordConfigFailure increments the consecutive configuration failure count
// and disables the rule once limit is reached. Returns true when the rule was
// disabled by this call.
func (s *Store) RecordConfigFailure(ctx context.Context, id string, limit int) (bool, error) {
	var failures int
	var enabled bool
	err := s.pool.QueryRow(ctx, `
		UPDATE quality_rules
		SET config_failures = config_failures + 1,
		    enabled = CASE WHEN config_failures + 1 >= $2 THEN false ELSE enabled END,
		    updated_at = now()
		WHERE id = $1
		RETURNING config_failures, enabled`, id, limit).Scan(&failures, &enabled)
	if err != nil {
		return false, notFound(err)
	}
	return !enabled && failures >= limit, nil
}

func (s *Store) ResetConfigFailures(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE quality_rules SET config_failures = 0, updated_at = now() WHERE id = $1 AND config_failures > 0`, id)
	return err
}

func scanRule(row interface{ Scan(...any) error }) (*Rule, error) {
	var r Rule
	var assetID, dataSourceID *string
	err := row.Scan(&r.ID, &r.Name, &r.Scope, &assetID, &r.ColumnName, &dataSourceID,
		&r.Dimension, &r.Kind, &r.Config, &r.Severity, &r.Enabled, &r.Schedule,
		&r.Template, &r.ConfigFailures, &r.Version, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if assetID != nil {
		r.AssetID = *assetID
	}
	if dataSourceID != nil {
		r.DataSourceID = *dataSourceID
	}
	return &r, nil
}

func nullable(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

func itoaArg(n int) string {
	return "$" + strconv.Itoa(n)
}
