package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

func (s *Store) CreateDataSource(ctx context.Context, ds *DataSource) error {
	if ds.ID == "" {
		ds.ID = uuid.NewString()
	}
	if ds.CreatedAt.IsZero() {
		ds.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO data_sources (id, name, driver, host, port, database_name, db_user,
			db_password, ssl_mode, cost_per_query, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		ds.ID, ds.Name, ds.Driver, ds.Host, ds.Port, ds.Database, ds.User,
		ds.Password, ds.SSLMode, ds.CostPerQuery, ds.CreatedAt)
	return err
}

func (s *Store) GetDataSource(ctx context.Context, id string) (*DataSource, error) {
	var ds DataSource
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, driver, host, port, database_name, db_user, db_password,
			ssl_mode, cost_per_query, created_at
		FROM data_sources WHERE id = $1`, id).
		Scan(&ds.ID, &ds.Name, &ds.Driver, &ds.Host, &ds.Port, &ds.Database, &ds.User,
			&ds.Password, &ds.SSLMode, &ds.CostPerQuery, &ds.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &ds, nil
}

func (s *Store) ListDataSources(ctx context.Context) ([]DataSource, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, driver, host, port, database_name, db_user, db_password,
			ssl_mode, cost_per_query, created_at
		FROM data_sources ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DataSource
	for rows.Next() {
		var ds DataSource
		if err := rows.Scan(&ds.ID, &ds.Name, &ds.Driver, &ds.Host, &ds.Port, &ds.Database,
			&ds.User, &ds.Password, &ds.SSLMode, &ds.CostPerQuery, &ds.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ds)
	}
	return out, rows.Err()
}

func (s *Store) UpsertAsset(ctx context.Context, a *Asset) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO assets (id, data_source_id, schema_name, table_name, row_count,
			last_modified, revenue_impact, affected_users, compliance_tags,
			downstream_consumers, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (data_source_id, schema_name, table_name) DO UPDATE
		SET row_count = EXCLUDED.row_count, last_modified = EXCLUDED.last_modified,
			revenue_impact = EXCLUDED.revenue_impact,
			affected_users = EXCLUDED.affected_users,
			compliance_tags = EXCLUDED.compliance_tags,
			downstream_consumers = EXCLUDED.downstream_consumers`,
		a.ID, a.DataSourceID, a.Schema, a.Table, a.RowCount, a.LastModified,
		a.RevenueImpact, a.AffectedUsers, a.ComplianceTags, a.DownstreamConsumers, a.CreatedAt)
	return err
}

func (s *Store) GetAsset(ctx context.Context, id string) (*Asset, error) {
	var a Asset
	err := s.pool.QueryRow(ctx, `
		SELECT id, data_source_id, schema_name, table_name, row_count, last_modified,
			revenue_impact, affected_users, compliance_tags, downstream_consumers, created_at
		FROM assets WHERE id = $1`, id).
		Scan(&a.ID, &a.DataSourceID, &a.Schema, &a.Table, &a.RowCount, &a.LastModified,
			&a.RevenueImpact, &a.AffectedUsers, &a.ComplianceTags, &a.DownstreamConsumers, &a.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (s *Store) ListAssets(ctx context.Context) ([]Asset, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, data_source_id, schema_name, table_name, row_count, last_modified,
			revenue_impact, affected_users, compliance_tags, downstream_consumers, created_at
		FROM assets ORDER BY data_source_id, schema_name, table_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Asset
	for rows.Next() {
		var a Asset
		if err := rows.Scan(&a.ID, &a.DataSourceID, &a.Schema, &a.Table, &a.RowCount,
			&a.LastModified, &a.RevenueImpact, &a.AffectedUsers, &a.ComplianceTags,
			&a.DownstreamConsumers, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
