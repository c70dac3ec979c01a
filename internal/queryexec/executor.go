// Package queryexec runs rule queries against registered data sources over
// database/sql, one driver per source kind, with per-query timeouts and a
// reliability wrapper for flaky sources.
package queryexec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/microsoft/go-mssqldb"

	"github.com/open-dqm/open-dqm/internal/store"
)

// ErrTimeout marks a query canceled by its deadline. Results for timed-out
// rules are recorded with status error, not failed.
var ErrTimeout = errors.New("query timed out")

// ErrUnsupportedDriver is returned for data sources whose driver the
// executor cannot open.
var ErrUnsupportedDriver = errors.New("unsupported driver")

// Executor runs queries against a data source.
type Executor interface {
	// Scalar runs a query expected to return a single numeric value.
	Scalar(ctx context.Context, ds *store.DataSource, query string) (float64, error)
	// Sample returns up to limit values from a single-column query.
	Sample(ctx context.Context, ds *store.DataSource, query string, limit int) ([]string, error)
	Ping(ctx context.Context, ds *store.DataSource) error
	Close() error
}

// SQLExecutor keeps one pooled *sql.DB per data source.
type SQLExecutor struct {
	timeout time.Duration

	mu    sync.Mutex
	conns map[string]*sql.DB
}

func NewSQLExecutor(timeout time.Duration) *SQLExecutor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SQLExecutor{timeout: timeout, conns: make(map[string]*sql.DB)}
}

func (e *SQLExecutor) Scalar(ctx context.Context, ds *store.DataSource, query string) (float64, error) {
	db, err := e.conn(ds)
	if err != nil {
		return 0, err
	}
	qCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var value sql.NullFloat64
	if err := db.QueryRowContext(qCtx, query).Scan(&value); err != nil {
		return 0, e.mapErr(qCtx, ds, err)
	}
	if !value.Valid {
		return 0, fmt.Errorf("source %s: query returned NULL", ds.Name)
	}
	return value.Float64, nil
}

func (e *SQLExecutor) Sample(ctx context.Context, ds *store.DataSource, query string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 1000
	}
	db, err := e.conn(ds)
	if err != nil {
		return nil, err
	}
	qCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	rows, err := db.QueryContext(qCtx, query)
	if err != nil {
		return nil, e.mapErr(qCtx, ds, err)
	}
	defer rows.Close()

	out := make([]string, 0, limit)
	for rows.Next() && len(out) < limit {
		var v sql.NullString
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("source %s: scan sample: %w", ds.Name, err)
		}
		if v.Valid {
			out = append(out, v.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, e.mapErr(qCtx, ds, err)
	}
	return out, nil
}

func (e *SQLExecutor) Ping(ctx context.Context, ds *store.DataSource) error {
	db, err := e.conn(ds)
	if err != nil {
		return err
	}
	pCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	if err := db.PingContext(pCtx); err != nil {
		return fmt.Errorf("ping %s: %w", ds.Name, err)
	}
	return nil
}

func (e *SQLExecutor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var errs []error
	for id, db := range e.conns {
		if err := db.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(e.conns, id)
	}
	return errors.Join(errs...)
}

func (e *SQLExecutor) conn(ds *store.DataSource) (*sql.DB, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if db, ok := e.conns[ds.ID]; ok {
		return db, nil
	}

	driver, dsn, err := BuildDSN(ds)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s connection: %w", ds.Driver, err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	e.conns[ds.ID] = db
	return db, nil
}

func (e *SQLExecutor) mapErr(ctx context.Context, ds *store.DataSource, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("source %s: %w", ds.Name, ErrTimeout)
	}
	return fmt.Errorf("source %s: %w", ds.Name, err)
}

// BuildDSN maps a data source record to a driver name and connection string.
func BuildDSN(ds *store.DataSource) (driver, dsn string, err error) {
	switch strings.ToLower(strings.TrimSpace(ds.Driver)) {
	case "postgres", "postgresql":
		port := ds.Port
		if port == 0 {
			port = 5432
		}
		sslMode := strings.ToLower(strings.TrimSpace(ds.SSLMode))
		if sslMode == "" {
			sslMode = "disable"
		}
		return "postgres", fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			ds.Host, port, ds.User, ds.Password, ds.Database, sslMode), nil
	case "mysql":
		port := ds.Port
		if port == 0 {
			port = 3306
		}
		return "mysql", fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			ds.User, ds.Password, ds.Host, port, ds.Database), nil
	case "mssql", "sqlserver":
		port := ds.Port
		if port == 0 {
			port = 1433
		}
		u := &url.URL{
			Scheme:   "sqlserver",
			User:     url.UserPassword(ds.User, ds.Password),
			Host:     fmt.Sprintf("%s:%d", ds.Host, port),
			RawQuery: url.Values{"database": []string{ds.Database}}.Encode(),
		}
		return "sqlserver", u.String(), nil
	default:
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedDriver, ds.Driver)
	}
}
