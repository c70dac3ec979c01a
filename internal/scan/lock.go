package scan

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultLockTTL               = 60 * time.Second
	defaultLockHeartbeatInterval = 15 * time.Second
	defaultLockHeartbeatTimeout  = 15 * time.Second
)

type LockManagerConfig struct {
	InstanceID        string
	TTL               time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
}

// Lock is a held lease. Heartbeats extend it; losing the lease invokes
// onLost so the holder can stop gracefully.
type Lock interface {
	ScopeKind() string
	ScopeName() string
	StartHeartbeat(ctx context.Context, onLost func(error)) (stop func())
	Release(ctx context.Context) error
}

// LockManager hands out exclusive scan leases backed by the scan_locks
// table, so only one instance runs a given scan scope at a time.
type LockManager interface {
	TryAcquire(ctx context.Context, scopeKind, scopeName string) (Lock, bool, error)
}

type leaseLockManager struct {
	pool             *pgxpool.Pool
	instanceID       string
	ttlSeconds       int64
	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration
}

func NewLockManager(pool *pgxpool.Pool, cfg LockManagerConfig) (LockManager, error) {
	if pool == nil {
		return nil, errors.New("lock pool is nil")
	}

	instanceID := strings.TrimSpace(cfg.InstanceID)
	if instanceID == "" {
		if h := strings.TrimSpace(os.Getenv("HOSTNAME")); h != "" {
			instanceID = h
		} else if h, err := os.Hostname(); err == nil {
			instanceID = strings.TrimSpace(h)
		}
	}
	if instanceID == "" {
		instanceID = "unknown"
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	hbInterval := cfg.HeartbeatInterval
	if hbInterval <= 0 {
		hbInterval = defaultLockHeartbeatInterval
	}
	hbTimeout := cfg.HeartbeatTimeout
	if hbTimeout <= 0 {
		hbTimeout = defaultLockHeartbeatTimeout
	}

	return &leaseLockManager{
		pool:             pool,
		instanceID:       instanceID,
		ttlSeconds:       durationSecondsCeil(ttl),
		heartbeatEvery:   hbInterval,
		heartbeatTimeout: hbTimeout,
	}, nil
}

func (m *leaseLockManager) TryAcquire(ctx context.Context, scopeKind, scopeName string) (Lock, bool, error) {
	scopeKind, scopeName, err := normalizeScope(scopeKind, scopeName)
	if err != nil {
		return nil, false, err
	}

	token := uuid.New()
	var got uuid.UUID
	err = m.pool.QueryRow(ctx, `
		INSERT INTO scan_locks (scope_kind, scope_name, holder_instance_id, holder_token, expires_at)
		VALUES ($1, $2, $3, $4, now() + make_interval(secs => $5))
		ON CONFLICT (scope_kind, scope_name) DO UPDATE
		SET holder_instance_id = EXCLUDED.holder_instance_id,
		    holder_token = EXCLUDED.holder_token,
		    expires_at = EXCLUDED.expires_at
		WHERE scan_locks.expires_at < now()
		RETURNING holder_token`,
		scopeKind, scopeName, m.instanceID, token, m.ttlSeconds).Scan(&got)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &leaseLock{m: m, scopeKind: scopeKind, scopeName: scopeName, token: token}, true, nil
}

type leaseLock struct {
	m         *leaseLockManager
	scopeKind string
	scopeName string
	token     uuid.UUID
}

func (l *leaseLock) ScopeKind() string { return l.scopeKind }
func (l *leaseLock) ScopeName() string { return l.scopeName }

func (l *leaseLock) StartHeartbeat(ctx context.Context, onLost func(error)) (stop func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	if onLost == nil {
		onLost = func(error) {}
	}

	hbCtx, cancel := context.WithCancel(ctx)
	var once sync.Once
	stop = func() { once.Do(cancel) }

	// Spread initial heartbeats slightly for multiple concurrent locks.
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	initialJitter := time.Duration(rng.Int63n(int64(l.m.heartbeatEvery/3) + 1))

	go func() {
		timer := time.NewTimer(initialJitter)
		defer timer.Stop()

		select {
		case <-hbCtx.Done():
			return
		case <-timer.C:
		}

		ticker := time.NewTicker(l.m.heartbeatEvery)
		defer ticker.Stop()

		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
			}

			queryCtx, cancel := context.WithTimeout(hbCtx, l.m.heartbeatTimeout)
			err := l.renew(queryCtx)
			cancel()
			if err != nil {
				onLost(err)
				return
			}
		}
	}()

	return stop
}

func (l *leaseLock) renew(ctx context.Context) error {
	var got uuid.UUID
	err := l.m.pool.QueryRow(ctx, `
		UPDATE scan_locks
		SET expires_at = now() + make_interval(secs => $1)
		WHERE scope_kind = $2 AND scope_name = $3 AND holder_token = $4
		RETURNING holder_token`,
		l.m.ttlSeconds, l.scopeKind, l.scopeName, l.token).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return errors.New("scan lock lease lost")
	}
	return err
}

func (l *leaseLock) Release(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	_, err := l.m.pool.Exec(ctx, `
		DELETE FROM scan_locks
		WHERE scope_kind = $1 AND scope_name = $2 AND holder_token = $3`,
		l.scopeKind, l.scopeName, l.token)
	return err
}

func normalizeScope(kind, name string) (string, string, error) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	name = strings.ToLower(strings.TrimSpace(name))
	if kind == "" {
		return "", "", errors.New("scope kind is required")
	}
	if name == "" {
		return "", "", errors.New("scope name is required")
	}
	return kind, name, nil
}

func durationSecondsCeil(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + time.Second - 1) / time.Second)
}
