package queryexec

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/open-dqm/open-dqm/internal/store"
)

// ErrSourceUnavailable marks queries rejected because the source's breaker
// is open. Callers record these as error results without retrying.
var ErrSourceUnavailable = errors.New("data source unavailable")

// ReliabilityExecutor wraps an Executor with a per-source circuit breaker,
// bounded retries and a shared rate limiter.
type ReliabilityExecutor struct {
	next    Executor
	limiter *rate.Limiter

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewReliabilityExecutor(next Executor, queriesPerSecond float64) *ReliabilityExecutor {
	if queriesPerSecond <= 0 {
		queriesPerSecond = 50
	}
	return &ReliabilityExecutor{
		next:     next,
		limiter:  rate.NewLimiter(rate.Limit(queriesPerSecond), int(queriesPerSecond)),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (r *ReliabilityExecutor) Scalar(ctx context.Context, ds *store.DataSource, query string) (float64, error) {
	var value float64
	err := r.call(ctx, ds, func() error {
		var err error
		value, err = r.next.Scalar(ctx, ds, query)
		return err
	})
	return value, err
}

func (r *ReliabilityExecutor) Sample(ctx context.Context, ds *store.DataSource, query string, limit int) ([]string, error) {
	var values []string
	err := r.call(ctx, ds, func() error {
		var err error
		values, err = r.next.Sample(ctx, ds, query, limit)
		return err
	})
	return values, err
}

func (r *ReliabilityExecutor) Ping(ctx context.Context, ds *store.DataSource) error {
	return r.call(ctx, ds, func() error { return r.next.Ping(ctx, ds) })
}

func (r *ReliabilityExecutor) Close() error { return r.next.Close() }

func (r *ReliabilityExecutor) call(ctx context.Context, ds *store.DataSource, fn func() error) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	_, err := r.breaker(ds.ID).Execute(func() (interface{}, error) {
		return nil, retry.New(
			retry.Context(ctx),
			retry.Attempts(3),
			retry.LastErrorOnly(true),
			retry.RetryIf(func(err error) bool {
				// Timeouts count against the breaker but are not retried:
				// the rule already burned its deadline.
				return !errors.Is(err, ErrTimeout)
			}),
		).Do(fn)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("source %s: %w", ds.Name, ErrSourceUnavailable)
	}
	return err
}

func (r *ReliabilityExecutor) breaker(sourceID string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[sourceID]
	if !ok {
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        sourceID,
			MaxRequests: 3,
			Interval:    30 * time.Second,
			Timeout:     60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
		})
		r.breakers[sourceID] = cb
	}
	return cb
}
