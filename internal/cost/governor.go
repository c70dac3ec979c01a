// Package cost enforces daily and monthly compute budgets over rule
// executions. Spend is reserved before a query runs and released if the
// query never executes.
package cost

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/open-dqm/open-dqm/internal/metrics"
	"github.com/open-dqm/open-dqm/internal/store"
)

// ErrBudgetExceeded marks executions denied by the governor. Callers skip
// the rule and record the denial, they do not fail the scan.
var ErrBudgetExceeded = errors.New("cost budget exceeded")

// Ledger persists spend records and seeds counters on startup.
type Ledger interface {
	InsertCostRecord(ctx context.Context, r *store.CostRecord) error
	SumCostSince(ctx context.Context, since time.Time) (float64, error)
}

// Reservation holds budget for one pending execution. Exactly one of
// Commit or Release must be called.
type Reservation struct {
	g    *Governor
	cost float64
	done bool
}

// Governor tracks rolling daily and monthly spend in memory, seeded from
// the ledger so restarts do not reset the budget.
type Governor struct {
	ledger  Ledger
	logger  *slog.Logger
	daily   float64
	monthly float64

	mu         sync.Mutex
	daySpend   float64
	monthSpend float64
	day        time.Time
	month      time.Time
	now        func() time.Time
}

func NewGovernor(ledger Ledger, logger *slog.Logger, dailyBudget, monthlyBudget float64) *Governor {
	return &Governor{
		ledger:  ledger,
		logger:  logger,
		daily:   dailyBudget,
		monthly: monthlyBudget,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source. Test hook.
func (g *Governor) SetClock(now func() time.Time) { g.now = now }

// Seed loads current-day and current-month spend from the ledger.
func (g *Governor) Seed(ctx context.Context) error {
	now := g.now()
	day := startOfDay(now)
	month := startOfMonth(now)

	daySpend, err := g.ledger.SumCostSince(ctx, day)
	if err != nil {
		return err
	}
	monthSpend, err := g.ledger.SumCostSince(ctx, month)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.day, g.month = day, month
	g.daySpend, g.monthSpend = daySpend, monthSpend
	g.publish()
	return nil
}

// Authorize reserves budget for one execution. Concurrent scans cannot
// jointly overshoot: the reserve happens under the lock, so the budget is
// either held or denied atomically.
func (g *Governor) Authorize(cost float64) (*Reservation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.roll()

	if g.daily > 0 && g.daySpend+cost > g.daily {
		metrics.CostDenialsTotal.WithLabelValues("daily").Inc()
		return nil, ErrBudgetExceeded
	}
	if g.monthly > 0 && g.monthSpend+cost > g.monthly {
		metrics.CostDenialsTotal.WithLabelValues("monthly").Inc()
		return nil, ErrBudgetExceeded
	}

	g.daySpend += cost
	g.monthSpend += cost
	g.publish()
	return &Reservation{g: g, cost: cost}, nil
}

// Commit finalizes the reservation and writes the ledger record.
func (r *Reservation) Commit(ctx context.Context, ruleID, assetID, scanID string) error {
	if r.done {
		return nil
	}
	r.done = true
	return r.g.ledger.InsertCostRecord(ctx, &store.CostRecord{
		RuleID:     ruleID,
		AssetID:    assetID,
		ScanID:     scanID,
		Cost:       r.cost,
		RecordedAt: r.g.now(),
	})
}

// Release returns the reserved budget when the execution never ran.
func (r *Reservation) Release() {
	if r.done {
		return
	}
	r.done = true
	r.g.mu.Lock()
	defer r.g.mu.Unlock()
	r.g.daySpend -= r.cost
	r.g.monthSpend -= r.cost
	r.g.publish()
}

// Remaining returns the unspent budget for both windows.
func (g *Governor) Remaining() (daily, monthly float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.roll()
	return g.daily - g.daySpend, g.monthly - g.monthSpend
}

// roll resets counters when the day or month boundary passes. Caller holds
// the lock.
func (g *Governor) roll() {
	now := g.now()
	if day := startOfDay(now); !day.Equal(g.day) {
		g.day = day
		g.daySpend = 0
		if g.logger != nil {
			g.logger.Info("daily cost window reset", "budget", g.daily)
		}
	}
	if month := startOfMonth(now); !month.Equal(g.month) {
		g.month = month
		g.monthSpend = 0
	}
	g.publish()
}

// publish mirrors counters to metrics. Caller holds the lock.
func (g *Governor) publish() {
	metrics.CostSpend.WithLabelValues("daily").Set(g.daySpend)
	metrics.CostSpend.WithLabelValues("monthly").Set(g.monthSpend)
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
