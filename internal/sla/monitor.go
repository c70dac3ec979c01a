// Package sla checks data contracts against current dimension scores and
// tracks violations and rolling compliance.
package sla

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/open-dqm/open-dqm/internal/metrics"
	"github.com/open-dqm/open-dqm/internal/rules"
	"github.com/open-dqm/open-dqm/internal/scoring"
	"github.com/open-dqm/open-dqm/internal/store"
)

// ContractStore is the persistence surface the monitor needs.
type ContractStore interface {
	ListContracts(ctx context.Context, enabledOnly bool) ([]store.Contract, error)
	GetOpenViolation(ctx context.Context, contractID, assetID, metric string) (*store.Violation, error)
	InsertViolation(ctx context.Context, v *store.Violation) error
	UpdateViolationActual(ctx context.Context, id string, actual, deviation float64) error
	ResolveViolation(ctx context.Context, id string, at time.Time) error
	RecordComplianceWindow(ctx context.Context, contractID string, compliant bool, at time.Time) error
	RecentComplianceWindows(ctx context.Context, contractID string, limit int) ([]bool, error)
}

// Scorer supplies current dimension scores per asset.
type Scorer interface {
	Score(ctx context.Context, assetID string) (scoring.ScoreSet, error)
}

// Breach describes one threshold failure found during a check.
type Breach struct {
	Contract  store.Contract
	AssetID   string
	Metric    string
	Expected  float64
	Actual    float64
	Deviation float64
	New       bool
}

// Monitor evaluates contracts after each scan window.
type Monitor struct {
	Contracts ContractStore
	Scores    Scorer
	Logger    *slog.Logger
	Windows   int
	Now       func() time.Time
}

func NewMonitor(contracts ContractStore, scores Scorer, logger *slog.Logger, windows int) *Monitor {
	if windows <= 0 {
		windows = 30
	}
	return &Monitor{Contracts: contracts, Scores: scores, Logger: logger, Windows: windows}
}

// CheckAll evaluates every enabled contract and records one compliance
// window per contract.
func (m *Monitor) CheckAll(ctx context.Context) ([]Breach, error) {
	contracts, err := m.Contracts.ListContracts(ctx, true)
	if err != nil {
		return nil, err
	}

	var all []Breach
	var errs []error
	for _, contract := range contracts {
		breaches, err := m.Check(ctx, contract)
		if err != nil {
			errs = append(errs, fmt.Errorf("contract %s: %w", contract.Name, err))
			continue
		}
		all = append(all, breaches...)
	}
	return all, errors.Join(errs...)
}

// Check evaluates one contract: each threshold against each covered asset's
// current dimension score. A breach that already has an open violation for
// the same (contract, asset, metric) refreshes it instead of duplicating;
// open violations whose threshold now passes are resolved.
func (m *Monitor) Check(ctx context.Context, contract store.Contract) ([]Breach, error) {
	now := m.now()
	var breaches []Breach

	for _, assetID := range contract.AssetIDs {
		scores, err := m.Scores.Score(ctx, assetID)
		if err != nil {
			return nil, err
		}
		for _, th := range contract.Thresholds {
			actual, ok := scores.Dimensions[th.Dimension]
			if !ok {
				continue
			}
			breached, err := m.breached(actual, th)
			if err != nil {
				return nil, err
			}

			open, err := m.Contracts.GetOpenViolation(ctx, contract.ID, assetID, th.Dimension)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return nil, err
			}

			switch {
			case breached && open == nil:
				deviation := deviation(actual, th.Value)
				v := &store.Violation{
					ContractID: contract.ID,
					AssetID:    assetID,
					Metric:     th.Dimension,
					Expected:   th.Value,
					Actual:     actual,
					Deviation:  deviation,
					Severity:   severityFor(contract.Enforcement),
					DetectedAt: now,
				}
				if err := m.Contracts.InsertViolation(ctx, v); err != nil {
					return nil, err
				}
				metrics.SLABreachesTotal.WithLabelValues(contract.Name).Inc()
				m.log(contract, assetID, th, actual, "sla violation opened")
				breaches = append(breaches, Breach{Contract: contract, AssetID: assetID,
					Metric: th.Dimension, Expected: th.Value, Actual: actual,
					Deviation: deviation, New: true})

			case breached:
				if err := m.Contracts.UpdateViolationActual(ctx, open.ID, actual, deviation(actual, th.Value)); err != nil {
					return nil, err
				}
				breaches = append(breaches, Breach{Contract: contract, AssetID: assetID,
					Metric: th.Dimension, Expected: th.Value, Actual: actual,
					Deviation: deviation(actual, th.Value)})

			case open != nil:
				if err := m.Contracts.ResolveViolation(ctx, open.ID, now); err != nil {
					return nil, err
				}
				m.log(contract, assetID, th, actual, "sla violation resolved")
			}
		}
	}

	if err := m.Contracts.RecordComplianceWindow(ctx, contract.ID, len(breaches) == 0, now); err != nil {
		return nil, err
	}
	return breaches, nil
}

// Compliance is the fraction of recent check windows with zero violations,
// as a percentage. A contract with no recorded windows is fully compliant.
func (m *Monitor) Compliance(ctx context.Context, contractID string) (float64, error) {
	windows, err := m.Contracts.RecentComplianceWindows(ctx, contractID, m.Windows)
	if err != nil {
		return 0, err
	}
	if len(windows) == 0 {
		return 100, nil
	}
	ok := 0
	for _, compliant := range windows {
		if compliant {
			ok++
		}
	}
	return math.Round(10000*float64(ok)/float64(len(windows))) / 100, nil
}

// breached reports whether the actual score fails the contract threshold.
// The operator expresses the commitment, so a score satisfying it is
// compliant and anything else is a breach.
func (m *Monitor) breached(actual float64, th store.ContractThreshold) (bool, error) {
	ok, err := rules.Compare(actual, th.Operator, th.Value)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

func severityFor(enforcement string) string {
	switch enforcement {
	case store.EnforceBlock:
		return store.SeverityCritical
	case store.EnforceAlert:
		return store.SeverityHigh
	default:
		return store.SeverityMedium
	}
}

// deviation is the absolute distance from the committed value, in the
// metric's own units.
func deviation(actual, expected float64) float64 {
	return math.Round(100*math.Abs(actual-expected)) / 100
}

func (m *Monitor) log(contract store.Contract, assetID string, th store.ContractThreshold, actual float64, msg string) {
	if m.Logger == nil {
		return
	}
	m.Logger.Info(msg,
		"contract", contract.Name,
		"asset_id", assetID,
		"metric", th.Dimension,
		"expected", th.Value,
		"actual", actual)
}

func (m *Monitor) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now().UTC()
}
