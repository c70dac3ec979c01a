package scoring

import (
	"context"
	"encoding/json"

	"github.com/open-dqm/open-dqm/internal/store"
)

// Severity base points for criticality.
var severityBase = map[string]int{
	store.SeverityCritical: 70,
	store.SeverityHigh:     50,
	store.SeverityMedium:   30,
	store.SeverityLow:      10,
}

// MetricHistory supplies recent metric values for trend detection.
type MetricHistory interface {
	RecentMetricValues(ctx context.Context, ruleID, assetID string, limit int) ([]float64, error)
}

// CriticalityScorer computes the 0-100 priority score for an alert. Each
// component of the breakdown is recorded so operators can see why an alert
// ranked where it did.
type CriticalityScorer struct {
	History MetricHistory
}

func NewCriticalityScorer(history MetricHistory) *CriticalityScorer {
	return &CriticalityScorer{History: history}
}

// Score builds the criticality breakdown for a failing rule on an asset.
// Base severity carries most of the weight; financial impact, affected
// users, compliance exposure, downstream consumers and the metric trend
// add or subtract on top, with the total clamped to [0,100].
func (s *CriticalityScorer) Score(ctx context.Context, rule store.Rule, asset store.Asset, issue store.Issue) (store.CriticalityScore, error) {
	cs := store.CriticalityScore{BaseSeverity: severityBase[issue.Severity]}

	switch {
	case asset.RevenueImpact > 100_000:
		cs.FinancialImpact = 20
	case asset.RevenueImpact > 10_000:
		cs.FinancialImpact = 10
	}

	switch {
	case asset.AffectedUsers > 10_000:
		cs.UserImpact = 10
	case asset.AffectedUsers > 1_000:
		cs.UserImpact = 5
	}

	if len(asset.ComplianceTags) > 0 {
		cs.ComplianceRisk = 10
	}

	switch {
	case asset.DownstreamConsumers > 10:
		cs.DownstreamImpact = 10
	case asset.DownstreamConsumers > 3:
		cs.DownstreamImpact = 5
	}

	trend, err := s.trend(ctx, rule, asset)
	if err != nil {
		return store.CriticalityScore{}, err
	}
	cs.TrendDirection = trend
	switch trend {
	case store.TrendWorsening:
		cs.Trend = 10
	case store.TrendImproving:
		cs.Trend = -5
	}

	total := cs.BaseSeverity + cs.FinancialImpact + cs.UserImpact + cs.ComplianceRisk + cs.DownstreamImpact + cs.Trend
	if total > 100 {
		total = 100
	}
	if total < 0 {
		total = 0
	}
	cs.Total = total
	return cs, nil
}

// trendSamples is how many recent metric values feed the trend comparison.
const trendSamples = 6

// trend compares the mean of the newer half of recent metric values against
// the older half, oriented by the rule's comparison direction. A drift
// beyond 5% of the older mean toward the failing side is worsening, the
// same drift away from it is improving, anything in between is stable.
func (s *CriticalityScorer) trend(ctx context.Context, rule store.Rule, asset store.Asset) (string, error) {
	if s.History == nil {
		return store.TrendStable, nil
	}
	higherWorse, oriented := higherIsWorse(rule)
	if !oriented {
		return store.TrendStable, nil
	}
	values, err := s.History.RecentMetricValues(ctx, rule.ID, asset.ID, trendSamples)
	if err != nil {
		return "", err
	}
	if len(values) < 4 {
		return store.TrendStable, nil
	}

	// values are newest first.
	mid := len(values) / 2
	newer := mean(values[:mid])
	older := mean(values[mid:])
	if older == 0 {
		return store.TrendStable, nil
	}

	drift := (newer - older) / older
	if !higherWorse {
		drift = -drift
	}
	switch {
	case drift > 0.05:
		return store.TrendWorsening, nil
	case drift < -0.05:
		return store.TrendImproving, nil
	default:
		return store.TrendStable, nil
	}
}

// higherIsWorse reports which direction of metric drift moves the asset
// away from compliance. Expression, pattern and freshness metrics count
// violations, mismatches and age, so a rising value is always worse;
// threshold rules take the direction from their operator. The second
// return is false when the rule carries no usable direction, in which case
// the trend stays stable.
func higherIsWorse(rule store.Rule) (bool, bool) {
	switch rule.Kind {
	case store.RuleKindExpression, store.RuleKindPattern, store.RuleKindFreshness:
		return true, true
	case store.RuleKindThreshold:
		var cfg struct {
			Operator string `json:"operator"`
		}
		if len(rule.Config) > 0 {
			if err := json.Unmarshal(rule.Config, &cfg); err != nil {
				return false, false
			}
		}
		switch cfg.Operator {
		case "lt", "lte", "<", "<=":
			// The metric must stay below the threshold, so climbing is bad.
			return true, true
		case "gt", "gte", ">", ">=":
			return false, true
		default:
			return false, false
		}
	default:
		return false, false
	}
}

func mean(vs []float64) float64 {
	sum := 0.0
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}
