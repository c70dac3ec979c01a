// Package alerting turns failing results into prioritized, suppressed,
// grouped and routed alerts.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/open-dqm/open-dqm/internal/grouping"
	"github.com/open-dqm/open-dqm/internal/metrics"
	"github.com/open-dqm/open-dqm/internal/notify"
	"github.com/open-dqm/open-dqm/internal/scoring"
	"github.com/open-dqm/open-dqm/internal/store"
	"github.com/open-dqm/open-dqm/internal/suppress"
)

// AlertStore is the persistence surface the pipeline needs.
type AlertStore interface {
	InsertAlert(ctx context.Context, a *store.Alert) error
	InsertSuppression(ctx context.Context, sup *store.Suppression) error
	ResolveAlertsForIssue(ctx context.Context, issueID string) ([]string, error)
	UpdateIssueImpact(ctx context.Context, id string, impact float64) error
	ListOpenAlertsForIssue(ctx context.Context, issueID string) ([]store.Alert, error)
	UpdateAlertCriticality(ctx context.Context, id string, c store.CriticalityScore) error
	ListSuppressedOpenAlerts(ctx context.Context) ([]store.Alert, error)
	SetAlertSuppressed(ctx context.Context, id string, suppressed bool) error
	GetAsset(ctx context.Context, id string) (*store.Asset, error)
	GetIssue(ctx context.Context, id string) (*store.Issue, error)
	GetDataSource(ctx context.Context, id string) (*store.DataSource, error)
}

// Pipeline runs the full post-failure chain: criticality, suppression,
// grouping, notification.
type Pipeline struct {
	Store       AlertStore
	Criticality *scoring.CriticalityScorer
	Suppress    *suppress.Filter
	Groups      *grouping.Grouper
	Router      *notify.Router
	Logger      *slog.Logger
	Now         func() time.Time
}

// RaiseForFailure creates the alert for one failing result. Suppressed
// alerts are stored and grouped but not routed; members of a snoozed group
// are stored but not routed either. Earlier open alerts of the same issue
// take over the fresh criticality breakdown, so severity escalations and
// impact edits reprice them instead of only the newest alert.
func (p *Pipeline) RaiseForFailure(ctx context.Context, ds *store.DataSource, rule store.Rule, asset store.Asset, issue *store.Issue, result *store.Result) (*store.Alert, error) {
	crit, err := p.Criticality.Score(ctx, rule, asset, *issue)
	if err != nil {
		return nil, fmt.Errorf("criticality: %w", err)
	}
	if err := p.refreshIssueAlerts(ctx, issue.ID, crit); err != nil {
		return nil, err
	}

	alert := &store.Alert{
		IssueID:         issue.ID,
		RuleID:          rule.ID,
		AssetID:         asset.ID,
		Category:        Category(rule),
		Dimension:       rule.Dimension,
		Severity:        issue.Severity,
		Title:           fmt.Sprintf("%s: %s.%s", rule.Name, asset.Schema, asset.Table),
		Description:     describe(rule, result),
		CurrentValue:    result.MetricValue,
		ThresholdValue:  result.ThresholdValue,
		RevenueAtRisk:   asset.RevenueImpact,
		AffectedUsers:   asset.AffectedUsers,
		Trend:           crit.TrendDirection,
		Criticality:     crit,
		Recommendations: recommend(rule),
		CreatedAt:       p.now(),
	}

	database := ""
	if ds != nil {
		database = ds.Database
	}
	decision, err := p.Suppress.Decide(ctx, suppress.Candidate{Alert: *alert, Asset: asset, Issue: *issue, Database: database})
	if err != nil {
		return nil, fmt.Errorf("suppression: %w", err)
	}
	alert.Suppressed = decision.Suppress

	if err := p.Store.InsertAlert(ctx, alert); err != nil {
		return nil, err
	}
	if err := p.Store.UpdateIssueImpact(ctx, issue.ID, float64(crit.Total)); err != nil {
		return nil, err
	}

	group, err := p.Groups.Assign(ctx, alert)
	if err != nil {
		return nil, fmt.Errorf("grouping: %w", err)
	}

	metrics.AlertsRaisedTotal.WithLabelValues(alert.Dimension, alert.Severity).Inc()

	if decision.Suppress {
		metrics.AlertsSuppressedTotal.WithLabelValues(decision.Rule.Condition).Inc()
		if err := p.Store.InsertSuppression(ctx, &store.Suppression{
			AlertID:           alert.ID,
			SuppressionRuleID: decision.Rule.ID,
			Condition:         decision.Rule.Condition,
			AppliedAt:         p.now(),
		}); err != nil {
			return nil, err
		}
		p.log("alert suppressed", alert, "condition", decision.Rule.Condition)
		return alert, nil
	}

	if grouping.Snoozed(group, p.now()) {
		p.log("alert silenced by group snooze", alert, "group_id", group.ID)
		return alert, nil
	}

	if p.Router != nil {
		p.Router.Dispatch(ctx, notify.BuildPayload(*alert, asset))
	}
	p.log("alert raised", alert, "criticality", crit.Total)
	return alert, nil
}

// refreshIssueAlerts rewrites the stored criticality of the issue's earlier
// open alerts when the recomputed breakdown differs.
func (p *Pipeline) refreshIssueAlerts(ctx context.Context, issueID string, crit store.CriticalityScore) error {
	open, err := p.Store.ListOpenAlertsForIssue(ctx, issueID)
	if err != nil {
		return err
	}
	for _, a := range open {
		if a.Criticality == crit {
			continue
		}
		if err := p.Store.UpdateAlertCriticality(ctx, a.ID, crit); err != nil {
			return err
		}
	}
	return nil
}

// ReviewSuppressed re-runs the suppression rules over suppressed open alerts
// and clears the flag on any alert no rule matches anymore. Returns the
// number of alerts cleared.
func (p *Pipeline) ReviewSuppressed(ctx context.Context) (int, error) {
	alerts, err := p.Store.ListSuppressedOpenAlerts(ctx)
	if err != nil {
		return 0, err
	}
	cleared := 0
	for _, a := range alerts {
		asset, err := p.Store.GetAsset(ctx, a.AssetID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return cleared, err
		}
		issue, err := p.Store.GetIssue(ctx, a.IssueID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return cleared, err
		}
		database := ""
		if ds, err := p.Store.GetDataSource(ctx, asset.DataSourceID); err == nil {
			database = ds.Database
		} else if !errors.Is(err, store.ErrNotFound) {
			return cleared, err
		}
		decision, err := p.Suppress.Decide(ctx, suppress.Candidate{Alert: a, Asset: *asset, Issue: *issue, Database: database})
		if err != nil {
			return cleared, fmt.Errorf("suppression: %w", err)
		}
		if decision.Suppress {
			continue
		}
		if err := p.Store.SetAlertSuppressed(ctx, a.ID, false); err != nil {
			return cleared, err
		}
		cleared++
		p.log("suppression lifted", &a)
	}
	return cleared, nil
}

// ResolveForPass closes the alerts of a resolved issue and reconciles their
// groups.
func (p *Pipeline) ResolveForPass(ctx context.Context, issueID string) error {
	groups, err := p.Store.ResolveAlertsForIssue(ctx, issueID)
	if err != nil {
		return err
	}
	for _, groupID := range groups {
		if err := p.Groups.Reconcile(ctx, groupID); err != nil {
			return err
		}
	}
	return nil
}

// Category names the alert class used for grouping and routing.
func Category(rule store.Rule) string {
	if rule.Kind == store.RuleKindAnomaly {
		return "volume_anomaly"
	}
	return rule.Dimension + "_failure"
}

func describe(rule store.Rule, result *store.Result) string {
	switch rule.Kind {
	case store.RuleKindAnomaly:
		return fmt.Sprintf("observed value %.2f deviates from the learned baseline (score %.2f)",
			result.MetricValue, result.ThresholdValue)
	case store.RuleKindFreshness:
		return fmt.Sprintf("data age %.0fs exceeds the allowed maximum %.0fs",
			result.MetricValue, result.ThresholdValue)
	default:
		return fmt.Sprintf("measured value %.2f violates threshold %.2f",
			result.MetricValue, result.ThresholdValue)
	}
}

var recommendations = map[string][]string{
	store.DimCompleteness: {"inspect the upstream load job for dropped rows", "check recent schema changes on source columns"},
	store.DimAccuracy:     {"compare a sample of failing rows against the source of truth"},
	store.DimConsistency:  {"reconcile the asset against its reference table"},
	store.DimFreshness:    {"check the pipeline schedule and recent run durations"},
	store.DimValidity:     {"review recent changes to producers writing this column"},
	store.DimUniqueness:   {"look for duplicate-producing joins or retried batch inserts"},
}

func recommend(rule store.Rule) []string {
	if rule.Kind == store.RuleKindFreshness {
		return []string{"verify the ingestion job completed", "check source system availability"}
	}
	return recommendations[rule.Dimension]
}

func (p *Pipeline) log(msg string, alert *store.Alert, args ...any) {
	if p.Logger == nil {
		return
	}
	base := []any{"alert_id", alert.ID, "dimension", alert.Dimension, "severity", alert.Severity}
	p.Logger.Info(msg, append(base, args...)...)
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now().UTC()
}
