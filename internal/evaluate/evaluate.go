// Package evaluate executes quality rules against assets and records
// results, issues and alerts. A failing rule never aborts its scan: every
// outcome is folded into a result row.
package evaluate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/open-dqm/open-dqm/internal/alerting"
	"github.com/open-dqm/open-dqm/internal/anomaly"
	"github.com/open-dqm/open-dqm/internal/cost"
	"github.com/open-dqm/open-dqm/internal/metrics"
	"github.com/open-dqm/open-dqm/internal/queryexec"
	"github.com/open-dqm/open-dqm/internal/rules"
	"github.com/open-dqm/open-dqm/internal/store"
)

// RuleStore is the rule-side persistence surface.
type RuleStore interface {
	ListActiveRulesForAsset(ctx context.Context, assetID, dataSourceID string) ([]store.Rule, error)
	RecordConfigFailure(ctx context.Context, id string, limit int) (bool, error)
	ResetConfigFailures(ctx context.Context, id string) error
}

// ResultStore persists evaluation outcomes.
type ResultStore interface {
	InsertResult(ctx context.Context, r *store.Result) error
}

// IssueStore tracks issue lifecycle per (rule, asset).
type IssueStore interface {
	RecordFailure(ctx context.Context, ruleID, assetID, dimension, severity string, at time.Time) (*store.Issue, error)
	RecordPass(ctx context.Context, ruleID, assetID string, at time.Time) (string, error)
}

// Evaluator runs all active rules for an asset.
type Evaluator struct {
	Rules    RuleStore
	Results  ResultStore
	Issues   IssueStore
	Exec     queryexec.Executor
	Anomaly  *anomaly.Detector
	Cost     *cost.Governor
	Pipeline *alerting.Pipeline
	Logger   *slog.Logger

	ConfigFailureLimit int
	Now                func() time.Time
}

// now returns the injected clock, falling back to time.Now.
func (e *Evaluator) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// AssetOutcome tallies one asset's evaluation pass.
type AssetOutcome struct {
	Evaluated int
	Passed    int
	Failed    int
	Errored   int
	Skipped   int
}

// EvaluateAsset runs every active rule for the asset sequentially. Writes
// for one asset are serialized here; parallelism lives at the asset level.
func (e *Evaluator) EvaluateAsset(ctx context.Context, scanID string, ds *store.DataSource, asset store.Asset) (AssetOutcome, error) {
	var out AssetOutcome

	ruleSet, err := e.Rules.ListActiveRulesForAsset(ctx, asset.ID, asset.DataSourceID)
	if err != nil {
		return out, fmt.Errorf("list rules for asset %s: %w", asset.ID, err)
	}

	for _, rule := range ruleSet {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		result, err := e.EvaluateRule(ctx, scanID, ds, asset, rule)
		if err != nil {
			return out, err
		}
		if result == nil {
			out.Skipped++
			continue
		}
		out.Evaluated++
		switch result.Status {
		case store.ResultPassed:
			out.Passed++
		case store.ResultFailed:
			out.Failed++
		default:
			out.Errored++
		}
	}
	return out, nil
}

// EvaluateRule runs one rule. A nil result with nil error means the rule was
// skipped (budget denial or disabled mid-flight). Non-nil errors are
// reserved for infrastructure faults, never for rule outcomes.
func (e *Evaluator) EvaluateRule(ctx context.Context, scanID string, ds *store.DataSource, asset store.Asset, rule store.Rule) (*store.Result, error) {
	cfg, err := rules.ParseConfig(rule.Kind, rule.Config)
	if err != nil {
		return e.configFailure(ctx, scanID, rule, asset, err)
	}

	query, needsQuery, err := e.buildQuery(rule, cfg, ds, asset)
	if err != nil {
		return e.configFailure(ctx, scanID, rule, asset, err)
	}

	if rule.ConfigFailures > 0 {
		if err := e.Rules.ResetConfigFailures(ctx, rule.ID); err != nil {
			return nil, err
		}
	}

	var reservation *cost.Reservation
	if needsQuery && e.Cost != nil {
		reservation, err = e.Cost.Authorize(ds.CostPerQuery)
		if errors.Is(err, cost.ErrBudgetExceeded) {
			metrics.RuleEvaluationsSkippedTotal.WithLabelValues("budget").Inc()
			e.log("rule skipped by cost governor", rule, asset, nil)
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
	}

	start := e.now()
	result := &store.Result{
		RuleID:  rule.ID,
		AssetID: asset.ID,
		ScanID:  scanID,
		RunAt:   start,
	}
	verdictErr := e.run(ctx, rule, cfg, ds, asset, query, result)
	result.Duration = e.now().Sub(start)

	if reservation != nil {
		if verdictErr != nil && !executed(verdictErr) {
			reservation.Release()
		} else if err := reservation.Commit(ctx, rule.ID, asset.ID, scanID); err != nil {
			return nil, err
		}
	}

	if verdictErr != nil {
		result.Status = store.ResultError
		result.ErrorDetail = verdictErr.Error()
	}

	if err := e.Results.InsertResult(ctx, result); err != nil {
		return nil, err
	}
	metrics.RuleEvaluationsTotal.WithLabelValues(rule.Dimension, result.Status).Inc()
	metrics.RuleEvaluationDuration.WithLabelValues(rule.Dimension).Observe(result.Duration.Seconds())

	switch result.Status {
	case store.ResultFailed:
		issue, err := e.Issues.RecordFailure(ctx, rule.ID, asset.ID, rule.Dimension, rule.Severity, result.RunAt)
		if err != nil {
			return nil, err
		}
		// Sticky judgments keep failing silently.
		if issue.Status == store.IssueFalsePositive || issue.Status == store.IssueWontFix {
			return result, nil
		}
		if e.Pipeline != nil {
			if _, err := e.Pipeline.RaiseForFailure(ctx, ds, rule, asset, issue, result); err != nil {
				return nil, err
			}
		}
	case store.ResultPassed:
		resolvedIssue, err := e.Issues.RecordPass(ctx, rule.ID, asset.ID, result.RunAt)
		if err != nil {
			return nil, err
		}
		if resolvedIssue != "" && e.Pipeline != nil {
			if err := e.Pipeline.ResolveForPass(ctx, resolvedIssue); err != nil {
				return nil, err
			}
		}
	default:
		// Error results never touch issue state.
		e.log("rule evaluation errored", rule, asset, verdictErr)
	}

	return result, nil
}

// run fills status and metric fields, returning an error only for
// execution faults (timeouts, unreachable sources, broken queries).
func (e *Evaluator) run(ctx context.Context, rule store.Rule, cfg *rules.Config, ds *store.DataSource, asset store.Asset, query string, result *store.Result) error {
	switch rule.Kind {
	case store.RuleKindThreshold:
		value, err := e.Exec.Scalar(ctx, ds, query)
		if err != nil {
			return err
		}
		ok, err := rules.Compare(value, cfg.Operator, cfg.Threshold)
		if err != nil {
			return err
		}
		result.MetricValue = value
		result.ThresholdValue = cfg.Threshold
		result.Status = verdict(ok)

	case store.RuleKindExpression:
		violations, err := e.Exec.Scalar(ctx, ds, query)
		if err != nil {
			return err
		}
		result.MetricValue = violations
		result.ThresholdValue = 0
		result.RowsFailed = int64(violations)
		result.Status = verdict(violations == 0)

	case store.RuleKindPattern:
		samples, err := e.Exec.Sample(ctx, ds, query, cfg.SampleSize)
		if err != nil {
			return err
		}
		mismatched := 0
		for _, s := range samples {
			ok, err := cfg.MatchString(s)
			if err != nil {
				return err
			}
			if !ok {
				mismatched++
			}
		}
		rate := 0.0
		if len(samples) > 0 {
			rate = float64(mismatched) / float64(len(samples))
		}
		result.MetricValue = rate
		result.ThresholdValue = cfg.Tolerance
		result.RowsChecked = int64(len(samples))
		result.RowsFailed = int64(mismatched)
		result.Status = verdict(rate <= cfg.Tolerance)

	case store.RuleKindFreshness:
		var ageSeconds float64
		if query != "" {
			value, err := e.Exec.Scalar(ctx, ds, query)
			if err != nil {
				return err
			}
			ageSeconds = value
		} else {
			ageSeconds = e.now().Sub(asset.LastModified).Seconds()
		}
		result.MetricValue = ageSeconds
		result.ThresholdValue = cfg.MaxAge.Std().Seconds()
		result.Status = verdict(ageSeconds <= result.ThresholdValue)

	case store.RuleKindAnomaly:
		value, err := e.Exec.Scalar(ctx, ds, query)
		if err != nil {
			return err
		}
		v, err := e.Anomaly.Observe(ctx, asset.ID, rule.ID, value, cfg.Sensitivity)
		if errors.Is(err, anomaly.ErrColdStart) {
			metrics.RuleEvaluationsSkippedTotal.WithLabelValues("cold_start").Inc()
			result.MetricValue = value
			result.Status = store.ResultPassed
			return nil
		}
		if err != nil {
			return err
		}
		result.MetricValue = value
		result.ThresholdValue = v.ZScore
		result.Status = verdict(!v.Anomalous)

	default:
		return fmt.Errorf("unknown rule kind %q", rule.Kind)
	}
	return nil
}

// buildQuery expands placeholders and decides whether a source query is
// needed at all.
func (e *Evaluator) buildQuery(rule store.Rule, cfg *rules.Config, ds *store.DataSource, asset store.Asset) (string, bool, error) {
	vars := map[string]string{
		"schema": asset.Schema,
		"table":  asset.Table,
		"column": rule.ColumnName,
	}

	switch rule.Kind {
	case store.RuleKindPattern:
		if cfg.Expression != "" {
			q, err := rules.ExpandTemplate(cfg.Expression, vars)
			return q, true, err
		}
		if rule.ColumnName == "" {
			return "", false, rules.ConfigError{Field: "column", Msg: "pattern rule needs a column"}
		}
		return fmt.Sprintf("SELECT %s FROM %s.%s WHERE %s IS NOT NULL LIMIT %d",
			rule.ColumnName, asset.Schema, asset.Table, rule.ColumnName, cfg.SampleSize), true, nil

	case store.RuleKindFreshness:
		if cfg.TimestampColumn == "" {
			// Catalog freshness needs no source query.
			return "", false, nil
		}
		return freshnessQuery(ds.Driver, asset.Schema, asset.Table, cfg.TimestampColumn), true, nil

	default:
		q, err := rules.ExpandTemplate(cfg.Expression, vars)
		return q, true, err
	}
}

// freshnessQuery returns the data age in seconds for the given driver.
func freshnessQuery(driver, schema, table, column string) string {
	target := fmt.Sprintf("%s.%s", schema, table)
	switch driver {
	case "mysql":
		return fmt.Sprintf("SELECT TIMESTAMPDIFF(SECOND, MAX(%s), NOW()) FROM %s", column, target)
	case "mssql", "sqlserver":
		return fmt.Sprintf("SELECT DATEDIFF(SECOND, MAX(%s), GETUTCDATE()) FROM %s", column, target)
	default:
		return fmt.Sprintf("SELECT EXTRACT(EPOCH FROM now() - MAX(%s)) FROM %s", column, target)
	}
}

// configFailure records the error result and counts toward auto-disable.
func (e *Evaluator) configFailure(ctx context.Context, scanID string, rule store.Rule, asset store.Asset, cause error) (*store.Result, error) {
	metrics.RuleEvaluationsSkippedTotal.WithLabelValues("config").Inc()

	disabled, err := e.Rules.RecordConfigFailure(ctx, rule.ID, e.ConfigFailureLimit)
	if err != nil {
		return nil, err
	}
	if disabled {
		e.log("rule auto-disabled after repeated configuration failures", rule, asset, cause)
	}

	result := &store.Result{
		RuleID:      rule.ID,
		AssetID:     asset.ID,
		ScanID:      scanID,
		Status:      store.ResultError,
		ErrorDetail: cause.Error(),
		RunAt:       e.now(),
	}
	if err := e.Results.InsertResult(ctx, result); err != nil {
		return nil, err
	}
	metrics.RuleEvaluationsTotal.WithLabelValues(rule.Dimension, store.ResultError).Inc()
	return result, nil
}

// executed reports whether the failed call still consumed source compute.
func executed(err error) bool {
	return !errors.Is(err, queryexec.ErrSourceUnavailable)
}

func verdict(pass bool) string {
	if pass {
		return store.ResultPassed
	}
	return store.ResultFailed
}

func (e *Evaluator) log(msg string, rule store.Rule, asset store.Asset, err error) {
	if e.Logger == nil {
		return
	}
	args := []any{"rule", rule.Name, "rule_id", rule.ID, "table", asset.Table}
	if err != nil {
		args = append(args, "error", err)
	}
	e.Logger.Warn(msg, args...)
}
