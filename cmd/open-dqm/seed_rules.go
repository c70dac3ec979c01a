package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/open-dqm/open-dqm/internal/config"
	"github.com/open-dqm/open-dqm/internal/store"
	"github.com/open-dqm/open-dqm/internal/suppress"
	"github.com/spf13/cobra"
)

var seedRulesCmd = &cobra.Command{
	Use:   "seed-rules",
	Short: "Seed template quality rules and default suppression rules.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSeedRules(cmd.Context())
	},
}

// starterRules are the seeded defaults: column templates instantiated via
// the rules API, plus global rules evaluated for every asset.
func starterRules() []store.Rule {
	return []store.Rule{
		{
			Name:      "null_rate",
			Scope:     store.ScopeColumn,
			Dimension: store.DimCompleteness,
			Kind:      store.RuleKindThreshold,
			Config: mustJSON(map[string]any{
				"expression": "SELECT AVG(CASE WHEN ${column} IS NULL THEN 1.0 ELSE 0.0 END) FROM ${schema}.${table}",
				"threshold":  0.05,
				"operator":   "lte",
			}),
			Severity: store.SeverityHigh,
			Template: true,
		},
		{
			Name:      "duplicate_rate",
			Scope:     store.ScopeColumn,
			Dimension: store.DimUniqueness,
			Kind:      store.RuleKindThreshold,
			Config: mustJSON(map[string]any{
				"expression": "SELECT 1.0 - COUNT(DISTINCT ${column}) * 1.0 / NULLIF(COUNT(${column}), 0) FROM ${schema}.${table}",
				"threshold":  0.01,
				"operator":   "lte",
			}),
			Severity: store.SeverityMedium,
			Template: true,
		},
		// Global rules run for every asset as-is; schema/table placeholders
		// resolve per asset at evaluation time.
		{
			Name:      "row_count_anomaly",
			Scope:     store.ScopeGlobal,
			Dimension: store.DimValidity,
			Kind:      store.RuleKindAnomaly,
			Config: mustJSON(map[string]any{
				"expression": "SELECT COUNT(*) FROM ${schema}.${table}",
			}),
			Severity: store.SeverityMedium,
		},
		{
			Name:      "stale_data",
			Scope:     store.ScopeGlobal,
			Dimension: store.DimFreshness,
			Kind:      store.RuleKindFreshness,
			Config: mustJSON(map[string]any{
				"max_age": "24h",
			}),
			Severity: store.SeverityHigh,
		},
	}
}

func runSeedRules(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	st := store.New(pool)

	existing, _, err := st.ListRules(ctx, store.RuleFilter{})
	if err != nil {
		return err
	}
	byName := make(map[string]bool, len(existing))
	for _, r := range existing {
		byName[r.Name] = true
	}

	seededRules := 0
	for _, rule := range starterRules() {
		if byName[rule.Name] {
			continue
		}
		rule.Enabled = true
		if err := st.CreateRule(ctx, &rule); err != nil {
			return fmt.Errorf("seed rule %s: %w", rule.Name, err)
		}
		seededRules++
	}

	active, err := st.ListActiveSuppressionRules(ctx)
	if err != nil {
		return err
	}
	haveCondition := make(map[string]bool, len(active))
	for _, r := range active {
		haveCondition[r.Condition] = true
	}

	seededSuppressions := 0
	for _, rule := range suppress.Defaults() {
		if haveCondition[rule.Condition] {
			continue
		}
		if err := st.CreateSuppressionRule(ctx, &rule); err != nil {
			return fmt.Errorf("seed suppression rule %s: %w", rule.Name, err)
		}
		seededSuppressions++
	}

	slog.Info("seeding finished",
		"rules_created", seededRules,
		"suppression_rules_created", seededSuppressions)
	return nil
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
