package suppress

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/open-dqm/open-dqm/internal/store"
)

type fakeRuleSource struct {
	rules []store.SuppressionRule
}

func (f *fakeRuleSource) ListActiveSuppressionRules(context.Context) ([]store.SuppressionRule, error) {
	return f.rules, nil
}

func filterWith(rules ...store.SuppressionRule) *Filter {
	return NewFilter(&fakeRuleSource{rules: rules})
}

func TestDecideEmptyTable(t *testing.T) {
	f := filterWith(store.SuppressionRule{Name: "empty-table", Condition: CondEmptyTable, Priority: 10})

	d, err := f.Decide(context.Background(), Candidate{Asset: store.Asset{Table: "orders", RowCount: 0}})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if !d.Suppress || d.Rule.Name != "empty-table" {
		t.Fatalf("decision = %+v", d)
	}

	d, err = f.Decide(context.Background(), Candidate{Asset: store.Asset{Table: "orders", RowCount: 5}})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Suppress {
		t.Fatalf("non-empty table suppressed")
	}
}

func TestDecideEmptyTableRespectsMinimumAge(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	f := filterWith(store.SuppressionRule{Name: "empty-table", Condition: CondEmptyTable, Priority: 10})
	f.Now = func() time.Time { return now }

	young := Candidate{Asset: store.Asset{Table: "orders", RowCount: 0, CreatedAt: now.Add(-5 * time.Minute)}}
	d, err := f.Decide(context.Background(), young)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Suppress {
		t.Fatalf("freshly registered empty table suppressed")
	}

	old := Candidate{Asset: store.Asset{Table: "orders", RowCount: 0, CreatedAt: now.Add(-48 * time.Hour)}}
	d, err = f.Decide(context.Background(), old)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if !d.Suppress {
		t.Fatalf("long-empty table not suppressed")
	}

	custom := filterWith(store.SuppressionRule{
		Name: "empty-table", Condition: CondEmptyTable, Priority: 10,
		Params: json.RawMessage(`{"min_age":"72h"}`),
	})
	custom.Now = func() time.Time { return now }
	d, err = custom.Decide(context.Background(), old)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Suppress {
		t.Fatalf("table younger than configured min_age suppressed")
	}
}

func TestDecideTestNamePattern(t *testing.T) {
	f := filterWith(store.SuppressionRule{Name: "test-names", Condition: CondTestNamePattern, Priority: 10})

	for _, table := range []string{"test_orders", "tmp_load", "orders_bak", "TEMP_STAGE"} {
		d, err := f.Decide(context.Background(), Candidate{Asset: store.Asset{Table: table, RowCount: 10}})
		if err != nil {
			t.Fatalf("Decide(%s): %v", table, err)
		}
		if !d.Suppress {
			t.Fatalf("table %q not suppressed", table)
		}
	}

	d, err := f.Decide(context.Background(), Candidate{Asset: store.Asset{Table: "orders", RowCount: 10}})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Suppress {
		t.Fatalf("production table suppressed")
	}
}

func TestDecideTestNamePatternMatchesSchemaAndDatabase(t *testing.T) {
	f := filterWith(store.SuppressionRule{Name: "test-names", Condition: CondTestNamePattern, Priority: 10})

	// A sandbox database surfaces through the schema name; the table
	// itself looks like production.
	d, err := f.Decide(context.Background(), Candidate{
		Asset: store.Asset{Schema: "test_orders", Table: "customers", RowCount: 10},
	})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if !d.Suppress {
		t.Fatalf("alert on test_orders.customers not suppressed")
	}

	d, err = f.Decide(context.Background(), Candidate{
		Asset:    store.Asset{Schema: "public", Table: "customers", RowCount: 10},
		Database: "tmp_staging",
	})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if !d.Suppress {
		t.Fatalf("alert in sandbox database not suppressed")
	}

	d, err = f.Decide(context.Background(), Candidate{
		Asset:    store.Asset{Schema: "public", Table: "customers", RowCount: 10},
		Database: "prod",
	})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Suppress {
		t.Fatalf("production database suppressed")
	}
}

func TestDecideSystemSchema(t *testing.T) {
	f := filterWith(store.SuppressionRule{Name: "system", Condition: CondSystemSchema, Priority: 10})

	d, err := f.Decide(context.Background(), Candidate{Asset: store.Asset{Schema: "pg_catalog", Table: "pg_class", RowCount: 10}})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if !d.Suppress {
		t.Fatalf("system schema not suppressed")
	}
}

func TestDecideLowImpactStable(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	f := filterWith(store.SuppressionRule{Name: "low-impact", Condition: CondLowImpactStable, Priority: 10})
	f.Now = func() time.Time { return now }

	stable := Candidate{
		Asset: store.Asset{Table: "orders", RowCount: 10},
		Issue: store.Issue{Severity: store.SeverityLow, LastSeverityChange: now.Add(-10 * 24 * time.Hour)},
		Alert: store.Alert{Criticality: store.CriticalityScore{Total: 10}},
	}
	d, err := f.Decide(context.Background(), stable)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if !d.Suppress {
		t.Fatalf("stable low-impact issue not suppressed")
	}

	recent := stable
	recent.Issue.LastSeverityChange = now.Add(-time.Hour)
	d, err = f.Decide(context.Background(), recent)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Suppress {
		t.Fatalf("recently changed issue suppressed")
	}

	high := stable
	high.Issue.Severity = store.SeverityHigh
	d, err = f.Decide(context.Background(), high)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Suppress {
		t.Fatalf("high severity issue suppressed")
	}
}

func TestDecideFirstMatchWinsByPriority(t *testing.T) {
	f := filterWith(
		store.SuppressionRule{Name: "second", Condition: CondSystemSchema, Priority: 20},
		store.SuppressionRule{Name: "first", Condition: CondEmptyTable, Priority: 10},
	)

	// Matches both conditions; the lower priority value must win.
	c := Candidate{Asset: store.Asset{Schema: "pg_catalog", Table: "pg_class", RowCount: 0}}
	d, err := f.Decide(context.Background(), c)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Rule.Name != "first" {
		t.Fatalf("winning rule = %q, want %q", d.Rule.Name, "first")
	}

	// Re-running yields the same decision.
	d2, err := f.Decide(context.Background(), c)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d2.Rule.Name != d.Rule.Name {
		t.Fatalf("decision not stable: %q vs %q", d2.Rule.Name, d.Rule.Name)
	}
}

func TestDecideBrokenRuleSkipped(t *testing.T) {
	f := filterWith(
		store.SuppressionRule{
			Name: "broken", Condition: CondTestNamePattern, Priority: 10,
			Params: json.RawMessage(`{"patterns":["["]}`),
		},
		store.SuppressionRule{Name: "fallback", Condition: CondEmptyTable, Priority: 20},
	)

	d, err := f.Decide(context.Background(), Candidate{Asset: store.Asset{Table: "orders", RowCount: 0}})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if !d.Suppress || d.Rule.Name != "fallback" {
		t.Fatalf("decision = %+v, want fallback match", d)
	}
}

func TestDefaultsCoverAllConditions(t *testing.T) {
	seen := map[string]bool{}
	for _, r := range Defaults() {
		seen[r.Condition] = true
		if !r.Enabled {
			t.Fatalf("default rule %s disabled", r.Name)
		}
	}
	for _, cond := range []string{CondEmptyTable, CondTestNamePattern, CondSystemSchema, CondLowImpactStable} {
		if !seen[cond] {
			t.Fatalf("no default rule for %s", cond)
		}
	}
}
