// Package suppress applies noise-reduction rules to freshly raised alerts.
// Suppression is advisory: a suppressed alert is stored and visible, it is
// only excluded from notification routing and dashboard defaults.
package suppress

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/open-dqm/open-dqm/internal/store"
)

// Built-in condition names.
const (
	CondEmptyTable      = "empty_table"
	CondTestNamePattern = "test_name_pattern"
	CondSystemSchema    = "system_schema"
	CondLowImpactStable = "low_impact_stable"
)

// Candidate bundles everything a condition may inspect. Database is the
// owning data source's database name, so sandbox databases match name
// patterns the same way sandbox schemas and tables do.
type Candidate struct {
	Alert    store.Alert
	Asset    store.Asset
	Issue    store.Issue
	Database string
}

// Decision is the outcome of running the suppression chain.
type Decision struct {
	Suppress bool
	Rule     store.SuppressionRule
}

// RuleSource lists enabled suppression rules in priority order.
type RuleSource interface {
	ListActiveSuppressionRules(ctx context.Context) ([]store.SuppressionRule, error)
}

// Filter evaluates suppression rules against alert candidates. Conditions
// run in ascending priority and the first match wins, so re-running the
// chain on the same candidate always lands on the same rule.
type Filter struct {
	Rules RuleSource
	Now   func() time.Time
}

func NewFilter(rules RuleSource) *Filter {
	return &Filter{Rules: rules}
}

// Decide runs the chain for one candidate.
func (f *Filter) Decide(ctx context.Context, c Candidate) (Decision, error) {
	rules, err := f.Rules.ListActiveSuppressionRules(ctx)
	if err != nil {
		return Decision{}, err
	}
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority < rules[j].Priority })

	for _, rule := range rules {
		match, err := f.matches(rule, c)
		if err != nil {
			// A broken rule must not block alerting.
			continue
		}
		if match {
			return Decision{Suppress: true, Rule: rule}, nil
		}
	}
	return Decision{}, nil
}

type patternParams struct {
	Patterns []string `json:"patterns"`
}

type emptyTableParams struct {
	MinAge string `json:"min_age"`
}

type systemSchemaParams struct {
	Schemas []string `json:"schemas"`
}

type lowImpactParams struct {
	MaxImpactScore float64 `json:"max_impact_score"`
	StableFor      string  `json:"stable_for"`
}

var defaultTestPatterns = []string{`(?i)^(test_|tmp_|temp_)`, `(?i)_(test|tmp|bak)$`}

var defaultSystemSchemas = []string{"pg_catalog", "information_schema", "sys", "mysql", "performance_schema"}

func (f *Filter) matches(rule store.SuppressionRule, c Candidate) (bool, error) {
	switch rule.Condition {
	case CondEmptyTable:
		p := emptyTableParams{MinAge: "24h"}
		if len(rule.Params) > 0 {
			if err := json.Unmarshal(rule.Params, &p); err != nil {
				return false, fmt.Errorf("rule %s params: %w", rule.Name, err)
			}
		}
		minAge, err := time.ParseDuration(p.MinAge)
		if err != nil {
			return false, fmt.Errorf("rule %s min_age: %w", rule.Name, err)
		}
		// A freshly registered table is legitimately empty; only tables
		// that have never held rows past the minimum age are noise.
		return c.Asset.RowCount == 0 && f.now().Sub(c.Asset.CreatedAt) >= minAge, nil

	case CondTestNamePattern:
		var p patternParams
		if len(rule.Params) > 0 {
			if err := json.Unmarshal(rule.Params, &p); err != nil {
				return false, fmt.Errorf("rule %s params: %w", rule.Name, err)
			}
		}
		patterns := p.Patterns
		if len(patterns) == 0 {
			patterns = defaultTestPatterns
		}
		for _, pat := range patterns {
			re, err := regexp.Compile(pat)
			if err != nil {
				return false, fmt.Errorf("rule %s pattern %q: %w", rule.Name, pat, err)
			}
			// Sandbox naming shows up at any level: the database, the
			// schema, or the table itself.
			for _, name := range []string{c.Database, c.Asset.Schema, c.Asset.Table} {
				if name != "" && re.MatchString(name) {
					return true, nil
				}
			}
		}
		return false, nil

	case CondSystemSchema:
		var p systemSchemaParams
		if len(rule.Params) > 0 {
			if err := json.Unmarshal(rule.Params, &p); err != nil {
				return false, fmt.Errorf("rule %s params: %w", rule.Name, err)
			}
		}
		schemas := p.Schemas
		if len(schemas) == 0 {
			schemas = defaultSystemSchemas
		}
		for _, schema := range schemas {
			if strings.EqualFold(c.Asset.Schema, schema) {
				return true, nil
			}
		}
		return false, nil

	case CondLowImpactStable:
		p := lowImpactParams{MaxImpactScore: 20, StableFor: "168h"}
		if len(rule.Params) > 0 {
			if err := json.Unmarshal(rule.Params, &p); err != nil {
				return false, fmt.Errorf("rule %s params: %w", rule.Name, err)
			}
		}
		stableFor, err := time.ParseDuration(p.StableFor)
		if err != nil {
			return false, fmt.Errorf("rule %s stable_for: %w", rule.Name, err)
		}
		if c.Issue.Severity != store.SeverityLow {
			return false, nil
		}
		if float64(c.Alert.Criticality.Total) > p.MaxImpactScore {
			return false, nil
		}
		ref := c.Issue.LastSeverityChange
		if ref.IsZero() {
			ref = c.Issue.FirstSeen
		}
		return f.now().Sub(ref) >= stableFor, nil

	default:
		return false, fmt.Errorf("unknown suppression condition %q", rule.Condition)
	}
}

func (f *Filter) now() time.Time {
	if f.Now != nil {
		return f.Now()
	}
	return time.Now().UTC()
}

// Defaults are the built-in suppression rules seeded on first run.
func Defaults() []store.SuppressionRule {
	return []store.SuppressionRule{
		{Name: "empty-table", Condition: CondEmptyTable, Priority: 10, Enabled: true},
		{Name: "test-table-name", Condition: CondTestNamePattern, Priority: 20, Enabled: true},
		{Name: "system-schema", Condition: CondSystemSchema, Priority: 30, Enabled: true},
		{Name: "low-impact-stable", Condition: CondLowImpactStable, Priority: 40, Enabled: true},
	}
}
