package main

import (
	"strings"
	"testing"

	"github.com/open-dqm/open-dqm/internal/rules"
	"github.com/open-dqm/open-dqm/internal/store"
)

func TestStarterRulesParse(t *testing.T) {
	seen := map[string]bool{}
	for _, rule := range starterRules() {
		if seen[rule.Name] {
			t.Fatalf("duplicate starter rule name %q", rule.Name)
		}
		seen[rule.Name] = true

		if rule.Template {
			// Column templates keep their placeholders; they are validated
			// when instantiated with a concrete column.
			if !strings.Contains(string(rule.Config), "${column}") {
				t.Errorf("%s: template rule without column placeholder", rule.Name)
			}
			continue
		}
		if _, err := rules.ParseConfig(rule.Kind, rule.Config); err != nil {
			t.Errorf("%s: config does not parse: %v", rule.Name, err)
		}
	}
}

func TestStarterRulesCoverGlobalScope(t *testing.T) {
	global := 0
	for _, rule := range starterRules() {
		if rule.Scope == store.ScopeGlobal && !rule.Template {
			global++
		}
	}
	if global == 0 {
		t.Fatal("no global starter rules; a fresh install would evaluate nothing")
	}
}
