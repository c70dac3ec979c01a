package rules

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestParseConfig_Threshold(t *testing.T) {
	cfg, err := ParseConfig("threshold", json.RawMessage(`{"threshold":0.05,"operator":"<"}`))
	if err != nil {
		t.Fatalf("ParseConfig error: %v", err)
	}
	if cfg.Threshold != 0.05 {
		t.Fatalf("expected threshold 0.05, got %v", cfg.Threshold)
	}
	if cfg.Operator != "<" {
		t.Fatalf("expected operator <, got %q", cfg.Operator)
	}
}

func TestParseConfig_ThresholdMissingOperator(t *testing.T) {
	_, err := ParseConfig("threshold", json.RawMessage(`{"threshold":0.05}`))
	var cfgErr ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if cfgErr.Field != "operator" {
		t.Fatalf("expected operator field, got %q", cfgErr.Field)
	}
}

func TestParseConfig_PatternCompiles(t *testing.T) {
	cfg, err := ParseConfig("pattern", json.RawMessage(`{"pattern":"^[a-z]+@[a-z]+\\.[a-z]+$","tolerance":0.1}`))
	if err != nil {
		t.Fatalf("ParseConfig error: %v", err)
	}
	ok, err := cfg.MatchString("user@example.com")
	if err != nil {
		t.Fatalf("MatchString error: %v", err)
	}
	if !ok {
		t.Fatal("expected address to match")
	}
	ok, _ = cfg.MatchString("not-an-email")
	if ok {
		t.Fatal("expected non-address to not match")
	}
	if cfg.SampleSize != 1000 {
		t.Fatalf("expected default sample size, got %d", cfg.SampleSize)
	}
}

func TestParseConfig_PatternInvalidRegex(t *testing.T) {
	if _, err := ParseConfig("pattern", json.RawMessage(`{"pattern":"(unclosed"}`)); err == nil {
		t.Fatal("expected error for invalid regex")
	}
}

func TestParseConfig_FreshnessDuration(t *testing.T) {
	cfg, err := ParseConfig("freshness", json.RawMessage(`{"timestamp_column":"updated_at","max_age":"6h"}`))
	if err != nil {
		t.Fatalf("ParseConfig error: %v", err)
	}
	if cfg.MaxAge.Std() != 6*time.Hour {
		t.Fatalf("expected 6h, got %v", cfg.MaxAge.Std())
	}
}

func TestParseConfig_FreshnessNumericSeconds(t *testing.T) {
	cfg, err := ParseConfig("freshness", json.RawMessage(`{"timestamp_column":"updated_at","max_age":3600}`))
	if err != nil {
		t.Fatalf("ParseConfig error: %v", err)
	}
	if cfg.MaxAge.Std() != time.Hour {
		t.Fatalf("expected 1h from 3600 seconds, got %v", cfg.MaxAge.Std())
	}
}

func TestParseConfig_UnknownKind(t *testing.T) {
	if _, err := ParseConfig("sampling", nil); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestCompare(t *testing.T) {
	cases := []struct {
		actual   float64
		op       string
		expected float64
		want     bool
	}{
		{0.12, "<", 0.05, false},
		{0.01, "<", 0.05, true},
		{5, "<=", 5, true},
		{10, ">", 3, true},
		{3, ">=", 3, true},
		{2, "=", 2, true},
		{2, "eq", 3, false},
	}
	for _, tc := range cases {
		got, err := Compare(tc.actual, tc.op, tc.expected)
		if err != nil {
			t.Fatalf("Compare(%v %s %v) error: %v", tc.actual, tc.op, tc.expected, err)
		}
		if got != tc.want {
			t.Fatalf("Compare(%v %s %v) = %v, want %v", tc.actual, tc.op, tc.expected, got, tc.want)
		}
	}
}

func TestCompare_UnsupportedOperator(t *testing.T) {
	if _, err := Compare(1, "~", 2); err == nil {
		t.Fatal("expected error for unsupported operator")
	}
}

func TestExpandTemplate(t *testing.T) {
	expr := "SELECT count(*) FROM ${schema}.${table} WHERE ${column} IS NULL"
	out, err := ExpandTemplate(expr, map[string]string{
		"schema": "public",
		"table":  "orders",
		"column": "email",
	})
	if err != nil {
		t.Fatalf("ExpandTemplate error: %v", err)
	}
	want := "SELECT count(*) FROM public.orders WHERE email IS NULL"
	if out != want {
		t.Fatalf("expected %q, got %q", want, out)
	}
}

func TestExpandTemplate_Unresolved(t *testing.T) {
	if _, err := ExpandTemplate("SELECT ${metric} FROM t", nil); err == nil {
		t.Fatal("expected error for unresolved placeholder")
	}
}

func TestIsTemplate(t *testing.T) {
	if !IsTemplate("SELECT * FROM ${table}") {
		t.Fatal("expected template detection")
	}
	if IsTemplate("SELECT * FROM orders") {
		t.Fatal("expected non-template")
	}
}
