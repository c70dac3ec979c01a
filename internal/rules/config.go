// Package rules holds the quality rule configuration model: structured
// parameters, comparison operators, and template expansion.
package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ConfigError marks a rule whose configuration cannot be evaluated. The
// evaluator treats it as a configuration failure, not a quality failure.
type ConfigError struct {
	Field string
	Msg   string
}

func (e ConfigError) Error() string {
	if strings.TrimSpace(e.Field) == "" {
		return fmt.Sprintf("invalid rule config: %s", e.Msg)
	}
	return fmt.Sprintf("invalid rule config: %s: %s", e.Field, e.Msg)
}

// Config is the parsed, validated structured configuration of a rule.
type Config struct {
	// Threshold rules: compare the measured metric against Threshold using
	// Operator.
	Threshold float64 `json:"threshold"`
	Operator  string  `json:"operator"`

	// Expression rules: a scalar SQL expression evaluated against the asset.
	// Template rules carry ${...} placeholders here.
	Expression string `json:"expression,omitempty"`

	// Pattern rules: fraction of sampled values not matching Pattern may not
	// exceed Tolerance.
	Pattern    string  `json:"pattern,omitempty"`
	Tolerance  float64 `json:"tolerance,omitempty"`
	SampleSize int     `json:"sample_size,omitempty"`

	// Freshness rules: now - max(TimestampColumn) must not exceed MaxAge.
	TimestampColumn string   `json:"timestamp_column,omitempty"`
	MaxAge          Duration `json:"max_age,omitempty"`

	// Anomaly rules: z-score sensitivity override.
	Sensitivity float64 `json:"sensitivity,omitempty"`

	compiled *regexp.Regexp
}

// Duration wraps time.Duration with "1h30m" JSON encoding.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	case float64:
		// Bare numbers are seconds.
		*d = Duration(time.Duration(v * float64(time.Second)))
		return nil
	default:
		return fmt.Errorf("invalid duration value %v", raw)
	}
}

// ParseConfig decodes and validates the structured config for the given rule
// kind.
func ParseConfig(kind string, raw json.RawMessage) (*Config, error) {
	var cfg Config
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, ConfigError{Msg: err.Error()}
		}
	}

	switch kind {
	case "threshold":
		if strings.TrimSpace(cfg.Operator) == "" {
			return nil, ConfigError{Field: "operator", Msg: "required for threshold rules"}
		}
		if !ValidOperator(cfg.Operator) {
			return nil, ConfigError{Field: "operator", Msg: fmt.Sprintf("unsupported operator %q", cfg.Operator)}
		}
	case "expression":
		if strings.TrimSpace(cfg.Expression) == "" {
			return nil, ConfigError{Field: "expression", Msg: "required for expression rules"}
		}
		if strings.TrimSpace(cfg.Operator) != "" && !ValidOperator(cfg.Operator) {
			return nil, ConfigError{Field: "operator", Msg: fmt.Sprintf("unsupported operator %q", cfg.Operator)}
		}
	case "pattern":
		if strings.TrimSpace(cfg.Pattern) == "" {
			return nil, ConfigError{Field: "pattern", Msg: "required for pattern rules"}
		}
		compiled, err := regexp.Compile(cfg.Pattern)
		if err != nil {
			return nil, ConfigError{Field: "pattern", Msg: err.Error()}
		}
		cfg.compiled = compiled
		if cfg.Tolerance < 0 || cfg.Tolerance > 1 {
			return nil, ConfigError{Field: "tolerance", Msg: "must be within [0,1]"}
		}
		if cfg.SampleSize <= 0 {
			cfg.SampleSize = 1000
		}
	case "freshness":
		// Without a timestamp column the rule falls back to the catalog's
		// last-modified time.
		if cfg.MaxAge.Std() <= 0 {
			return nil, ConfigError{Field: "max_age", Msg: "must be positive"}
		}
	case "anomaly":
		if cfg.Sensitivity < 0 {
			return nil, ConfigError{Field: "sensitivity", Msg: "must not be negative"}
		}
		if strings.TrimSpace(cfg.Expression) == "" {
			return nil, ConfigError{Field: "expression", Msg: "required for anomaly rules"}
		}
	default:
		return nil, ConfigError{Field: "kind", Msg: fmt.Sprintf("unsupported rule kind %q", kind)}
	}

	return &cfg, nil
}

// MatchString reports whether a sampled value matches the compiled pattern.
func (c *Config) MatchString(v string) (bool, error) {
	if c.compiled == nil {
		return false, errors.New("rules: pattern not compiled")
	}
	return c.compiled.MatchString(v), nil
}
