package rules

import (
	"fmt"
	"strings"
)

// Compare evaluates `actual op expected` for the configured comparison
// operator. Threshold rules pass when the comparison holds.
func Compare(actual float64, op string, expected float64) (bool, error) {
	switch strings.TrimSpace(op) {
	case "<", "lt":
		return actual < expected, nil
	case "<=", "lte":
		return actual <= expected, nil
	case ">", "gt":
		return actual > expected, nil
	case ">=", "gte":
		return actual >= expected, nil
	case "=", "==", "eq":
		return actual == expected, nil
	default:
		return false, fmt.Errorf("unsupported operator %q", op)
	}
}

// ValidOperator reports whether op is a supported comparison operator.
func ValidOperator(op string) bool {
	switch strings.TrimSpace(op) {
	case "<", "<=", ">", ">=", "=", "==", "lt", "lte", "gt", "gte", "eq":
		return true
	default:
		return false
	}
}
