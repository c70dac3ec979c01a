package rules

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// IsTemplate reports whether the expression still carries ${...} placeholders
// and therefore cannot be executed directly.
func IsTemplate(expression string) bool {
	return placeholderRe.MatchString(expression)
}

// ExpandTemplate substitutes ${table}, ${schema}, ${column} and any extra
// variables into a template expression. It fails when a placeholder stays
// unresolved, so half-expanded rules never reach the executor.
func ExpandTemplate(expression string, vars map[string]string) (string, error) {
	out := placeholderRe.ReplaceAllStringFunc(expression, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return m
	})
	if IsTemplate(out) {
		missing := []string{}
		for _, m := range placeholderRe.FindAllStringSubmatch(out, -1) {
			missing = append(missing, m[1])
		}
		return "", ConfigError{Field: "expression", Msg: fmt.Sprintf("unresolved placeholders: %s", strings.Join(missing, ", "))}
	}
	return out, nil
}
