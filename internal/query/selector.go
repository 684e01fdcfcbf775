package query

import (
	"regexp"
	"strconv"
	"strings"
)

// selectorRe accepts a label map only: {key="value", ...}. Regex matchers,
// negations and pipeline stages are rejected.
var selectorRe = regexp.MustCompile(
	`^\{\s*[a-zA-Z_][a-zA-Z0-9_]*\s*=\s*"(?:[^"\\]|\\.)*"(?:\s*,\s*[a-zA-Z_][a-zA-Z0-9_]*\s*=\s*"(?:[^"\\]|\\.)*")*\s*,?\s*\}$`,
)

// ValidateSelector checks the operator-configured required selector.
func ValidateSelector(selector string) error {
	s := strings.TrimSpace(selector)
	if s == "" {
		return &ValidationError{Setting: "required_selector", Detail: "required selector is not configured"}
	}
	if !selectorRe.MatchString(s) {
		return &ValidationError{
			Setting: "required_selector",
			Detail:  `required selector must be a label map like {app="api", env="prod"}`,
		}
	}
	return nil
}

// BuildLogQL combines the required selector with the normalized filters.
// The selector must already have passed ValidateSelector.
func BuildLogQL(selector string, q Normalized) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(selector))
	if q.Search != "" {
		b.WriteString(" |= ")
		b.WriteString(strconv.Quote(q.Search))
	}
	if q.Level != "" {
		b.WriteString(` | detected_level="`)
		b.WriteString(string(q.Level))
		b.WriteString(`"`)
	}
	return b.String()
}
