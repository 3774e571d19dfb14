package oauth

import (
	"slices"
	"strings"
)

// resolveScope narrows requested to allowed. An empty request receives
// everything allowed.
func resolveScope(requested string, allowed []string) (string, error) {
	fields := strings.Fields(requested)
	if len(fields) == 0 {
		return strings.Join(allowed, " "), nil
	}
	out := make([]string, 0, len(fields))
	for _, s := range fields {
		if !slices.Contains(allowed, s) {
			return "", ErrInvalidScope.WithDescription("scope " + s + " is not allowed")
		}
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return strings.Join(out, " "), nil
}

// HasScope reports whether the space-delimited scope contains want.
func HasScope(scope, want string) bool {
	return slices.Contains(strings.Fields(scope), want)
}
