// Package permission implements capability matching over permission strings
// of the form "resource:action", with "*" accepted as either segment.
// Matching is case-sensitive and exact: no substring, prefix or fuzzy rules,
// so a grant asserts exactly what it names. The matcher never consults actor
// organization; tenancy is expressed through organization-qualified resource
// names chosen by the caller.
package permission

import (
	"fmt"
	"strings"

	gwerrors "github.com/cliniguard/cliniguard/internal/errors"
)

// Wildcard matches any resource or any action when used as that segment.
const Wildcard = "*"

// ValidatePattern checks a permission pattern at configuration time: exactly
// two non-empty segments around a single colon, no whitespace. Malformed
// patterns on a tool descriptor are a registration error, never a runtime
// authorization outcome.
func ValidatePattern(s string) error {
	res, act, ok := split(s)
	if !ok {
		return fmt.Errorf("%w: %q must be \"resource:action\"", gwerrors.ErrInvalidPermission, s)
	}
	if strings.ContainsAny(res, " \t") || strings.ContainsAny(act, " \t") {
		return fmt.Errorf("%w: %q contains whitespace", gwerrors.ErrInvalidPermission, s)
	}
	return nil
}

// Allows reports whether any grant in perms satisfies required. An empty
// required permission marks a public tool and is authorized for every caller,
// including actors with no grants at all. Malformed grant entries never match.
func Allows(perms []string, required string) bool {
	if required == "" {
		return true
	}
	res, act, ok := split(required)
	if !ok {
		return false
	}
	for _, p := range perms {
		pres, pact, ok := split(p)
		if !ok {
			continue
		}
		if (pres == res || pres == Wildcard) && (pact == act || pact == Wildcard) {
			return true
		}
	}
	return false
}

// split divides s into (resource, action) on its single colon. Both segments
// must be non-empty; extra colons are malformed (resources never contain ":",
// organization-qualified names use "/").
func split(s string) (resource, action string, ok bool) {
	resource, action, found := strings.Cut(s, ":")
	if !found || resource == "" || action == "" || strings.Contains(action, ":") {
		return "", "", false
	}
	return resource, action, true
}
