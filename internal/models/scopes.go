package models

import (
	"fmt"
	"slices"
	"strings"
)

// Scopes used to guard the key management API
const (
	ScopeAPIKeysRead  = "api_keys:read"
	ScopeAPIKeysWrite = "api_keys:write"
)

// ScopeRequirement selects how a list of required scopes is matched
// against the granted scopes. The zero value is ScopeAll.
type ScopeRequirement int

const (
	// ScopeAll requires every required scope to be granted.
	ScopeAll ScopeRequirement = iota
	// ScopeAny requires at least one required scope to be granted.
	ScopeAny
)

func (r ScopeRequirement) String() string {
	switch r {
	case ScopeAny:
		return "any"
	default:
		return "all"
	}
}

// ParseScopeRequirement parses "all" or "any" (case-insensitive).
// An empty string yields ScopeAll.
func ParseScopeRequirement(s string) (ScopeRequirement, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return ScopeAll, nil
	case "any":
		return ScopeAny, nil
	default:
		return ScopeAll, fmt.Errorf("unknown scope requirement %q", s)
	}
}

// HasScope reports whether candidate is present in granted.
// Matching is exact and case-sensitive; "admin:*" is a literal string.
func HasScope(granted []string, candidate string) bool {
	return slices.Contains(granted, candidate)
}

// HasScopes checks required against granted.
//
// With ScopeAll an empty required list is satisfied. With ScopeAny an empty
// required list is never satisfied.
func HasScopes(granted, required []string, requirement ScopeRequirement) bool {
	if requirement == ScopeAny {
		for _, scope := range required {
			if HasScope(granted, scope) {
				return true
			}
		}
		return false
	}

	for _, scope := range required {
		if !HasScope(granted, scope) {
			return false
		}
	}
	return true
}

// ValidateScopes rejects empty or whitespace-padded scope strings.
// Scope names are otherwise free-form.
func ValidateScopes(scopes []string) error {
	for _, scope := range scopes {
		if scope == "" || strings.TrimSpace(scope) != scope {
			return fmt.Errorf("%w: invalid scope %q", ErrBadRequest, scope)
		}
	}
	return nil
}
