package domain

import (
	"slices"
	"strings"
)

const (
	ScopeOpenID        = "openid"
	ScopeProfile       = "profile"
	ScopeEmail         = "email"
	ScopePhone         = "phone"
	ScopeAddress       = "address"
	ScopeOfflineAccess = "offline_access"
)

// SupportedScopes is advertised by discovery.
var SupportedScopes = []string{ScopeOpenID, ScopeProfile, ScopeEmail, ScopePhone, ScopeAddress, ScopeOfflineAccess}

// NormalizeScopes trims, drops empties and de-duplicates while keeping the first-seen order.
func NormalizeScopes(scopes []string) []string {
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" || slices.Contains(out, s) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// ParseScope splits a space-delimited scope string.
func ParseScope(scope string) []string {
	return NormalizeScopes(strings.Fields(scope))
}

func JoinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

func HasScope(scopes []string, scope string) bool {
	return slices.Contains(scopes, scope)
}

// ScopesSubset reports whether every element of requested appears in granted.
func ScopesSubset(requested, granted []string) bool {
	for _, s := range requested {
		if !slices.Contains(granted, s) {
			return false
		}
	}
	return true
}
