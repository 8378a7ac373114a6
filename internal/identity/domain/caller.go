package domain

import "slices"

// Caller is the explicit request context handed to the engines. A caller is authenticated when
// UserID is set (from a verified access token); an unauthenticated caller may carry an MFA token
// minted by a successful password check.
type Caller struct {
	UserID   string
	TenantID string
	Roles    []string
	MFAToken string
}

func (c Caller) Authenticated() bool { return c.UserID != "" }

func (c Caller) HasRole(role string) bool {
	return role != "" && slices.Contains(c.Roles, role)
}

// Accessibility governs which caller states may invoke an operation.
type Accessibility int

const (
	UnauthenticatedOnly Accessibility = iota + 1
	AuthenticatedOnly
	Both
)

func (a Accessibility) String() string {
	switch a {
	case UnauthenticatedOnly:
		return "unauthenticated_only"
	case AuthenticatedOnly:
		return "authenticated_only"
	case Both:
		return "both"
	default:
		return "unknown"
	}
}

// Allows reports whether the caller satisfies the policy. UnauthenticatedOnly additionally needs an
// MFA token to be presented.
func (a Accessibility) Allows(c Caller) bool {
	switch a {
	case UnauthenticatedOnly:
		return !c.Authenticated() && c.MFAToken != ""
	case AuthenticatedOnly:
		return c.Authenticated()
	case Both:
		return c.Authenticated() || c.MFAToken != ""
	default:
		return false
	}
}
