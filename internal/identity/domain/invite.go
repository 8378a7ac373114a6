package domain

import (
	"slices"
	"time"
)

// Invite admits a new person through SSO auto-provisioning when provisioning is invite-only.
type Invite struct {
	ID        string
	TokenHash string
	TenantID  string
	Roles     []string
	Email     string
	CreatedBy string
	ExpiresAt time.Time
	Reusable  bool
	Used      bool
	UsedBy    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (i Invite) Expired(now time.Time) bool { return !now.Before(i.ExpiresAt) }

// Redeemable reports whether the invite may still admit someone.
func (i Invite) Redeemable(now time.Time) bool {
	if i.Expired(now) {
		return false
	}
	return i.Reusable || !i.Used
}

func (i Invite) RolesCopy() []string { return slices.Clone(i.Roles) }
