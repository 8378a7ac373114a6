package domain

import (
	"slices"
	"time"
)

// PersonCredential is the aggregate root for password, registration, lockout and MFA state.
// Version is compared on save; a stale Version is a conflict.
type PersonCredential struct {
	UserID                  string
	Username                string
	PasswordHash            string
	RegistrationTokenDigest string
	RegistrationExpiresAt   *time.Time
	RegisteredAt            *time.Time
	Locked                  bool
	LockedAt                *time.Time
	MFAEnabled              bool
	Authenticators          []MFAAuthenticator
	MFATokenDigest          string
	MFATokenExpiresAt       *time.Time
	LastAuthenticatedAt     *time.Time
	CreatedAt               time.Time
	UpdatedAt               time.Time
	Version                 int64
}

// Clone returns a deep copy so a transition can be computed without touching the loaded value.
func (c PersonCredential) Clone() PersonCredential {
	out := c
	out.Authenticators = make([]MFAAuthenticator, len(c.Authenticators))
	for i, a := range c.Authenticators {
		out.Authenticators[i] = a.clone()
	}
	return out
}

func (c PersonCredential) IsRegistered() bool { return c.RegisteredAt != nil }

func (c PersonCredential) HasPassword() bool { return c.PasswordHash != "" }

// BeginRegistration puts the credential into the pending state with a fresh token digest.
func (c *PersonCredential) BeginRegistration(digest string, expiresAt time.Time) {
	c.RegistrationTokenDigest = digest
	c.RegistrationExpiresAt = &expiresAt
	c.RegisteredAt = nil
}

func (c PersonCredential) RegistrationExpired(now time.Time) bool {
	return c.RegistrationExpiresAt == nil || !now.Before(*c.RegistrationExpiresAt)
}

func (c *PersonCredential) CompleteRegistration(now time.Time) {
	c.RegistrationTokenDigest = ""
	c.RegistrationExpiresAt = nil
	c.RegisteredAt = &now
}

func (c *PersonCredential) Lock(now time.Time) {
	c.Locked = true
	c.LockedAt = &now
}

func (c *PersonCredential) Unlock() {
	c.Locked = false
	c.LockedAt = nil
}

func (c *PersonCredential) IssueMFAToken(digest string, expiresAt time.Time) {
	c.MFATokenDigest = digest
	c.MFATokenExpiresAt = &expiresAt
}

func (c *PersonCredential) ClearMFAToken() {
	c.MFATokenDigest = ""
	c.MFATokenExpiresAt = nil
}

func (c PersonCredential) MFATokenValid(now time.Time) bool {
	return c.MFATokenDigest != "" && c.MFATokenExpiresAt != nil && now.Before(*c.MFATokenExpiresAt)
}

// Authenticator returns a pointer into the collection so callers can mutate it in place.
func (c *PersonCredential) Authenticator(id string) *MFAAuthenticator {
	for i := range c.Authenticators {
		if c.Authenticators[i].ID == id {
			return &c.Authenticators[i]
		}
	}
	return nil
}

// FindAuthenticator returns the first authenticator of the given type and status.
func (c *PersonCredential) FindAuthenticator(t AuthenticatorType, status AuthenticatorStatus) *MFAAuthenticator {
	for i := range c.Authenticators {
		if c.Authenticators[i].Type == t && c.Authenticators[i].Status == status {
			return &c.Authenticators[i]
		}
	}
	return nil
}

func (c *PersonCredential) RecoveryCodes() *MFAAuthenticator {
	for i := range c.Authenticators {
		if c.Authenticators[i].Type == AuthenticatorRecoveryCodes {
			return &c.Authenticators[i]
		}
	}
	return nil
}

// Attach appends a new authenticator. An unconfirmed authenticator of the same type is replaced,
// keeping at most one pending association per type. It reports whether one was replaced.
func (c *PersonCredential) Attach(a MFAAuthenticator) bool {
	replaced := false
	if a.Type != AuthenticatorRecoveryCodes {
		before := len(c.Authenticators)
		c.Authenticators = slices.DeleteFunc(c.Authenticators, func(x MFAAuthenticator) bool {
			return x.Type == a.Type && x.Status == AuthenticatorUnconfirmed
		})
		replaced = len(c.Authenticators) != before
	}
	c.Authenticators = append(c.Authenticators, a)
	return replaced
}

func (c *PersonCredential) Detach(id string) bool {
	before := len(c.Authenticators)
	c.Authenticators = slices.DeleteFunc(c.Authenticators, func(x MFAAuthenticator) bool {
		return x.ID == id
	})
	return len(c.Authenticators) != before
}

// Factors returns the non-recovery authenticators.
func (c PersonCredential) Factors() []MFAAuthenticator {
	var out []MFAAuthenticator
	for _, a := range c.Authenticators {
		if a.Type != AuthenticatorRecoveryCodes {
			out = append(out, a)
		}
	}
	return out
}

func (c PersonCredential) HasActiveFactor() bool {
	for _, a := range c.Factors() {
		if a.IsActive() {
			return true
		}
	}
	return false
}

// ResetMFA clears every authenticator, the pending MFA token and the enabled flag.
func (c *PersonCredential) ResetMFA() {
	c.Authenticators = nil
	c.MFAEnabled = false
	c.ClearMFAToken()
}
