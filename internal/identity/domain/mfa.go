package domain

import (
	"slices"
	"time"

	"github.com/aussiebroadwan/nativeid/pkg/cryptox"
)

type AuthenticatorType string

const (
	AuthenticatorOTP           AuthenticatorType = "otp"
	AuthenticatorOOBSMS        AuthenticatorType = "oob-sms"
	AuthenticatorOOBEmail      AuthenticatorType = "oob-email"
	AuthenticatorRecoveryCodes AuthenticatorType = "recovery-codes"
)

func (t AuthenticatorType) Valid() bool {
	switch t {
	case AuthenticatorOTP, AuthenticatorOOBSMS, AuthenticatorOOBEmail, AuthenticatorRecoveryCodes:
		return true
	}
	return false
}

// IsOOB reports whether the factor is delivered out of band (SMS or email).
func (t AuthenticatorType) IsOOB() bool {
	return t == AuthenticatorOOBSMS || t == AuthenticatorOOBEmail
}

// Associable reports whether a caller may request this type directly. Recovery codes are only
// minted as a side effect of the first association.
func (t AuthenticatorType) Associable() bool {
	return t == AuthenticatorOTP || t.IsOOB()
}

type AuthenticatorStatus string

const (
	AuthenticatorUnconfirmed AuthenticatorStatus = "unconfirmed"
	AuthenticatorActive      AuthenticatorStatus = "active"
)

// MFAAuthenticator is a second factor owned by exactly one PersonCredential.
//
// OOB authenticators hold two digests: OOBCodeDigest identifies the outstanding challenge and is
// returned to the client as oob_code, BindingCodeDigest matches the code delivered to the user.
type MFAAuthenticator struct {
	ID                  string
	Type                AuthenticatorType
	Status              AuthenticatorStatus
	SecretEncrypted     string
	Channel             string
	OOBCodeDigest       string
	BindingCodeDigest   string
	ChallengeExpiresAt  *time.Time
	RecoveryCodeDigests []string
	CreatedAt           time.Time
	ConfirmedAt         *time.Time
}

func (a MFAAuthenticator) IsActive() bool { return a.Status == AuthenticatorActive }

func (a *MFAAuthenticator) Activate(now time.Time) {
	a.Status = AuthenticatorActive
	a.ConfirmedAt = &now
}

func (a *MFAAuthenticator) SetChallenge(oobDigest, bindingDigest string, expiresAt time.Time) {
	a.OOBCodeDigest = oobDigest
	a.BindingCodeDigest = bindingDigest
	a.ChallengeExpiresAt = &expiresAt
}

func (a *MFAAuthenticator) ClearChallenge() {
	a.OOBCodeDigest = ""
	a.BindingCodeDigest = ""
	a.ChallengeExpiresAt = nil
}

// ChallengeMatches checks an OOB answer: the oob code must identify the outstanding challenge, the
// binding code must match what was delivered, and the challenge must not have expired.
func (a MFAAuthenticator) ChallengeMatches(oobCode, bindingCode string, now time.Time) bool {
	if a.ChallengeExpiresAt == nil || !now.Before(*a.ChallengeExpiresAt) {
		return false
	}
	return cryptox.EqualFingerprint(oobCode, a.OOBCodeDigest) &&
		cryptox.EqualFingerprint(bindingCode, a.BindingCodeDigest)
}

// ConsumeRecoveryCode removes the matching code. Each code verifies at most once.
func (a *MFAAuthenticator) ConsumeRecoveryCode(code string) bool {
	for i, digest := range a.RecoveryCodeDigests {
		if cryptox.EqualFingerprint(code, digest) {
			a.RecoveryCodeDigests = slices.Delete(a.RecoveryCodeDigests, i, i+1)
			return true
		}
	}
	return false
}

func (a MFAAuthenticator) clone() MFAAuthenticator {
	c := a
	c.RecoveryCodeDigests = slices.Clone(a.RecoveryCodeDigests)
	if a.ChallengeExpiresAt != nil {
		t := *a.ChallengeExpiresAt
		c.ChallengeExpiresAt = &t
	}
	if a.ConfirmedAt != nil {
		t := *a.ConfirmedAt
		c.ConfirmedAt = &t
	}
	return c
}
