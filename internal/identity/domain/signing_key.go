package domain

import "time"

// SigningKey is a JWT signing key persisted encrypted at rest. Retired keys keep verifying until
// they expire.
type SigningKey struct {
	ID                  string
	Kid                 string
	Algorithm           string
	PrivateKeyEncrypted []byte
	CreatedAt           time.Time
	RetiredAt           *time.Time
	ExpiresAt           time.Time
}

func (k SigningKey) IsActive(now time.Time) bool {
	return k.RetiredAt == nil && now.Before(k.ExpiresAt)
}

func (k SigningKey) IsExpired(now time.Time) bool {
	return now.After(k.ExpiresAt)
}
