package domain

import "time"

// FederatedIdentity links a local user to a subject at an external identity provider. Provider
// tokens are stored sealed.
type FederatedIdentity struct {
	ID                    string
	Provider              string
	Subject               string
	UserID                string
	Email                 string
	AccessTokenEncrypted  string
	RefreshTokenEncrypted string
	TokenExpiresAt        *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
	Version               int64
}
