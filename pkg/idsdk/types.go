package idsdk

import "time"

// TokenResponse is returned by the token endpoint and every first-party sign-in.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
}

// ============================================================================
// Credentials
// ============================================================================

type AuthenticateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RefreshSessionRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type RegisterRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	Name        string `json:"name,omitempty"`
	GivenName   string `json:"given_name,omitempty"`
	FamilyName  string `json:"family_name,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
	Locale      string `json:"locale,omitempty"`
	Zoneinfo    string `json:"zoneinfo,omitempty"`
}

// RegisterResponse is identical for new, pending and already registered usernames.
type RegisterResponse struct {
	Status string `json:"status"`
}

type ConfirmRegistrationRequest struct {
	Token string `json:"token"`
}

// ============================================================================
// MFA
// ============================================================================

// MFAAssociateRequest enrols a factor. MFAToken is only needed when the caller has no access
// token and is completing a sign-in.
type MFAAssociateRequest struct {
	MFAToken          string `json:"mfa_token,omitempty"`
	AuthenticatorType string `json:"authenticator_type"`
	Channel           string `json:"channel,omitempty"`
}

type MFAAssociateResponse struct {
	AuthenticatorID   string   `json:"authenticator_id"`
	AuthenticatorType string   `json:"authenticator_type"`
	Secret            string   `json:"secret,omitempty"`
	BarcodeURI        string   `json:"barcode_uri,omitempty"`
	OOBCode           string   `json:"oob_code,omitempty"`
	BindingMethod     string   `json:"binding_method,omitempty"`
	RecoveryCodes     []string `json:"recovery_codes,omitempty"`
}

type MFAChallengeRequest struct {
	MFAToken        string `json:"mfa_token,omitempty"`
	AuthenticatorID string `json:"authenticator_id"`
}

type MFAChallengeResponse struct {
	ChallengeType string `json:"challenge_type"`
	OOBCode       string `json:"oob_code,omitempty"`
	BindingMethod string `json:"binding_method,omitempty"`
}

// MFAConfirmRequest answers a challenge with exactly one of otp, oob_code+binding_code or
// recovery_code.
type MFAConfirmRequest struct {
	MFAToken        string `json:"mfa_token,omitempty"`
	AuthenticatorID string `json:"authenticator_id,omitempty"`
	OTP             string `json:"otp,omitempty"`
	OOBCode         string `json:"oob_code,omitempty"`
	BindingCode     string `json:"binding_code,omitempty"`
	RecoveryCode    string `json:"recovery_code,omitempty"`
}

// MFAConfirmResponse is returned to a signed-in caller that confirmed a new factor.
type MFAConfirmResponse struct {
	Authenticators []Authenticator `json:"authenticators"`
}

type Authenticator struct {
	ID          string     `json:"id"`
	Type        string     `json:"authenticator_type"`
	Status      string     `json:"status"`
	Channel     string     `json:"channel,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
}

// ============================================================================
// Administration
// ============================================================================

type MFAEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

type LockRequest struct {
	Locked bool `json:"locked"`
}

type SuspensionRequest struct {
	Suspended bool `json:"suspended"`
}

type MintInviteRequest struct {
	Roles     []string  `json:"roles,omitempty"`
	Email     string    `json:"email,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
	Reusable  bool      `json:"reusable,omitempty"`
}

type MintInviteResponse struct {
	Token string `json:"invite_token"`
}

type RotateKeyRequest struct {
	RetireExisting bool `json:"retire_existing"`
}

type RotateKeyResponse struct {
	NewKID      string   `json:"new_kid"`
	RetiredKIDs []string `json:"retired_kids,omitempty"`
	ActiveKeys  int      `json:"active_keys"`
}

type SigningKey struct {
	Kid       string     `json:"kid"`
	Algorithm string     `json:"alg"`
	Active    bool       `json:"active"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	RetiredAt *time.Time `json:"retired_at,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// ============================================================================
// Clients and consent
// ============================================================================

type CreateClientRequest struct {
	Name            string     `json:"name"`
	RedirectURI     string     `json:"redirect_uri"`
	Confidential    bool       `json:"confidential"`
	Protected       bool       `json:"protected,omitempty"`
	SecretExpiresAt *time.Time `json:"secret_expires_at,omitempty"`
}

type UpdateClientRequest struct {
	Name        *string `json:"name,omitempty"`
	RedirectURI *string `json:"redirect_uri,omitempty"`
}

type ClientSecret struct {
	ID        string     `json:"id"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type Client struct {
	ID          string         `json:"client_id"`
	Name        string         `json:"name"`
	RedirectURI string         `json:"redirect_uri"`
	TenantID    string         `json:"tenant_id,omitempty"`
	Public      bool           `json:"public"`
	Protected   bool           `json:"protected"`
	Secrets     []ClientSecret `json:"secrets,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// CreatedClientResponse carries the only copy of a new secret.
type CreatedClientResponse struct {
	Client
	SecretID     string `json:"client_secret_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
}

type RotateSecretRequest struct {
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	KeepExisting bool       `json:"keep_existing"`
}

type ConsentRequest struct {
	Scope     string `json:"scope"`
	Consented bool   `json:"consented"`
}

type Consent struct {
	ClientID  string    `json:"client_id"`
	Scope     string    `json:"scope"`
	Consented bool      `json:"consented"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ============================================================================
// SSO
// ============================================================================

type SSOAuthenticateRequest struct {
	Code          string `json:"code"`
	CodeVerifier  string `json:"code_verifier,omitempty"`
	InviteToken   string `json:"invite_token,omitempty"`
	AcceptedTerms bool   `json:"accepted_terms,omitempty"`
}

type FederatedIdentity struct {
	Provider       string     `json:"provider"`
	Subject        string     `json:"subject"`
	Email          string     `json:"email,omitempty"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
}

// ============================================================================
// Health
// ============================================================================

type HealthChecks struct {
	Database string `json:"database"`
	Signer   string `json:"signer"`
}

type HealthResponse struct {
	Status  string        `json:"status"`
	Uptime  string        `json:"uptime"`
	Version string        `json:"version"`
	Checks  *HealthChecks `json:"checks,omitempty"`
}
