package jwtx

import (
	"crypto/rand"
	"encoding/base64"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token uses carried in the "token_use" claim so an access token can never be
// replayed as a refresh token and vice versa.
const (
	TokenUseAccess  = "access"
	TokenUseRefresh = "refresh"
)

// Claims are the access and refresh token claims issued for end users.
type Claims struct {
	jwt.RegisteredClaims

	TokenUse string `json:"token_use"`

	// Session ID, shared by the access and refresh token of one issuance.
	SID string `json:"sid,omitempty"`

	// Space separated OAuth2 scope string.
	Scope string `json:"scope,omitempty"`

	// Authentication Methods Reference (RFC 8176): "pwd", "otp", "sms", "mfa", "fed".
	AMR []string `json:"amr,omitempty"`

	TenantID string   `json:"tid,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	ClientID string   `json:"client_id,omitempty"`
	Username string   `json:"preferred_username,omitempty"`
}

// Scopes splits the scope claim.
func (c Claims) Scopes() []string {
	return strings.Fields(c.Scope)
}

// AddressClaim is the OIDC "address" structured claim.
type AddressClaim struct {
	Formatted     string `json:"formatted,omitempty"`
	StreetAddress string `json:"street_address,omitempty"`
	Locality      string `json:"locality,omitempty"`
	Region        string `json:"region,omitempty"`
	PostalCode    string `json:"postal_code,omitempty"`
	Country       string `json:"country,omitempty"`
}

// ProfileClaims are the standard OIDC profile, email, phone and address claims. Fields are
// pointers so claim groups the client was not granted are absent, not empty.
type ProfileClaims struct {
	Name                *string       `json:"name,omitempty"`
	GivenName           *string       `json:"given_name,omitempty"`
	FamilyName          *string       `json:"family_name,omitempty"`
	PreferredUsername   *string       `json:"preferred_username,omitempty"`
	Zoneinfo            *string       `json:"zoneinfo,omitempty"`
	Locale              *string       `json:"locale,omitempty"`
	UpdatedAt           *int64        `json:"updated_at,omitempty"`
	Email               *string       `json:"email,omitempty"`
	EmailVerified       *bool         `json:"email_verified,omitempty"`
	PhoneNumber         *string       `json:"phone_number,omitempty"`
	PhoneNumberVerified *bool         `json:"phone_number_verified,omitempty"`
	Address             *AddressClaim `json:"address,omitempty"`
}

// IDClaims are OpenID Connect ID token claims.
type IDClaims struct {
	jwt.RegisteredClaims
	ProfileClaims

	Nonce           string   `json:"nonce,omitempty"`
	AuthTime        int64    `json:"auth_time,omitempty"`
	AuthorizedParty string   `json:"azp,omitempty"`
	AMR             []string `json:"amr,omitempty"`
	TenantID        string   `json:"tid,omitempty"`
}

// NewRegisteredClaims fills the registered claims every token carries.
func NewRegisteredClaims(issuer, subject string, audience []string, ttl time.Duration, now time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   subject,
		Audience:  jwt.ClaimStrings(audience),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        NewJTI(),
	}
}

// NewJTI returns a URL-safe random identifier for the "jti" claim.
func NewJTI() string {
	var b [20]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// ValidateAudience checks that at least one expected audience is present.
func (c *Claims) ValidateAudience(expected []string) error {
	if len(expected) == 0 {
		return nil
	}
	for _, want := range expected {
		if slices.Contains(c.Audience, want) {
			return nil
		}
	}
	return ErrAudience
}
