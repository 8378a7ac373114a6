package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/nativeid/internal/identity/domain"
	"github.com/aussiebroadwan/nativeid/pkg/idx"
	"github.com/aussiebroadwan/nativeid/pkg/jwtx"
)

// AMR values (RFC 8176).
const (
	AMRPassword  = "pwd"
	AMRMFA       = "mfa"
	AMROTP       = "otp"
	AMROOB       = "oob"
	AMRRecovery  = "kba"
	AMRFederated = "fed"
)

var ErrNoSigningKey = errors.New("no active signing key")

// TokenIssuer mints the access, refresh and ID tokens every engine returns.
type TokenIssuer struct {
	Keys       *jwtx.KeyManager
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	IDTokenTTL time.Duration
}

// IssueRequest describes one issuance. ClientID and Nonce are the extra claims of an OAuth2
// issuance; an ID token is only minted when ClientID is set.
type IssueRequest struct {
	User      domain.User
	Profile   *domain.Profile
	Scopes    []string
	AMR       []string
	ClientID  string
	Nonce     string
	SessionID string
	AuthTime  time.Time
}

func (i *TokenIssuer) Issue(req IssueRequest, now time.Time) (domain.TokenSet, error) {
	signer := i.Keys.GetSigner()
	if signer == nil {
		return domain.TokenSet{}, ErrNoSigningKey
	}

	sid := req.SessionID
	if sid == "" {
		sid = idx.New().String()
	}
	audience := []string{i.Issuer}
	if req.ClientID != "" {
		audience = []string{req.ClientID}
	}
	scope := domain.JoinScopes(req.Scopes)

	access := jwtx.Claims{
		RegisteredClaims: jwtx.NewRegisteredClaims(i.Issuer, req.User.ID, audience, i.AccessTTL, now),
		TokenUse:         jwtx.TokenUseAccess,
		SID:              sid,
		Scope:            scope,
		AMR:              req.AMR,
		TenantID:         req.User.TenantID,
		Roles:            req.User.Roles,
		ClientID:         req.ClientID,
		Username:         req.User.Username,
	}
	accessToken, err := signer.Sign(access)
	if err != nil {
		return domain.TokenSet{}, fmt.Errorf("sign access token: %w", err)
	}

	refresh := access
	refresh.RegisteredClaims = jwtx.NewRegisteredClaims(i.Issuer, req.User.ID, audience, i.RefreshTTL, now)
	refresh.TokenUse = jwtx.TokenUseRefresh
	refreshToken, err := signer.Sign(refresh)
	if err != nil {
		return domain.TokenSet{}, fmt.Errorf("sign refresh token: %w", err)
	}

	set := domain.TokenSet{
		AccessToken:      accessToken,
		AccessExpiresAt:  now.Add(i.AccessTTL),
		RefreshToken:     refreshToken,
		RefreshExpiresAt: now.Add(i.RefreshTTL),
		TokenType:        "Bearer",
		Scope:            req.Scopes,
	}

	if req.ClientID == "" {
		return set, nil
	}

	authTime := req.AuthTime
	if authTime.IsZero() {
		authTime = now
	}
	id := jwtx.IDClaims{
		RegisteredClaims: jwtx.NewRegisteredClaims(i.Issuer, req.User.ID, []string{req.ClientID}, i.IDTokenTTL, now),
		ProfileClaims:    ProfileClaims(req.User, req.Profile, req.Scopes),
		Nonce:            req.Nonce,
		AuthTime:         authTime.Unix(),
		AuthorizedParty:  req.ClientID,
		AMR:              req.AMR,
		TenantID:         req.User.TenantID,
	}
	idToken, err := signer.Sign(id)
	if err != nil {
		return domain.TokenSet{}, fmt.Errorf("sign id token: %w", err)
	}
	set.IDToken = idToken
	set.IDExpiresAt = now.Add(i.IDTokenTTL)
	return set, nil
}

// ProfileClaims releases each standard claim group only when its scope was granted.
func ProfileClaims(u domain.User, p *domain.Profile, scopes []string) jwtx.ProfileClaims {
	var c jwtx.ProfileClaims
	if p == nil {
		return c
	}

	if domain.HasScope(scopes, domain.ScopeProfile) {
		c.Name = optional(p.Name)
		c.GivenName = optional(p.GivenName)
		c.FamilyName = optional(p.FamilyName)
		c.PreferredUsername = optional(u.Username)
		c.Zoneinfo = optional(p.Zoneinfo)
		c.Locale = optional(p.Locale)
		if !p.UpdatedAt.IsZero() {
			ts := p.UpdatedAt.Unix()
			c.UpdatedAt = &ts
		}
	}
	if domain.HasScope(scopes, domain.ScopeEmail) && p.Email != "" {
		c.Email = optional(p.Email)
		verified := p.EmailVerified
		c.EmailVerified = &verified
	}
	if domain.HasScope(scopes, domain.ScopePhone) && p.PhoneNumber != "" {
		c.PhoneNumber = optional(p.PhoneNumber)
		verified := p.PhoneNumberVerified
		c.PhoneNumberVerified = &verified
	}
	if domain.HasScope(scopes, domain.ScopeAddress) && !p.Address.IsZero() {
		c.Address = &jwtx.AddressClaim{
			Formatted:     p.Address.Formatted,
			StreetAddress: p.Address.StreetAddress,
			Locality:      p.Address.Locality,
			Region:        p.Address.Region,
			PostalCode:    p.Address.PostalCode,
			Country:       p.Address.Country,
		}
	}
	return c
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
