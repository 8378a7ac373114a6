package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aussiebroadwan/nativeid/internal/identity/audit"
	"github.com/aussiebroadwan/nativeid/internal/identity/domain"
	"github.com/aussiebroadwan/nativeid/internal/identity/instrumentation"
	"github.com/aussiebroadwan/nativeid/internal/identity/store"
	"github.com/aussiebroadwan/nativeid/pkg/cryptox"
	"github.com/aussiebroadwan/nativeid/pkg/slogx"
)

// TokenService implements the token and revocation endpoints.
type TokenService struct {
	Store    store.Store
	Clients  *ClientService
	Consents *ConsentService
	Issuer   *TokenIssuer
	Auditor  audit.Auditor
	Metrics  *instrumentation.Metrics
	Clock    Clock
}

type ExchangeRequest struct {
	ClientID     string
	ClientSecret string
	Code         string
	RedirectURI  string
	CodeVerifier string
}

type RefreshRequest struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	// Scopes optionally narrows the grant; it must be a subset of the original scopes.
	Scopes []string
}

// ExchangeCodeForTokens redeems an authorization code. A code redeems at most once; replaying it
// fails with invalid_grant and leaves the tokens of the first exchange untouched.
func (s *TokenService) ExchangeCodeForTokens(ctx context.Context, req ExchangeRequest) (domain.TokenSet, error) {
	now := s.Clock.Now()

	client, err := s.Clients.VerifyClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return domain.TokenSet{}, err
	}

	code := strings.TrimSpace(req.Code)
	if code == "" {
		return domain.TokenSet{}, domain.Invalid(domain.CodeInvalidRequest, "code is required")
	}

	authz, err := s.Store.Authorizations().GetByClientCode(ctx, client.ID, cryptox.FingerprintToken(code))
	if errors.Is(err, store.ErrNotFound) {
		s.Metrics.RecordCodeExchange(ctx, client.ID, "", false)
		return domain.TokenSet{}, domain.Invalid(domain.CodeInvalidGrant, "authorization code not recognised")
	}
	if err != nil {
		return domain.TokenSet{}, fmt.Errorf("load authorization: %w", err)
	}

	method := authz.CodeChallengeMethod
	if err := authz.ExchangeCode(code, req.RedirectURI, req.CodeVerifier, now); err != nil {
		s.Metrics.RecordCodeExchange(ctx, client.ID, method, false)
		slogx.FromContext(ctx).Info("authorization code rejected",
			slog.String("client_id", client.ID),
			slog.Any("error", err),
		)
		return domain.TokenSet{}, err
	}

	user, profile, err := s.resolveUser(ctx, authz.UserID)
	if err != nil {
		return domain.TokenSet{}, err
	}

	tokens, err := s.Issuer.Issue(IssueRequest{
		User:      user,
		Profile:   profile,
		Scopes:    authz.Scopes,
		ClientID:  client.ID,
		Nonce:     authz.Nonce,
		SessionID: authz.ID,
		AuthTime:  now,
	}, now)
	if err != nil {
		return domain.TokenSet{}, err
	}

	authz.RecordTokens(
		cryptox.FingerprintToken(tokens.AccessToken), tokens.AccessExpiresAt,
		cryptox.FingerprintToken(tokens.RefreshToken), tokens.RefreshExpiresAt,
	)
	authz.UpdatedAt = now
	if _, err := s.Store.Authorizations().Save(ctx, authz); err != nil {
		if errors.Is(err, store.ErrConflict) {
			s.Metrics.RecordCodeExchange(ctx, client.ID, method, false)
			return domain.TokenSet{}, domain.Invalid(domain.CodeInvalidGrant, "authorization code already used")
		}
		return domain.TokenSet{}, fmt.Errorf("save authorization: %w", err)
	}

	recordAudit(ctx, s.Auditor, audit.Event{Code: audit.CodeExchanged, UserID: user.ID, ClientID: client.ID, TenantID: user.TenantID})
	s.Metrics.RecordCodeExchange(ctx, client.ID, method, true)
	return tokens, nil
}

// resolveUser re-checks that the user behind a grant may still receive tokens.
func (s *TokenService) resolveUser(ctx context.Context, userID string) (domain.User, *domain.Profile, error) {
	invalid := domain.Invalid(domain.CodeInvalidGrant, "user is not eligible for tokens")

	user, err := s.Store.Users().GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.User{}, nil, invalid
	}
	if err != nil {
		return domain.User{}, nil, fmt.Errorf("load user: %w", err)
	}
	if !user.IsPerson() || user.IsSuspended() {
		return domain.User{}, nil, invalid
	}

	cred, err := s.Store.Credentials().GetByUserID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.User{}, nil, invalid
	}
	if err != nil {
		return domain.User{}, nil, fmt.Errorf("load credential: %w", err)
	}
	if !cred.IsRegistered() || cred.Locked {
		return domain.User{}, nil, invalid
	}

	profile, err := s.Store.Profiles().GetProfile(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return user, nil, nil
	}
	if err != nil {
		return domain.User{}, nil, fmt.Errorf("load profile: %w", err)
	}
	return user, &profile, nil
}

// RefreshToken rotates the token pair of an authorization. The presented refresh token stops
// working once the new pair is recorded.
func (s *TokenService) RefreshToken(ctx context.Context, req RefreshRequest) (domain.TokenSet, error) {
	now := s.Clock.Now()

	client, err := s.Clients.VerifyClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return domain.TokenSet{}, err
	}
	if req.RefreshToken == "" {
		return domain.TokenSet{}, domain.Invalid(domain.CodeInvalidRequest, "refresh_token is required")
	}

	authz, err := s.Store.Authorizations().GetByClientRefreshToken(ctx, client.ID, cryptox.FingerprintToken(req.RefreshToken))
	if errors.Is(err, store.ErrNotFound) {
		s.Metrics.RecordTokenRefresh(ctx, client.ID, false)
		return domain.TokenSet{}, domain.Invalid(domain.CodeInvalidGrant, "refresh token not recognised")
	}
	if err != nil {
		return domain.TokenSet{}, fmt.Errorf("load authorization: %w", err)
	}
	if !authz.RefreshValid(now) {
		s.Metrics.RecordTokenRefresh(ctx, client.ID, false)
		return domain.TokenSet{}, domain.Invalid(domain.CodeInvalidGrant, "refresh token expired")
	}

	user, profile, err := s.resolveUser(ctx, authz.UserID)
	if err != nil {
		s.Metrics.RecordTokenRefresh(ctx, client.ID, false)
		return domain.TokenSet{}, err
	}

	scopes := authz.Scopes
	if requested := domain.NormalizeScopes(req.Scopes); len(requested) > 0 {
		if !domain.ScopesSubset(requested, authz.Scopes) {
			return domain.TokenSet{}, domain.Invalid(domain.CodeInvalidScope, "requested scope exceeds the original grant")
		}
		scopes = requested
	}

	consented, err := s.Consents.HasConsented(ctx, client.ID, user.ID, scopes)
	if err != nil {
		return domain.TokenSet{}, err
	}
	if !consented {
		s.Metrics.RecordTokenRefresh(ctx, client.ID, false)
		return domain.TokenSet{}, domain.Invalid(domain.CodeInvalidGrant, "consent has been withdrawn")
	}

	tokens, err := s.Issuer.Issue(IssueRequest{
		User:      user,
		Profile:   profile,
		Scopes:    scopes,
		ClientID:  client.ID,
		SessionID: authz.ID,
	}, now)
	if err != nil {
		return domain.TokenSet{}, err
	}

	authz.Scopes = scopes
	authz.RecordTokens(
		cryptox.FingerprintToken(tokens.AccessToken), tokens.AccessExpiresAt,
		cryptox.FingerprintToken(tokens.RefreshToken), tokens.RefreshExpiresAt,
	)
	authz.UpdatedAt = now
	if _, err := s.Store.Authorizations().Save(ctx, authz); err != nil {
		if errors.Is(err, store.ErrConflict) {
			s.Metrics.RecordTokenRefresh(ctx, client.ID, false)
			return domain.TokenSet{}, domain.Invalid(domain.CodeInvalidGrant, "refresh token already used")
		}
		return domain.TokenSet{}, fmt.Errorf("save authorization: %w", err)
	}

	recordAudit(ctx, s.Auditor, audit.Event{Code: audit.TokenRefreshed, UserID: user.ID, ClientID: client.ID, TenantID: user.TenantID})
	s.Metrics.RecordTokenRefresh(ctx, client.ID, true)
	return tokens, nil
}

// Revoke implements RFC 7009. Either token of a pair revokes both; unknown tokens succeed.
func (s *TokenService) Revoke(ctx context.Context, clientID, clientSecret, token string) error {
	client, err := s.Clients.VerifyClient(ctx, clientID, clientSecret)
	if err != nil {
		return err
	}
	if token == "" {
		return domain.Invalid(domain.CodeInvalidRequest, "token is required")
	}

	digest := cryptox.FingerprintToken(token)
	authz, err := s.Store.Authorizations().GetByClientRefreshToken(ctx, client.ID, digest)
	if errors.Is(err, store.ErrNotFound) {
		authz, err = s.Store.Authorizations().GetByAccessToken(ctx, digest)
		if err == nil && authz.ClientID != client.ID {
			err = store.ErrNotFound
		}
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load authorization: %w", err)
	}

	authz.RevokeTokens()
	authz.UpdatedAt = s.Clock.Now()
	if _, err := s.Store.Authorizations().Save(ctx, authz); err != nil {
		return fmt.Errorf("save authorization: %w", err)
	}

	recordAudit(ctx, s.Auditor, audit.Event{Code: audit.TokenRevoked, UserID: authz.UserID, ClientID: client.ID})
	s.Metrics.RecordTokenRevocation(ctx, client.ID)
	return nil
}
