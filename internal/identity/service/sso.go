package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aussiebroadwan/nativeid/internal/identity/audit"
	"github.com/aussiebroadwan/nativeid/internal/identity/domain"
	"github.com/aussiebroadwan/nativeid/internal/identity/federation"
	"github.com/aussiebroadwan/nativeid/internal/identity/instrumentation"
	"github.com/aussiebroadwan/nativeid/internal/identity/store"
	"github.com/aussiebroadwan/nativeid/pkg/cryptox"
	"github.com/aussiebroadwan/nativeid/pkg/idx"
	"github.com/aussiebroadwan/nativeid/pkg/slogx"
	"golang.org/x/oauth2"
)

// ProvisioningMode controls whether unknown federated identities get an account.
type ProvisioningMode string

const (
	ProvisioningDisabled ProvisioningMode = "disabled"
	ProvisioningInvite   ProvisioningMode = "invite"
	ProvisioningOpen     ProvisioningMode = "open"
)

const CodeVerifiedEmailRequired = "verified_email_required"

// SSOService signs people in through external identity providers.
type SSOService struct {
	Store     store.Store
	Providers *federation.Registry
	Issuer    *TokenIssuer
	Box       *cryptox.SecretBox
	Auditor   audit.Auditor
	Metrics   *instrumentation.Metrics
	Clock     Clock

	Provisioning ProvisioningMode
	RequireTerms bool
	DefaultRoles []string
	MFATokenTTL  time.Duration
}

type SSORequest struct {
	Provider      string
	Code          string
	CodeVerifier  string
	InviteToken   string
	AcceptedTerms bool
}

func providerFailure(provider string) error {
	return &domain.Error{
		Kind:    domain.KindNotAuthenticated,
		Message: "federated authentication failed",
		Data:    map[string]string{domain.DataProvider: provider},
	}
}

// Authenticate exchanges a provider code and issues local tokens. The identity is linked by
// provider subject, then by verified email, and otherwise provisioned when policy allows. A person
// still pending registration is refused, and one with MFA enabled gets an mfa_required error
// carrying the MFA token instead of tokens.
func (s *SSOService) Authenticate(ctx context.Context, caller domain.Caller, req SSORequest) (domain.TokenSet, error) {
	log := slogx.FromContext(ctx)
	now := s.Clock.Now()

	provider, err := s.Providers.Get(req.Provider)
	if err != nil {
		return domain.TokenSet{}, domain.Invalid(domain.CodeInvalidRequest, "unknown provider")
	}
	name := provider.ProviderName()
	if req.Code == "" {
		return domain.TokenSet{}, domain.Invalid(domain.CodeInvalidRequest, "code is required")
	}

	ident, err := provider.Authenticate(ctx, req.Code, req.CodeVerifier)
	if err != nil {
		log.Warn("federated authentication failed", slog.String("provider", name), slog.Any("error", err))
		recordAudit(ctx, s.Auditor, audit.Event{Code: audit.SSOFailed, Details: map[string]any{"provider": name}})
		s.Metrics.RecordSSO(ctx, name, false)
		return domain.TokenSet{}, providerFailure(name)
	}

	accessSealed, refreshSealed, expiry, err := s.sealTokens(ident.Token, "")
	if err != nil {
		return domain.TokenSet{}, err
	}

	var (
		user        domain.User
		provisioned bool
		mfaToken    string
	)
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		fed, err := tx.FederatedIdentities().GetByProviderSubject(ctx, name, ident.Subject)
		switch {
		case err == nil:
			user, err = tx.Users().GetUserByID(ctx, fed.UserID)
			if err != nil {
				return fmt.Errorf("load linked user: %w", err)
			}
		case errors.Is(err, store.ErrNotFound):
			user, provisioned, err = s.linkOrProvision(ctx, tx, caller, req, ident, now)
			if err != nil {
				return err
			}
			fed = domain.FederatedIdentity{
				ID:        idx.New().String(),
				Provider:  name,
				Subject:   ident.Subject,
				UserID:    user.ID,
				CreatedAt: now,
			}
		default:
			return fmt.Errorf("load federated identity: %w", err)
		}

		if user.IsSuspended() {
			return domain.NotAuthenticated("")
		}
		cred, err := tx.Credentials().GetByUserID(ctx, user.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("load credential: %w", err)
		}
		if err == nil {
			if cred.Locked {
				return domain.EntityLocked()
			}
			if !cred.IsRegistered() {
				return domain.Precondition(CodeRegistrationPending, "registration has not been confirmed")
			}
			if cred.MFAEnabled {
				mfaToken, err = cryptox.GenerateToken(cryptox.TokenSize256)
				if err != nil {
					return err
				}
				next := cred.Clone()
				next.IssueMFAToken(cryptox.FingerprintToken(mfaToken), now.Add(s.MFATokenTTL))
				if _, err := tx.Credentials().Save(ctx, next); err != nil {
					return fmt.Errorf("save credential: %w", err)
				}
			}
		}

		if refreshSealed == "" {
			refreshSealed = fed.RefreshTokenEncrypted
		}
		fed.Email = ident.Email
		fed.AccessTokenEncrypted = accessSealed
		fed.RefreshTokenEncrypted = refreshSealed
		fed.TokenExpiresAt = expiry
		fed.UpdatedAt = now
		if _, err := tx.FederatedIdentities().Save(ctx, fed); err != nil {
			return fmt.Errorf("save federated identity: %w", err)
		}
		return nil
	})
	if err != nil {
		if de, ok := domain.AsError(err); ok && de.Kind == domain.KindNotAuthenticated {
			recordAudit(ctx, s.Auditor, audit.Event{Code: audit.SSOFailed, UserID: user.ID, Details: map[string]any{"provider": name}})
			s.Metrics.RecordSSO(ctx, name, false)
		}
		return domain.TokenSet{}, err
	}

	if mfaToken != "" {
		recordAudit(ctx, s.Auditor, audit.Event{Code: audit.MFARequired, UserID: user.ID, TenantID: user.TenantID, Details: map[string]any{"provider": name}})
		return domain.TokenSet{}, domain.MFARequired(mfaToken)
	}

	var profile *domain.Profile
	if p, err := s.Store.Profiles().GetProfile(ctx, user.ID); err == nil {
		profile = &p
	}
	tokens, err := s.Issuer.Issue(IssueRequest{
		User:     user,
		Profile:  profile,
		AMR:      []string{AMRFederated},
		AuthTime: now,
	}, now)
	if err != nil {
		return domain.TokenSet{}, err
	}

	if provisioned {
		recordAudit(ctx, s.Auditor, audit.Event{Code: audit.SSOProvisioned, UserID: user.ID, TenantID: user.TenantID, Details: map[string]any{"provider": name}})
	}
	recordAudit(ctx, s.Auditor, audit.Event{Code: audit.SSOSuccess, UserID: user.ID, TenantID: user.TenantID, Details: map[string]any{"provider": name}})
	s.Metrics.RecordSSO(ctx, name, true)
	return tokens, nil
}

func (s *SSOService) linkOrProvision(ctx context.Context, tx store.Tx, caller domain.Caller, req SSORequest, ident *federation.Identity, now time.Time) (domain.User, bool, error) {
	email := strings.ToLower(strings.TrimSpace(ident.Email))
	if email != "" && ident.EmailVerified {
		u, err := tx.Users().GetUserByUsername(ctx, email)
		if err == nil && u.IsPerson() {
			return u, false, nil
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return domain.User{}, false, fmt.Errorf("load user: %w", err)
		}
	}

	switch s.Provisioning {
	case ProvisioningInvite, ProvisioningOpen:
	default:
		return domain.User{}, false, providerFailure(req.Provider)
	}
	if email == "" || !ident.EmailVerified {
		return domain.User{}, false, domain.Precondition(CodeVerifiedEmailRequired, "provider did not assert a verified email")
	}

	tenantID := caller.TenantID
	roles := s.DefaultRoles
	var invite *domain.Invite
	if s.Provisioning == ProvisioningInvite || req.InviteToken != "" {
		inv, err := checkInvite(ctx, tx, req.InviteToken, email, now)
		if err != nil {
			return domain.User{}, false, err
		}
		invite = &inv
		tenantID = inv.TenantID
		roles = inv.RolesCopy()
	}
	if s.RequireTerms && !req.AcceptedTerms {
		return domain.User{}, false, domain.Precondition(CodeTermsRequired, "terms must be accepted")
	}
	if tenantID == "" {
		return domain.User{}, false, domain.Invalid(domain.CodeInvalidRequest, "tenant is required")
	}

	user := domain.User{
		ID:        idx.New().String(),
		Kind:      domain.UserKindPerson,
		Username:  email,
		TenantID:  tenantID,
		Roles:     roles,
		Status:    domain.UserStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.Users().CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return domain.User{}, false, domain.Precondition(CodeUsernameTaken, "username already registered")
		}
		return domain.User{}, false, fmt.Errorf("create user: %w", err)
	}
	if err := tx.Profiles().UpsertProfile(ctx, domain.Profile{
		UserID:        user.ID,
		Name:          ident.Name,
		GivenName:     ident.GivenName,
		FamilyName:    ident.FamilyName,
		Email:         email,
		EmailVerified: true,
		Locale:        ident.Locale,
		UpdatedAt:     now,
	}); err != nil {
		return domain.User{}, false, fmt.Errorf("create profile: %w", err)
	}

	// Federated people have no password; the credential only carries lock and MFA state.
	cred := domain.PersonCredential{UserID: user.ID, Username: email, CreatedAt: now, UpdatedAt: now}
	cred.CompleteRegistration(now)
	if _, err := tx.Credentials().Save(ctx, cred); err != nil {
		return domain.User{}, false, fmt.Errorf("save credential: %w", err)
	}

	if invite != nil && !invite.Reusable {
		if err := tx.Invites().MarkInviteUsed(ctx, invite.ID, user.ID); err != nil {
			return domain.User{}, false, fmt.Errorf("mark invite used: %w", err)
		}
	}
	return user, true, nil
}

func (s *SSOService) sealTokens(tok *oauth2.Token, fallbackRefresh string) (string, string, *time.Time, error) {
	if tok == nil {
		return "", fallbackRefresh, nil, nil
	}
	access, err := s.Box.SealString(tok.AccessToken)
	if err != nil {
		return "", "", nil, fmt.Errorf("seal provider token: %w", err)
	}
	refresh := fallbackRefresh
	if tok.RefreshToken != "" {
		refresh, err = s.Box.SealString(tok.RefreshToken)
		if err != nil {
			return "", "", nil, fmt.Errorf("seal provider token: %w", err)
		}
	}
	var expiry *time.Time
	if !tok.Expiry.IsZero() {
		e := tok.Expiry.UTC()
		expiry = &e
	}
	return access, refresh, expiry, nil
}

// RefreshTokenForUser refreshes the stored provider tokens of a linked identity.
func (s *SSOService) RefreshTokenForUser(ctx context.Context, userID, providerName string) (domain.FederatedIdentity, error) {
	provider, err := s.Providers.Get(providerName)
	if err != nil {
		return domain.FederatedIdentity{}, domain.Invalid(domain.CodeInvalidRequest, "unknown provider")
	}

	fed, err := s.Store.FederatedIdentities().GetByUserProvider(ctx, userID, provider.ProviderName())
	if errors.Is(err, store.ErrNotFound) {
		return domain.FederatedIdentity{}, domain.NotFound("no linked identity for provider")
	}
	if err != nil {
		return domain.FederatedIdentity{}, fmt.Errorf("load federated identity: %w", err)
	}
	if fed.RefreshTokenEncrypted == "" {
		return domain.FederatedIdentity{}, domain.Precondition("refresh_unavailable", "provider did not issue a refresh token")
	}

	refreshToken, err := s.Box.OpenString(fed.RefreshTokenEncrypted)
	if err != nil {
		return domain.FederatedIdentity{}, fmt.Errorf("open provider token: %w", err)
	}
	tok, err := provider.RefreshToken(ctx, refreshToken)
	if err != nil {
		slogx.FromContext(ctx).Warn("provider token refresh failed", slog.String("provider", provider.ProviderName()), slog.Any("error", err))
		s.Metrics.RecordSSO(ctx, provider.ProviderName(), false)
		return domain.FederatedIdentity{}, providerFailure(provider.ProviderName())
	}

	fed.AccessTokenEncrypted, fed.RefreshTokenEncrypted, fed.TokenExpiresAt, err = s.sealTokens(tok, fed.RefreshTokenEncrypted)
	if err != nil {
		return domain.FederatedIdentity{}, err
	}
	fed.UpdatedAt = s.Clock.Now()
	saved, err := s.Store.FederatedIdentities().Save(ctx, fed)
	if err != nil {
		return domain.FederatedIdentity{}, fmt.Errorf("save federated identity: %w", err)
	}
	return saved, nil
}
