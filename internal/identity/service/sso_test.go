package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aussiebroadwan/nativeid/internal/identity/audit"
	"github.com/aussiebroadwan/nativeid/internal/identity/domain"
	"github.com/aussiebroadwan/nativeid/internal/identity/federation"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// fakeProvider asserts a fixed identity for any code except "bad".
type fakeProvider struct {
	name     string
	identity federation.Identity
	refresh  *oauth2.Token
}

func (p *fakeProvider) ProviderName() string { return p.name }

func (p *fakeProvider) Authenticate(_ context.Context, code, _ string) (*federation.Identity, error) {
	if code == "bad" {
		return nil, errors.New("invalid_grant")
	}
	ident := p.identity
	return &ident, nil
}

func (p *fakeProvider) RefreshToken(_ context.Context, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" || p.refresh == nil {
		return nil, federation.ErrRefreshNotSupported
	}
	return p.refresh, nil
}

func (h *harness) withProvider(ident federation.Identity) *fakeProvider {
	h.t.Helper()
	p := &fakeProvider{
		name:     "acme",
		identity: ident,
	}
	if ident.Token == nil {
		p.identity.Token = &oauth2.Token{
			AccessToken:  "provider-access",
			RefreshToken: "provider-refresh",
			Expiry:       h.now.Add(time.Hour),
		}
	}
	h.sso.Providers.Register(p)
	return p
}

func verifiedIdentity(email string) federation.Identity {
	return federation.Identity{
		Subject:       "acme|" + email,
		Email:         email,
		EmailVerified: true,
		Name:          "Fed User",
		GivenName:     "Fed",
		FamilyName:    "User",
	}
}

func TestSSOProvisioning(t *testing.T) {
	t.Parallel()

	t.Run("open provisioning creates and then links", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.withProvider(verifiedIdentity("fed@example.com"))
		caller := domain.Caller{TenantID: testTenant}

		tokens, err := h.sso.Authenticate(h.ctx(), caller, SSORequest{Provider: "acme", Code: "ok"})
		require.NoError(t, err)
		claims, err := h.keys.Verifier.Verify(tokens.AccessToken)
		require.NoError(t, err)
		require.Equal(t, []string{AMRFederated}, claims.AMR)
		require.Equal(t, testTenant, claims.TenantID)
		require.Equal(t, []string{"member"}, claims.Roles)

		u, err := h.store.Users().GetUserByUsername(h.ctx(), "fed@example.com")
		require.NoError(t, err)
		require.Equal(t, u.ID, claims.Subject)

		p, err := h.store.Profiles().GetProfile(h.ctx(), u.ID)
		require.NoError(t, err)
		require.True(t, p.EmailVerified)
		require.Equal(t, "Fed User", p.Name)

		fed, err := h.store.FederatedIdentities().GetByProviderSubject(h.ctx(), "acme", "acme|fed@example.com")
		require.NoError(t, err)
		require.NotEqual(t, "provider-access", fed.AccessTokenEncrypted)
		plain, err := h.box.OpenString(fed.AccessTokenEncrypted)
		require.NoError(t, err)
		require.Equal(t, "provider-access", plain)

		_, err = h.sso.Authenticate(h.ctx(), caller, SSORequest{Provider: "acme", Code: "ok"})
		require.NoError(t, err)
		require.Equal(t, 1, h.audit.Count(audit.SSOProvisioned))
		require.Equal(t, 2, h.audit.Count(audit.SSOSuccess))
	})

	t.Run("links an existing person by verified email", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		u := h.registerPerson("alice@example.com")
		h.withProvider(verifiedIdentity("Alice@Example.com"))

		tokens, err := h.sso.Authenticate(h.ctx(), domain.Caller{}, SSORequest{Provider: "acme", Code: "ok"})
		require.NoError(t, err)
		claims, err := h.keys.Verifier.Verify(tokens.AccessToken)
		require.NoError(t, err)
		require.Equal(t, u.ID, claims.Subject)
		require.Zero(t, h.audit.Count(audit.SSOProvisioned))
	})

	t.Run("pending registration is not linked", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		_, err := h.creds.RegisterPerson(h.ctx(), domain.Caller{TenantID: testTenant}, RegisterRequest{
			Username: "pending@example.com",
			Password: testPassword,
		})
		require.NoError(t, err)
		h.withProvider(verifiedIdentity("pending@example.com"))

		_, err = h.sso.Authenticate(h.ctx(), domain.Caller{TenantID: testTenant}, SSORequest{Provider: "acme", Code: "ok"})
		requireCode(t, err, domain.KindPreconditionViolation, CodeRegistrationPending)

		_, err = h.store.FederatedIdentities().GetByProviderSubject(h.ctx(), "acme", "acme|pending@example.com")
		require.Error(t, err, "nothing is linked")
	})

	t.Run("linked people with mfa verify a factor", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		u := h.registerPerson("alice@example.com")
		enrol := h.enrolOTP(u)
		h.withProvider(verifiedIdentity("alice@example.com"))

		_, err := h.sso.Authenticate(h.ctx(), domain.Caller{}, SSORequest{Provider: "acme", Code: "ok"})
		caller := domain.Caller{MFAToken: mfaToken(t, err)}
		require.Zero(t, h.audit.Count(audit.SSOSuccess))

		code, err := totp.GenerateCode(enrol.Secret, h.now)
		require.NoError(t, err)
		res, err := h.mfa.Verify(h.ctx(), caller, ConfirmRequest{OTP: code})
		require.NoError(t, err)
		require.NotNil(t, res.Tokens)
		claims, err := h.keys.Verifier.Verify(res.Tokens.AccessToken)
		require.NoError(t, err)
		require.Equal(t, u.ID, claims.Subject)

		fed, err := h.store.FederatedIdentities().GetByProviderSubject(h.ctx(), "acme", "acme|alice@example.com")
		require.NoError(t, err)
		require.Equal(t, u.ID, fed.UserID)
	})

	t.Run("unverified email", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.registerPerson("alice@example.com")
		ident := verifiedIdentity("alice@example.com")
		ident.EmailVerified = false
		h.withProvider(ident)

		_, err := h.sso.Authenticate(h.ctx(), domain.Caller{TenantID: testTenant}, SSORequest{Provider: "acme", Code: "ok"})
		requireCode(t, err, domain.KindPreconditionViolation, CodeVerifiedEmailRequired)
	})

	t.Run("terms", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.sso.RequireTerms = true
		h.withProvider(verifiedIdentity("fed@example.com"))
		caller := domain.Caller{TenantID: testTenant}

		_, err := h.sso.Authenticate(h.ctx(), caller, SSORequest{Provider: "acme", Code: "ok"})
		requireCode(t, err, domain.KindPreconditionViolation, CodeTermsRequired)

		_, err = h.sso.Authenticate(h.ctx(), caller, SSORequest{Provider: "acme", Code: "ok", AcceptedTerms: true})
		require.NoError(t, err)
	})

	t.Run("disabled", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.sso.Provisioning = ProvisioningDisabled
		h.withProvider(verifiedIdentity("fed@example.com"))

		_, err := h.sso.Authenticate(h.ctx(), domain.Caller{TenantID: testTenant}, SSORequest{Provider: "acme", Code: "ok"})
		require.ErrorIs(t, err, domain.ErrNotAuthenticated)
		de, _ := domain.AsError(err)
		require.Equal(t, "acme", de.Value(domain.DataProvider))

		_, err = h.store.Users().GetUserByUsername(h.ctx(), "fed@example.com")
		require.Error(t, err, "nothing is provisioned")
	})
}

func TestSSOInvites(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.sso.Provisioning = ProvisioningInvite
	admin := h.seedAdmin("tenant-invited")

	token, err := h.invites.MintInvite(h.ctx(), admin, MintInviteRequest{
		Roles:     []string{"editor"},
		Email:     "first@example.com",
		ExpiresAt: h.now.Add(time.Hour),
	})
	require.NoError(t, err)

	p := h.withProvider(verifiedIdentity("first@example.com"))

	_, err = h.sso.Authenticate(h.ctx(), domain.Caller{}, SSORequest{Provider: "acme", Code: "ok"})
	requireCode(t, err, domain.KindPreconditionViolation, CodeInviteRequired)

	tokens, err := h.sso.Authenticate(h.ctx(), domain.Caller{}, SSORequest{Provider: "acme", Code: "ok", InviteToken: token})
	require.NoError(t, err)
	claims, err := h.keys.Verifier.Verify(tokens.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "tenant-invited", claims.TenantID)
	require.Equal(t, []string{"editor"}, claims.Roles)

	// The invite is spent, and it was addressed to someone else anyway.
	p.identity = verifiedIdentity("second@example.com")
	_, err = h.sso.Authenticate(h.ctx(), domain.Caller{}, SSORequest{Provider: "acme", Code: "ok", InviteToken: token})
	requireCode(t, err, domain.KindPreconditionViolation, CodeInviteRequired)
}

func TestMintInvite(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	admin := h.seedAdmin(testTenant)
	u := h.registerPerson("alice@example.com")
	expiry := h.now.Add(time.Hour)

	_, err := h.invites.MintInvite(h.ctx(), callerFor(u), MintInviteRequest{ExpiresAt: expiry})
	require.ErrorIs(t, err, domain.ErrForbiddenAccess)

	_, err = h.invites.MintInvite(h.ctx(), admin, MintInviteRequest{ExpiresAt: h.now})
	require.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = h.invites.MintInvite(h.ctx(), admin, MintInviteRequest{Roles: []string{adminRole}, ExpiresAt: expiry, Reusable: true})
	require.ErrorIs(t, err, domain.ErrInvalidRequest)

	token, err := h.invites.MintInvite(h.ctx(), admin, MintInviteRequest{Roles: []string{"member"}, ExpiresAt: expiry, Reusable: true})
	require.NoError(t, err)
	require.NotEmpty(t, token)
}

func TestSSOFailures(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.withProvider(verifiedIdentity("fed@example.com"))
	caller := domain.Caller{TenantID: testTenant}

	_, err := h.sso.Authenticate(h.ctx(), caller, SSORequest{Provider: "nope", Code: "ok"})
	require.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = h.sso.Authenticate(h.ctx(), caller, SSORequest{Provider: "acme", Code: "bad"})
	require.ErrorIs(t, err, domain.ErrNotAuthenticated)
	require.Equal(t, 1, h.audit.Count(audit.SSOFailed))

	_, err = h.sso.Authenticate(h.ctx(), caller, SSORequest{Provider: "acme", Code: "ok"})
	require.NoError(t, err)
	u, err := h.store.Users().GetUserByUsername(h.ctx(), "fed@example.com")
	require.NoError(t, err)

	admin := h.seedAdmin(testTenant)
	require.NoError(t, h.creds.SetLocked(h.ctx(), admin, u.ID, true))
	_, err = h.sso.Authenticate(h.ctx(), caller, SSORequest{Provider: "acme", Code: "ok"})
	require.ErrorIs(t, err, domain.ErrEntityLocked)

	require.NoError(t, h.creds.SetLocked(h.ctx(), admin, u.ID, false))
	require.NoError(t, h.creds.SetSuspended(h.ctx(), admin, u.ID, true))
	_, err = h.sso.Authenticate(h.ctx(), caller, SSORequest{Provider: "acme", Code: "ok"})
	require.ErrorIs(t, err, domain.ErrNotAuthenticated)
	require.NotErrorIs(t, err, domain.ErrEntityLocked)

	// Federated people have no password to fall back on.
	_, err = h.creds.Authenticate(h.ctx(), "fed@example.com", "")
	require.ErrorIs(t, err, domain.ErrNotAuthenticated)
}

func TestSSORefreshTokenForUser(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	p := h.withProvider(verifiedIdentity("fed@example.com"))
	p.refresh = &oauth2.Token{AccessToken: "rotated-access", RefreshToken: "rotated-refresh", Expiry: h.now.Add(2 * time.Hour)}

	_, err := h.sso.Authenticate(h.ctx(), domain.Caller{TenantID: testTenant}, SSORequest{Provider: "acme", Code: "ok"})
	require.NoError(t, err)
	u, err := h.store.Users().GetUserByUsername(h.ctx(), "fed@example.com")
	require.NoError(t, err)

	fed, err := h.sso.RefreshTokenForUser(h.ctx(), u.ID, "acme")
	require.NoError(t, err)
	access, err := h.box.OpenString(fed.AccessTokenEncrypted)
	require.NoError(t, err)
	require.Equal(t, "rotated-access", access)
	refresh, err := h.box.OpenString(fed.RefreshTokenEncrypted)
	require.NoError(t, err)
	require.Equal(t, "rotated-refresh", refresh)

	_, err = h.sso.RefreshTokenForUser(h.ctx(), "someone-else", "acme")
	require.ErrorIs(t, err, domain.ErrEntityNotFound)

	p.refresh = nil
	_, err = h.sso.RefreshTokenForUser(h.ctx(), u.ID, "acme")
	require.ErrorIs(t, err, domain.ErrNotAuthenticated)
}
