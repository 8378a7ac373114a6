package service

import (
	"context"
	"testing"
	"time"

	"github.com/aussiebroadwan/nativeid/internal/identity/audit"
	"github.com/aussiebroadwan/nativeid/internal/identity/domain"
	"github.com/aussiebroadwan/nativeid/internal/identity/federation"
	"github.com/aussiebroadwan/nativeid/internal/identity/lockout"
	"github.com/aussiebroadwan/nativeid/internal/identity/notify"
	"github.com/aussiebroadwan/nativeid/internal/identity/store/drivers/sqlite"
	"github.com/aussiebroadwan/nativeid/pkg/cryptox"
	"github.com/aussiebroadwan/nativeid/pkg/idx"
	"github.com/aussiebroadwan/nativeid/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer   = "https://id.example"
	testTenant   = "tenant-a"
	adminRole    = "admin"
	testPassword = "correct horse battery"
)

// harness wires every engine against one in-memory database and recording collaborators.
type harness struct {
	t *testing.T

	store   *sqlite.Store
	audit   *audit.Recorder
	notes   *notify.Recorder
	lockout *lockout.MemoryPolicy
	keys    *jwtx.KeyManager
	box     *cryptox.SecretBox
	hasher  cryptox.Hasher
	now     time.Time

	issuer    *TokenIssuer
	creds     *CredentialService
	mfa       *MFAService
	clients   *ClientService
	consents  *ConsentService
	authorize *AuthorizeService
	tokens    *TokenService
	userinfo  *UserInfoService
	invites   *InviteService
	sso       *SSOService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())
	t.Cleanup(func() { _ = st.Close() })

	keys, err := jwtx.NewEphemeralKeyManager(jwtx.KeyManagerOptions{
		Algorithm: jwtx.AlgorithmEdDSA,
		Issuer:    testIssuer,
		NumKeys:   1,
	})
	require.NoError(t, err)

	box, err := cryptox.NewSecretBox([]byte("test master key"))
	require.NoError(t, err)

	h := &harness{
		t:       t,
		store:   st,
		audit:   &audit.Recorder{},
		notes:   &notify.Recorder{},
		lockout: lockout.NewMemoryPolicy(lockout.Config{Enabled: true, Threshold: 3}),
		keys:    keys,
		box:     box,
		hasher:  &cryptox.Argon2Hasher{Memory: 64, Iterations: 1, Parallelism: 1},
		now:     time.Now().UTC().Truncate(time.Second),
	}
	clock := Clock(func() time.Time { return h.now })

	h.issuer = &TokenIssuer{
		Keys:       keys,
		Issuer:     testIssuer,
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
		IDTokenTTL: 15 * time.Minute,
	}
	h.creds = &CredentialService{
		Store:           st,
		Hasher:          h.hasher,
		Issuer:          h.issuer,
		Notifier:        h.notes,
		Lockout:         h.lockout,
		Auditor:         h.audit,
		Delayer:         NoDelay{},
		Clock:           clock,
		MFATokenTTL:     5 * time.Minute,
		RegistrationTTL: 24 * time.Hour,
		ElevatedRole:    adminRole,
	}
	h.mfa = &MFAService{
		Store:        st,
		Issuer:       h.issuer,
		Notifier:     h.notes,
		Box:          box,
		Auditor:      h.audit,
		Clock:        clock,
		Lockout:      h.lockout,
		TOTPIssuer:   "NativeID",
		OOBCodeTTL:   5 * time.Minute,
		ElevatedRole: adminRole,
	}
	h.clients = &ClientService{Store: st, Hasher: h.hasher, Auditor: h.audit, Clock: clock}
	h.consents = &ConsentService{Store: st, Auditor: h.audit, Clock: clock}
	h.authorize = &AuthorizeService{Store: st, Consents: h.consents, Clock: clock, CodeTTL: time.Minute}
	h.tokens = &TokenService{
		Store:    st,
		Clients:  h.clients,
		Consents: h.consents,
		Issuer:   h.issuer,
		Auditor:  h.audit,
		Clock:    clock,
	}
	h.userinfo = &UserInfoService{Store: st, Consents: h.consents, Clock: clock}
	h.invites = &InviteService{Store: st, Clock: clock, ElevatedRole: adminRole}
	h.sso = &SSOService{
		Store:        st,
		Providers:    federation.NewRegistry(),
		Issuer:       h.issuer,
		Box:          box,
		Auditor:      h.audit,
		Clock:        clock,
		Provisioning: ProvisioningOpen,
		DefaultRoles: []string{"member"},
		MFATokenTTL:  5 * time.Minute,
	}
	return h
}

func (h *harness) advance(d time.Duration) { h.now = h.now.Add(d) }

func (h *harness) ctx() context.Context { return context.Background() }

// registerPerson runs registration and confirmation and returns the confirmed user.
func (h *harness) registerPerson(username string) domain.User {
	h.t.Helper()
	caller := domain.Caller{TenantID: testTenant}

	_, err := h.creds.RegisterPerson(h.ctx(), caller, RegisterRequest{
		Username:   username,
		Password:   testPassword,
		Name:       "Alice Example",
		GivenName:  "Alice",
		FamilyName: "Example",
		Locale:     "en-AU",
	})
	require.NoError(h.t, err)

	msg, ok := h.notes.Last(notify.KindRegistration)
	require.True(h.t, ok)
	require.Equal(h.t, username, msg.To)
	require.NoError(h.t, h.creds.ConfirmRegistration(h.ctx(), msg.Secret))

	u, err := h.store.Users().GetUserByUsername(h.ctx(), username)
	require.NoError(h.t, err)
	return u
}

// seedAdmin inserts an administrator directly.
func (h *harness) seedAdmin(tenant string) domain.Caller {
	h.t.Helper()
	u := domain.User{
		ID:        idx.New().String(),
		Kind:      domain.UserKindPerson,
		Username:  idx.New().String() + "@admin.example",
		TenantID:  tenant,
		Roles:     []string{adminRole},
		Status:    domain.UserStatusActive,
		CreatedAt: h.now,
		UpdatedAt: h.now,
	}
	require.NoError(h.t, h.store.Users().CreateUser(h.ctx(), u))
	return domain.Caller{UserID: u.ID, TenantID: u.TenantID, Roles: u.Roles}
}

func callerFor(u domain.User) domain.Caller {
	return domain.Caller{UserID: u.ID, TenantID: u.TenantID, Roles: u.Roles}
}

func (h *harness) credential(userID string) domain.PersonCredential {
	h.t.Helper()
	c, err := h.store.Credentials().GetByUserID(h.ctx(), userID)
	require.NoError(h.t, err)
	return c
}

// mfaToken extracts the MFA token from an mfa_required error.
func mfaToken(t *testing.T, err error) string {
	t.Helper()
	require.ErrorIs(t, err, domain.ErrMFARequired)
	de, ok := domain.AsError(err)
	require.True(t, ok)
	tok := de.Value(domain.DataMFAToken)
	require.NotEmpty(t, tok)
	return tok
}

func requireCode(t *testing.T, err error, kind domain.ErrorKind, code string) {
	t.Helper()
	de, ok := domain.AsError(err)
	require.True(t, ok, "expected a domain error, got %v", err)
	require.Equal(t, kind, de.Kind)
	require.Equal(t, code, de.Code)
}
