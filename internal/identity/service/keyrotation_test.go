package service

import (
	"testing"
	"time"

	"github.com/aussiebroadwan/nativeid/internal/identity/domain"
	"github.com/aussiebroadwan/nativeid/internal/identity/store"
	"github.com/aussiebroadwan/nativeid/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

func TestKeyRotationEphemeral(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	admin := h.seedAdmin(testTenant)
	svc := &KeyRotationService{Keys: h.keys, ElevatedRole: adminRole, Clock: func() time.Time { return h.now }}

	u := h.registerPerson("alice@example.com")
	before, err := h.creds.Authenticate(h.ctx(), "alice@example.com", testPassword)
	require.NoError(t, err)
	old := h.keys.SignerKIDs()

	_, err = svc.RotateKey(h.ctx(), callerFor(u), true)
	require.ErrorIs(t, err, domain.ErrForbiddenAccess)

	res, err := svc.RotateKey(h.ctx(), admin, true)
	require.NoError(t, err)
	require.Equal(t, old, res.RetiredKIDs)
	require.Equal(t, 1, res.ActiveKeys)
	require.Equal(t, []string{res.NewKID}, h.keys.SignerKIDs())

	_, err = h.keys.Verifier.Verify(before.AccessToken)
	require.NoError(t, err, "tokens signed before the rotation still verify")

	keys, err := svc.ListSigningKeys(h.ctx(), admin)
	require.NoError(t, err)
	require.Len(t, keys, 1)

	err = svc.RetireKey(h.ctx(), admin, res.NewKID)
	requireCode(t, err, domain.KindPreconditionViolation, CodeLastSigningKey)
	require.ErrorIs(t, svc.RetireKey(h.ctx(), admin, "unknown"), domain.ErrEntityNotFound)
}

func TestKeyRotationPersistent(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	admin := h.seedAdmin(testTenant)

	km, err := jwtx.NewPersistentKeyManager(h.ctx(), jwtx.PersistentKeyManagerOptions{
		KeyManagerOptions: jwtx.KeyManagerOptions{Algorithm: jwtx.AlgorithmES256, Issuer: testIssuer, NumKeys: 1},
		Store:             store.NewKeyStoreAdapter(h.store),
		Box:               h.box,
	})
	require.NoError(t, err)
	svc := &KeyRotationService{
		Store:        h.store,
		Keys:         km,
		Box:          h.box,
		GracePeriod:  time.Hour,
		ElevatedRole: adminRole,
		Clock:        func() time.Time { return h.now },
	}
	first := km.SignerKIDs()[0]

	res, err := svc.RotateKey(h.ctx(), admin, false)
	require.NoError(t, err)
	require.Empty(t, res.RetiredKIDs)
	require.Equal(t, 2, res.ActiveKeys)

	require.NoError(t, svc.RetireKey(h.ctx(), admin, first))
	require.Equal(t, []string{res.NewKID}, km.SignerKIDs())

	keys, err := svc.ListSigningKeys(h.ctx(), admin)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	for _, k := range keys {
		require.Equal(t, k.Kid == res.NewKID, k.Active, k.Kid)
	}

	// A restart loads the retired key for verification only.
	reloaded, err := jwtx.NewPersistentKeyManager(h.ctx(), jwtx.PersistentKeyManagerOptions{
		KeyManagerOptions: jwtx.KeyManagerOptions{Algorithm: jwtx.AlgorithmES256, Issuer: testIssuer, NumKeys: 1},
		Store:             store.NewKeyStoreAdapter(h.store),
		Box:               h.box,
	})
	require.NoError(t, err)
	require.Equal(t, []string{res.NewKID}, reloaded.SignerKIDs())
	require.Len(t, reloaded.KeySet.PublicJWKS().Keys, 2)
}
