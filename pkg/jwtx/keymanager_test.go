package jwtx_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/nativeid/pkg/cryptox"
	"github.com/aussiebroadwan/nativeid/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

func TestEphemeralKeyManager(t *testing.T) {
	t.Parallel()

	km, err := jwtx.NewEphemeralKeyManager(jwtx.KeyManagerOptions{
		Algorithm: jwtx.AlgorithmEdDSA,
		Issuer:    "https://id.example",
	})
	require.NoError(t, err)
	require.Equal(t, 3, km.NumSigners())
	require.Len(t, km.KeySet.PublicJWKS().Keys, 3)
	require.True(t, km.IsReady())

	_, err = jwtx.NewEphemeralKeyManager(jwtx.KeyManagerOptions{Algorithm: "HS256", Issuer: "x"})
	require.Error(t, err)

	_, err = jwtx.NewEphemeralKeyManager(jwtx.KeyManagerOptions{Algorithm: jwtx.AlgorithmEdDSA})
	require.Error(t, err)
}

type memKeyStore struct {
	mu   sync.Mutex
	keys []jwtx.SigningKeyRecord
}

func (m *memKeyStore) ListAllSigningKeys(context.Context) ([]jwtx.SigningKeyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]jwtx.SigningKeyRecord(nil), m.keys...), nil
}

func (m *memKeyStore) ListActiveSigningKeys(context.Context) ([]jwtx.SigningKeyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []jwtx.SigningKeyRecord
	for _, k := range m.keys {
		if k.RetiredAt == nil {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *memKeyStore) CreateSigningKey(_ context.Context, k jwtx.SigningKeyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = append(m.keys, k)
	return nil
}

func TestPersistentKeyManagerSurvivesRestart(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	box, err := cryptox.NewSecretBox([]byte("master"))
	require.NoError(t, err)
	st := &memKeyStore{}

	opts := jwtx.PersistentKeyManagerOptions{
		KeyManagerOptions: jwtx.KeyManagerOptions{
			Algorithm: jwtx.AlgorithmES256,
			Issuer:    "https://id.example",
			NumKeys:   2,
		},
		Store: st,
		Box:   box,
	}

	first, err := jwtx.NewPersistentKeyManager(ctx, opts)
	require.NoError(t, err)
	require.Len(t, st.keys, 2)

	tok, err := first.GetSigner().Sign(jwtx.Claims{
		RegisteredClaims: jwtx.NewRegisteredClaims("https://id.example", "u", nil, time.Minute, time.Now()),
	})
	require.NoError(t, err)

	second, err := jwtx.NewPersistentKeyManager(ctx, opts)
	require.NoError(t, err)
	require.Len(t, st.keys, 2, "no new keys when enough are active")

	claims, err := second.Verifier.Verify(tok)
	require.NoError(t, err)
	require.Equal(t, "u", claims.Subject)
}

func TestPersistentKeyManagerRetiredKeysVerifyOnly(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	box, err := cryptox.NewSecretBox([]byte("master"))
	require.NoError(t, err)
	st := &memKeyStore{}

	opts := jwtx.PersistentKeyManagerOptions{
		KeyManagerOptions: jwtx.KeyManagerOptions{Algorithm: jwtx.AlgorithmEdDSA, Issuer: "iss", NumKeys: 1},
		Store:             st,
		Box:               box,
	}
	_, err = jwtx.NewPersistentKeyManager(ctx, opts)
	require.NoError(t, err)

	retired := time.Now()
	st.keys[0].RetiredAt = &retired

	km, err := jwtx.NewPersistentKeyManager(ctx, opts)
	require.NoError(t, err)
	require.Len(t, st.keys, 2, "a replacement key is generated")
	require.Equal(t, 1, km.NumSigners())
	require.Len(t, km.KeySet.PublicJWKS().Keys, 2)
}

func TestKeyManagerRetireSigner(t *testing.T) {
	t.Parallel()

	km, err := jwtx.NewEphemeralKeyManager(jwtx.KeyManagerOptions{
		Algorithm: jwtx.AlgorithmES256,
		Issuer:    "https://id.example",
		NumKeys:   1,
	})
	require.NoError(t, err)

	old := km.SignerKIDs()[0]
	tok, err := km.GetSigner().Sign(jwtx.Claims{
		RegisteredClaims: jwtx.NewRegisteredClaims("https://id.example", "u", nil, time.Minute, time.Now()),
		TokenUse:         jwtx.TokenUseAccess,
	})
	require.NoError(t, err)

	_, signer, err := km.GenerateKey()
	require.NoError(t, err)
	require.NoError(t, km.AddSigner(signer))
	require.True(t, km.RetireSigner(old))
	require.False(t, km.RetireSigner(old))

	require.Equal(t, []string{signer.KID()}, km.SignerKIDs())
	_, err = km.Verifier.Verify(tok)
	require.NoError(t, err, "retired keys keep verifying")
}
