package cryptox_test

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/aussiebroadwan/nativeid/pkg/cryptox"
	"github.com/stretchr/testify/require"
)

func TestGenerateKeys(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		gen   func() ([]byte, error)
		check func(any) bool
	}{
		{"rsa", func() ([]byte, error) { return cryptox.GenerateRSAKey(2048) }, func(k any) bool { _, ok := k.(*rsa.PrivateKey); return ok }},
		{"es256", cryptox.GenerateES256Key, func(k any) bool { _, ok := k.(*ecdsa.PrivateKey); return ok }},
		{"ed25519", cryptox.GenerateEd25519Key, func(k any) bool { _, ok := k.(ed25519.PrivateKey); return ok }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			pemBytes, err := tt.gen()
			require.NoError(t, err)

			block, _ := pem.Decode(pemBytes)
			require.NotNil(t, block)
			require.Equal(t, "PRIVATE KEY", block.Type)

			key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			require.NoError(t, err)
			require.True(t, tt.check(key))
		})
	}

	_, err := cryptox.GenerateRSAKey(1024)
	require.Error(t, err)
}
