package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrCiphertext is returned when sealed data is truncated or fails
// authentication.
var ErrCiphertext = errors.New("cryptox: invalid ciphertext")

// SecretBox seals small secrets at rest with AES-256-GCM: signing keys, TOTP
// seeds and upstream provider tokens.
//
// Sealed layout: [12-byte nonce][ciphertext][16-byte tag].
type SecretBox struct {
	aead cipher.AEAD
}

// NewSecretBox derives a 32-byte key from keyMaterial with SHA-256.
func NewSecretBox(keyMaterial []byte) (*SecretBox, error) {
	if len(keyMaterial) == 0 {
		return nil, errors.New("cryptox: empty master key")
	}

	key := sha256.Sum256(keyMaterial)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("cryptox: cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptox: gcm: %w", err)
	}
	return &SecretBox{aead: aead}, nil
}

// LoadMasterKey resolves key material from a file, then from envValue, and
// otherwise generates an ephemeral key. The bool reports whether the key is
// ephemeral, in which case anything sealed is lost on restart.
func LoadMasterKey(path, envValue string) ([]byte, bool, error) {
	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 operator supplied path
		if err != nil {
			return nil, false, fmt.Errorf("cryptox: read master key: %w", err)
		}
		return data, false, nil
	}
	if envValue != "" {
		return []byte(envValue), false, nil
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, false, fmt.Errorf("cryptox: ephemeral master key: %w", err)
	}
	return key, true, nil
}

// Seal encrypts plaintext with a fresh random nonce.
func (b *SecretBox) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("cryptox: nonce: %w", err)
	}
	return b.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open reverses Seal.
func (b *SecretBox) Open(sealed []byte) ([]byte, error) {
	n := b.aead.NonceSize()
	if len(sealed) < n+b.aead.Overhead() {
		return nil, ErrCiphertext
	}
	plain, err := b.aead.Open(nil, sealed[:n], sealed[n:], nil)
	if err != nil {
		return nil, ErrCiphertext
	}
	return plain, nil
}

// SealString seals s and encodes it as base64url for text columns. The empty
// string seals to the empty string.
func (b *SecretBox) SealString(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	sealed, err := b.Seal([]byte(s))
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// OpenString reverses SealString.
func (b *SecretBox) OpenString(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	sealed, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return "", ErrCiphertext
	}
	plain, err := b.Open(sealed)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
