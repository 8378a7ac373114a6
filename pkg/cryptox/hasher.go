package cryptox

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ErrPasswordMismatch is returned by Verify when the plaintext does not match.
var ErrPasswordMismatch = errors.New("cryptox: password does not match")

// Hasher hashes and verifies low-entropy secrets such as passwords and
// client secrets.
type Hasher interface {
	Hash(plain string) (string, error)
	Verify(plain, encoded string) error
}

// Argon2Hasher produces PHC formatted argon2id hashes:
//
//	$argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt>$<hash>
//
// The pepper is appended to the plaintext before hashing and is never stored
// alongside the hash.
type Argon2Hasher struct {
	Pepper      string
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
}

const (
	argonSaltLength = 16
	argonKeyLength  = 32
)

// NewArgon2Hasher returns a hasher with OWASP minimum parameters
// (19 MiB, 2 iterations, 1 lane).
func NewArgon2Hasher(pepper string) *Argon2Hasher {
	return &Argon2Hasher{
		Pepper:      pepper,
		Memory:      19 * 1024,
		Iterations:  2,
		Parallelism: 1,
	}
}

func (h *Argon2Hasher) Hash(plain string) (string, error) {
	salt := make([]byte, argonSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("cryptox: salt: %w", err)
	}

	sum := argon2.IDKey([]byte(plain+h.Pepper), salt, h.Iterations, h.Memory, h.Parallelism, argonKeyLength)
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.Memory, h.Iterations, h.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum),
	), nil
}

// Verify recomputes the hash with the parameters embedded in encoded, so
// hashes made with older parameters keep verifying.
func (h *Argon2Hasher) Verify(plain, encoded string) error {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return errors.New("cryptox: invalid hash format")
	}
	if parts[1] != "argon2id" {
		return errors.New("cryptox: unsupported hash algorithm")
	}
	if parts[2] != fmt.Sprintf("v=%d", argon2.Version) {
		return errors.New("cryptox: unsupported argon2 version")
	}

	var mem, iters uint32
	var par uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &iters, &par); err != nil {
		return fmt.Errorf("cryptox: parse hash parameters: %w", err)
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return fmt.Errorf("cryptox: decode salt: %w", err)
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return fmt.Errorf("cryptox: decode hash: %w", err)
	}

	got := argon2.IDKey([]byte(plain+h.Pepper), salt, iters, mem, par, uint32(len(want))) // #nosec G115
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return ErrPasswordMismatch
	}
	return nil
}

// LoadOrCreatePepper reads the pepper stored at path, creating the file with
// 32 random bytes on first start.
func LoadOrCreatePepper(path string) (string, error) {
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", err
	}

	data, err := os.ReadFile(path)
	if err == nil {
		return strings.TrimSpace(string(data)), nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}

	pepper, err := GenerateToken(TokenSize256)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(pepper), 0o600); err != nil {
		return "", err
	}
	return pepper, nil
}
