package jwtx

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/aussiebroadwan/nativeid/pkg/cryptox"
)

// KeyManager owns the active signing keys and the KeySet used to verify and
// publish them. Signing picks one active key at random.
type KeyManager struct {
	Verifier *KeySetVerifier
	KeySet   *KeySet

	algorithm string
	rsaBits   int

	mu      sync.RWMutex
	signers []Signer
}

// KeyManagerOptions configures key generation and verification.
type KeyManagerOptions struct {
	// Algorithm is one of RS256, ES256, EdDSA.
	Algorithm string

	// Issuer enforced on verification.
	Issuer string

	// Audience enforced on verification; empty disables the check.
	Audience []string

	// RSABits for RS256, default 4096.
	RSABits int

	// NumKeys active signing keys, default 3, capped at 10.
	NumKeys int
}

func (o *KeyManagerOptions) normalize() error {
	if o.Issuer == "" {
		return fmt.Errorf("jwtx: Issuer is required")
	}
	switch o.Algorithm {
	case AlgorithmRS256, AlgorithmES256, AlgorithmEdDSA:
	default:
		return fmt.Errorf("jwtx: unsupported algorithm %q (supported: RS256, ES256, EdDSA)", o.Algorithm)
	}
	if o.NumKeys <= 0 {
		o.NumKeys = 3
	}
	o.NumKeys = min(o.NumKeys, 10)
	if o.RSABits == 0 {
		o.RSABits = 4096
	}
	return nil
}

// NewEphemeralKeyManager generates in-memory keys. Tokens stop verifying when
// the process restarts.
func NewEphemeralKeyManager(opts KeyManagerOptions) (*KeyManager, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}

	km := newKeyManager(opts)
	for i := range opts.NumKeys {
		_, signer, err := generateSigner(opts.Algorithm, opts.RSABits)
		if err != nil {
			return nil, fmt.Errorf("jwtx: generate signer %d: %w", i+1, err)
		}
		if err := km.AddSigner(signer); err != nil {
			return nil, err
		}
	}
	return km, nil
}

func newKeyManager(opts KeyManagerOptions) *KeyManager {
	keys := NewKeySet()
	return &KeyManager{
		Verifier:  NewVerifier(keys, opts.Algorithm, opts.Issuer, opts.Audience),
		KeySet:    keys,
		algorithm: opts.Algorithm,
		rsaBits:   opts.RSABits,
	}
}

// generateSigner creates a fresh key pair with a random kid and returns the
// private key PEM together with its signer.
func generateSigner(alg string, rsaBits int) ([]byte, Signer, error) {
	kid, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return nil, nil, err
	}
	kid = "nid-" + kid

	var pemKey []byte
	switch alg {
	case AlgorithmRS256:
		pemKey, err = cryptox.GenerateRSAKey(rsaBits)
	case AlgorithmES256:
		pemKey, err = cryptox.GenerateES256Key()
	case AlgorithmEdDSA:
		pemKey, err = cryptox.GenerateEd25519Key()
	default:
		return nil, nil, fmt.Errorf("jwtx: unsupported algorithm %q", alg)
	}
	if err != nil {
		return nil, nil, err
	}

	signer, err := NewSigner(alg, kid, pemKey)
	if err != nil {
		return nil, nil, err
	}
	return pemKey, signer, nil
}

func (km *KeyManager) Algorithm() string { return km.algorithm }

func (km *KeyManager) IsReady() bool { return km.KeySet.IsReady() }

// GetSigner returns a random active signer, or nil when none is loaded.
func (km *KeyManager) GetSigner() Signer {
	km.mu.RLock()
	defer km.mu.RUnlock()

	switch len(km.signers) {
	case 0:
		return nil
	case 1:
		return km.signers[0]
	default:
		return km.signers[rand.IntN(len(km.signers))]
	}
}

// AddSigner makes signer active and publishes its public key.
func (km *KeyManager) AddSigner(signer Signer) error {
	if signer == nil {
		return fmt.Errorf("jwtx: signer cannot be nil")
	}
	if err := km.KeySet.Add(signer.PublicJWK()); err != nil {
		return fmt.Errorf("jwtx: add signer to keyset: %w", err)
	}

	km.mu.Lock()
	defer km.mu.Unlock()
	km.signers = append(km.signers, signer)
	return nil
}

// NumSigners reports the number of active signing keys.
func (km *KeyManager) NumSigners() int {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return len(km.signers)
}

// GenerateKey creates a new key pair for the manager's algorithm without activating it. The
// returned PEM is what a persistent store seals.
func (km *KeyManager) GenerateKey() ([]byte, Signer, error) {
	return generateSigner(km.algorithm, km.rsaBits)
}

// RetireSigner stops signing with kid. Its public key stays in the KeySet so issued tokens keep
// verifying.
func (km *KeyManager) RetireSigner(kid string) bool {
	km.mu.Lock()
	defer km.mu.Unlock()
	for i, s := range km.signers {
		if s.KID() == kid {
			km.signers = append(km.signers[:i], km.signers[i+1:]...)
			return true
		}
	}
	return false
}

// SignerKIDs lists the kids of the active signers.
func (km *KeyManager) SignerKIDs() []string {
	km.mu.RLock()
	defer km.mu.RUnlock()
	out := make([]string, len(km.signers))
	for i, s := range km.signers {
		out[i] = s.KID()
	}
	return out
}
