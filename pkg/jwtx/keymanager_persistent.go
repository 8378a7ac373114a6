package jwtx

import (
	"context"
	"fmt"
	"time"

	"github.com/aussiebroadwan/nativeid/pkg/cryptox"
	"github.com/aussiebroadwan/nativeid/pkg/idx"
)

// SigningKeyRecord is a stored signing key. The private key is sealed.
type SigningKeyRecord struct {
	ID                  string
	Kid                 string
	Algorithm           string
	PrivateKeyEncrypted []byte
	CreatedAt           time.Time
	RetiredAt           *time.Time
	ExpiresAt           time.Time
}

// KeyStore is the persistence contract for signing keys.
type KeyStore interface {
	// ListAllSigningKeys returns every non-expired key, retired ones included,
	// so tokens they signed keep verifying.
	ListAllSigningKeys(ctx context.Context) ([]SigningKeyRecord, error)

	// ListActiveSigningKeys returns keys usable for signing.
	ListActiveSigningKeys(ctx context.Context) ([]SigningKeyRecord, error)

	CreateSigningKey(ctx context.Context, key SigningKeyRecord) error
}

// PersistentKeyManagerOptions extends KeyManagerOptions with storage.
type PersistentKeyManagerOptions struct {
	KeyManagerOptions

	Store KeyStore
	Box   *cryptox.SecretBox

	// GracePeriod before a stored key expires, default 30 days.
	GracePeriod time.Duration
}

// NewPersistentKeyManager loads stored keys (all for verification, active ones
// for signing) and tops up the active set to NumKeys.
func NewPersistentKeyManager(ctx context.Context, opts PersistentKeyManagerOptions) (*KeyManager, error) {
	if opts.Store == nil || opts.Box == nil {
		return nil, fmt.Errorf("jwtx: Store and Box are required for persistent keys")
	}
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = 30 * 24 * time.Hour
	}

	all, err := opts.Store.ListAllSigningKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("jwtx: load signing keys: %w", err)
	}
	active, err := opts.Store.ListActiveSigningKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("jwtx: load active signing keys: %w", err)
	}
	isActive := make(map[string]bool, len(active))
	for _, rec := range active {
		isActive[rec.Kid] = true
	}

	km := newKeyManager(opts.KeyManagerOptions)
	for _, rec := range all {
		pemKey, err := opts.Box.Open(rec.PrivateKeyEncrypted)
		if err != nil {
			return nil, fmt.Errorf("jwtx: decrypt key %s: %w", rec.Kid, err)
		}
		signer, err := NewSigner(rec.Algorithm, rec.Kid, pemKey)
		if err != nil {
			return nil, fmt.Errorf("jwtx: load key %s: %w", rec.Kid, err)
		}

		// Keys of a previous algorithm stay verifiable but never sign.
		if isActive[rec.Kid] && rec.Algorithm == opts.Algorithm {
			if err := km.AddSigner(signer); err != nil {
				return nil, err
			}
			continue
		}
		if err := km.KeySet.Add(signer.PublicJWK()); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	for km.NumSigners() < opts.NumKeys {
		pemKey, signer, err := generateSigner(opts.Algorithm, opts.RSABits)
		if err != nil {
			return nil, fmt.Errorf("jwtx: generate key: %w", err)
		}
		sealed, err := opts.Box.Seal(pemKey)
		if err != nil {
			return nil, fmt.Errorf("jwtx: seal key: %w", err)
		}

		rec := SigningKeyRecord{
			ID:                  idx.New().String(),
			Kid:                 signer.KID(),
			Algorithm:           opts.Algorithm,
			PrivateKeyEncrypted: sealed,
			CreatedAt:           now,
			ExpiresAt:           now.Add(opts.GracePeriod),
		}
		if err := opts.Store.CreateSigningKey(ctx, rec); err != nil {
			return nil, fmt.Errorf("jwtx: store key: %w", err)
		}
		if err := km.AddSigner(signer); err != nil {
			return nil, err
		}
	}
	return km, nil
}
