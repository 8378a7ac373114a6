package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/aussiebroadwan/nativeid/internal/identity/domain"
	"github.com/aussiebroadwan/nativeid/internal/identity/store"
	"github.com/aussiebroadwan/nativeid/pkg/cryptox"
	"github.com/aussiebroadwan/nativeid/pkg/idx"
	"github.com/aussiebroadwan/nativeid/pkg/jwtx"
	"github.com/aussiebroadwan/nativeid/pkg/slogx"
)

// KeyRotationService rotates the JWT signing keys at runtime.
//
// With a Store the new key is sealed and persisted and retired keys keep verifying until their
// grace period ends. Without one (ephemeral mode) rotation only affects this process.
type KeyRotationService struct {
	Store        store.Store
	Keys         *jwtx.KeyManager
	Box          *cryptox.SecretBox
	Clock        Clock
	GracePeriod  time.Duration
	ElevatedRole string
}

const defaultKeyGracePeriod = 30 * 24 * time.Hour

type RotateKeyResult struct {
	NewKID      string
	RetiredKIDs []string
	ActiveKeys  int
}

// RotateKey activates a new signing key and optionally retires every other active key.
func (s *KeyRotationService) RotateKey(ctx context.Context, caller domain.Caller, retireExisting bool) (RotateKeyResult, error) {
	if err := requireElevated(caller, s.ElevatedRole); err != nil {
		return RotateKeyResult{}, err
	}
	now := s.Clock.Now()
	grace := s.GracePeriod
	if grace <= 0 {
		grace = defaultKeyGracePeriod
	}

	pemKey, signer, err := s.Keys.GenerateKey()
	if err != nil {
		return RotateKeyResult{}, fmt.Errorf("generate signing key: %w", err)
	}

	var retire []string
	if retireExisting {
		retire = s.Keys.SignerKIDs()
	}

	if s.Store != nil {
		sealed, err := s.Box.Seal(pemKey)
		if err != nil {
			return RotateKeyResult{}, fmt.Errorf("seal signing key: %w", err)
		}
		err = s.Store.WithTx(ctx, func(tx store.Tx) error {
			if err := tx.SigningKeys().CreateSigningKey(ctx, domain.SigningKey{
				ID:                  idx.New().String(),
				Kid:                 signer.KID(),
				Algorithm:           signer.Alg(),
				PrivateKeyEncrypted: sealed,
				CreatedAt:           now,
				ExpiresAt:           now.Add(grace),
			}); err != nil {
				return fmt.Errorf("create signing key: %w", err)
			}
			for _, kid := range retire {
				if err := tx.SigningKeys().RetireSigningKey(ctx, kid); err != nil {
					return fmt.Errorf("retire signing key %s: %w", kid, err)
				}
			}
			return nil
		})
		if err != nil {
			return RotateKeyResult{}, err
		}
	}

	if err := s.Keys.AddSigner(signer); err != nil {
		return RotateKeyResult{}, err
	}
	for _, kid := range retire {
		s.Keys.RetireSigner(kid)
	}

	slogx.FromContext(ctx).Info("signing key rotated",
		slog.String("kid", signer.KID()),
		slog.Int("retired", len(retire)),
	)
	return RotateKeyResult{
		NewKID:      signer.KID(),
		RetiredKIDs: retire,
		ActiveKeys:  s.Keys.NumSigners(),
	}, nil
}

// SigningKeyInfo describes a signing key without its private material.
type SigningKeyInfo struct {
	Kid       string     `json:"kid"`
	Algorithm string     `json:"alg"`
	Active    bool       `json:"active"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	RetiredAt *time.Time `json:"retired_at,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// ListSigningKeys reports the stored keys, or the in-memory signers in ephemeral mode.
func (s *KeyRotationService) ListSigningKeys(ctx context.Context, caller domain.Caller) ([]SigningKeyInfo, error) {
	if err := requireElevated(caller, s.ElevatedRole); err != nil {
		return nil, err
	}

	if s.Store == nil {
		kids := s.Keys.SignerKIDs()
		out := make([]SigningKeyInfo, len(kids))
		for i, kid := range kids {
			out[i] = SigningKeyInfo{Kid: kid, Algorithm: s.Keys.Algorithm(), Active: true}
		}
		return out, nil
	}

	keys, err := s.Store.SigningKeys().ListAllSigningKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list signing keys: %w", err)
	}
	now := s.Clock.Now()
	out := make([]SigningKeyInfo, len(keys))
	for i, k := range keys {
		out[i] = SigningKeyInfo{
			Kid:       k.Kid,
			Algorithm: k.Algorithm,
			Active:    k.IsActive(now),
			CreatedAt: &k.CreatedAt,
			RetiredAt: k.RetiredAt,
			ExpiresAt: &k.ExpiresAt,
		}
	}
	return out, nil
}

// RetireKey stops signing with kid. The last active signer cannot be retired.
func (s *KeyRotationService) RetireKey(ctx context.Context, caller domain.Caller, kid string) error {
	if err := requireElevated(caller, s.ElevatedRole); err != nil {
		return err
	}
	if !slices.Contains(s.Keys.SignerKIDs(), kid) {
		return domain.NotFound("signing key not found")
	}
	if s.Keys.NumSigners() <= 1 {
		return domain.Precondition(CodeLastSigningKey, "cannot retire the last active signing key")
	}

	if s.Store != nil {
		if err := s.Store.SigningKeys().RetireSigningKey(ctx, kid); err != nil {
			return fmt.Errorf("retire signing key: %w", err)
		}
	}
	s.Keys.RetireSigner(kid)

	slogx.FromContext(ctx).Info("signing key retired", slog.String("kid", kid))
	return nil
}
