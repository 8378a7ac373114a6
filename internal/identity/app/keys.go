package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aussiebroadwan/nativeid/internal/identity/store"
	"github.com/aussiebroadwan/nativeid/pkg/cryptox"
	"github.com/aussiebroadwan/nativeid/pkg/jwtx"
)

const (
	KeyStorageEphemeral  = "ephemeral"
	KeyStoragePersistent = "persistent"
)

// InitMasterKey opens the SecretBox that seals TOTP secrets, federated refresh tokens and, in
// persistent mode, private signing keys. Without a configured key an ephemeral one is generated
// and everything sealed with it is unreadable after a restart.
func InitMasterKey(cfg Config, logger *slog.Logger) (*cryptox.SecretBox, error) {
	material, ephemeral, err := cryptox.LoadMasterKey(cfg.MasterKeyPath, cfg.MasterKey)
	if err != nil {
		return nil, err
	}
	if ephemeral {
		if cfg.KeyStorageMode == KeyStoragePersistent {
			return nil, fmt.Errorf("persistent key storage requires IDENTITY_MASTER_KEY_PATH or IDENTITY_MASTER_KEY")
		}
		logger.Warn("no master key configured, sealed secrets will not survive a restart")
	}
	return cryptox.NewSecretBox(material)
}

// InitKeys creates the KeyManager for the configured algorithm and storage mode.
//
// Storage modes:
//   - "ephemeral": keys live in memory only; every issued token becomes invalid on restart.
//   - "persistent": keys are sealed with the master key and stored in the database, so tokens
//     survive restarts and retired keys stay verifiable for the grace period.
//
// Tokens carry the client id as audience, so no audience is enforced on verification.
func InitKeys(ctx context.Context, cfg Config, db store.Store, box *cryptox.SecretBox, logger *slog.Logger) (*jwtx.KeyManager, error) {
	opts := jwtx.KeyManagerOptions{
		Algorithm: cfg.Algorithm,
		Issuer:    cfg.Issuer,
		RSABits:   cfg.RSABits,
		NumKeys:   cfg.NumKeys,
	}

	switch cfg.KeyStorageMode {
	case KeyStoragePersistent:
		logger.Info("initializing persistent key manager",
			"algorithm", cfg.Algorithm,
			"num_keys", cfg.NumKeys,
			"grace_period", cfg.KeyGracePeriod,
		)

		km, err := jwtx.NewPersistentKeyManager(ctx, jwtx.PersistentKeyManagerOptions{
			KeyManagerOptions: opts,
			Store:             store.NewKeyStoreAdapter(db),
			Box:               box,
			GracePeriod:       cfg.KeyGracePeriod,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize persistent key manager: %w", err)
		}

		logger.Info("persistent signing keys loaded",
			"algorithm", km.Algorithm(),
			"num_keys", km.NumSigners(),
			"issuer", cfg.Issuer,
		)
		return km, nil

	case KeyStorageEphemeral, "":
		km, err := jwtx.NewEphemeralKeyManager(opts)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize ephemeral key manager: %w", err)
		}

		logger.Info("generated ephemeral signing keys",
			"algorithm", km.Algorithm(),
			"num_keys", km.NumSigners(),
			"issuer", cfg.Issuer,
		)
		logger.Warn("tokens issued before this start can no longer be verified")
		return km, nil

	default:
		return nil, fmt.Errorf("unknown key storage mode %q", cfg.KeyStorageMode)
	}
}
