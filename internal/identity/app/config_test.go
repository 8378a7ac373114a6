package app

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/aussiebroadwan/nativeid/internal/identity/store/drivers/sqlite"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()

	require.Equal(t, "http://localhost:8080", cfg.Issuer)
	require.Equal(t, "EdDSA", cfg.Algorithm)
	require.Equal(t, KeyStorageEphemeral, cfg.KeyStorageMode)
	require.Equal(t, 15*time.Minute, cfg.AccessTokenTTL)
	require.Equal(t, "invite", cfg.Provisioning)
	require.Equal(t, "admin", cfg.ElevatedRole)
	require.True(t, cfg.LockoutEnabled)
	require.True(t, cfg.MetricsEnabled)
	require.Nil(t, cfg.DefaultRoles)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("IDENTITY_ISSUER", "https://id.example.com")
	t.Setenv("IDENTITY_ACCESS_TOKEN_TTL", "5m")
	t.Setenv("IDENTITY_REFRESH_TOKEN_TTL", "90")
	t.Setenv("IDENTITY_CODE_TTL", "not a duration")
	t.Setenv("IDENTITY_LOCKOUT_ENABLED", "false")
	t.Setenv("IDENTITY_LOCKOUT_THRESHOLD", "x")
	t.Setenv("IDENTITY_SSO_DEFAULT_ROLES", " member, ,viewer ")
	t.Setenv("IDENTITY_AUTH_DELAY_MIN", "2s")
	t.Setenv("IDENTITY_AUTH_DELAY_MAX", "1s")

	cfg := LoadConfig()

	require.Equal(t, 9090, cfg.Port)
	require.Equal(t, "https://id.example.com", cfg.Issuer)
	require.Equal(t, 5*time.Minute, cfg.AccessTokenTTL)
	require.Equal(t, 90*time.Minute, cfg.RefreshTokenTTL, "bare integers are minutes")
	require.Equal(t, 5*time.Minute, cfg.CodeTTL, "invalid values keep the default")
	require.False(t, cfg.LockoutEnabled)
	require.Equal(t, 5, cfg.LockoutThreshold)
	require.Equal(t, []string{"member", "viewer"}, cfg.DefaultRoles)
	require.Equal(t, cfg.AuthDelayMin, cfg.AuthDelayMax)
}

func TestIssuerFollowsPort(t *testing.T) {
	t.Setenv("PORT", "7000")
	require.Equal(t, "http://localhost:7000", LoadConfig().Issuer)
}

func TestInitKeys(t *testing.T) {
	t.Parallel()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())
	t.Cleanup(func() { _ = st.Close() })

	t.Run("ephemeral", func(t *testing.T) {
		cfg := Config{Algorithm: "EdDSA", Issuer: "https://id.example", NumKeys: 2, KeyStorageMode: KeyStorageEphemeral}
		box, err := InitMasterKey(cfg, logger)
		require.NoError(t, err)

		km, err := InitKeys(t.Context(), cfg, st, box, logger)
		require.NoError(t, err)
		require.Equal(t, 2, km.NumSigners())
	})

	t.Run("persistent keys survive a restart", func(t *testing.T) {
		cfg := Config{
			Algorithm:      "EdDSA",
			Issuer:         "https://id.example",
			NumKeys:        1,
			KeyStorageMode: KeyStoragePersistent,
			MasterKey:      "a master key for tests",
		}
		box, err := InitMasterKey(cfg, logger)
		require.NoError(t, err)

		first, err := InitKeys(t.Context(), cfg, st, box, logger)
		require.NoError(t, err)
		second, err := InitKeys(t.Context(), cfg, st, box, logger)
		require.NoError(t, err)
		require.ElementsMatch(t, first.SignerKIDs(), second.SignerKIDs())
	})

	t.Run("persistent mode needs a master key", func(t *testing.T) {
		_, err := InitMasterKey(Config{KeyStorageMode: KeyStoragePersistent}, logger)
		require.ErrorContains(t, err, "master key")
	})

	t.Run("unknown mode", func(t *testing.T) {
		cfg := Config{Algorithm: "EdDSA", KeyStorageMode: "hsm"}
		_, err := InitKeys(t.Context(), cfg, st, nil, logger)
		require.ErrorContains(t, err, "unknown key storage mode")
	})
}

func TestNewAndShutdown(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("IDENTITY_DATABASE_FILE", filepath.Join(dir, "identity.db"))
	t.Setenv("IDENTITY_PEPPER_FILE", filepath.Join(dir, "pepper"))
	t.Setenv("IDENTITY_NUM_KEYS", "1")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("PORT", "0")

	application, err := New(LoadConfig())
	require.NoError(t, err)
	require.NotNil(t, application.router)
	require.Equal(t, 1, application.keyManager.NumSigners())
	require.FileExists(t, filepath.Join(dir, "pepper"))

	application.housekeepingService.Start()
	require.NoError(t, application.Shutdown())
}
