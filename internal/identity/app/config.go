package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Issuer string // Required: issuer URL for tokens and discovery (default: http://localhost:8080)

	Algorithm      string        // Optional: JWT signing algorithm (RS256, ES256, EdDSA) (default: EdDSA)
	RSABits        int           // Optional: RSA key size for RS256 (default: 4096)
	NumKeys        int           // Optional: number of signing keys to generate (default: 3)
	KeyStorageMode string        // Optional: key storage mode (ephemeral, persistent) (default: ephemeral)
	KeyGracePeriod time.Duration // Optional: how long retired keys stay published (default: 30 days)
	MasterKeyPath  string        // Optional: file holding the key that encrypts secrets at rest
	MasterKey      string        // Optional: the same key passed inline
	DatabaseFile   string        // Optional: path to SQLite database file (default: ./identity.db)
	PepperFile     string        // Optional: password hashing pepper, created on first start (default: ./pepper)

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	IDTokenTTL      time.Duration
	CodeTTL         time.Duration
	MFATokenTTL     time.Duration
	OOBCodeTTL      time.Duration
	RegistrationTTL time.Duration
	TOTPIssuer      string

	// Failed authentications are padded with a random delay in [AuthDelayMin, AuthDelayMax].
	AuthDelayMin time.Duration
	AuthDelayMax time.Duration

	LockoutEnabled   bool
	LockoutThreshold int
	LockoutWindow    time.Duration
	RedisAddr        string // Optional: shares lockout counters between instances when set

	LoginURL   string // Optional: where /oauth2/authorize sends unauthenticated browsers
	ConsentURL string // Optional: where /oauth2/authorize sends browsers that need consent

	Provisioning  string   // SSO auto-provisioning (disabled, invite, open) (default: invite)
	RequireTerms  bool     // SSO provisioning requires accepted terms
	DefaultRoles  []string // Roles given to provisioned users
	ElevatedRole  string   // Role allowed to administer clients, users and keys (default: admin)
	NotifySecrets bool     // Log notification secrets; development only

	OIDCName         string
	OIDCIssuer       string
	OIDCClientID     string
	OIDCClientSecret string
	OIDCRedirectURL  string

	GitHubClientID     string
	GitHubClientSecret string
	GitHubRedirectURL  string

	MetricsEnabled bool

	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	Port                 int           // HTTP server port (default: 8080)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Housekeeping interval (default: 1h)
}

func LoadConfig() Config {
	port := getEnvIntOrDefault("PORT", 8080)

	cfg := Config{
		Issuer:         getEnvOrDefault("IDENTITY_ISSUER", "http://localhost:"+strconv.Itoa(port)),
		Algorithm:      getEnvOrDefault("IDENTITY_ALGORITHM", "EdDSA"),
		RSABits:        getEnvIntOrDefault("IDENTITY_RSA_BITS", 0),
		NumKeys:        getEnvIntOrDefault("IDENTITY_NUM_KEYS", 0),
		KeyStorageMode: getEnvOrDefault("IDENTITY_KEY_STORAGE_MODE", "ephemeral"),
		KeyGracePeriod: getEnvDurationOrDefault("IDENTITY_KEY_GRACE_PERIOD", 30*24*time.Hour),
		MasterKeyPath:  os.Getenv("IDENTITY_MASTER_KEY_PATH"),
		MasterKey:      os.Getenv("IDENTITY_MASTER_KEY"),
		DatabaseFile:   getEnvOrDefault("IDENTITY_DATABASE_FILE", "identity.db"),
		PepperFile:     getEnvOrDefault("IDENTITY_PEPPER_FILE", "pepper"),

		AccessTokenTTL:  getEnvDurationOrDefault("IDENTITY_ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL: getEnvDurationOrDefault("IDENTITY_REFRESH_TOKEN_TTL", 30*24*time.Hour),
		IDTokenTTL:      getEnvDurationOrDefault("IDENTITY_ID_TOKEN_TTL", 15*time.Minute),
		CodeTTL:         getEnvDurationOrDefault("IDENTITY_CODE_TTL", 5*time.Minute),
		MFATokenTTL:     getEnvDurationOrDefault("IDENTITY_MFA_TOKEN_TTL", 5*time.Minute),
		OOBCodeTTL:      getEnvDurationOrDefault("IDENTITY_OOB_CODE_TTL", 5*time.Minute),
		RegistrationTTL: getEnvDurationOrDefault("IDENTITY_REGISTRATION_TTL", 24*time.Hour),
		TOTPIssuer:      getEnvOrDefault("IDENTITY_TOTP_ISSUER", "NativeID"),

		AuthDelayMin: getEnvDurationOrDefault("IDENTITY_AUTH_DELAY_MIN", 100*time.Millisecond),
		AuthDelayMax: getEnvDurationOrDefault("IDENTITY_AUTH_DELAY_MAX", 300*time.Millisecond),

		LockoutEnabled:   getEnvBoolOrDefault("IDENTITY_LOCKOUT_ENABLED", true),
		LockoutThreshold: getEnvIntOrDefault("IDENTITY_LOCKOUT_THRESHOLD", 5),
		LockoutWindow:    getEnvDurationOrDefault("IDENTITY_LOCKOUT_WINDOW", 15*time.Minute),
		RedisAddr:        os.Getenv("IDENTITY_REDIS_ADDR"),

		LoginURL:   os.Getenv("IDENTITY_LOGIN_URL"),
		ConsentURL: os.Getenv("IDENTITY_CONSENT_URL"),

		Provisioning:  getEnvOrDefault("IDENTITY_SSO_PROVISIONING", "invite"),
		RequireTerms:  getEnvBoolOrDefault("IDENTITY_SSO_REQUIRE_TERMS", false),
		DefaultRoles:  getEnvListOrDefault("IDENTITY_SSO_DEFAULT_ROLES", nil),
		ElevatedRole:  getEnvOrDefault("IDENTITY_ELEVATED_ROLE", "admin"),
		NotifySecrets: getEnvBoolOrDefault("IDENTITY_NOTIFY_INCLUDE_SECRETS", false),

		OIDCName:         getEnvOrDefault("IDENTITY_OIDC_NAME", "oidc"),
		OIDCIssuer:       os.Getenv("IDENTITY_OIDC_ISSUER"),
		OIDCClientID:     os.Getenv("IDENTITY_OIDC_CLIENT_ID"),
		OIDCClientSecret: os.Getenv("IDENTITY_OIDC_CLIENT_SECRET"),
		OIDCRedirectURL:  os.Getenv("IDENTITY_OIDC_REDIRECT_URL"),

		GitHubClientID:     os.Getenv("IDENTITY_GITHUB_CLIENT_ID"),
		GitHubClientSecret: os.Getenv("IDENTITY_GITHUB_CLIENT_SECRET"),
		GitHubRedirectURL:  os.Getenv("IDENTITY_GITHUB_REDIRECT_URL"),

		MetricsEnabled: getEnvBoolOrDefault("IDENTITY_METRICS_ENABLED", true),

		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 port,
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),
	}

	if cfg.AuthDelayMax < cfg.AuthDelayMin {
		cfg.AuthDelayMax = cfg.AuthDelayMin
	}

	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}

	return defaultValue
}

// getEnvListOrDefault splits a comma separated value, dropping empty entries.
func getEnvListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are minutes
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}
