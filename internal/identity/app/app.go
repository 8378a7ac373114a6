package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aussiebroadwan/nativeid/internal/identity/audit"
	"github.com/aussiebroadwan/nativeid/internal/identity/federation"
	httpapi "github.com/aussiebroadwan/nativeid/internal/identity/http"
	"github.com/aussiebroadwan/nativeid/internal/identity/instrumentation"
	"github.com/aussiebroadwan/nativeid/internal/identity/lockout"
	"github.com/aussiebroadwan/nativeid/internal/identity/notify"
	"github.com/aussiebroadwan/nativeid/internal/identity/service"
	"github.com/aussiebroadwan/nativeid/internal/identity/store"
	"github.com/aussiebroadwan/nativeid/internal/identity/store/drivers/sqlite"
	"github.com/aussiebroadwan/nativeid/pkg/cryptox"
	"github.com/aussiebroadwan/nativeid/pkg/httpx"
	"github.com/aussiebroadwan/nativeid/pkg/jwtx"
	"github.com/aussiebroadwan/nativeid/pkg/slogx"
	"github.com/redis/go-redis/v9"
)

const (
	// BuildVersion is overridden at build time via -ldflags.
	BuildVersion = "v0.1.0"
)

// Application owns the identity server and everything it depends on.
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db         store.Store
	keyManager *jwtx.KeyManager
	box        *cryptox.SecretBox
	redis      *redis.Client
	inst       *instrumentation.Instrumentation

	// Services
	credentialService   *service.CredentialService
	mfaService          *service.MFAService
	clientService       *service.ClientService
	consentService      *service.ConsentService
	authorizeService    *service.AuthorizeService
	tokenService        *service.TokenService
	userInfoService     *service.UserInfoService
	discoveryService    *service.DiscoveryService
	inviteService       *service.InviteService
	ssoService          *service.SSOService
	keyRotationService  *service.KeyRotationService
	housekeepingService *service.HousekeepingService

	// HTTP server
	server *http.Server
	router *httpapi.Router
}

// New creates an Application with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "identity",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	ctx := context.Background()

	// Database first, persistent keys are loaded from it
	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	box, err := InitMasterKey(app.cfg, app.logger)
	if err != nil {
		_ = app.db.Close()
		return nil, fmt.Errorf("failed to initialize master key: %w", err)
	}
	app.box = box

	keyManager, err := InitKeys(ctx, app.cfg, app.db, app.box, app.logger)
	if err != nil {
		_ = app.db.Close()
		return nil, fmt.Errorf("failed to initialize signing keys: %w", err)
	}
	app.keyManager = keyManager

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName: "identity",
		Enabled:     app.cfg.MetricsEnabled,
	})
	if err != nil {
		_ = app.db.Close()
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}
	app.inst = inst

	if err := app.initServices(ctx); err != nil {
		app.closeBackends()
		return nil, err
	}
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.housekeepingService.Start()

	app.logger.Info("identity server starting",
		"port", app.cfg.Port,
		"issuer", app.cfg.Issuer,
		"version", BuildVersion,
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown drains in-flight requests, stops background work and closes the backends.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down identity server...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeepingService.Stop()

	if err := app.inst.Shutdown(ctx); err != nil {
		app.logger.Error("error flushing metrics", "error", err)
	}

	if err := app.closeBackends(); err != nil {
		return err
	}

	app.logger.Info("identity server stopped")
	return nil
}

func (app *Application) closeBackends() error {
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error("error closing redis client", "error", err)
		}
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}
	return nil
}

// initDatabase opens the database and applies migrations.
func (app *Application) initDatabase() error {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(dsn)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully", "file", app.cfg.DatabaseFile)
	return nil
}

// initLockout shares failure counters through redis when an address is configured.
func (app *Application) initLockout(ctx context.Context) (lockout.Policy, error) {
	cfg := lockout.Config{
		Enabled:   app.cfg.LockoutEnabled,
		Threshold: app.cfg.LockoutThreshold,
		Window:    app.cfg.LockoutWindow,
	}
	if app.cfg.RedisAddr == "" {
		app.logger.Info("lockout counters kept in memory", "threshold", cfg.Threshold)
		return lockout.NewMemoryPolicy(cfg), nil
	}

	client := redis.NewClient(&redis.Options{Addr: app.cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	app.redis = client

	app.logger.Info("lockout counters shared through redis", "addr", app.cfg.RedisAddr, "threshold", cfg.Threshold)
	return lockout.NewRedisPolicy(client, cfg), nil
}

// initProviders registers the SSO providers that have credentials configured.
func (app *Application) initProviders(ctx context.Context) (*federation.Registry, error) {
	registry := federation.NewRegistry()

	if app.cfg.OIDCIssuer != "" {
		p, err := federation.NewOIDCProvider(ctx, federation.OIDCConfig{
			Name:         app.cfg.OIDCName,
			Issuer:       app.cfg.OIDCIssuer,
			ClientID:     app.cfg.OIDCClientID,
			ClientSecret: app.cfg.OIDCClientSecret,
			RedirectURL:  app.cfg.OIDCRedirectURL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize oidc provider: %w", err)
		}
		registry.Register(p)
	}

	if app.cfg.GitHubClientID != "" {
		p, err := federation.NewGitHubProvider(federation.GitHubConfig{
			ClientID:     app.cfg.GitHubClientID,
			ClientSecret: app.cfg.GitHubClientSecret,
			RedirectURL:  app.cfg.GitHubRedirectURL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize github provider: %w", err)
		}
		registry.Register(p)
	}

	app.logger.Info("sso providers registered", "providers", registry.Names())
	return registry, nil
}

// initServices builds the engines on top of the shared backends.
func (app *Application) initServices(ctx context.Context) error {
	pepper, err := cryptox.LoadOrCreatePepper(app.cfg.PepperFile)
	if err != nil {
		return fmt.Errorf("failed to load pepper: %w", err)
	}
	hasher := cryptox.NewArgon2Hasher(pepper)

	policy, err := app.initLockout(ctx)
	if err != nil {
		return err
	}

	providers, err := app.initProviders(ctx)
	if err != nil {
		return err
	}

	auditor := audit.New(os.Stdout)
	notifier := &notify.LogNotifier{Logger: app.logger, IncludeSecrets: app.cfg.NotifySecrets}
	metrics := app.inst.Metrics()

	issuer := &service.TokenIssuer{
		Keys:       app.keyManager,
		Issuer:     app.cfg.Issuer,
		AccessTTL:  app.cfg.AccessTokenTTL,
		RefreshTTL: app.cfg.RefreshTokenTTL,
		IDTokenTTL: app.cfg.IDTokenTTL,
	}

	app.credentialService = &service.CredentialService{
		Store:           app.db,
		Hasher:          hasher,
		Issuer:          issuer,
		Notifier:        notifier,
		Lockout:         policy,
		Auditor:         auditor,
		Delayer:         service.RandomDelay{Min: app.cfg.AuthDelayMin, Max: app.cfg.AuthDelayMax},
		Metrics:         metrics,
		MFATokenTTL:     app.cfg.MFATokenTTL,
		RegistrationTTL: app.cfg.RegistrationTTL,
		ElevatedRole:    app.cfg.ElevatedRole,
	}
	app.mfaService = &service.MFAService{
		Store:        app.db,
		Issuer:       issuer,
		Notifier:     notifier,
		Box:          app.box,
		Auditor:      auditor,
		Metrics:      metrics,
		Lockout:      policy,
		TOTPIssuer:   app.cfg.TOTPIssuer,
		OOBCodeTTL:   app.cfg.OOBCodeTTL,
		ElevatedRole: app.cfg.ElevatedRole,
	}
	app.clientService = &service.ClientService{Store: app.db, Hasher: hasher, Auditor: auditor}
	app.consentService = &service.ConsentService{Store: app.db, Auditor: auditor}
	app.authorizeService = &service.AuthorizeService{
		Store:    app.db,
		Consents: app.consentService,
		Metrics:  metrics,
		CodeTTL:  app.cfg.CodeTTL,
	}
	app.tokenService = &service.TokenService{
		Store:    app.db,
		Clients:  app.clientService,
		Consents: app.consentService,
		Issuer:   issuer,
		Auditor:  auditor,
		Metrics:  metrics,
	}
	app.userInfoService = &service.UserInfoService{Store: app.db, Consents: app.consentService}
	app.discoveryService = &service.DiscoveryService{Issuer: app.cfg.Issuer, Keys: app.keyManager}
	app.inviteService = &service.InviteService{Store: app.db, ElevatedRole: app.cfg.ElevatedRole}
	app.ssoService = &service.SSOService{
		Store:        app.db,
		Providers:    providers,
		Issuer:       issuer,
		Box:          app.box,
		Auditor:      auditor,
		Metrics:      metrics,
		Provisioning: service.ProvisioningMode(app.cfg.Provisioning),
		RequireTerms: app.cfg.RequireTerms,
		DefaultRoles: app.cfg.DefaultRoles,
		MFATokenTTL:  app.cfg.MFATokenTTL,
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.cfg.HousekeepingInterval,
	)

	// Rotation works in both modes; only persistent mode writes new keys to the database.
	app.keyRotationService = &service.KeyRotationService{
		Keys:         app.keyManager,
		Box:          app.box,
		GracePeriod:  app.cfg.KeyGracePeriod,
		ElevatedRole: app.cfg.ElevatedRole,
	}
	if app.cfg.KeyStorageMode == KeyStoragePersistent {
		app.keyRotationService.Store = app.db
	}
	app.logger.Info("key rotation enabled", "mode", app.cfg.KeyStorageMode)

	return nil
}

// initHTTP builds the router and server.
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(
		app.keyManager,
		app.cfg.Issuer,
		BuildVersion,
		app.db,
		app.logger,
	)

	router.Credentials = app.credentialService
	router.MFA = app.mfaService
	router.Clients = app.clientService
	router.Consents = app.consentService
	router.Authorize = app.authorizeService
	router.Tokens = app.tokenService
	router.UserInfo = app.userInfoService
	router.Discovery = app.discoveryService
	router.Invites = app.inviteService
	router.SSO = app.ssoService
	router.KeyRotation = app.keyRotationService

	router.Limits = httpx.RateLimitsFromEnv()
	router.ElevatedRole = app.cfg.ElevatedRole
	router.LoginURL = app.cfg.LoginURL
	router.ConsentURL = app.cfg.ConsentURL
	if app.cfg.MetricsEnabled {
		router.Metrics = app.inst.Metrics()
		router.MetricsHandler = app.inst.Handler()
	}
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
