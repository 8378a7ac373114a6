package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/nativeid/internal/identity/instrumentation"
	"github.com/aussiebroadwan/nativeid/internal/identity/service"
	"github.com/aussiebroadwan/nativeid/internal/identity/store"
	"github.com/aussiebroadwan/nativeid/pkg/httpx"
	"github.com/aussiebroadwan/nativeid/pkg/jwtx"
	"github.com/aussiebroadwan/nativeid/pkg/slogx"

	_ "github.com/aussiebroadwan/nativeid/api/identity" // Swagger docs
	httpSwagger "github.com/swaggo/http-swagger"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	keys         *jwtx.KeyManager
	issuer       string
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger
	store        store.Store

	Credentials *service.CredentialService
	MFA         *service.MFAService
	Clients     *service.ClientService
	Consents    *service.ConsentService
	Authorize   *service.AuthorizeService
	Tokens      *service.TokenService
	UserInfo    *service.UserInfoService
	Discovery   *service.DiscoveryService
	Invites     *service.InviteService
	SSO         *service.SSOService
	KeyRotation *service.KeyRotationService

	// Metrics records per-route request counts; MetricsHandler serves /metrics. Both optional.
	Metrics        *instrumentation.Metrics
	MetricsHandler http.Handler

	Limits       httpx.RateLimits
	ElevatedRole string
	LoginURL     string
	ConsentURL   string
}

func NewRouter(
	keys *jwtx.KeyManager,
	issuer, buildVersion string,
	st store.Store,
	logger *slog.Logger,
) *Router {
	return &Router{
		Mux:          http.NewServeMux(),
		keys:         keys,
		issuer:       issuer,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		logger:       logger,
		Limits:       httpx.DefaultRateLimits(),
	}
}

// ApplyRoutes registers every route. Call once, after the services are set.
func (r *Router) ApplyRoutes() {
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
		metricsMiddleware(r.Metrics),
	}

	r.registerCredentials()
	r.registerMFA()
	r.registerAdmin()
	r.registerClients()
	r.registerConsents()
	r.registerOAuth2()
	r.registerSSO()
	r.registerSystem()

	r.Mux.Handle("/swagger/", httpSwagger.Handler())
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
//
//	@title			Native Identity Server API
//	@version		0.1.0
//	@description	First-party credential and MFA management, an OAuth2 authorization code server with
//	@description	OpenID Connect and sign-in through external identity providers.
//	@description
//	@description				Every error body is {"error", "error_description"}. Authentication failures share one body.
//
//	@contact.name				AussieBroadWAN Team
//	@contact.url				https://github.com/aussiebroadwan/nativeid
//
//	@license.name				MIT
//	@license.url				https://opensource.org/licenses/MIT
//
//	@host						localhost:8080
//	@BasePath					/
//
//	@schemes					http https
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				First-party access token. Format: "Bearer {token}".
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

// session requires a verified first-party access token.
func (r *Router) session() []httpx.Middleware {
	return []httpx.Middleware{
		httpx.AuthnMiddleware(r.keys.Verifier),
		httpx.RequireFirstParty(),
	}
}

// admin additionally requires the elevated role.
func (r *Router) admin(limit httpx.RateLimitConfig) []httpx.Middleware {
	return append(r.session(),
		httpx.RequireAnyRole(r.ElevatedRole),
		httpx.RateLimitByUser(limit),
	)
}

func (r *Router) handle(pattern string, h http.Handler, mws ...httpx.Middleware) {
	r.Mux.Handle(pattern, httpx.Chain(h, mws...))
}

func (r *Router) secure() bool {
	return len(r.issuer) > 5 && r.issuer[:6] == "https:"
}

func (r *Router) registerCredentials() {
	h := &CredentialHandler{Credentials: r.Credentials, SecureCookies: r.secure()}

	// Password guessing is limited per IP and username on top of the lockout policy.
	r.handle("POST /v1/authenticate", http.HandlerFunc(h.HandleAuthenticate),
		httpx.RateLimitByIP(r.Limits.Strict))
	r.handle("POST /v1/session/refresh", http.HandlerFunc(h.HandleRefresh),
		httpx.RateLimitByIP(r.Limits.Moderate))
	r.handle("POST /v1/register", http.HandlerFunc(h.HandleRegister),
		httpx.RateLimitByIP(r.Limits.Strict))
	r.handle("POST /v1/register/confirm", http.HandlerFunc(h.HandleConfirm),
		httpx.RateLimitByIP(r.Limits.Strict))
}

func (r *Router) registerMFA() {
	h := &MFAHandler{MFA: r.MFA, SecureCookies: r.secure()}

	// Reachable mid sign-in with an mfa_token, so the access token is optional here.
	optional := []httpx.Middleware{
		httpx.OptionalAuthnMiddleware(r.keys.Verifier),
		httpx.RequireFirstParty(),
	}
	r.handle("POST /v1/mfa/associate", http.HandlerFunc(h.HandleAssociate),
		append(optional, httpx.RateLimitByUser(r.Limits.Moderate))...)
	r.handle("POST /v1/mfa/challenge", http.HandlerFunc(h.HandleChallenge),
		append(optional, httpx.RateLimitByUser(r.Limits.Moderate))...)
	r.handle("POST /v1/mfa/confirm", http.HandlerFunc(h.HandleConfirm),
		append(optional, httpx.RateLimitByUser(r.Limits.Strict))...)
	r.handle("POST /v1/mfa/verify", http.HandlerFunc(h.HandleVerify),
		append(optional, httpx.RateLimitByUser(r.Limits.Strict))...)

	r.handle("GET /v1/mfa/authenticators", http.HandlerFunc(h.HandleList),
		append(r.session(), httpx.RateLimitByUser(r.Limits.Lenient))...)
	r.handle("DELETE /v1/mfa/authenticators/{id}", http.HandlerFunc(h.HandleDisassociate),
		append(r.session(), httpx.RateLimitByUser(r.Limits.Moderate))...)
}

func (r *Router) registerAdmin() {
	h := &AdminHandler{
		Credentials: r.Credentials,
		MFA:         r.MFA,
		Invites:     r.Invites,
		KeyRotation: r.KeyRotation,
	}

	write := r.admin(r.Limits.Moderate)
	read := r.admin(r.Limits.Lenient)

	r.handle("PUT /v1/admin/users/{id}/lock", http.HandlerFunc(h.HandleSetLocked), write...)
	r.handle("PUT /v1/admin/users/{id}/suspension", http.HandlerFunc(h.HandleSetSuspended), write...)
	r.handle("PUT /v1/admin/users/{id}/mfa", http.HandlerFunc(h.HandleChangeMFAEnabled), write...)
	r.handle("DELETE /v1/admin/users/{id}/mfa", http.HandlerFunc(h.HandleResetMFA), write...)
	r.handle("POST /v1/invites", http.HandlerFunc(h.HandleMintInvite), write...)

	r.handle("POST /v1/admin/keys/rotate", http.HandlerFunc(h.HandleRotateKey), write...)
	r.handle("GET /v1/admin/keys", http.HandlerFunc(h.HandleListKeys), read...)
	r.handle("DELETE /v1/admin/keys/{kid}", http.HandlerFunc(h.HandleRetireKey), write...)
}

func (r *Router) registerClients() {
	h := &ClientsHandler{Clients: r.Clients}

	write := r.admin(r.Limits.Moderate)
	read := r.admin(r.Limits.Lenient)

	r.handle("POST /v1/clients", http.HandlerFunc(h.HandleCreate), write...)
	r.handle("GET /v1/clients", http.HandlerFunc(h.HandleList), read...)
	r.handle("GET /v1/clients/{id}", http.HandlerFunc(h.HandleGet), read...)
	r.handle("PUT /v1/clients/{id}", http.HandlerFunc(h.HandleUpdate), write...)
	r.handle("DELETE /v1/clients/{id}", http.HandlerFunc(h.HandleDelete), write...)
	r.handle("POST /v1/clients/{id}/secrets", http.HandlerFunc(h.HandleRotateSecret), write...)
	r.handle("DELETE /v1/clients/{id}/secrets/{sid}", http.HandlerFunc(h.HandleRemoveSecret), write...)
}

func (r *Router) registerConsents() {
	h := &ConsentHandler{Consents: r.Consents}

	r.handle("GET /v1/consents/{client_id}", http.HandlerFunc(h.HandleGet),
		append(r.session(), httpx.RateLimitByUser(r.Limits.Lenient))...)
	r.handle("PUT /v1/consents/{client_id}", http.HandlerFunc(h.HandlePut),
		append(r.session(), httpx.RateLimitByUser(r.Limits.Moderate))...)
	r.handle("DELETE /v1/consents/{client_id}", http.HandlerFunc(h.HandleDelete),
		append(r.session(), httpx.RateLimitByUser(r.Limits.Moderate))...)
}

func (r *Router) registerOAuth2() {
	authorize := &AuthorizeHandler{
		Authorize:  r.Authorize,
		Verifier:   r.keys.Verifier,
		Issuer:     r.issuer,
		LoginURL:   r.LoginURL,
		ConsentURL: r.ConsentURL,
	}
	r.handle("GET /oauth2/authorize", authorize, httpx.RateLimitByIP(r.Limits.Lenient))

	// Limited per IP and client so one noisy client cannot starve the others.
	tokens := &TokenHandler{Tokens: r.Tokens}
	r.handle("POST /oauth2/token", tokens,
		httpx.RateLimitByIPAndFormField(r.Limits.Strict, "client_id"))
	r.handle("POST /oauth2/revoke", http.HandlerFunc(tokens.HandleRevoke),
		httpx.RateLimitByIP(r.Limits.Moderate))

	userinfo := &UserInfoHandler{UserInfo: r.UserInfo}
	r.handle("GET /oauth2/userinfo", userinfo, httpx.RateLimitByIP(r.Limits.Lenient))
	r.handle("POST /oauth2/userinfo", userinfo, httpx.RateLimitByIP(r.Limits.Lenient))

	r.handle("GET /.well-known/openid-configuration", DiscoveryHandler(r.Discovery),
		httpx.RateLimitByIP(r.Limits.Public))
	r.handle("GET /.well-known/jwks.json", JWKSHandler(r.Discovery),
		httpx.RateLimitByIP(r.Limits.Public))
}

func (r *Router) registerSSO() {
	h := &SSOHandler{SSO: r.SSO, SecureCookies: r.secure()}

	r.handle("POST /v1/sso/{provider}/authenticate", http.HandlerFunc(h.HandleAuthenticate),
		httpx.RateLimitByIP(r.Limits.Strict))
	r.handle("POST /v1/sso/{provider}/refresh", http.HandlerFunc(h.HandleRefresh),
		append(r.session(), httpx.RateLimitByUser(r.Limits.Moderate))...)
}

func (r *Router) registerSystem() {
	// Monitoring systems poll frequently.
	r.handle("GET /livez", LivezHandler(r.startTime, r.buildVersion),
		httpx.RateLimitByIP(r.Limits.Lenient))
	r.handle("GET /readyz", ReadyzHandler(r.startTime, r.buildVersion, r.store, r.keys),
		httpx.RateLimitByIP(r.Limits.Lenient))
	if r.MetricsHandler != nil {
		r.Mux.Handle("GET /metrics", r.MetricsHandler)
	}
}
