package http

import (
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/aussiebroadwan/nativeid/internal/identity/domain"
	"github.com/aussiebroadwan/nativeid/pkg/idsdk"
	"github.com/stretchr/testify/require"
)

const testVerifier = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"

func authorizeParams(clientID string, scopes ...string) url.Values {
	return url.Values{
		"response_type":         {"code"},
		"client_id":             {clientID},
		"redirect_uri":          {callbackURI},
		"scope":                 {strings.Join(scopes, " ")},
		"state":                 {"xyz"},
		"nonce":                 {"n-0S6"},
		"code_challenge":        {domain.S256Challenge(testVerifier)},
		"code_challenge_method": {domain.PKCEMethodS256},
	}
}

func TestAuthorizationCodeFlow(t *testing.T) {
	t.Parallel()
	s := newServer(t)
	ctx := s.ctx()

	admin := s.adminToken(testTenant)
	created, err := s.api.CreateClient(ctx, admin, idsdk.CreateClientRequest{
		Name:         "C1",
		RedirectURI:  callbackURI,
		Confidential: true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ClientSecret)
	require.Equal(t, testTenant, created.TenantID)

	u, session := s.signIn("alice@example.com")
	params := authorizeParams(created.ID, "openid", "profile")

	_, err = s.api.Authorize(ctx, session, params)
	requireOAuth2Error(t, err, http.StatusForbidden, "consent_required")

	require.NoError(t, s.api.GrantConsent(ctx, session, created.ID, []string{"openid", "profile"}))

	loc, err := s.api.Authorize(ctx, session, params)
	require.NoError(t, err)
	require.Equal(t, "app.example", loc.Host)
	require.Equal(t, "xyz", loc.Query().Get("state"))
	code := loc.Query().Get("code")
	require.NotEmpty(t, code)

	tokens, err := s.api.ExchangeCode(ctx, created.ID, created.ClientSecret, code, callbackURI, testVerifier)
	require.NoError(t, err)
	require.NotEmpty(t, tokens.AccessToken)
	require.NotEmpty(t, tokens.IDToken)
	require.Equal(t, "Bearer", tokens.TokenType)
	require.Equal(t, "openid profile", tokens.Scope)
	require.Positive(t, tokens.ExpiresIn)

	t.Run("code replay is rejected", func(t *testing.T) {
		_, err := s.api.ExchangeCode(ctx, created.ID, created.ClientSecret, code, callbackURI, testVerifier)
		requireOAuth2Error(t, err, http.StatusBadRequest, idsdk.ErrorCodeInvalidGrant)
	})

	t.Run("userinfo releases granted claims", func(t *testing.T) {
		info, err := s.api.UserInfo(ctx, tokens.AccessToken)
		require.NoError(t, err)
		require.Equal(t, u.ID, info["sub"])
		require.Equal(t, "Alice Example", info["name"])
		require.NotContains(t, info, "email")
	})

	t.Run("client tokens cannot manage the account", func(t *testing.T) {
		resp := s.do(http.MethodGet, "/v1/mfa/authenticators", tokens.AccessToken)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		require.Contains(t, resp.Header.Get("WWW-Authenticate"), "invalid_token")
	})

	t.Run("refresh narrows scope", func(t *testing.T) {
		refreshed, err := s.api.RefreshGrant(ctx, created.ID, created.ClientSecret, tokens.RefreshToken, []string{"openid"})
		require.NoError(t, err)
		require.Equal(t, "openid", refreshed.Scope)
		require.NotEqual(t, tokens.AccessToken, refreshed.AccessToken)

		require.NoError(t, s.api.RevokeToken(ctx, created.ID, created.ClientSecret, refreshed.RefreshToken))
		_, err = s.api.RefreshGrant(ctx, created.ID, created.ClientSecret, refreshed.RefreshToken, nil)
		requireOAuth2Error(t, err, http.StatusBadRequest, idsdk.ErrorCodeInvalidGrant)
	})
}

func TestAuthorizeInteraction(t *testing.T) {
	t.Parallel()

	t.Run("anonymous without login page", func(t *testing.T) {
		t.Parallel()
		s := newServer(t)
		created, err := s.api.CreateClient(s.ctx(), s.adminToken(testTenant), idsdk.CreateClientRequest{
			Name:        "Public",
			RedirectURI: callbackURI,
		})
		require.NoError(t, err)

		_, err = s.api.Authorize(s.ctx(), "", authorizeParams(created.ID, "openid"))
		requireOAuth2Error(t, err, http.StatusUnauthorized, "login_required")
	})

	t.Run("redirects to login and consent pages", func(t *testing.T) {
		t.Parallel()
		s := newServer(t, func(r *Router) {
			r.LoginURL = "https://login.example/signin"
			r.ConsentURL = "https://login.example/consent"
		})
		created, err := s.api.CreateClient(s.ctx(), s.adminToken(testTenant), idsdk.CreateClientRequest{
			Name:        "Public",
			RedirectURI: callbackURI,
		})
		require.NoError(t, err)
		params := authorizeParams(created.ID, "openid")

		loc, err := s.api.Authorize(s.ctx(), "", params)
		require.NoError(t, err)
		require.Equal(t, "login.example", loc.Host)
		require.Equal(t, "/signin", loc.Path)
		require.True(t, strings.HasPrefix(loc.Query().Get("return_to"), testIssuer+"/oauth2/authorize?"))

		_, session := s.signIn("bob@example.com")
		loc, err = s.api.Authorize(s.ctx(), session, params)
		require.NoError(t, err)
		require.Equal(t, "/consent", loc.Path)
		require.Equal(t, created.ID, loc.Query().Get("client_id"))
		require.Equal(t, "openid", loc.Query().Get("scope"))
	})

	t.Run("invalid redirect uri is never followed", func(t *testing.T) {
		t.Parallel()
		s := newServer(t)
		created, err := s.api.CreateClient(s.ctx(), s.adminToken(testTenant), idsdk.CreateClientRequest{
			Name:        "Public",
			RedirectURI: callbackURI,
		})
		require.NoError(t, err)

		params := authorizeParams(created.ID, "openid")
		params.Set("redirect_uri", "https://evil.example/cb")
		_, err = s.api.Authorize(s.ctx(), "", params)
		requireOAuth2Error(t, err, http.StatusBadRequest, idsdk.ErrorCodeInvalidRequest)
	})
}

func TestTokenEndpointValidation(t *testing.T) {
	t.Parallel()
	s := newServer(t)

	post := func(t *testing.T, form url.Values, basic bool) *http.Response {
		t.Helper()
		req, err := http.NewRequest(http.MethodPost, s.srv.URL+"/oauth2/token", strings.NewReader(form.Encode()))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if basic {
			req.SetBasicAuth("client", "secret")
		}
		resp, err := s.api.HTTPClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	tests := []struct {
		name   string
		form   url.Values
		basic  bool
		status int
	}{
		{
			name:   "unsupported grant type",
			form:   url.Values{"grant_type": {"password"}, "client_id": {"client"}},
			status: http.StatusBadRequest,
		},
		{
			name:   "missing code",
			form:   url.Values{"grant_type": {"authorization_code"}, "client_id": {"client"}},
			status: http.StatusBadRequest,
		},
		{
			name:   "two client authentication methods",
			form:   url.Values{"grant_type": {"refresh_token"}, "refresh_token": {"x"}, "client_secret": {"secret"}},
			basic:  true,
			status: http.StatusBadRequest,
		},
		{
			name:   "unknown client",
			form:   url.Values{"grant_type": {"refresh_token"}, "refresh_token": {"x"}},
			basic:  true,
			status: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, tt.form, tt.basic)
			require.Equal(t, tt.status, resp.StatusCode)
			require.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
		})
	}

	t.Run("json body is rejected", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, s.srv.URL+"/oauth2/token", strings.NewReader(`{}`))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		resp, err := s.api.HTTPClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestUserInfoRequiresBearer(t *testing.T) {
	t.Parallel()
	s := newServer(t)

	resp := s.do(http.MethodGet, "/oauth2/userinfo", "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Contains(t, resp.Header.Get("WWW-Authenticate"), "Bearer")

	// A first-party session token was never exchanged through the code flow.
	_, session := s.signIn("carol@example.com")
	resp = s.do(http.MethodGet, "/oauth2/userinfo", session)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
