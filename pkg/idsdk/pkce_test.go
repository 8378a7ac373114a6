package idsdk

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGeneratePKCE(t *testing.T) {
	t.Parallel()

	pkce, err := GeneratePKCE()
	require.NoError(t, err)
	require.NotEmpty(t, pkce.Verifier)
	require.Equal(t, "S256", pkce.Method)

	hash := sha256.Sum256([]byte(pkce.Verifier))
	require.Equal(t, base64.RawURLEncoding.EncodeToString(hash[:]), pkce.Challenge)

	other, err := GeneratePKCE()
	require.NoError(t, err)
	require.NotEqual(t, pkce.Verifier, other.Verifier)
}

func TestAuthorizeURL(t *testing.T) {
	t.Parallel()
	c := NewClient("https://id.example.com/")

	t.Run("minimal", func(t *testing.T) {
		u := c.AuthorizeURL(AuthorizeRequest{ClientID: "app", RedirectURI: "https://app.example.com/cb"})
		require.True(t, strings.HasPrefix(u, "https://id.example.com/oauth2/authorize?"))
		require.Contains(t, u, "response_type=code")
		require.Contains(t, u, "client_id=app")
		require.Contains(t, u, "redirect_uri=https%3A%2F%2Fapp.example.com%2Fcb")
		require.NotContains(t, u, "code_challenge")
	})

	t.Run("all parameters", func(t *testing.T) {
		pkce, err := GeneratePKCE()
		require.NoError(t, err)
		u := c.AuthorizeURL(AuthorizeRequest{
			ClientID:    "app",
			RedirectURI: "https://app.example.com/cb",
			Scopes:      []string{"openid", "email"},
			State:       "s1",
			Nonce:       "n1",
			PKCE:        pkce,
		})
		require.Contains(t, u, "scope=openid+email")
		require.Contains(t, u, "state=s1")
		require.Contains(t, u, "nonce=n1")
		require.Contains(t, u, "code_challenge="+pkce.Challenge)
		require.Contains(t, u, "code_challenge_method=S256")
	})
}

func TestParseCallback(t *testing.T) {
	t.Parallel()

	t.Run("code and state", func(t *testing.T) {
		code, state, err := ParseCallback("https://app.example.com/cb?code=c1&state=s1")
		require.NoError(t, err)
		require.Equal(t, "c1", code)
		require.Equal(t, "s1", state)
	})

	t.Run("error response", func(t *testing.T) {
		_, _, err := ParseCallback("https://app.example.com/cb?error=access_denied&error_description=denied")
		var oe *OAuth2Error
		require.True(t, errors.As(err, &oe))
		require.Equal(t, ErrorCodeAccessDenied, oe.Code)
		require.Equal(t, "denied", oe.Description)
	})

	t.Run("missing code", func(t *testing.T) {
		_, _, err := ParseCallback("https://app.example.com/cb?state=s1")
		require.ErrorContains(t, err, "missing authorization code")
	})

	t.Run("invalid url", func(t *testing.T) {
		_, _, err := ParseCallback("://invalid")
		require.ErrorContains(t, err, "parse")
	})
}

func TestErrorDecoding(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/authenticate":
			if r.Header.Get("X-Tenant-ID") != "tenant-a" {
				ErrInvalidRequest.WriteError(w)
				return
			}
			(&OAuth2Error{
				StatusCode:  http.StatusForbidden,
				Code:        ErrorCodeMFARequired,
				Description: "multi-factor authentication required",
				MFAToken:    "mfa-1",
			}).WriteError(w)
		case "/oauth2/token":
			if user, _, ok := r.BasicAuth(); !ok || user != "client%3A1" {
				ErrInvalidRequest.WriteError(w)
				return
			}
			ErrInvalidClient.WriteError(w)
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL)
	c.TenantID = "tenant-a"

	t.Run("mfa required carries the token", func(t *testing.T) {
		_, err := c.Authenticate(t.Context(), "alice@example.com", "pw")
		token, ok := MFATokenFrom(err)
		require.True(t, ok)
		require.Equal(t, "mfa-1", token)
		require.ErrorIs(t, err, &OAuth2Error{Code: ErrorCodeMFARequired})
	})

	t.Run("client ids are form encoded in basic auth", func(t *testing.T) {
		_, err := c.ExchangeCode(t.Context(), "client:1", "secret", "code", "https://app/cb", "")
		require.ErrorIs(t, err, ErrInvalidClient)
	})

	t.Run("non json errors", func(t *testing.T) {
		_, err := c.GetLiveness(t.Context())
		var oe *OAuth2Error
		require.True(t, errors.As(err, &oe))
		require.Equal(t, http.StatusBadGateway, oe.StatusCode)
		require.Equal(t, ErrorCodeServerError, oe.Code)
	})
}
