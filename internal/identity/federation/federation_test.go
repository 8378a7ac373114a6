package federation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/nativeid/pkg/jwtx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type fakeIssuer struct {
	srv      *httptest.Server
	keys     *jwtx.KeyManager
	clientID string
	subject  string

	mu       sync.Mutex
	lastForm map[string]string
}

func (f *fakeIssuer) form(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastForm[key]
}

func newFakeIssuer(t *testing.T, clientID string) *fakeIssuer {
	t.Helper()

	f := &fakeIssuer{clientID: clientID, subject: "google-123"}
	mux := http.NewServeMux()
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)

	km, err := jwtx.NewEphemeralKeyManager(jwtx.KeyManagerOptions{
		Algorithm: jwtx.AlgorithmRS256,
		Issuer:    f.srv.URL,
		RSABits:   2048,
		NumKeys:   1,
	})
	require.NoError(t, err)
	f.keys = km

	mux.HandleFunc("GET /.well-known/openid-configuration", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{
			"issuer":                                f.srv.URL,
			"authorization_endpoint":                f.srv.URL + "/authorize",
			"token_endpoint":                        f.srv.URL + "/token",
			"jwks_uri":                              f.srv.URL + "/jwks",
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	})
	mux.HandleFunc("GET /jwks", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, f.keys.KeySet.PublicJWKS())
	})
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		f.mu.Lock()
		f.lastForm = map[string]string{}
		for k := range r.PostForm {
			f.lastForm[k] = r.PostForm.Get(k)
		}
		f.mu.Unlock()
		if r.PostForm.Get("grant_type") == "refresh_token" {
			writeJSON(w, map[string]any{
				"access_token":  "rotated-access",
				"refresh_token": "rotated-refresh",
				"token_type":    "Bearer",
				"expires_in":    3600,
			})
			return
		}
		if r.PostForm.Get("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}

		claims := struct {
			jwt.RegisteredClaims
			Email         string `json:"email"`
			EmailVerified bool   `json:"email_verified"`
			Name          string `json:"name"`
			GivenName     string `json:"given_name"`
		}{
			RegisteredClaims: jwtx.NewRegisteredClaims(f.srv.URL, f.subject, []string{f.clientID}, time.Minute, time.Now()),
			Email:            "alice@example.com",
			EmailVerified:    true,
			Name:             "Alice Example",
			GivenName:        "Alice",
		}
		idToken, err := f.keys.GetSigner().Sign(claims)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]any{
			"access_token":  "upstream-access",
			"refresh_token": "upstream-refresh",
			"token_type":    "Bearer",
			"expires_in":    3600,
			"id_token":      idToken,
		})
	})
	return f
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestOIDCProvider(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	issuer := newFakeIssuer(t, "nativeid")
	p, err := NewOIDCProvider(ctx, OIDCConfig{
		Name:         "google",
		Issuer:       issuer.srv.URL,
		ClientID:     "nativeid",
		ClientSecret: "shh",
		RedirectURL:  "https://id.example/callback",
		HTTPClient:   issuer.srv.Client(),
	})
	require.NoError(t, err)
	require.Equal(t, "google", p.ProviderName())

	t.Run("authenticate resolves identity from the ID token", func(t *testing.T) {
		id, err := p.Authenticate(ctx, "good-code", "verifier-123")
		require.NoError(t, err)
		require.Equal(t, "google-123", id.Subject)
		require.Equal(t, "alice@example.com", id.Email)
		require.True(t, id.EmailVerified)
		require.Equal(t, "Alice", id.GivenName)
		require.Equal(t, "upstream-refresh", id.Token.RefreshToken)
		require.Equal(t, "verifier-123", issuer.form("code_verifier"))
		require.Equal(t, "nativeid", issuer.form("client_id"))
	})

	t.Run("rejected code surfaces an error", func(t *testing.T) {
		_, err := p.Authenticate(ctx, "bad-code", "")
		require.Error(t, err)
	})

	t.Run("refresh rotates tokens", func(t *testing.T) {
		tok, err := p.RefreshToken(ctx, "upstream-refresh")
		require.NoError(t, err)
		require.Equal(t, "rotated-access", tok.AccessToken)
		require.Equal(t, "rotated-refresh", tok.RefreshToken)
	})

	t.Run("refresh without a token is unsupported", func(t *testing.T) {
		_, err := p.RefreshToken(ctx, "")
		require.ErrorIs(t, err, ErrRefreshNotSupported)
	})
}

func TestOIDCProviderRejectsForeignAudience(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	issuer := newFakeIssuer(t, "someone-else")
	p, err := NewOIDCProvider(ctx, OIDCConfig{
		Name:       "dex",
		Issuer:     issuer.srv.URL,
		ClientID:   "nativeid",
		HTTPClient: issuer.srv.Client(),
	})
	require.NoError(t, err)

	_, err = p.Authenticate(ctx, "good-code", "")
	require.Error(t, err)
}

func TestGitHubProvider(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("POST /login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostForm.Get("code") != "gh-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"bad_verification_code"}`))
			return
		}
		writeJSON(w, map[string]any{"access_token": "gho_abc", "token_type": "bearer"})
	})
	mux.HandleFunc("GET /user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer gho_abc" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, map[string]any{"id": 42, "login": "octocat", "name": "The Octocat", "email": "public@example.com"})
	})
	mux.HandleFunc("GET /user/emails", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, []map[string]any{
			{"email": "secondary@example.com", "primary": false, "verified": true},
			{"email": "octo@example.com", "primary": true, "verified": true},
		})
	})

	p, err := NewGitHubProvider(GitHubConfig{
		ClientID:     "gh-client",
		ClientSecret: "gh-secret",
		HTTPClient:   srv.Client(),
		Endpoint: &oauth2.Endpoint{
			AuthURL:  srv.URL + "/login/oauth/authorize",
			TokenURL: srv.URL + "/login/oauth/access_token",
		},
		APIBaseURL: srv.URL,
	})
	require.NoError(t, err)
	require.Equal(t, "github", p.ProviderName())

	id, err := p.Authenticate(ctx, "gh-code", "")
	require.NoError(t, err)
	require.Equal(t, "42", id.Subject)
	require.Equal(t, "octo@example.com", id.Email)
	require.True(t, id.EmailVerified)
	require.Equal(t, "The Octocat", id.Name)

	_, err = p.Authenticate(ctx, "wrong", "")
	require.Error(t, err)
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	gh, err := NewGitHubProvider(GitHubConfig{ClientID: "a", ClientSecret: "b"})
	require.NoError(t, err)

	r := NewRegistry(gh)
	got, err := r.Get("github")
	require.NoError(t, err)
	require.Same(t, gh, got)

	_, err = r.Get("myspace")
	require.ErrorIs(t, err, ErrUnknownProvider)
	require.Equal(t, []string{"github"}, r.Names())
}
