package httpx_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aussiebroadwan/nativeid/pkg/httpx"
	"github.com/aussiebroadwan/nativeid/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

func TestChainOrder(t *testing.T) {
	t.Parallel()

	var order []string
	mw := func(name string) httpx.Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := httpx.Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { order = append(order, "handler") }),
		mw("a"), mw("b"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, []string{"a", "b", "handler"}, order)
}

func TestAuthnMiddleware(t *testing.T) {
	t.Parallel()

	km, err := jwtx.NewEphemeralKeyManager(jwtx.KeyManagerOptions{Algorithm: jwtx.AlgorithmEdDSA, Issuer: "iss", NumKeys: 1})
	require.NoError(t, err)

	sign := func(use string, roles ...string) string {
		tok, err := km.GetSigner().Sign(jwtx.Claims{
			RegisteredClaims: jwtx.NewRegisteredClaims("iss", "user-1", nil, time.Minute, time.Now()),
			TokenUse:         use,
			Roles:            roles,
		})
		require.NoError(t, err)
		return tok
	}

	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = r.Context().Value(httpx.CtxKeyUserID).(string)
		w.WriteHeader(http.StatusNoContent)
	})

	serve := func(h http.Handler, token string) int {
		seen = ""
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	required := httpx.AuthnMiddleware(km.Verifier)(next)
	require.Equal(t, http.StatusUnauthorized, serve(required, ""))
	require.Equal(t, http.StatusUnauthorized, serve(required, "garbage"))
	require.Equal(t, http.StatusUnauthorized, serve(required, sign(jwtx.TokenUseRefresh)))
	require.Equal(t, http.StatusNoContent, serve(required, sign(jwtx.TokenUseAccess)))
	require.Equal(t, "user-1", seen)

	optional := httpx.OptionalAuthnMiddleware(km.Verifier)(next)
	require.Equal(t, http.StatusNoContent, serve(optional, ""))
	require.Empty(t, seen)
	require.Equal(t, http.StatusUnauthorized, serve(optional, "garbage"))

	admin := httpx.Chain(next, httpx.AuthnMiddleware(km.Verifier), httpx.RequireAnyRole("admin"))
	require.Equal(t, http.StatusForbidden, serve(admin, sign(jwtx.TokenUseAccess, "member")))
	require.Equal(t, http.StatusNoContent, serve(admin, sign(jwtx.TokenUseAccess, "admin")))
}

func TestRequireFirstParty(t *testing.T) {
	t.Parallel()

	km, err := jwtx.NewEphemeralKeyManager(jwtx.KeyManagerOptions{Algorithm: jwtx.AlgorithmEdDSA, Issuer: "iss", NumKeys: 1})
	require.NoError(t, err)

	sign := func(clientID string) string {
		tok, err := km.GetSigner().Sign(jwtx.Claims{
			RegisteredClaims: jwtx.NewRegisteredClaims("iss", "user-1", nil, time.Minute, time.Now()),
			TokenUse:         jwtx.TokenUseAccess,
			ClientID:         clientID,
		})
		require.NoError(t, err)
		return tok
	}

	h := httpx.Chain(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}), httpx.AuthnMiddleware(km.Verifier), httpx.RequireFirstParty())

	for name, tc := range map[string]struct {
		clientID string
		want     int
	}{
		"first party": {"", http.StatusNoContent},
		"client":      {"app-1", http.StatusUnauthorized},
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", "Bearer "+sign(tc.clientID))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			require.Equal(t, tc.want, rec.Code)
		})
	}
}
