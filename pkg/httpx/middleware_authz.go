package httpx

import (
	"net/http"
	"slices"
)

// RequireAnyRole admits callers whose access token carries one of roles.
// Must run after AuthnMiddleware.
func RequireAnyRole(roles ...string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if ok {
				for _, have := range claims.Roles {
					if slices.Contains(roles, have) {
						next.ServeHTTP(w, r)
						return
					}
				}
			}
			WriteJSON(w, http.StatusForbidden, map[string]string{
				"error":             "insufficient_role",
				"error_description": "caller lacks the required role",
			})
		})
	}
}

// RequireFirstParty rejects access tokens issued to an OAuth2 client. Those tokens only reach
// the userinfo endpoint; account and admin routes need a first-party session.
// Must run after AuthnMiddleware.
func RequireFirstParty() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if claims, ok := ClaimsFromContext(r.Context()); ok && claims.ClientID != "" {
				WriteBearerError(w, "token was issued to a client")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
