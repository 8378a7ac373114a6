package http

import (
	"net/http"
	"strings"

	"github.com/aussiebroadwan/nativeid/internal/identity/domain"
	"github.com/aussiebroadwan/nativeid/pkg/httpx"
	"github.com/aussiebroadwan/nativeid/pkg/jwtx"
)

const (
	// TenantHeader names the tenant of an anonymous request. A verified access token's tid claim
	// always takes precedence.
	TenantHeader = "X-Tenant-ID"

	// SessionCookieName carries the first-party access token to the authorization endpoint.
	SessionCookieName = "nativeid_session"
)

// callerFromRequest builds the caller from the verified access token, if any, falling back to
// the tenant header for anonymous requests.
func callerFromRequest(r *http.Request) domain.Caller {
	if claims, ok := httpx.ClaimsFromContext(r.Context()); ok {
		return callerFromClaims(claims)
	}
	return domain.Caller{TenantID: strings.TrimSpace(r.Header.Get(TenantHeader))}
}

func callerFromClaims(c jwtx.Claims) domain.Caller {
	return domain.Caller{
		UserID:   c.Subject,
		TenantID: c.TenantID,
		Roles:    c.Roles,
	}
}

// sessionCaller resolves the signed-in user of a browser request from the Authorization header
// or the session cookie. Anything that does not verify is treated as anonymous.
func sessionCaller(v jwtx.Verifier, r *http.Request) domain.Caller {
	raw, ok := httpx.BearerToken(r)
	if !ok {
		if c, err := r.Cookie(SessionCookieName); err == nil {
			raw = c.Value
		}
	}
	anonymous := domain.Caller{TenantID: strings.TrimSpace(r.Header.Get(TenantHeader))}
	if raw == "" {
		return anonymous
	}

	claims, err := v.Verify(raw)
	if err != nil || claims.TokenUse != jwtx.TokenUseAccess || claims.ClientID != "" {
		return anonymous
	}
	return callerFromClaims(claims)
}
