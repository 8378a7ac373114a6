package http

import (
	"net/http"

	"github.com/aussiebroadwan/nativeid/internal/identity/service"
	"github.com/aussiebroadwan/nativeid/pkg/httpx"
)

// DiscoveryHandler godoc
//
//	@Summary		OpenID Provider metadata
//	@Tags			Discovery
//	@Produce		json
//	@Success		200	{object}	service.DiscoveryDocument
//	@Router			/.well-known/openid-configuration [get]
func DiscoveryHandler(d *service.DiscoveryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, d.GetDiscoveryDocument())
	}
}

// JWKSHandler godoc
//
//	@Summary		JSON Web Key Set
//	@Description	Public keys of every active signing key and of retired keys still inside their grace period.
//	@Tags			Discovery
//	@Produce		json
//	@Success		200	{object}	jwtx.JWKS
//	@Router			/.well-known/jwks.json [get]
func JWKSHandler(d *service.DiscoveryService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, d.GetJSONWebKeySet())
	}
}
