package http

import (
	"errors"
	"net/http"

	"github.com/aussiebroadwan/nativeid/internal/identity/domain"
	"github.com/aussiebroadwan/nativeid/internal/identity/service"
	"github.com/aussiebroadwan/nativeid/pkg/httpx"
)

// UserInfoHandler serves the OIDC userinfo endpoint.
type UserInfoHandler struct {
	UserInfo *service.UserInfoService
}

// ServeHTTP godoc
//
//	@Summary		OIDC userinfo
//	@Description	Returns the claims the token's granted scopes release. sub is always present;
//	@Description	claim groups whose scope was not granted are omitted.
//	@Tags			OAuth2
//	@Produce		json
//	@Success		200	{object}	service.UserInfo
//	@Failure		401	{object}	idsdk.OAuth2Error	"invalid_token"
//	@Security		BearerAuth
//	@Router			/oauth2/userinfo [get]
func (h *UserInfoHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, ok := httpx.BearerToken(r)
	if !ok {
		httpx.WriteBearerError(w, "missing bearer token")
		return
	}

	info, err := h.UserInfo.GetUserInfo(r.Context(), raw)
	if errors.Is(err, domain.ErrNotAuthenticated) {
		httpx.WriteBearerError(w, "token is not valid for userinfo")
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, info)
}
