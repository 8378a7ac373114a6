package http

import (
	"net/http"

	"github.com/aussiebroadwan/nativeid/internal/identity/service"
	"github.com/aussiebroadwan/nativeid/pkg/httpx"
	"github.com/aussiebroadwan/nativeid/pkg/idsdk"
)

// SSOHandler serves sign-in through external identity providers.
type SSOHandler struct {
	SSO           *service.SSOService
	SecureCookies bool
}

// HandleAuthenticate godoc
//
//	@Summary		Sign in with an external provider
//	@Description	Exchanges the provider authorization code. Unknown identities are linked by verified
//	@Description	email or provisioned, depending on the provisioning mode.
//	@Description	People with MFA enabled get mfa_required with an mfa_token for /v1/mfa/verify.
//	@Tags			SSO
//	@Accept			json
//	@Produce		json
//	@Param			provider	path		string							true	"Provider name"
//	@Param			X-Tenant-ID	header		string							false	"Tenant for provisioned accounts"
//	@Param			body		body		idsdk.SSOAuthenticateRequest	true	"Provider code"
//	@Success		200			{object}	idsdk.TokenResponse
//	@Failure		400			{object}	idsdk.OAuth2Error
//	@Failure		401			{object}	idsdk.OAuth2Error
//	@Failure		403			{object}	idsdk.OAuth2Error
//	@Router			/v1/sso/{provider}/authenticate [post]
func (h *SSOHandler) HandleAuthenticate(w http.ResponseWriter, r *http.Request) {
	var req idsdk.SSOAuthenticateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		idsdk.ErrInvalidBody.WriteError(w)
		return
	}

	tokens, err := h.SSO.Authenticate(r.Context(), callerFromRequest(r), service.SSORequest{
		Provider:      r.PathValue("provider"),
		Code:          req.Code,
		CodeVerifier:  req.CodeVerifier,
		InviteToken:   req.InviteToken,
		AcceptedTerms: req.AcceptedTerms,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSession(w, tokens, h.SecureCookies)
}

// HandleRefresh godoc
//
//	@Summary		Refresh stored provider tokens
//	@Description	Refreshes the provider tokens of the caller's linked identity. The tokens themselves are
//	@Description	kept server side; only metadata is returned.
//	@Tags			SSO
//	@Produce		json
//	@Param			provider	path		string	true	"Provider name"
//	@Success		200			{object}	idsdk.FederatedIdentity
//	@Failure		404			{object}	idsdk.OAuth2Error
//	@Failure		409			{object}	idsdk.OAuth2Error	"refresh_unavailable"
//	@Security		BearerAuth
//	@Router			/v1/sso/{provider}/refresh [post]
func (h *SSOHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	fed, err := h.SSO.RefreshTokenForUser(r.Context(), callerFromRequest(r).UserID, r.PathValue("provider"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, idsdk.FederatedIdentity{
		Provider:       fed.Provider,
		Subject:        fed.Subject,
		Email:          fed.Email,
		TokenExpiresAt: fed.TokenExpiresAt,
	})
}
