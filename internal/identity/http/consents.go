package http

import (
	"net/http"

	"github.com/aussiebroadwan/nativeid/internal/identity/domain"
	"github.com/aussiebroadwan/nativeid/internal/identity/service"
	"github.com/aussiebroadwan/nativeid/pkg/httpx"
	"github.com/aussiebroadwan/nativeid/pkg/idsdk"
)

// ConsentHandler records the signed-in user's consent decisions.
type ConsentHandler struct {
	Consents *service.ConsentService
}

// HandleGet godoc
//
//	@Summary		Get consent for a client
//	@Tags			Consent
//	@Produce		json
//	@Param			client_id	path		string	true	"Client ID"
//	@Success		200			{object}	idsdk.Consent
//	@Failure		404			{object}	idsdk.OAuth2Error
//	@Security		BearerAuth
//	@Router			/v1/consents/{client_id} [get]
func (h *ConsentHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	c, err := h.Consents.GetConsent(r.Context(), r.PathValue("client_id"), callerFromRequest(r).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, consentResponse(c))
}

// HandlePut godoc
//
//	@Summary		Grant or deny consent
//	@Description	Records the scopes the user consents to for a client. Granted scopes accumulate.
//	@Tags			Consent
//	@Accept			json
//	@Produce		json
//	@Param			client_id	path		string					true	"Client ID"
//	@Param			body		body		idsdk.ConsentRequest	true	"Decision"
//	@Success		200			{object}	idsdk.Consent
//	@Failure		400			{object}	idsdk.OAuth2Error
//	@Failure		404			{object}	idsdk.OAuth2Error
//	@Security		BearerAuth
//	@Router			/v1/consents/{client_id} [put]
func (h *ConsentHandler) HandlePut(w http.ResponseWriter, r *http.Request) {
	var req idsdk.ConsentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		idsdk.ErrInvalidBody.WriteError(w)
		return
	}

	c, err := h.Consents.ConsentToClient(r.Context(), r.PathValue("client_id"), callerFromRequest(r).UserID,
		domain.ParseScope(req.Scope), req.Consented)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, consentResponse(c))
}

// HandleDelete godoc
//
//	@Summary		Revoke consent
//	@Description	Revoking consent also stops the client's tokens from reading userinfo.
//	@Tags			Consent
//	@Param			client_id	path	string	true	"Client ID"
//	@Success		204
//	@Security		BearerAuth
//	@Router			/v1/consents/{client_id} [delete]
func (h *ConsentHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.Consents.RevokeConsent(r.Context(), r.PathValue("client_id"), callerFromRequest(r).UserID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func consentResponse(c domain.Consent) idsdk.Consent {
	return idsdk.Consent{
		ClientID:  c.ClientID,
		Scope:     domain.JoinScopes(c.Scopes),
		Consented: c.Consented,
		UpdatedAt: c.UpdatedAt,
	}
}
