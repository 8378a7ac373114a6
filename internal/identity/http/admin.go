package http

import (
	"net/http"

	"github.com/aussiebroadwan/nativeid/internal/identity/service"
	"github.com/aussiebroadwan/nativeid/pkg/httpx"
	"github.com/aussiebroadwan/nativeid/pkg/idsdk"
)

// AdminHandler serves tenant administration. The engines enforce the elevated role and tenant
// scoping; users of another tenant are reported as not found.
type AdminHandler struct {
	Credentials *service.CredentialService
	MFA         *service.MFAService
	Invites     *service.InviteService
	KeyRotation *service.KeyRotationService
}

// HandleSetLocked godoc
//
//	@Summary		Lock or unlock a user
//	@Tags			Admin
//	@Accept			json
//	@Param			id		path	string				true	"User ID"
//	@Param			body	body	idsdk.LockRequest	true	"Lock state"
//	@Success		204
//	@Failure		403	{object}	idsdk.OAuth2Error
//	@Failure		404	{object}	idsdk.OAuth2Error
//	@Security		BearerAuth
//	@Router			/v1/admin/users/{id}/lock [put]
func (h *AdminHandler) HandleSetLocked(w http.ResponseWriter, r *http.Request) {
	var req idsdk.LockRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		idsdk.ErrInvalidBody.WriteError(w)
		return
	}
	if err := h.Credentials.SetLocked(r.Context(), callerFromRequest(r), r.PathValue("id"), req.Locked); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSetSuspended godoc
//
//	@Summary		Suspend or reinstate a user
//	@Tags			Admin
//	@Accept			json
//	@Param			id		path	string					true	"User ID"
//	@Param			body	body	idsdk.SuspensionRequest	true	"Suspension state"
//	@Success		204
//	@Failure		403	{object}	idsdk.OAuth2Error
//	@Failure		404	{object}	idsdk.OAuth2Error
//	@Security		BearerAuth
//	@Router			/v1/admin/users/{id}/suspension [put]
func (h *AdminHandler) HandleSetSuspended(w http.ResponseWriter, r *http.Request) {
	var req idsdk.SuspensionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		idsdk.ErrInvalidBody.WriteError(w)
		return
	}
	if err := h.Credentials.SetSuspended(r.Context(), callerFromRequest(r), r.PathValue("id"), req.Suspended); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleChangeMFAEnabled godoc
//
//	@Summary		Turn MFA on or off for a user
//	@Tags			Admin
//	@Accept			json
//	@Param			id		path	string					true	"User ID"
//	@Param			body	body	idsdk.MFAEnabledRequest	true	"MFA state"
//	@Success		204
//	@Failure		409	{object}	idsdk.OAuth2Error	"no active authenticator"
//	@Security		BearerAuth
//	@Router			/v1/admin/users/{id}/mfa [put]
func (h *AdminHandler) HandleChangeMFAEnabled(w http.ResponseWriter, r *http.Request) {
	var req idsdk.MFAEnabledRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		idsdk.ErrInvalidBody.WriteError(w)
		return
	}
	if err := h.MFA.ChangeMFAEnabled(r.Context(), callerFromRequest(r), r.PathValue("id"), req.Enabled); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleResetMFA godoc
//
//	@Summary		Remove every authenticator of a user
//	@Tags			Admin
//	@Param			id	path	string	true	"User ID"
//	@Success		204
//	@Security		BearerAuth
//	@Router			/v1/admin/users/{id}/mfa [delete]
func (h *AdminHandler) HandleResetMFA(w http.ResponseWriter, r *http.Request) {
	if err := h.MFA.ResetMFA(r.Context(), callerFromRequest(r), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleMintInvite godoc
//
//	@Summary		Mint an SSO invite
//	@Description	The raw token is returned once; only its fingerprint is stored.
//	@Tags			Admin
//	@Accept			json
//	@Produce		json
//	@Param			body	body		idsdk.MintInviteRequest	true	"Invite"
//	@Success		201		{object}	idsdk.MintInviteResponse
//	@Failure		400		{object}	idsdk.OAuth2Error
//	@Failure		403		{object}	idsdk.OAuth2Error
//	@Security		BearerAuth
//	@Router			/v1/invites [post]
func (h *AdminHandler) HandleMintInvite(w http.ResponseWriter, r *http.Request) {
	var req idsdk.MintInviteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		idsdk.ErrInvalidBody.WriteError(w)
		return
	}

	token, err := h.Invites.MintInvite(r.Context(), callerFromRequest(r), service.MintInviteRequest{
		Roles:     req.Roles,
		Email:     req.Email,
		ExpiresAt: req.ExpiresAt,
		Reusable:  req.Reusable,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, idsdk.MintInviteResponse{Token: token})
}

// HandleRotateKey godoc
//
//	@Summary		Rotate signing keys
//	@Description	Generates a new signing key and optionally retires the current ones. Retired keys keep
//	@Description	verifying until their grace period ends.
//	@Tags			Keys
//	@Accept			json
//	@Produce		json
//	@Param			body	body		idsdk.RotateKeyRequest	true	"Rotation options"
//	@Success		200		{object}	idsdk.RotateKeyResponse
//	@Failure		403		{object}	idsdk.OAuth2Error
//	@Security		BearerAuth
//	@Router			/v1/admin/keys/rotate [post]
func (h *AdminHandler) HandleRotateKey(w http.ResponseWriter, r *http.Request) {
	var req idsdk.RotateKeyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		idsdk.ErrInvalidBody.WriteError(w)
		return
	}

	res, err := h.KeyRotation.RotateKey(r.Context(), callerFromRequest(r), req.RetireExisting)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, idsdk.RotateKeyResponse{
		NewKID:      res.NewKID,
		RetiredKIDs: res.RetiredKIDs,
		ActiveKeys:  res.ActiveKeys,
	})
}

// HandleListKeys godoc
//
//	@Summary		List signing keys
//	@Tags			Keys
//	@Produce		json
//	@Success		200	{array}		idsdk.SigningKey
//	@Failure		403	{object}	idsdk.OAuth2Error
//	@Security		BearerAuth
//	@Router			/v1/admin/keys [get]
func (h *AdminHandler) HandleListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.KeyRotation.ListSigningKeys(r.Context(), callerFromRequest(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]idsdk.SigningKey, 0, len(keys))
	for _, k := range keys {
		out = append(out, idsdk.SigningKey{
			Kid:       k.Kid,
			Algorithm: k.Algorithm,
			Active:    k.Active,
			CreatedAt: k.CreatedAt,
			RetiredAt: k.RetiredAt,
			ExpiresAt: k.ExpiresAt,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

// HandleRetireKey godoc
//
//	@Summary		Retire a signing key
//	@Tags			Keys
//	@Param			kid	path	string	true	"Key ID"
//	@Success		204
//	@Failure		404	{object}	idsdk.OAuth2Error
//	@Failure		409	{object}	idsdk.OAuth2Error	"last_signing_key"
//	@Security		BearerAuth
//	@Router			/v1/admin/keys/{kid} [delete]
func (h *AdminHandler) HandleRetireKey(w http.ResponseWriter, r *http.Request) {
	if err := h.KeyRotation.RetireKey(r.Context(), callerFromRequest(r), r.PathValue("kid")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
