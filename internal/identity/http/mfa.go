package http

import (
	"context"
	"net/http"

	"github.com/aussiebroadwan/nativeid/internal/identity/domain"
	"github.com/aussiebroadwan/nativeid/internal/identity/service"
	"github.com/aussiebroadwan/nativeid/pkg/httpx"
	"github.com/aussiebroadwan/nativeid/pkg/idsdk"
)

// MFAHandler serves second-factor enrolment and verification. Each route accepts either a
// first-party access token or, mid sign-in, the mfa_token from an mfa_required response.
type MFAHandler struct {
	MFA           *service.MFAService
	SecureCookies bool
}

// HandleAssociate godoc
//
//	@Summary		Associate an authenticator
//	@Description	Starts enrolment of an otp, oob-sms or oob-email authenticator. Out-of-band
//	@Description	authenticators are challenged immediately. Recovery codes are returned with the first factor only.
//	@Tags			MFA
//	@Accept			json
//	@Produce		json
//	@Param			body	body		idsdk.MFAAssociateRequest	true	"Authenticator"
//	@Success		200		{object}	idsdk.MFAAssociateResponse
//	@Failure		400		{object}	idsdk.OAuth2Error
//	@Failure		401		{object}	idsdk.OAuth2Error
//	@Failure		403		{object}	idsdk.OAuth2Error
//	@Security		BearerAuth
//	@Router			/v1/mfa/associate [post]
func (h *MFAHandler) HandleAssociate(w http.ResponseWriter, r *http.Request) {
	var req idsdk.MFAAssociateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		idsdk.ErrInvalidBody.WriteError(w)
		return
	}

	caller := callerFromRequest(r)
	caller.MFAToken = req.MFAToken
	res, err := h.MFA.Associate(r.Context(), caller, service.AssociateRequest{
		Type:    domain.AuthenticatorType(req.AuthenticatorType),
		Channel: req.Channel,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, idsdk.MFAAssociateResponse{
		AuthenticatorID:   res.AuthenticatorID,
		AuthenticatorType: string(res.Type),
		Secret:            res.Secret,
		BarcodeURI:        res.BarcodeURI,
		OOBCode:           res.OOBCode,
		BindingMethod:     res.BindingMethod,
		RecoveryCodes:     res.RecoveryCodes,
	})
}

// HandleChallenge godoc
//
//	@Summary		Challenge an active authenticator
//	@Tags			MFA
//	@Accept			json
//	@Produce		json
//	@Param			body	body		idsdk.MFAChallengeRequest	true	"Authenticator"
//	@Success		200		{object}	idsdk.MFAChallengeResponse
//	@Failure		403		{object}	idsdk.OAuth2Error
//	@Failure		404		{object}	idsdk.OAuth2Error
//	@Router			/v1/mfa/challenge [post]
func (h *MFAHandler) HandleChallenge(w http.ResponseWriter, r *http.Request) {
	var req idsdk.MFAChallengeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		idsdk.ErrInvalidBody.WriteError(w)
		return
	}

	caller := callerFromRequest(r)
	caller.MFAToken = req.MFAToken
	res, err := h.MFA.Challenge(r.Context(), caller, req.AuthenticatorID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, idsdk.MFAChallengeResponse{
		ChallengeType: res.ChallengeType,
		OOBCode:       res.OOBCode,
		BindingMethod: res.BindingMethod,
	})
}

// HandleConfirm godoc
//
//	@Summary		Confirm an authenticator
//	@Description	Activates a pending authenticator. With an mfa_token the sign-in completes and tokens are returned,
//	@Description	otherwise the updated authenticator list is returned.
//	@Tags			MFA
//	@Accept			json
//	@Produce		json
//	@Param			body	body		idsdk.MFAConfirmRequest	true	"Answer"
//	@Success		200		{object}	idsdk.TokenResponse
//	@Success		200		{object}	idsdk.MFAConfirmResponse
//	@Failure		400		{object}	idsdk.OAuth2Error
//	@Router			/v1/mfa/confirm [post]
func (h *MFAHandler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	h.answer(w, r, h.MFA.Confirm)
}

// HandleVerify godoc
//
//	@Summary		Verify a sign-in challenge
//	@Description	Answers the MFA challenge of a sign-in with an active authenticator or a recovery code.
//	@Tags			MFA
//	@Accept			json
//	@Produce		json
//	@Param			body	body		idsdk.MFAConfirmRequest	true	"Answer"
//	@Success		200		{object}	idsdk.TokenResponse
//	@Failure		400		{object}	idsdk.OAuth2Error
//	@Router			/v1/mfa/verify [post]
func (h *MFAHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	h.answer(w, r, h.MFA.Verify)
}

type answerFunc func(ctx context.Context, caller domain.Caller, req service.ConfirmRequest) (service.ConfirmResult, error)

func (h *MFAHandler) answer(w http.ResponseWriter, r *http.Request, fn answerFunc) {
	var req idsdk.MFAConfirmRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		idsdk.ErrInvalidBody.WriteError(w)
		return
	}

	caller := callerFromRequest(r)
	caller.MFAToken = req.MFAToken
	res, err := fn(r.Context(), caller, service.ConfirmRequest{
		AuthenticatorID: req.AuthenticatorID,
		OTP:             req.OTP,
		OOBCode:         req.OOBCode,
		BindingCode:     req.BindingCode,
		RecoveryCode:    req.RecoveryCode,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if res.Tokens == nil {
		httpx.WriteJSON(w, http.StatusOK, idsdk.MFAConfirmResponse{Authenticators: toAuthenticators(res.Authenticators)})
		return
	}
	writeSession(w, *res.Tokens, h.SecureCookies)
}

// HandleList godoc
//
//	@Summary		List authenticators
//	@Tags			MFA
//	@Produce		json
//	@Success		200	{array}		idsdk.Authenticator
//	@Failure		401	{object}	idsdk.OAuth2Error
//	@Security		BearerAuth
//	@Router			/v1/mfa/authenticators [get]
func (h *MFAHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	auths, err := h.MFA.ListAuthenticators(r.Context(), callerFromRequest(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, toAuthenticators(auths))
}

func toAuthenticators(auths []domain.MFAAuthenticator) []idsdk.Authenticator {
	out := make([]idsdk.Authenticator, 0, len(auths))
	for _, a := range auths {
		out = append(out, idsdk.Authenticator{
			ID:          a.ID,
			Type:        string(a.Type),
			Status:      string(a.Status),
			Channel:     a.Channel,
			CreatedAt:   a.CreatedAt,
			ConfirmedAt: a.ConfirmedAt,
		})
	}
	return out
}

// HandleDisassociate godoc
//
//	@Summary		Remove an authenticator
//	@Tags			MFA
//	@Param			id	path	string	true	"Authenticator ID"
//	@Success		204
//	@Failure		404	{object}	idsdk.OAuth2Error
//	@Failure		409	{object}	idsdk.OAuth2Error
//	@Security		BearerAuth
//	@Router			/v1/mfa/authenticators/{id} [delete]
func (h *MFAHandler) HandleDisassociate(w http.ResponseWriter, r *http.Request) {
	if err := h.MFA.Disassociate(r.Context(), callerFromRequest(r), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
