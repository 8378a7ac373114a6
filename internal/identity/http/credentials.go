package http

import (
	"net/http"
	"time"

	"github.com/aussiebroadwan/nativeid/internal/identity/domain"
	"github.com/aussiebroadwan/nativeid/internal/identity/service"
	"github.com/aussiebroadwan/nativeid/pkg/httpx"
	"github.com/aussiebroadwan/nativeid/pkg/idsdk"
)

// CredentialHandler serves first-party sign-in and self-service registration.
type CredentialHandler struct {
	Credentials *service.CredentialService

	// SecureCookies marks the session cookie Secure; set when the issuer is https.
	SecureCookies bool
}

// HandleAuthenticate godoc
//
//	@Summary		Password sign-in
//	@Description	Verifies a username and password. When the person has MFA enabled the response is
//	@Description	403 mfa_required with an mfa_token to continue through the /v1/mfa endpoints.
//	@Description	Every authentication failure returns the same 401 body.
//	@Tags			Credentials
//	@Accept			json
//	@Produce		json
//	@Param			body	body		idsdk.AuthenticateRequest	true	"Credentials"
//	@Success		200		{object}	idsdk.TokenResponse
//	@Failure		400		{object}	idsdk.OAuth2Error
//	@Failure		401		{object}	idsdk.OAuth2Error	"access_denied"
//	@Failure		403		{object}	idsdk.OAuth2Error	"mfa_required"
//	@Router			/v1/authenticate [post]
func (h *CredentialHandler) HandleAuthenticate(w http.ResponseWriter, r *http.Request) {
	var req idsdk.AuthenticateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		idsdk.ErrInvalidBody.WriteError(w)
		return
	}

	tokens, err := h.Credentials.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSession(w, tokens, h.SecureCookies)
}

// HandleRefresh godoc
//
//	@Summary		Refresh a first-party session
//	@Tags			Credentials
//	@Accept			json
//	@Produce		json
//	@Param			body	body		idsdk.RefreshSessionRequest	true	"Refresh token"
//	@Success		200		{object}	idsdk.TokenResponse
//	@Failure		401		{object}	idsdk.OAuth2Error
//	@Router			/v1/session/refresh [post]
func (h *CredentialHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req idsdk.RefreshSessionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || req.RefreshToken == "" {
		idsdk.ErrInvalidBody.WriteError(w)
		return
	}

	tokens, err := h.Credentials.RefreshSession(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSession(w, tokens, h.SecureCookies)
}

// HandleRegister godoc
//
//	@Summary		Register a person
//	@Description	Creates a pending person and delivers a registration token. The response is the
//	@Description	same whether the username is new, pending or already registered.
//	@Tags			Credentials
//	@Accept			json
//	@Produce		json
//	@Param			X-Tenant-ID	header		string					true	"Tenant"
//	@Param			body		body		idsdk.RegisterRequest	true	"Registration"
//	@Success		202			{object}	idsdk.RegisterResponse
//	@Failure		400			{object}	idsdk.OAuth2Error
//	@Router			/v1/register [post]
func (h *CredentialHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req idsdk.RegisterRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		idsdk.ErrInvalidBody.WriteError(w)
		return
	}

	_, err := h.Credentials.RegisterPerson(r.Context(), callerFromRequest(r), service.RegisterRequest{
		Username:    req.Username,
		Password:    req.Password,
		Name:        req.Name,
		GivenName:   req.GivenName,
		FamilyName:  req.FamilyName,
		PhoneNumber: req.PhoneNumber,
		Locale:      req.Locale,
		Zoneinfo:    req.Zoneinfo,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusAccepted, idsdk.RegisterResponse{Status: "pending"})
}

// HandleConfirm godoc
//
//	@Summary		Confirm a registration
//	@Tags			Credentials
//	@Accept			json
//	@Param			body	body	idsdk.ConfirmRegistrationRequest	true	"Registration token"
//	@Success		204
//	@Failure		401	{object}	idsdk.OAuth2Error
//	@Router			/v1/register/confirm [post]
func (h *CredentialHandler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	var req idsdk.ConfirmRegistrationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		idsdk.ErrInvalidBody.WriteError(w)
		return
	}
	if err := h.Credentials.ConfirmRegistration(r.Context(), req.Token); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func tokenResponse(ts domain.TokenSet) idsdk.TokenResponse {
	tokenType := ts.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return idsdk.TokenResponse{
		AccessToken:  ts.AccessToken,
		RefreshToken: ts.RefreshToken,
		IDToken:      ts.IDToken,
		TokenType:    tokenType,
		ExpiresIn:    ts.ExpiresIn(time.Now()),
		Scope:        domain.JoinScopes(ts.Scope),
	}
}

// writeSession returns first-party tokens and sets the session cookie the authorization endpoint
// reads.
func writeSession(w http.ResponseWriter, ts domain.TokenSet, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    ts.AccessToken,
		Path:     "/oauth2/authorize",
		Expires:  ts.AccessExpiresAt,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
	httpx.WriteJSON(w, http.StatusOK, tokenResponse(ts))
}
