package http

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/aussiebroadwan/nativeid/internal/identity/domain"
	"github.com/aussiebroadwan/nativeid/internal/identity/service"
	"github.com/aussiebroadwan/nativeid/pkg/httpx"
	"github.com/aussiebroadwan/nativeid/pkg/idsdk"
)

// TokenHandler serves POST /oauth2/token and POST /oauth2/revoke. Both accept
// application/x-www-form-urlencoded and client_secret_basic or client_secret_post.
type TokenHandler struct {
	Tokens *service.TokenService
}

// ServeHTTP godoc
//
//	@Summary		OAuth2 token endpoint
//	@Description	Redeems an authorization code or rotates a refresh token.
//	@Tags			OAuth2
//	@Accept			application/x-www-form-urlencoded
//	@Produce		json
//	@Param			grant_type		formData	string	true	"Grant type"	Enums(authorization_code, refresh_token)
//	@Param			code			formData	string	false	"Authorization code (authorization_code)"
//	@Param			redirect_uri	formData	string	false	"Redirect URI used in the authorization request (authorization_code)"
//	@Param			code_verifier	formData	string	false	"PKCE verifier"
//	@Param			refresh_token	formData	string	false	"Refresh token (refresh_token)"
//	@Param			scope			formData	string	false	"Narrower scope (refresh_token)"
//	@Param			client_id		formData	string	false	"Client identifier when not using HTTP Basic"
//	@Param			client_secret	formData	string	false	"Client secret when not using HTTP Basic"
//	@Success		200				{object}	idsdk.TokenResponse
//	@Failure		400				{object}	idsdk.OAuth2Error
//	@Failure		401				{object}	idsdk.OAuth2Error
//	@Header			200				{string}	Cache-Control	"no-store"
//	@Header			200				{string}	Pragma			"no-cache"
//	@Router			/oauth2/token [post]
func (h *TokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !parseTokenForm(w, r) {
		return
	}
	clientID, clientSecret, err := clientCredentials(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	form := r.PostForm
	var tokens domain.TokenSet
	switch form.Get("grant_type") {
	case "authorization_code":
		code := strings.TrimSpace(form.Get("code"))
		redirectURI := form.Get("redirect_uri")
		if code == "" || redirectURI == "" {
			idsdk.ErrInvalidRequest.WriteError(w)
			return
		}
		tokens, err = h.Tokens.ExchangeCodeForTokens(r.Context(), service.ExchangeRequest{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Code:         code,
			RedirectURI:  redirectURI,
			CodeVerifier: strings.TrimSpace(form.Get("code_verifier")),
		})

	case "refresh_token":
		refresh := form.Get("refresh_token")
		if refresh == "" {
			idsdk.ErrInvalidRequest.WriteError(w)
			return
		}
		tokens, err = h.Tokens.RefreshToken(r.Context(), service.RefreshRequest{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RefreshToken: refresh,
			Scopes:       httpx.ParseSpaceDelimitedFields(form.Get("scope")),
		})

	default:
		idsdk.ErrUnsupportedGrantType.WriteError(w)
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, tokenResponse(tokens))
}

// HandleRevoke godoc
//
//	@Summary		OAuth2 token revocation (RFC 7009)
//	@Description	Revokes the access and refresh token of the grant the given token belongs to.
//	@Description	Unknown tokens are accepted silently.
//	@Tags			OAuth2
//	@Accept			application/x-www-form-urlencoded
//	@Param			token			formData	string	true	"Access or refresh token"
//	@Param			token_type_hint	formData	string	false	"Ignored"
//	@Param			client_id		formData	string	false	"Client identifier when not using HTTP Basic"
//	@Param			client_secret	formData	string	false	"Client secret when not using HTTP Basic"
//	@Success		200
//	@Failure		400	{object}	idsdk.OAuth2Error
//	@Failure		401	{object}	idsdk.OAuth2Error
//	@Router			/oauth2/revoke [post]
func (h *TokenHandler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	if !parseTokenForm(w, r) {
		return
	}
	clientID, clientSecret, err := clientCredentials(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Tokens.Revoke(r.Context(), clientID, clientSecret, r.PostForm.Get("token")); err != nil {
		writeError(w, r, err)
		return
	}
	httpx.NoCache(w)
	w.WriteHeader(http.StatusOK)
}

func parseTokenForm(w http.ResponseWriter, r *http.Request) bool {
	if ct := r.Header.Get("Content-Type"); ct != "" &&
		!strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		idsdk.ErrInvalidContentType.WriteError(w)
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, httpx.MaxJSONBody)
	if err := r.ParseForm(); err != nil {
		idsdk.ErrInvalidBody.WriteError(w)
		return false
	}
	return true
}

// clientCredentials reads client_secret_basic or client_secret_post. Using both at once is an
// invalid_request (RFC 6749 2.3).
func clientCredentials(r *http.Request) (string, string, error) {
	user, pass, basic := r.BasicAuth()
	if !basic {
		return strings.TrimSpace(r.PostForm.Get("client_id")), r.PostForm.Get("client_secret"), nil
	}

	if r.PostForm.Get("client_secret") != "" {
		return "", "", domain.Invalid(domain.CodeInvalidRequest, "multiple client authentication methods")
	}
	id, err := url.QueryUnescape(user)
	if err != nil {
		return "", "", domain.Invalid(domain.CodeInvalidClient, "malformed client credentials")
	}
	secret, err := url.QueryUnescape(pass)
	if err != nil {
		return "", "", domain.Invalid(domain.CodeInvalidClient, "malformed client credentials")
	}
	if formID := r.PostForm.Get("client_id"); formID != "" && formID != id {
		return "", "", domain.Invalid(domain.CodeInvalidRequest, "client_id does not match the authenticated client")
	}
	return id, secret, nil
}
