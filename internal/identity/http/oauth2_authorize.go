package http

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/aussiebroadwan/nativeid/internal/identity/domain"
	"github.com/aussiebroadwan/nativeid/internal/identity/service"
	"github.com/aussiebroadwan/nativeid/pkg/httpx"
	"github.com/aussiebroadwan/nativeid/pkg/jwtx"
	"github.com/aussiebroadwan/nativeid/pkg/slogx"
)

// AuthorizeHandler serves the authorization endpoint of the code flow.
type AuthorizeHandler struct {
	Authorize *service.AuthorizeService
	Verifier  jwtx.Verifier

	// Issuer is the external base URL used to build return_to links.
	Issuer string

	// LoginURL and ConsentURL are the pages the user agent is sent to when it has no session or
	// has not consented yet. When empty the endpoint answers with a JSON error instead.
	LoginURL   string
	ConsentURL string
}

// ServeHTTP godoc
//
//	@Summary		OAuth2 authorization endpoint
//	@Description	Issues an authorization code for the signed-in user (Bearer token or session cookie).
//	@Description
//	@Description	**Responses:**
//	@Description	- no session: 302 to the login page with return_to, or 401 login_required
//	@Description	- consent missing: 302 to the consent page, or 403 consent_required
//	@Description	- success: 302 to redirect_uri with code and state
//	@Description	- invalid request: JSON error; errors are never redirected to an unverified redirect_uri
//	@Tags			OAuth2
//	@Produce		json
//	@Param			response_type			query		string	true	"Must be 'code'"	default(code)
//	@Param			client_id				query		string	true	"OAuth2 client identifier"
//	@Param			redirect_uri			query		string	true	"Callback URI (must match the registered URI exactly)"
//	@Param			scope					query		string	true	"Space-delimited scopes, must include openid"	example("openid profile email")
//	@Param			state					query		string	false	"Opaque value echoed back to the client"
//	@Param			nonce					query		string	false	"Echoed in the ID token"
//	@Param			code_challenge			query		string	false	"PKCE challenge (required for public clients)"
//	@Param			code_challenge_method	query		string	false	"PKCE method"	Enums(S256, plain)
//	@Success		302						{string}	string	"Redirect"
//	@Failure		400						{object}	idsdk.OAuth2Error
//	@Failure		401						{object}	idsdk.OAuth2Error
//	@Router			/oauth2/authorize [get]
func (h *AuthorizeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := service.AuthorizeRequest{
		ResponseType:        q.Get("response_type"),
		ClientID:            strings.TrimSpace(q.Get("client_id")),
		RedirectURI:         q.Get("redirect_uri"),
		Scopes:              domain.ParseScope(q.Get("scope")),
		State:               q.Get("state"),
		Nonce:               q.Get("nonce"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
	}

	res, err := h.Authorize.Authorize(r.Context(), sessionCaller(h.Verifier, r), req)
	if err != nil {
		slogx.FromContext(r.Context()).Warn("authorization request rejected",
			"client_id", req.ClientID,
			"err", err,
		)
		writeError(w, r, err)
		return
	}

	switch res.Outcome {
	case service.OutcomeLogin:
		if h.LoginURL == "" {
			writeInteractionRequired(w, http.StatusUnauthorized, "login_required", "user authentication required")
			return
		}
		h.redirect(w, r, h.LoginURL, url.Values{"return_to": {h.returnTo(r)}})

	case service.OutcomeConsent:
		if h.ConsentURL == "" {
			writeInteractionRequired(w, http.StatusForbidden, "consent_required", "user consent required")
			return
		}
		h.redirect(w, r, h.ConsentURL, url.Values{
			"client_id": {req.ClientID},
			"scope":     {domain.JoinScopes(res.Scopes)},
			"return_to": {h.returnTo(r)},
		})

	case service.OutcomeCode:
		params := url.Values{"code": {res.Code}}
		if res.State != "" {
			params.Set("state", res.State)
		}
		h.redirect(w, r, res.RedirectURI, params)
	}
}

// redirect appends params to target, keeping any query it already has.
func (h *AuthorizeHandler) redirect(w http.ResponseWriter, r *http.Request, target string, params url.Values) {
	u, err := url.Parse(target)
	if err != nil {
		writeError(w, r, err)
		return
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	httpx.NoCache(w)
	http.Redirect(w, r, u.String(), http.StatusFound)
}

func (h *AuthorizeHandler) returnTo(r *http.Request) string {
	return strings.TrimRight(h.Issuer, "/") + r.URL.RequestURI()
}

func writeInteractionRequired(w http.ResponseWriter, status int, code, desc string) {
	httpx.WriteJSON(w, status, map[string]string{
		"error":             code,
		"error_description": desc,
	})
}
