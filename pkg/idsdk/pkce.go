package idsdk

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/aussiebroadwan/nativeid/pkg/cryptox"
)

// PKCE holds a code verifier and its S256 challenge (RFC 7636). The verifier stays with the
// client until the code is exchanged.
type PKCE struct {
	Verifier  string
	Challenge string
	Method    string
}

func GeneratePKCE() (*PKCE, error) {
	verifier, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return nil, fmt.Errorf("failed to generate PKCE verifier: %w", err)
	}
	hash := sha256.Sum256([]byte(verifier))
	return &PKCE{
		Verifier:  verifier,
		Challenge: base64.RawURLEncoding.EncodeToString(hash[:]),
		Method:    "S256",
	}, nil
}

// AuthorizeRequest describes one authorization code request.
type AuthorizeRequest struct {
	ClientID    string
	RedirectURI string
	Scopes      []string
	State       string
	Nonce       string
	PKCE        *PKCE
}

func (r AuthorizeRequest) Values() url.Values {
	params := url.Values{}
	params.Set("response_type", "code")
	params.Set("client_id", r.ClientID)
	params.Set("redirect_uri", r.RedirectURI)
	if len(r.Scopes) > 0 {
		params.Set("scope", strings.Join(r.Scopes, " "))
	}
	if r.State != "" {
		params.Set("state", r.State)
	}
	if r.Nonce != "" {
		params.Set("nonce", r.Nonce)
	}
	if r.PKCE != nil {
		params.Set("code_challenge", r.PKCE.Challenge)
		params.Set("code_challenge_method", r.PKCE.Method)
	}
	return params
}

// AuthorizeURL is where a browser is sent to start the flow.
func (c *Client) AuthorizeURL(req AuthorizeRequest) string {
	return c.url("/oauth2/authorize") + "?" + req.Values().Encode()
}

// ParseCallback extracts the code and state from the redirect back to the client. An error
// response from the server is returned as an *OAuth2Error.
func ParseCallback(callbackURL string) (code, state string, err error) {
	u, err := url.Parse(callbackURL)
	if err != nil {
		return "", "", fmt.Errorf("failed to parse callback URL: %w", err)
	}
	q := u.Query()
	if e := q.Get("error"); e != "" {
		return "", "", &OAuth2Error{Code: e, Description: q.Get("error_description")}
	}
	code = q.Get("code")
	if code == "" {
		return "", "", fmt.Errorf("missing authorization code in callback")
	}
	return code, q.Get("state"), nil
}
