package idsdk

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to a nativeid server. Every method takes the bearer token it should send, so one
// Client serves any number of signed-in users.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	// TenantID is sent as X-Tenant-ID on every request.
	TenantID string
}

// NewClient returns a client that does not follow redirects, so authorization responses can be
// inspected.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// MFATokenFrom returns the MFA token of an mfa_required error.
func MFATokenFrom(err error) (string, bool) {
	var oe *OAuth2Error
	if errors.As(err, &oe) && oe.Code == ErrorCodeMFARequired && oe.MFAToken != "" {
		return oe.MFAToken, true
	}
	return "", false
}

func (c *Client) GetLiveness(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	if err := c.doJSON(ctx, http.MethodGet, "/livez", "", nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetReadiness(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	if err := c.doJSON(ctx, http.MethodGet, "/readyz", "", nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// ============================================================================
// Credentials
// ============================================================================

// Authenticate signs a person in. When a second factor is needed the error carries an MFA token;
// see MFATokenFrom.
func (c *Client) Authenticate(ctx context.Context, username, password string) (*TokenResponse, error) {
	var out TokenResponse
	req := AuthenticateRequest{Username: username, Password: password}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/authenticate", "", req, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	var out TokenResponse
	req := RefreshSessionRequest{RefreshToken: refreshToken}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/session/refresh", "", req, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Register(ctx context.Context, req RegisterRequest) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/register", "", req, nil, http.StatusAccepted)
}

func (c *Client) ConfirmRegistration(ctx context.Context, token string) error {
	req := ConfirmRegistrationRequest{Token: token}
	return c.doJSON(ctx, http.MethodPost, "/v1/register/confirm", "", req, nil, http.StatusNoContent)
}

// ============================================================================
// MFA
// ============================================================================

func (c *Client) MFAAssociate(ctx context.Context, bearer string, req MFAAssociateRequest) (*MFAAssociateResponse, error) {
	var out MFAAssociateResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/mfa/associate", bearer, req, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) MFAChallenge(ctx context.Context, bearer string, req MFAChallengeRequest) (*MFAChallengeResponse, error) {
	var out MFAChallengeResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/mfa/challenge", bearer, req, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// MFAConfirm activates a pending factor. Tokens are returned when the request carried an MFA
// token, otherwise the caller's updated authenticators are.
func (c *Client) MFAConfirm(ctx context.Context, bearer string, req MFAConfirmRequest) (*TokenResponse, []Authenticator, error) {
	var out struct {
		TokenResponse
		MFAConfirmResponse
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/mfa/confirm", bearer, req, &out, http.StatusOK); err != nil {
		return nil, nil, err
	}
	if out.AccessToken == "" {
		return nil, out.Authenticators, nil
	}
	return &out.TokenResponse, nil, nil
}

// MFAVerify answers a challenge with an active factor.
func (c *Client) MFAVerify(ctx context.Context, bearer string, req MFAConfirmRequest) (*TokenResponse, error) {
	return c.mfaAnswer(ctx, "/v1/mfa/verify", bearer, req)
}

func (c *Client) mfaAnswer(ctx context.Context, path, bearer string, req MFAConfirmRequest) (*TokenResponse, error) {
	var out TokenResponse
	if err := c.doJSON(ctx, http.MethodPost, path, bearer, req, &out, http.StatusOK); err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, nil
	}
	return &out, nil
}

func (c *Client) ListAuthenticators(ctx context.Context, bearer string) ([]Authenticator, error) {
	var out []Authenticator
	if err := c.doJSON(ctx, http.MethodGet, "/v1/mfa/authenticators", bearer, nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) DeleteAuthenticator(ctx context.Context, bearer, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/v1/mfa/authenticators/"+url.PathEscape(id), bearer, nil, nil, http.StatusNoContent)
}

// ============================================================================
// OAuth2
// ============================================================================

// Authorize calls the authorization endpoint and returns the redirect Location.
func (c *Client) Authorize(ctx context.Context, bearer string, params url.Values) (*url.URL, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/oauth2/authorize?"+params.Encode(), bearer, nil, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusFound {
		return nil, decodeJSON(resp, nil, http.StatusFound)
	}
	resp.Body.Close()
	return resp.Location()
}

// ExchangeCode redeems an authorization code. clientSecret is sent with client_secret_basic when
// non-empty.
func (c *Client) ExchangeCode(ctx context.Context, clientID, clientSecret, code, redirectURI, codeVerifier string) (*TokenResponse, error) {
	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {redirectURI},
	}
	if codeVerifier != "" {
		form.Set("code_verifier", codeVerifier)
	}
	return c.requestToken(ctx, form, clientID, clientSecret)
}

func (c *Client) RefreshGrant(ctx context.Context, clientID, clientSecret, refreshToken string, scopes []string) (*TokenResponse, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	if len(scopes) > 0 {
		form.Set("scope", strings.Join(scopes, " "))
	}
	return c.requestToken(ctx, form, clientID, clientSecret)
}

func (c *Client) requestToken(ctx context.Context, form url.Values, clientID, clientSecret string) (*TokenResponse, error) {
	var out TokenResponse
	var err error
	if clientSecret != "" {
		err = c.doForm(ctx, "/oauth2/token", form, clientID, clientSecret, &out, http.StatusOK)
	} else {
		form.Set("client_id", clientID)
		err = c.doForm(ctx, "/oauth2/token", form, "", "", &out, http.StatusOK)
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// RevokeToken revokes either token of a pair (RFC 7009).
func (c *Client) RevokeToken(ctx context.Context, clientID, clientSecret, token string) error {
	form := url.Values{"token": {token}}
	if clientSecret == "" {
		form.Set("client_id", clientID)
		return c.doForm(ctx, "/oauth2/revoke", form, "", "", nil, http.StatusOK)
	}
	return c.doForm(ctx, "/oauth2/revoke", form, clientID, clientSecret, nil, http.StatusOK)
}

// UserInfo returns the raw claims so callers can tell absent claims from empty ones.
func (c *Client) UserInfo(ctx context.Context, accessToken string) (map[string]any, error) {
	var out map[string]any
	if err := c.doJSON(ctx, http.MethodGet, "/oauth2/userinfo", accessToken, nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Discovery(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.doJSON(ctx, http.MethodGet, "/.well-known/openid-configuration", "", nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out, nil
}

// JWKS returns the published key ids.
func (c *Client) JWKS(ctx context.Context) ([]string, error) {
	var out struct {
		Keys []struct {
			Kid string `json:"kid"`
		} `json:"keys"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/.well-known/jwks.json", "", nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	kids := make([]string, 0, len(out.Keys))
	for _, k := range out.Keys {
		kids = append(kids, k.Kid)
	}
	return kids, nil
}

// ============================================================================
// Administration
// ============================================================================

func (c *Client) CreateClient(ctx context.Context, bearer string, req CreateClientRequest) (*CreatedClientResponse, error) {
	var out CreatedClientResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/clients", bearer, req, &out, http.StatusCreated); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GrantConsent(ctx context.Context, bearer, clientID string, scopes []string) error {
	req := ConsentRequest{Scope: strings.Join(scopes, " "), Consented: true}
	return c.doJSON(ctx, http.MethodPut, "/v1/consents/"+url.PathEscape(clientID), bearer, req, nil, http.StatusOK)
}

func (c *Client) SetLocked(ctx context.Context, bearer, userID string, locked bool) error {
	return c.doJSON(ctx, http.MethodPut, "/v1/admin/users/"+url.PathEscape(userID)+"/lock", bearer,
		LockRequest{Locked: locked}, nil, http.StatusNoContent)
}

func (c *Client) MintInvite(ctx context.Context, bearer string, req MintInviteRequest) (string, error) {
	var out MintInviteResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/invites", bearer, req, &out, http.StatusCreated); err != nil {
		return "", err
	}
	return out.Token, nil
}

func (c *Client) RotateKeys(ctx context.Context, bearer string, retireExisting bool) (*RotateKeyResponse, error) {
	var out RotateKeyResponse
	req := RotateKeyRequest{RetireExisting: retireExisting}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/admin/keys/rotate", bearer, req, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListKeys(ctx context.Context, bearer string) ([]SigningKey, error) {
	var out []SigningKey
	if err := c.doJSON(ctx, http.MethodGet, "/v1/admin/keys", bearer, nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out, nil
}
