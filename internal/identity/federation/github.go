package federation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	oauthgithub "golang.org/x/oauth2/github"
)

const defaultGitHubAPI = "https://api.github.com"

type GitHubConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	HTTPClient   *http.Client
	Timeout      time.Duration

	// Endpoint and APIBaseURL override the public GitHub URLs (GitHub Enterprise, tests).
	Endpoint   *oauth2.Endpoint
	APIBaseURL string
}

// GitHubProvider federates to GitHub OAuth apps. GitHub is not an OIDC issuer, so the identity
// comes from the user API.
type GitHubProvider struct {
	config     *oauth2.Config
	apiBase    string
	httpClient *http.Client
	timeout    time.Duration
}

func NewGitHubProvider(cfg GitHubConfig) (*GitHubProvider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("federation: github client id and secret are required")
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"read:user", "user:email"}
	}
	endpoint := oauthgithub.Endpoint
	if cfg.Endpoint != nil {
		endpoint = *cfg.Endpoint
	}
	apiBase := strings.TrimRight(cfg.APIBaseURL, "/")
	if apiBase == "" {
		apiBase = defaultGitHubAPI
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultRequestTimeout}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	return &GitHubProvider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		apiBase:    apiBase,
		httpClient: client,
		timeout:    timeout,
	}, nil
}

func (p *GitHubProvider) ProviderName() string { return "github" }

func (p *GitHubProvider) Authenticate(ctx context.Context, code, codeVerifier string) (*Identity, error) {
	ctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()

	tok, err := exchange(ctx, p.config, p.httpClient, code, codeVerifier)
	if err != nil {
		return nil, err
	}

	var user struct {
		ID    int64  `json:"id"`
		Login string `json:"login"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := p.getJSON(ctx, tok.AccessToken, "/user", &user); err != nil {
		return nil, err
	}
	if user.ID == 0 {
		return nil, ErrNoSubject
	}

	id := &Identity{
		Subject: strconv.FormatInt(user.ID, 10),
		Name:    user.Name,
		Token:   tok,
	}

	// The public profile email is not proof of ownership; only a verified primary counts.
	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := p.getJSON(ctx, tok.AccessToken, "/user/emails", &emails); err == nil {
		for _, e := range emails {
			if e.Primary {
				id.Email = e.Email
				id.EmailVerified = e.Verified
				break
			}
		}
	}
	if id.Email == "" {
		id.Email = user.Email
	}
	return id, nil
}

func (p *GitHubProvider) RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	ctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()
	return refresh(ctx, p.config, p.httpClient, refreshToken)
}

func (p *GitHubProvider) getJSON(ctx context.Context, accessToken, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBase+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("github api %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}
