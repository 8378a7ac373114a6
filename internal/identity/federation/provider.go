// Package federation delegates authentication to external identity providers.
package federation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

var (
	ErrUnknownProvider     = errors.New("federation: unknown provider")
	ErrRefreshNotSupported = errors.New("federation: refresh not supported")
	ErrNoSubject           = errors.New("federation: provider returned no subject")
)

// Identity is what a provider asserts about the authenticated person.
type Identity struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	GivenName     string
	FamilyName    string
	Locale        string
	Token         *oauth2.Token
}

// Provider is the capability every external identity provider implements.
type Provider interface {
	ProviderName() string

	// Authenticate exchanges an authorization code (with its PKCE verifier, when one was used)
	// and resolves the identity behind it.
	Authenticate(ctx context.Context, code, codeVerifier string) (*Identity, error)

	RefreshToken(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// Registry selects providers by name.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ProviderName()] = p
}

func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return p, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

const defaultRequestTimeout = 30 * time.Second

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

func exchange(ctx context.Context, cfg *oauth2.Config, client *http.Client, code, verifier string) (*oauth2.Token, error) {
	var opts []oauth2.AuthCodeOption
	if verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, client)
	tok, err := cfg.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}
	return tok, nil
}

func refresh(ctx context.Context, cfg *oauth2.Config, client *http.Client, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, ErrRefreshNotSupported
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, client)
	tok, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}
	return tok, nil
}
