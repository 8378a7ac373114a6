package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/aussiebroadwan/nativeid/internal/identity/audit"
	"github.com/aussiebroadwan/nativeid/internal/identity/domain"
	"github.com/aussiebroadwan/nativeid/internal/identity/store"
	"github.com/aussiebroadwan/nativeid/pkg/cryptox"
	"github.com/aussiebroadwan/nativeid/pkg/idx"
	"github.com/aussiebroadwan/nativeid/pkg/slogx"
)

// ClientService manages OAuth2 client registrations and their secrets.
type ClientService struct {
	Store   store.Store
	Hasher  cryptox.Hasher
	Auditor audit.Auditor
	Clock   Clock
}

type CreateClientRequest struct {
	Name        string
	RedirectURI string
	TenantID    string
	// Confidential clients get an initial secret; public clients must use PKCE.
	Confidential bool
	Protected    bool
	SecretExpiry *time.Time
}

// CreatedClient is returned once; Secret is never retrievable again.
type CreatedClient struct {
	Client   domain.Client
	SecretID string
	Secret   string
}

type UpdateClientRequest struct {
	Name        *string
	RedirectURI *string
}

func (s *ClientService) CreateClient(ctx context.Context, req CreateClientRequest) (CreatedClient, error) {
	now := s.Clock.Now()
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return CreatedClient{}, domain.Invalid(domain.CodeInvalidRequest, "name is required")
	}
	if err := validateRedirectURI(req.RedirectURI); err != nil {
		return CreatedClient{}, err
	}

	c := domain.Client{
		ID:           idx.New().String(),
		Name:         req.Name,
		RedirectURI:  req.RedirectURI,
		TenantID:     req.TenantID,
		Protected:    req.Protected,
		Confidential: req.Confidential,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	var out CreatedClient
	if req.Confidential {
		secret, plain, err := s.newSecret(req.SecretExpiry, now)
		if err != nil {
			return CreatedClient{}, err
		}
		c.AddSecret(secret)
		out.SecretID, out.Secret = secret.ID, plain
	}

	saved, err := s.Store.Clients().Save(ctx, c)
	if err != nil {
		return CreatedClient{}, fmt.Errorf("save client: %w", err)
	}
	out.Client = saved

	recordAudit(ctx, s.Auditor, audit.Event{Code: audit.ClientCreated, ClientID: c.ID, TenantID: c.TenantID})
	slogx.FromContext(ctx).Info("client created",
		slog.String("client_id", c.ID),
		slog.Bool("confidential", req.Confidential),
	)
	return out, nil
}

func (s *ClientService) newSecret(expiresAt *time.Time, now time.Time) (domain.ClientSecret, string, error) {
	if expiresAt != nil && !expiresAt.After(now) {
		return domain.ClientSecret{}, "", domain.Invalid(domain.CodeInvalidRequest, "secret expiry must be in the future")
	}
	plain, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return domain.ClientSecret{}, "", err
	}
	hash, err := s.Hasher.Hash(plain)
	if err != nil {
		return domain.ClientSecret{}, "", fmt.Errorf("hash client secret: %w", err)
	}
	return domain.ClientSecret{
		ID:        idx.New().String(),
		Hash:      hash,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}, plain, nil
}

func validateRedirectURI(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" || u.Fragment != "" {
		return domain.Invalid(domain.CodeInvalidRequest, "redirect_uri must be an absolute URI without fragment")
	}
	if u.Scheme != "https" && !(u.Scheme == "http" && isLoopback(u.Hostname())) {
		return domain.Invalid(domain.CodeInvalidRequest, "redirect_uri must use https")
	}
	return nil
}

func isLoopback(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

func (s *ClientService) GetClient(ctx context.Context, id string) (domain.Client, error) {
	c, err := s.Store.Clients().GetClient(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Client{}, domain.NotFound("client not found")
	}
	if err != nil {
		return domain.Client{}, fmt.Errorf("load client: %w", err)
	}
	return c, nil
}

func (s *ClientService) ListClients(ctx context.Context) ([]domain.Client, error) {
	cs, err := s.Store.Clients().ListClients(ctx)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	return cs, nil
}

func (s *ClientService) UpdateClient(ctx context.Context, id string, req UpdateClientRequest) (domain.Client, error) {
	c, err := s.GetClient(ctx, id)
	if err != nil {
		return domain.Client{}, err
	}

	next := c.Clone()
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Client{}, domain.Invalid(domain.CodeInvalidRequest, "name is required")
		}
		next.Name = name
	}
	if req.RedirectURI != nil {
		if err := validateRedirectURI(*req.RedirectURI); err != nil {
			return domain.Client{}, err
		}
		next.RedirectURI = *req.RedirectURI
	}
	next.UpdatedAt = s.Clock.Now()

	saved, err := s.Store.Clients().Save(ctx, next)
	if err != nil {
		return domain.Client{}, fmt.Errorf("save client: %w", err)
	}
	return saved, nil
}

// DeleteClient removes a client. Protected clients are refused.
func (s *ClientService) DeleteClient(ctx context.Context, id string) error {
	c, err := s.GetClient(ctx, id)
	if err != nil {
		return err
	}
	if c.Protected {
		return domain.Precondition(CodeClientProtected, "protected clients cannot be deleted")
	}
	if err := s.Store.Clients().DeleteClient(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.NotFound("client not found")
		}
		return fmt.Errorf("delete client: %w", err)
	}
	return nil
}

// RotateSecret adds a new secret. Existing secrets are dropped unless keepExisting is set, which
// allows a client to roll over without downtime.
func (s *ClientService) RotateSecret(ctx context.Context, clientID string, expiresAt *time.Time, keepExisting bool) (CreatedClient, error) {
	now := s.Clock.Now()
	c, err := s.GetClient(ctx, clientID)
	if err != nil {
		return CreatedClient{}, err
	}

	if c.IsPublic() {
		return CreatedClient{}, domain.Precondition(CodePublicClient, "public clients have no secrets")
	}

	secret, plain, err := s.newSecret(expiresAt, now)
	if err != nil {
		return CreatedClient{}, err
	}

	next := c.Clone()
	if !keepExisting {
		next.Secrets = nil
	}
	next.AddSecret(secret)
	next.UpdatedAt = now

	saved, err := s.Store.Clients().Save(ctx, next)
	if err != nil {
		return CreatedClient{}, fmt.Errorf("save client: %w", err)
	}

	recordAudit(ctx, s.Auditor, audit.Event{
		Code:     audit.ClientSecretRotated,
		ClientID: clientID,
		TenantID: c.TenantID,
		Details:  map[string]any{"kept_existing": keepExisting},
	})
	return CreatedClient{Client: saved, SecretID: secret.ID, Secret: plain}, nil
}

func (s *ClientService) RemoveSecret(ctx context.Context, clientID, secretID string) error {
	c, err := s.GetClient(ctx, clientID)
	if err != nil {
		return err
	}
	next := c.Clone()
	if !next.RemoveSecret(secretID) {
		return domain.NotFound("secret not found")
	}
	next.UpdatedAt = s.Clock.Now()
	if _, err := s.Store.Clients().Save(ctx, next); err != nil {
		return fmt.Errorf("save client: %w", err)
	}
	return nil
}

// VerifyClient authenticates a client at the token endpoint. Public clients must not present a
// secret; confidential clients must present one matching an unexpired secret.
func (s *ClientService) VerifyClient(ctx context.Context, clientID, secret string) (domain.Client, error) {
	c, err := s.Store.Clients().GetClient(ctx, clientID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Client{}, domain.Invalid(domain.CodeInvalidClient, "unknown client")
	}
	if err != nil {
		return domain.Client{}, fmt.Errorf("load client: %w", err)
	}

	if c.IsPublic() {
		if secret != "" {
			return domain.Client{}, domain.Invalid(domain.CodeInvalidClient, "client authentication failed")
		}
		return c, nil
	}
	if secret == "" {
		return domain.Client{}, domain.Invalid(domain.CodeInvalidClient, "client authentication failed")
	}
	for _, cs := range c.ActiveSecrets(s.Clock.Now()) {
		if s.Hasher.Verify(secret, cs.Hash) == nil {
			return c, nil
		}
	}
	return domain.Client{}, domain.Invalid(domain.CodeInvalidClient, "client authentication failed")
}
