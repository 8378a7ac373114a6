package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/nativeid/internal/identity/audit"
	"github.com/aussiebroadwan/nativeid/internal/identity/domain"
	"github.com/aussiebroadwan/nativeid/internal/identity/store"
)

// ConsentService records which scopes a user has released to a client.
type ConsentService struct {
	Store   store.Store
	Auditor audit.Auditor
	Clock   Clock
}

// ConsentToClient records a grant (consented) or a refusal for the given scopes, creating the
// consent record on first use.
func (s *ConsentService) ConsentToClient(ctx context.Context, clientID, userID string, scopes []string, consented bool) (domain.Consent, error) {
	now := s.Clock.Now()
	scopes = domain.NormalizeScopes(scopes)
	if consented && len(scopes) == 0 {
		return domain.Consent{}, domain.Invalid(domain.CodeInvalidScope, "no scopes to consent to")
	}

	if _, err := s.Store.Clients().GetClient(ctx, clientID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Consent{}, domain.NotFound("client not found")
		}
		return domain.Consent{}, fmt.Errorf("load client: %w", err)
	}

	c, err := s.load(ctx, clientID, userID, now)
	if err != nil {
		return domain.Consent{}, err
	}
	if consented {
		c.Grant(scopes)
	} else {
		c.Revoke()
	}
	c.UpdatedAt = now

	saved, err := s.Store.Consents().Save(ctx, c)
	if err != nil {
		return domain.Consent{}, fmt.Errorf("save consent: %w", err)
	}

	code := audit.ConsentGranted
	if !consented {
		code = audit.ConsentRevoked
	}
	recordAudit(ctx, s.Auditor, audit.Event{
		Code:     code,
		UserID:   userID,
		ClientID: clientID,
		Details:  map[string]any{"scopes": domain.JoinScopes(scopes)},
	})
	return saved, nil
}

// RevokeConsent withdraws a previous grant. Nothing is written when there was no grant.
func (s *ConsentService) RevokeConsent(ctx context.Context, clientID, userID string) error {
	c, err := s.Store.Consents().GetConsent(ctx, clientID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load consent: %w", err)
	}
	if !c.Consented {
		return nil
	}

	c.Revoke()
	c.UpdatedAt = s.Clock.Now()
	if _, err := s.Store.Consents().Save(ctx, c); err != nil {
		return fmt.Errorf("save consent: %w", err)
	}
	recordAudit(ctx, s.Auditor, audit.Event{Code: audit.ConsentRevoked, UserID: userID, ClientID: clientID})
	return nil
}

// HasConsented reports whether every scope has been granted.
func (s *ConsentService) HasConsented(ctx context.Context, clientID, userID string, scopes []string) (bool, error) {
	c, err := s.Store.Consents().GetConsent(ctx, clientID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load consent: %w", err)
	}
	return c.Covers(scopes), nil
}

func (s *ConsentService) GetConsent(ctx context.Context, clientID, userID string) (domain.Consent, error) {
	c, err := s.Store.Consents().GetConsent(ctx, clientID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Consent{}, domain.NotFound("consent not found")
	}
	if err != nil {
		return domain.Consent{}, fmt.Errorf("load consent: %w", err)
	}
	return c, nil
}

func (s *ConsentService) load(ctx context.Context, clientID, userID string, now time.Time) (domain.Consent, error) {
	c, err := s.Store.Consents().GetConsent(ctx, clientID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Consent{ClientID: clientID, UserID: userID, CreatedAt: now}, nil
	}
	if err != nil {
		return domain.Consent{}, fmt.Errorf("load consent: %w", err)
	}
	return c, nil
}
