package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/aussiebroadwan/nativeid/internal/identity/domain"
	"github.com/aussiebroadwan/nativeid/internal/identity/store"
	"github.com/aussiebroadwan/nativeid/pkg/cryptox"
	"github.com/aussiebroadwan/nativeid/pkg/idx"
	"github.com/aussiebroadwan/nativeid/pkg/slogx"
)

// InviteService mints invitations that admit new people through SSO provisioning.
type InviteService struct {
	Store        store.Store
	Clock        Clock
	ElevatedRole string
}

type MintInviteRequest struct {
	Roles     []string
	Email     string
	ExpiresAt time.Time
	Reusable  bool
}

// MintInvite returns the raw invite token. Only its fingerprint is stored. Invites granting the
// elevated role are single use.
func (s *InviteService) MintInvite(ctx context.Context, caller domain.Caller, req MintInviteRequest) (string, error) {
	log := slogx.FromContext(ctx)
	now := s.Clock.Now()

	if err := requireElevated(caller, s.ElevatedRole); err != nil {
		return "", err
	}
	if caller.TenantID == "" {
		return "", domain.Invalid(domain.CodeInvalidRequest, "tenant is required")
	}
	if !req.ExpiresAt.After(now) {
		return "", domain.Invalid(domain.CodeInvalidRequest, "expiry must be in the future")
	}
	roles := domain.NormalizeScopes(req.Roles)
	if req.Reusable && slices.Contains(roles, s.ElevatedRole) {
		log.Warn("attempted to create reusable elevated invite", slog.String("created_by", caller.UserID))
		return "", domain.Invalid(domain.CodeInvalidRequest, "elevated invites cannot be reusable")
	}

	token, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return "", err
	}
	inv := domain.Invite{
		ID:        idx.New().String(),
		TokenHash: cryptox.FingerprintToken(token),
		TenantID:  caller.TenantID,
		Roles:     roles,
		Email:     strings.ToLower(strings.TrimSpace(req.Email)),
		CreatedBy: caller.UserID,
		ExpiresAt: req.ExpiresAt,
		Reusable:  req.Reusable,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Store.Invites().CreateInvite(ctx, inv); err != nil {
		return "", fmt.Errorf("create invite: %w", err)
	}

	log.Debug("invite created",
		slog.String("invite_id", inv.ID),
		slog.String("tenant_id", inv.TenantID),
		slog.Bool("reusable", inv.Reusable),
		slog.Time("expires_at", inv.ExpiresAt),
	)
	return token, nil
}

// checkInvite validates an invite presented by email inside tx.
func checkInvite(ctx context.Context, tx store.Tx, token, email string, now time.Time) (domain.Invite, error) {
	if token == "" {
		return domain.Invite{}, domain.Precondition(CodeInviteRequired, "an invite is required")
	}
	inv, err := tx.Invites().GetActiveInviteByTokenHash(ctx, cryptox.FingerprintToken(token), now)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Invite{}, domain.Precondition(CodeInviteRequired, "invite not found or expired")
	}
	if err != nil {
		return domain.Invite{}, fmt.Errorf("load invite: %w", err)
	}
	if !inv.Redeemable(now) {
		return domain.Invite{}, domain.Precondition(CodeInviteRequired, "invite has already been used")
	}
	if inv.Email != "" && inv.Email != email {
		return domain.Invite{}, domain.Precondition(CodeInviteRequired, "invite was issued to a different address")
	}
	return inv, nil
}
