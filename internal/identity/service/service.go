// Package service holds the identity engines: credential and MFA authentication, OAuth2 client and
// consent management, the OIDC authorization code flow and SSO federation.
//
// Engines depend only on the contracts of their collaborators. Every collaborator is injected
// through exported fields at wiring time.
package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/aussiebroadwan/nativeid/internal/identity/audit"
	"github.com/aussiebroadwan/nativeid/internal/identity/domain"
	"github.com/aussiebroadwan/nativeid/internal/identity/store"
)

// Clock returns the current time. A nil Clock reads the wall clock.
type Clock func() time.Time

func (c Clock) Now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}

// Delayer slows down failed authentications. Implementations must return early when ctx is done.
type Delayer interface {
	Delay(ctx context.Context)
}

// RandomDelay waits a uniformly random duration in [Min, Max].
type RandomDelay struct {
	Min time.Duration
	Max time.Duration
}

func (d RandomDelay) Delay(ctx context.Context) {
	wait := d.Min
	if d.Max > d.Min {
		wait += rand.N(d.Max - d.Min + 1)
	}
	if wait <= 0 {
		return
	}

	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// NoDelay never waits.
type NoDelay struct{}

func (NoDelay) Delay(context.Context) {}

// Error codes carried by PreconditionViolation errors.
const (
	CodeRegistrationPending = "registration_pending"
	CodeUsernameTaken       = "username_taken"
	CodeClientProtected     = "client_protected"
	CodeInviteRequired      = "invite_required"
	CodeTermsRequired       = "terms_required"
	CodeLastSigningKey      = "last_signing_key"
	CodePublicClient        = "public_client"
)

func recordAudit(ctx context.Context, a audit.Auditor, e audit.Event) {
	if a != nil {
		a.Record(ctx, e)
	}
}

// requireElevated checks an administrative caller.
func requireElevated(caller domain.Caller, role string) error {
	if !caller.Authenticated() {
		return domain.Forbidden("authentication required")
	}
	if !caller.HasRole(role) {
		return domain.Forbidden("insufficient role")
	}
	return nil
}

// loadTenantUser loads a user an administrator may manage. Users outside the caller's tenant are
// reported as not found.
func loadTenantUser(ctx context.Context, users store.Users, caller domain.Caller, userID string) (domain.User, error) {
	u, err := users.GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.User{}, domain.NotFound("user not found")
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	if caller.TenantID != "" && u.TenantID != caller.TenantID {
		return domain.User{}, domain.NotFound("user not found")
	}
	return u, nil
}
