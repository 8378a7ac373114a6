package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aussiebroadwan/nativeid/internal/identity/domain"
	"github.com/aussiebroadwan/nativeid/internal/identity/instrumentation"
	"github.com/aussiebroadwan/nativeid/internal/identity/store"
	"github.com/aussiebroadwan/nativeid/pkg/cryptox"
	"github.com/aussiebroadwan/nativeid/pkg/idx"
	"github.com/aussiebroadwan/nativeid/pkg/slogx"
)

// AuthorizeOutcome tells the transport what to do with an authorization request.
type AuthorizeOutcome int

const (
	// OutcomeCode redirects back to the client with a code.
	OutcomeCode AuthorizeOutcome = iota + 1
	// OutcomeLogin sends the user agent to the login page first.
	OutcomeLogin
	// OutcomeConsent sends the user agent to the consent page first.
	OutcomeConsent
)

func (o AuthorizeOutcome) String() string {
	switch o {
	case OutcomeCode:
		return "code"
	case OutcomeLogin:
		return "login"
	case OutcomeConsent:
		return "consent"
	default:
		return "unknown"
	}
}

// AuthorizeService implements the authorization endpoint of the code flow.
type AuthorizeService struct {
	Store    store.Store
	Consents *ConsentService
	Metrics  *instrumentation.Metrics
	Clock    Clock
	CodeTTL  time.Duration
}

type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scopes              []string
	State               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// AuthorizeResult holds either a code or a redirect instruction, never both.
type AuthorizeResult struct {
	Outcome     AuthorizeOutcome
	Code        string
	RedirectURI string
	State       string
	// Scopes still needing consent when Outcome is OutcomeConsent.
	Scopes []string
}

// Authorize validates an authorization request and issues a code bound to the client and user.
//
// Validation runs in a fixed order so the first failing rule decides the error:
//
//  1. the caller must be authenticated, otherwise OutcomeLogin
//  2. response_type must be "code" (unsupported_response_type)
//  3. scope must include openid and only supported scopes (invalid_scope)
//  4. a code_challenge needs a known code_challenge_method (invalid_request)
//  5. the client must exist (invalid_client)
//  6. redirect_uri must match the registered URI exactly (invalid_request)
//  7. public clients must send a code_challenge (invalid_request)
//  8. every requested scope must have consent, otherwise OutcomeConsent
//
// The Authorization for (client, user) is reused across requests; a new code replaces any
// previous one.
func (s *AuthorizeService) Authorize(ctx context.Context, caller domain.Caller, req AuthorizeRequest) (AuthorizeResult, error) {
	now := s.Clock.Now()

	if !caller.Authenticated() {
		return AuthorizeResult{Outcome: OutcomeLogin}, nil
	}

	if strings.TrimSpace(req.ResponseType) != "code" {
		return AuthorizeResult{}, domain.Invalid(domain.CodeUnsupportedResponseType, "only response_type=code is supported")
	}

	scopes := domain.NormalizeScopes(req.Scopes)
	if !domain.HasScope(scopes, domain.ScopeOpenID) {
		return AuthorizeResult{}, domain.Invalid(domain.CodeInvalidScope, "openid scope is required")
	}
	if !domain.ScopesSubset(scopes, domain.SupportedScopes) {
		return AuthorizeResult{}, domain.Invalid(domain.CodeInvalidScope, "unsupported scope requested")
	}

	if req.CodeChallenge != "" {
		if req.CodeChallengeMethod == "" {
			return AuthorizeResult{}, domain.Invalid(domain.CodeInvalidRequest, "code_challenge_method is required with code_challenge")
		}
		if !domain.ValidPKCEMethod(req.CodeChallengeMethod) {
			return AuthorizeResult{}, domain.Invalid(domain.CodeInvalidRequest, "unsupported code_challenge_method")
		}
	}

	client, err := s.Store.Clients().GetClient(ctx, req.ClientID)
	if errors.Is(err, store.ErrNotFound) {
		return AuthorizeResult{}, domain.Invalid(domain.CodeInvalidClient, "unknown client")
	}
	if err != nil {
		return AuthorizeResult{}, fmt.Errorf("load client: %w", err)
	}
	if !client.RedirectURIMatches(req.RedirectURI) {
		return AuthorizeResult{}, domain.Invalid(domain.CodeInvalidRequest, "redirect_uri does not match")
	}
	if client.IsPublic() && req.CodeChallenge == "" {
		return AuthorizeResult{}, domain.Invalid(domain.CodeInvalidRequest, "public clients must use PKCE")
	}

	consented, err := s.Consents.HasConsented(ctx, client.ID, caller.UserID, scopes)
	if err != nil {
		return AuthorizeResult{}, err
	}
	if !consented {
		return AuthorizeResult{Outcome: OutcomeConsent, Scopes: scopes, State: req.State}, nil
	}

	authz, err := s.Store.Authorizations().GetByClientUser(ctx, client.ID, caller.UserID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		authz = domain.Authorization{
			ID:        idx.New().String(),
			ClientID:  client.ID,
			UserID:    caller.UserID,
			CreatedAt: now,
		}
	case err != nil:
		return AuthorizeResult{}, fmt.Errorf("load authorization: %w", err)
	}

	code, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return AuthorizeResult{}, err
	}
	authz.IssueCode(domain.CodeGrant{
		CodeDigest:          cryptox.FingerprintToken(code),
		RedirectURI:         req.RedirectURI,
		Scopes:              scopes,
		State:               req.State,
		Nonce:               req.Nonce,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		ExpiresAt:           now.Add(s.CodeTTL),
	})
	authz.UpdatedAt = now

	if _, err := s.Store.Authorizations().Save(ctx, authz); err != nil {
		return AuthorizeResult{}, fmt.Errorf("save authorization: %w", err)
	}

	s.Metrics.RecordCodeIssued(ctx, client.ID)
	slogx.FromContext(ctx).Debug("authorization code issued",
		slog.String("client_id", client.ID),
		slog.String("user_id", caller.UserID),
	)
	return AuthorizeResult{
		Outcome:     OutcomeCode,
		Code:        code,
		RedirectURI: req.RedirectURI,
		State:       req.State,
	}, nil
}
