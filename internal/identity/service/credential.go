package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/aussiebroadwan/nativeid/internal/identity/audit"
	"github.com/aussiebroadwan/nativeid/internal/identity/domain"
	"github.com/aussiebroadwan/nativeid/internal/identity/instrumentation"
	"github.com/aussiebroadwan/nativeid/internal/identity/lockout"
	"github.com/aussiebroadwan/nativeid/internal/identity/notify"
	"github.com/aussiebroadwan/nativeid/internal/identity/store"
	"github.com/aussiebroadwan/nativeid/pkg/cryptox"
	"github.com/aussiebroadwan/nativeid/pkg/idx"
	"github.com/aussiebroadwan/nativeid/pkg/jwtx"
	"github.com/aussiebroadwan/nativeid/pkg/slogx"
)

const minPasswordLength = 8

// CredentialService authenticates people by username and password and manages their
// registration, lock and suspension state.
type CredentialService struct {
	Store    store.Store
	Hasher   cryptox.Hasher
	Issuer   *TokenIssuer
	Notifier notify.Notifier
	Lockout  lockout.Policy
	Auditor  audit.Auditor
	Delayer  Delayer
	Metrics  *instrumentation.Metrics
	Clock    Clock

	MFATokenTTL     time.Duration
	RegistrationTTL time.Duration
	ElevatedRole    string
}

// Authenticate checks a password. A person with MFA enabled gets an mfa_required error carrying
// the MFA token instead of tokens.
func (s *CredentialService) Authenticate(ctx context.Context, username, password string) (domain.TokenSet, error) {
	log := slogx.FromContext(ctx)
	now := s.Clock.Now()
	username = strings.TrimSpace(username)

	user, err := s.Store.Users().GetUserByUsername(ctx, username)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return domain.TokenSet{}, fmt.Errorf("load user: %w", err)
	}
	if err != nil || !user.IsPerson() {
		return domain.TokenSet{}, s.reject(ctx, audit.Event{Code: audit.AuthUnknownUser}, domain.NotAuthenticated(""))
	}

	cred, err := s.Store.Credentials().GetByUserID(ctx, user.ID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.TokenSet{}, s.reject(ctx, audit.Event{Code: audit.AuthUnknownUser, UserID: user.ID}, domain.NotAuthenticated(""))
	}
	if err != nil {
		return domain.TokenSet{}, fmt.Errorf("load credential: %w", err)
	}

	if user.IsSuspended() {
		return domain.TokenSet{}, s.reject(ctx, audit.Event{Code: audit.AuthSuspended, UserID: user.ID, TenantID: user.TenantID}, domain.NotAuthenticated(""))
	}
	if cred.Locked {
		return domain.TokenSet{}, s.reject(ctx, audit.Event{Code: audit.AuthLocked, UserID: user.ID, TenantID: user.TenantID}, domain.EntityLocked())
	}

	if !cred.HasPassword() || s.Hasher.Verify(password, cred.PasswordHash) != nil {
		return domain.TokenSet{}, s.passwordFailed(ctx, user, cred, now)
	}

	next := cred.Clone()
	next.LastAuthenticatedAt = &now
	var mfaToken string
	if next.IsRegistered() && next.MFAEnabled {
		mfaToken, err = cryptox.GenerateToken(cryptox.TokenSize256)
		if err != nil {
			return domain.TokenSet{}, err
		}
		next.IssueMFAToken(cryptox.FingerprintToken(mfaToken), now.Add(s.MFATokenTTL))
	}
	if _, err := s.Store.Credentials().Save(ctx, next); err != nil {
		return domain.TokenSet{}, fmt.Errorf("save credential: %w", err)
	}

	// With MFA pending the counter is only reset once the second factor is verified.
	if mfaToken == "" {
		if err := s.Lockout.Reset(ctx, user.ID); err != nil {
			log.Warn("failed to reset lockout counter", slog.String("user_id", user.ID), slog.Any("error", err))
		}
	}

	if !next.IsRegistered() {
		s.Metrics.RecordAuthentication(ctx, "registration_pending")
		return domain.TokenSet{}, domain.Precondition(CodeRegistrationPending, "registration has not been confirmed")
	}

	if mfaToken != "" {
		recordAudit(ctx, s.Auditor, audit.Event{Code: audit.MFARequired, UserID: user.ID, TenantID: user.TenantID})
		s.Metrics.RecordAuthentication(ctx, "mfa_required")
		return domain.TokenSet{}, domain.MFARequired(mfaToken)
	}

	tokens, err := s.Issuer.Issue(IssueRequest{
		User:     user,
		AMR:      []string{AMRPassword},
		AuthTime: now,
	}, now)
	if err != nil {
		return domain.TokenSet{}, err
	}

	recordAudit(ctx, s.Auditor, audit.Event{Code: audit.AuthSuccess, UserID: user.ID, TenantID: user.TenantID})
	s.Metrics.RecordAuthentication(ctx, "success")
	log.Debug("password authentication succeeded", slog.String("user_id", user.ID))
	return tokens, nil
}

// passwordFailed always delays before returning, including when the lockout backend fails.
func (s *CredentialService) passwordFailed(ctx context.Context, user domain.User, cred domain.PersonCredential, now time.Time) error {
	defer s.Delayer.Delay(ctx)

	recordAudit(ctx, s.Auditor, audit.Event{Code: audit.AuthPasswordFailed, UserID: user.ID, TenantID: user.TenantID})
	s.Metrics.RecordAuthentication(ctx, "password_failed")

	if !cred.HasPassword() {
		return domain.NotAuthenticated("")
	}

	locked, err := s.Lockout.RecordFailure(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("record failed attempt: %w", err)
	}
	if locked {
		next := cred.Clone()
		next.Lock(now)
		if _, err := s.Store.Credentials().Save(ctx, next); err != nil {
			return fmt.Errorf("save credential: %w", err)
		}
		recordAudit(ctx, s.Auditor, audit.Event{Code: audit.AuthLockout, UserID: user.ID, TenantID: user.TenantID})
		s.Metrics.RecordLockout(ctx)
		slogx.FromContext(ctx).Warn("credential locked after repeated failures", slog.String("user_id", user.ID))
	}

	return domain.NotAuthenticated("")
}

func (s *CredentialService) reject(ctx context.Context, e audit.Event, err error) error {
	recordAudit(ctx, s.Auditor, e)
	s.Metrics.RecordAuthentication(ctx, strings.ToLower(string(e.Code)))
	s.Delayer.Delay(ctx)
	return err
}

// RegisterRequest carries a self-service registration. Username is the person's email address.
type RegisterRequest struct {
	Username    string
	Password    string
	Name        string
	GivenName   string
	FamilyName  string
	PhoneNumber string
	Locale      string
	Zoneinfo    string
}

// RegisterPerson creates a pending person and sends a registration token. Registering an existing
// username is idempotent: a registered person gets one courtesy notification, a pending one gets a
// fresh token.
func (s *CredentialService) RegisterPerson(ctx context.Context, caller domain.Caller, req RegisterRequest) (domain.PersonCredential, error) {
	log := slogx.FromContext(ctx)
	now := s.Clock.Now()

	username := strings.ToLower(strings.TrimSpace(req.Username))
	if addr, err := mail.ParseAddress(username); err != nil || addr.Address != username {
		return domain.PersonCredential{}, domain.Invalid(domain.CodeInvalidRequest, "username must be an email address")
	}
	if caller.TenantID == "" {
		return domain.PersonCredential{}, domain.Invalid(domain.CodeInvalidRequest, "tenant is required")
	}

	existing, err := s.Store.Users().GetUserByUsername(ctx, username)
	switch {
	case err == nil:
		return s.reregister(ctx, existing, now)
	case !errors.Is(err, store.ErrNotFound):
		return domain.PersonCredential{}, fmt.Errorf("load user: %w", err)
	}

	if len(req.Password) < minPasswordLength {
		return domain.PersonCredential{}, domain.Invalid(domain.CodeInvalidRequest, fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}
	hash, err := s.Hasher.Hash(req.Password)
	if err != nil {
		return domain.PersonCredential{}, fmt.Errorf("hash password: %w", err)
	}

	token, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return domain.PersonCredential{}, err
	}

	user := domain.User{
		ID:        idx.New().String(),
		Kind:      domain.UserKindPerson,
		Username:  username,
		TenantID:  caller.TenantID,
		Status:    domain.UserStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	profile := domain.Profile{
		UserID:      user.ID,
		Name:        req.Name,
		GivenName:   req.GivenName,
		FamilyName:  req.FamilyName,
		Email:       username,
		PhoneNumber: req.PhoneNumber,
		Locale:      req.Locale,
		Zoneinfo:    req.Zoneinfo,
		UpdatedAt:   now,
	}
	cred := domain.PersonCredential{
		UserID:       user.ID,
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	cred.BeginRegistration(cryptox.FingerprintToken(token), now.Add(s.RegistrationTTL))

	// Deliver before persisting: a failed delivery leaves nothing behind.
	if err := s.Notifier.Notify(ctx, notify.Message{
		Kind:    notify.KindRegistration,
		Channel: notify.ChannelEmail,
		To:      username,
		UserID:  user.ID,
		Secret:  token,
	}); err != nil {
		return domain.PersonCredential{}, fmt.Errorf("send registration: %w", err)
	}

	var saved domain.PersonCredential
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Users().CreateUser(ctx, user); err != nil {
			if errors.Is(err, store.ErrAlreadyExists) {
				return domain.Precondition(CodeUsernameTaken, "username already registered")
			}
			return fmt.Errorf("create user: %w", err)
		}
		if err := tx.Profiles().UpsertProfile(ctx, profile); err != nil {
			return fmt.Errorf("create profile: %w", err)
		}
		saved, err = tx.Credentials().Save(ctx, cred)
		if err != nil {
			return fmt.Errorf("save credential: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.PersonCredential{}, err
	}

	recordAudit(ctx, s.Auditor, audit.Event{Code: audit.RegistrationCreated, UserID: user.ID, TenantID: user.TenantID})
	s.Metrics.RecordRegistration(ctx, "created")
	log.Info("person registered", slog.String("user_id", user.ID), slog.String("tenant_id", user.TenantID))
	return saved, nil
}

func (s *CredentialService) reregister(ctx context.Context, user domain.User, now time.Time) (domain.PersonCredential, error) {
	if !user.IsPerson() {
		return domain.PersonCredential{}, domain.Precondition(CodeUsernameTaken, "username already registered")
	}

	cred, err := s.Store.Credentials().GetByUserID(ctx, user.ID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.PersonCredential{}, domain.Precondition(CodeUsernameTaken, "username already registered")
	}
	if err != nil {
		return domain.PersonCredential{}, fmt.Errorf("load credential: %w", err)
	}

	if cred.IsRegistered() {
		if err := s.Notifier.Notify(ctx, notify.Message{
			Kind:    notify.KindCourtesy,
			Channel: notify.ChannelEmail,
			To:      user.Username,
			UserID:  user.ID,
		}); err != nil {
			return domain.PersonCredential{}, fmt.Errorf("send courtesy notice: %w", err)
		}
		s.Metrics.RecordRegistration(ctx, "existing")
		return cred, nil
	}

	token, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return domain.PersonCredential{}, err
	}
	next := cred.Clone()
	next.BeginRegistration(cryptox.FingerprintToken(token), now.Add(s.RegistrationTTL))

	if err := s.Notifier.Notify(ctx, notify.Message{
		Kind:    notify.KindRegistration,
		Channel: notify.ChannelEmail,
		To:      user.Username,
		UserID:  user.ID,
		Secret:  token,
	}); err != nil {
		return domain.PersonCredential{}, fmt.Errorf("send registration: %w", err)
	}

	saved, err := s.Store.Credentials().Save(ctx, next)
	if err != nil {
		return domain.PersonCredential{}, fmt.Errorf("save credential: %w", err)
	}
	s.Metrics.RecordRegistration(ctx, "resent")
	return saved, nil
}

// ConfirmRegistration completes a pending registration and marks the email as verified.
func (s *CredentialService) ConfirmRegistration(ctx context.Context, token string) error {
	now := s.Clock.Now()
	if token == "" {
		return domain.NotFound("registration not found")
	}

	var userID string
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		cred, err := tx.Credentials().GetByRegistrationToken(ctx, cryptox.FingerprintToken(token))
		if errors.Is(err, store.ErrNotFound) {
			return domain.NotFound("registration not found")
		}
		if err != nil {
			return fmt.Errorf("load credential: %w", err)
		}
		if cred.RegistrationExpired(now) {
			return domain.NotFound("registration not found")
		}

		next := cred.Clone()
		next.CompleteRegistration(now)
		if _, err := tx.Credentials().Save(ctx, next); err != nil {
			return fmt.Errorf("save credential: %w", err)
		}

		profile, err := tx.Profiles().GetProfile(ctx, cred.UserID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("load profile: %w", err)
		}
		profile.UserID = cred.UserID
		if profile.Email == "" {
			profile.Email = cred.Username
		}
		profile.EmailVerified = profile.Email == cred.Username
		profile.UpdatedAt = now
		if err := tx.Profiles().UpsertProfile(ctx, profile); err != nil {
			return fmt.Errorf("save profile: %w", err)
		}
		userID = cred.UserID
		return nil
	})
	if err != nil {
		return err
	}

	recordAudit(ctx, s.Auditor, audit.Event{Code: audit.RegistrationConfirmed, UserID: userID})
	s.Metrics.RecordRegistration(ctx, "confirmed")
	return nil
}

// RefreshSession rotates a first-party session. The refresh token must have been issued by this
// server without a client.
func (s *CredentialService) RefreshSession(ctx context.Context, refreshToken string) (domain.TokenSet, error) {
	now := s.Clock.Now()

	claims, err := s.Issuer.Keys.Verifier.Verify(refreshToken)
	if err != nil || claims.TokenUse != jwtx.TokenUseRefresh || claims.ClientID != "" {
		return domain.TokenSet{}, domain.NotAuthenticated("invalid refresh token")
	}

	user, err := s.Store.Users().GetUserByID(ctx, claims.Subject)
	if errors.Is(err, store.ErrNotFound) {
		return domain.TokenSet{}, domain.NotAuthenticated("invalid refresh token")
	}
	if err != nil {
		return domain.TokenSet{}, fmt.Errorf("load user: %w", err)
	}
	if !user.IsPerson() || user.IsSuspended() {
		return domain.TokenSet{}, domain.NotAuthenticated("invalid refresh token")
	}

	cred, err := s.Store.Credentials().GetByUserID(ctx, user.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return domain.TokenSet{}, fmt.Errorf("load credential: %w", err)
	}
	if err != nil || cred.Locked || !cred.IsRegistered() {
		return domain.TokenSet{}, domain.NotAuthenticated("invalid refresh token")
	}

	var authTime time.Time
	if claims.IssuedAt != nil {
		authTime = claims.IssuedAt.Time
	}
	return s.Issuer.Issue(IssueRequest{
		User:      user,
		Scopes:    claims.Scopes(),
		AMR:       claims.AMR,
		SessionID: claims.SID,
		AuthTime:  authTime,
	}, now)
}

// SetLocked locks or unlocks a person. Unlocking also clears the failure counter.
func (s *CredentialService) SetLocked(ctx context.Context, caller domain.Caller, userID string, locked bool) error {
	if err := requireElevated(caller, s.ElevatedRole); err != nil {
		return err
	}
	user, err := loadTenantUser(ctx, s.Store.Users(), caller, userID)
	if err != nil {
		return err
	}

	cred, err := s.Store.Credentials().GetByUserID(ctx, user.ID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.NotFound("credential not found")
	}
	if err != nil {
		return fmt.Errorf("load credential: %w", err)
	}
	if cred.Locked == locked {
		return nil
	}

	next := cred.Clone()
	if locked {
		next.Lock(s.Clock.Now())
	} else {
		next.Unlock()
		if err := s.Lockout.Reset(ctx, user.ID); err != nil {
			return fmt.Errorf("reset lockout: %w", err)
		}
	}
	if _, err := s.Store.Credentials().Save(ctx, next); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}

	recordAudit(ctx, s.Auditor, audit.Event{
		Code:         audit.UserLockChanged,
		UserID:       caller.UserID,
		TargetUserID: user.ID,
		TenantID:     user.TenantID,
		Details:      map[string]any{"locked": locked},
	})
	return nil
}

// SetSuspended suspends or reactivates a user. Suspended users cannot authenticate by any means.
func (s *CredentialService) SetSuspended(ctx context.Context, caller domain.Caller, userID string, suspended bool) error {
	if err := requireElevated(caller, s.ElevatedRole); err != nil {
		return err
	}
	user, err := loadTenantUser(ctx, s.Store.Users(), caller, userID)
	if err != nil {
		return err
	}

	status := domain.UserStatusActive
	if suspended {
		status = domain.UserStatusSuspended
	}
	if user.Status == status {
		return nil
	}
	if err := s.Store.Users().UpdateUserStatus(ctx, user.ID, status); err != nil {
		return fmt.Errorf("update user status: %w", err)
	}

	recordAudit(ctx, s.Auditor, audit.Event{
		Code:         audit.UserSuspended,
		UserID:       caller.UserID,
		TargetUserID: user.ID,
		TenantID:     user.TenantID,
		Details:      map[string]any{"suspended": suspended},
	})
	return nil
}
