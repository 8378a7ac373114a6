package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
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
	"github.com/aussiebroadwan/nativeid/pkg/slogx"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	recoveryCodeCount = 10
	bindingCodeDigits = 6
	totpPeriod        = 30
)

// Accessibility of each MFA operation.
var (
	AssociatePolicy    = domain.Both
	ChallengePolicy    = domain.UnauthenticatedOnly
	ConfirmPolicy      = domain.Both
	VerifyPolicy       = domain.UnauthenticatedOnly
	DisassociatePolicy = domain.AuthenticatedOnly
	ListPolicy         = domain.AuthenticatedOnly
)

// MFAService manages second factors and completes MFA-gated logins.
type MFAService struct {
	Store    store.Store
	Issuer   *TokenIssuer
	Notifier notify.Notifier
	Box      *cryptox.SecretBox
	Auditor  audit.Auditor
	Metrics  *instrumentation.Metrics
	Clock    Clock
	// Lockout counts wrong codes during login together with wrong passwords.
	Lockout lockout.Policy

	TOTPIssuer   string
	OOBCodeTTL   time.Duration
	ElevatedRole string
}

type AssociateRequest struct {
	Type domain.AuthenticatorType
	// Channel is the phone number or email address an OOB authenticator delivers to.
	Channel string
}

type AssociateResult struct {
	AuthenticatorID string
	Type            domain.AuthenticatorType

	// OTP
	Secret     string
	BarcodeURI string

	// OOB
	OOBCode       string
	BindingMethod string

	// RecoveryCodes is only set on the first association.
	RecoveryCodes []string
}

type ChallengeResult struct {
	ChallengeType string
	OOBCode       string
	BindingMethod string
}

// ConfirmRequest answers a challenge. Exactly one of OTP, OOBCode+BindingCode or RecoveryCode
// is expected.
type ConfirmRequest struct {
	AuthenticatorID string
	OTP             string
	OOBCode         string
	BindingCode     string
	RecoveryCode    string
}

// ConfirmResult carries tokens when the caller completed a login with the MFA token, and the
// updated authenticator list otherwise.
type ConfirmResult struct {
	Tokens         *domain.TokenSet
	Authenticators []domain.MFAAuthenticator
}

// resolve loads the credential the caller acts on, after checking the accessibility policy.
func (s *MFAService) resolve(ctx context.Context, caller domain.Caller, policy domain.Accessibility, now time.Time) (domain.PersonCredential, error) {
	if !policy.Allows(caller) {
		return domain.PersonCredential{}, domain.Forbidden("operation not permitted in this session state")
	}

	if caller.Authenticated() {
		cred, err := s.Store.Credentials().GetByUserID(ctx, caller.UserID)
		if errors.Is(err, store.ErrNotFound) {
			return domain.PersonCredential{}, domain.NotFound("credential not found")
		}
		if err != nil {
			return domain.PersonCredential{}, fmt.Errorf("load credential: %w", err)
		}
		return cred, nil
	}

	cred, err := s.Store.Credentials().GetByMFAToken(ctx, cryptox.FingerprintToken(caller.MFAToken))
	if errors.Is(err, store.ErrNotFound) {
		return domain.PersonCredential{}, domain.NotAuthenticated("invalid mfa token")
	}
	if err != nil {
		return domain.PersonCredential{}, fmt.Errorf("load credential: %w", err)
	}
	if !cred.MFATokenValid(now) {
		return domain.PersonCredential{}, domain.NotAuthenticated("invalid mfa token")
	}
	return cred, nil
}

// Associate starts enrolment of a new factor. OOB factors are challenged immediately and the
// binding code is delivered before anything is saved.
func (s *MFAService) Associate(ctx context.Context, caller domain.Caller, req AssociateRequest) (AssociateResult, error) {
	now := s.Clock.Now()
	if !req.Type.Associable() {
		return AssociateResult{}, domain.Invalid(domain.CodeInvalidRequest, "unsupported authenticator type")
	}

	cred, err := s.resolve(ctx, caller, AssociatePolicy, now)
	if err != nil {
		return AssociateResult{}, err
	}
	if err := enrolmentAllowed(caller, cred); err != nil {
		return AssociateResult{}, err
	}

	req.Channel = strings.TrimSpace(req.Channel)
	if req.Type.IsOOB() && req.Channel == "" {
		req.Channel, err = s.profileChannel(ctx, cred.UserID, req.Type)
		if err != nil {
			return AssociateResult{}, err
		}
	}

	next := cred.Clone()
	auth := domain.MFAAuthenticator{
		ID:        idx.New().String(),
		Type:      req.Type,
		Status:    domain.AuthenticatorUnconfirmed,
		Channel:   req.Channel,
		CreatedAt: now,
	}
	res := AssociateResult{AuthenticatorID: auth.ID, Type: req.Type}

	var msg *notify.Message
	switch {
	case req.Type == domain.AuthenticatorOTP:
		key, err := totp.Generate(totp.GenerateOpts{
			Issuer:      s.TOTPIssuer,
			AccountName: cred.Username,
			Period:      totpPeriod,
			Digits:      otp.DigitsSix,
			Algorithm:   otp.AlgorithmSHA1,
		})
		if err != nil {
			return AssociateResult{}, fmt.Errorf("generate totp key: %w", err)
		}
		sealed, err := s.Box.SealString(key.Secret())
		if err != nil {
			return AssociateResult{}, fmt.Errorf("seal totp secret: %w", err)
		}
		auth.SecretEncrypted = sealed
		res.Secret = key.Secret()
		res.BarcodeURI = key.URL()

	case req.Type.IsOOB():
		oobCode, m, err := s.challenge(&auth, cred.UserID, now)
		if err != nil {
			return AssociateResult{}, err
		}
		msg = &m
		res.OOBCode = oobCode
		res.BindingMethod = "prompt"
	}
	next.Attach(auth)

	if next.RecoveryCodes() == nil {
		codes, recovery, err := newRecoveryCodes(now)
		if err != nil {
			return AssociateResult{}, err
		}
		next.Attach(recovery)
		res.RecoveryCodes = codes
	}

	if msg != nil {
		if err := s.Notifier.Notify(ctx, *msg); err != nil {
			return AssociateResult{}, fmt.Errorf("deliver challenge: %w", err)
		}
	}
	if _, err := s.Store.Credentials().Save(ctx, next); err != nil {
		return AssociateResult{}, fmt.Errorf("save credential: %w", err)
	}

	recordAudit(ctx, s.Auditor, audit.Event{
		Code:    audit.MFAAssociated,
		UserID:  cred.UserID,
		Details: map[string]any{"authenticator_type": string(req.Type)},
	})
	s.Metrics.RecordMFA(ctx, "associate", string(req.Type), true)
	return res, nil
}

// enrolmentAllowed rejects enrolment with only an MFA token once the person has an active factor.
func enrolmentAllowed(caller domain.Caller, cred domain.PersonCredential) error {
	if !caller.Authenticated() && cred.HasActiveFactor() {
		return domain.Forbidden("an active factor must be verified before enrolling another")
	}
	return nil
}

// profileChannel falls back to the phone number or email address on the person's profile.
func (s *MFAService) profileChannel(ctx context.Context, userID string, t domain.AuthenticatorType) (string, error) {
	profile, err := s.Store.Profiles().GetProfile(ctx, userID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("load profile: %w", err)
	}
	channel := profile.PhoneNumber
	if t == domain.AuthenticatorOOBEmail {
		channel = profile.Email
	}
	if channel = strings.TrimSpace(channel); channel == "" {
		return "", domain.Invalid(domain.CodeInvalidRequest, "channel is required for out-of-band authenticators")
	}
	return channel, nil
}

// challenge arms an OOB authenticator and builds the notification carrying its binding code.
func (s *MFAService) challenge(a *domain.MFAAuthenticator, userID string, now time.Time) (string, notify.Message, error) {
	oobCode, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return "", notify.Message{}, err
	}
	binding, err := cryptox.GenerateNumericCode(bindingCodeDigits)
	if err != nil {
		return "", notify.Message{}, err
	}
	a.SetChallenge(cryptox.FingerprintToken(oobCode), cryptox.FingerprintToken(binding), now.Add(s.OOBCodeTTL))

	channel := notify.ChannelSMS
	if a.Type == domain.AuthenticatorOOBEmail {
		channel = notify.ChannelEmail
	}
	return oobCode, notify.Message{
		Kind:    notify.KindOOBChallenge,
		Channel: channel,
		To:      a.Channel,
		UserID:  userID,
		Secret:  binding,
	}, nil
}

func newRecoveryCodes(now time.Time) ([]string, domain.MFAAuthenticator, error) {
	codes := make([]string, recoveryCodeCount)
	digests := make([]string, recoveryCodeCount)
	for i := range codes {
		c, err := cryptox.GenerateToken(cryptox.TokenSize128)
		if err != nil {
			return nil, domain.MFAAuthenticator{}, err
		}
		codes[i] = c
		digests[i] = cryptox.FingerprintToken(c)
	}
	return codes, domain.MFAAuthenticator{
		ID:                  idx.New().String(),
		Type:                domain.AuthenticatorRecoveryCodes,
		Status:              domain.AuthenticatorUnconfirmed,
		RecoveryCodeDigests: digests,
		CreatedAt:           now,
	}, nil
}

// Challenge sends a fresh binding code for an active OOB authenticator during login. OTP
// authenticators need no delivery.
func (s *MFAService) Challenge(ctx context.Context, caller domain.Caller, authenticatorID string) (ChallengeResult, error) {
	now := s.Clock.Now()
	cred, err := s.resolve(ctx, caller, ChallengePolicy, now)
	if err != nil {
		return ChallengeResult{}, err
	}

	next := cred.Clone()
	auth := next.Authenticator(authenticatorID)
	if auth == nil || !auth.IsActive() || auth.Type == domain.AuthenticatorRecoveryCodes {
		return ChallengeResult{}, domain.NotFound("authenticator not found")
	}
	if auth.Type == domain.AuthenticatorOTP {
		return ChallengeResult{ChallengeType: "otp"}, nil
	}

	oobCode, msg, err := s.challenge(auth, cred.UserID, now)
	if err != nil {
		return ChallengeResult{}, err
	}
	if err := s.Notifier.Notify(ctx, msg); err != nil {
		return ChallengeResult{}, fmt.Errorf("deliver challenge: %w", err)
	}
	if _, err := s.Store.Credentials().Save(ctx, next); err != nil {
		return ChallengeResult{}, fmt.Errorf("save credential: %w", err)
	}

	recordAudit(ctx, s.Auditor, audit.Event{
		Code:    audit.MFAChallenged,
		UserID:  cred.UserID,
		Details: map[string]any{"authenticator_type": string(auth.Type)},
	})
	s.Metrics.RecordMFA(ctx, "challenge", string(auth.Type), true)
	return ChallengeResult{ChallengeType: "oob", OOBCode: oobCode, BindingMethod: "prompt"}, nil
}

// Confirm completes the association of an unconfirmed authenticator. The first confirmed factor
// turns MFA on and activates the recovery codes. A caller using an MFA token is logged in.
func (s *MFAService) Confirm(ctx context.Context, caller domain.Caller, req ConfirmRequest) (ConfirmResult, error) {
	now := s.Clock.Now()
	cred, err := s.resolve(ctx, caller, ConfirmPolicy, now)
	if err != nil {
		return ConfirmResult{}, err
	}
	if err := enrolmentAllowed(caller, cred); err != nil {
		return ConfirmResult{}, err
	}

	next := cred.Clone()
	auth := s.pending(&next, req)
	if auth == nil {
		return ConfirmResult{}, s.failed(ctx, caller, cred, "confirm", "", now)
	}
	if !s.answerMatches(*auth, req, now) {
		return ConfirmResult{}, s.failed(ctx, caller, cred, "confirm", auth.Type, now)
	}

	auth.ClearChallenge()
	auth.Activate(now)
	authType := auth.Type
	if rc := next.RecoveryCodes(); rc != nil && !rc.IsActive() {
		rc.Activate(now)
	}
	next.MFAEnabled = true

	res, err := s.complete(ctx, caller, cred, next, amrFor(authType), now)
	if err != nil {
		return ConfirmResult{}, err
	}

	recordAudit(ctx, s.Auditor, audit.Event{
		Code:    audit.MFAConfirmed,
		UserID:  cred.UserID,
		Details: map[string]any{"authenticator_type": string(authType)},
	})
	s.Metrics.RecordMFA(ctx, "confirm", string(authType), true)
	return res, nil
}

// pending finds the unconfirmed authenticator a confirmation refers to.
func (s *MFAService) pending(c *domain.PersonCredential, req ConfirmRequest) *domain.MFAAuthenticator {
	if req.AuthenticatorID != "" {
		a := c.Authenticator(req.AuthenticatorID)
		if a == nil || a.IsActive() || a.Type == domain.AuthenticatorRecoveryCodes {
			return nil
		}
		return a
	}
	if req.OTP != "" {
		return c.FindAuthenticator(domain.AuthenticatorOTP, domain.AuthenticatorUnconfirmed)
	}
	if req.OOBCode != "" {
		for i := range c.Authenticators {
			a := &c.Authenticators[i]
			if a.Type.IsOOB() && !a.IsActive() && cryptox.EqualFingerprint(req.OOBCode, a.OOBCodeDigest) {
				return a
			}
		}
	}
	return nil
}

// Verify answers the MFA challenge of a login with an active factor or a recovery code.
func (s *MFAService) Verify(ctx context.Context, caller domain.Caller, req ConfirmRequest) (ConfirmResult, error) {
	now := s.Clock.Now()
	cred, err := s.resolve(ctx, caller, VerifyPolicy, now)
	if err != nil {
		return ConfirmResult{}, err
	}

	next := cred.Clone()
	var used domain.AuthenticatorType
	switch {
	case req.RecoveryCode != "":
		rc := next.RecoveryCodes()
		if rc != nil && rc.IsActive() && rc.ConsumeRecoveryCode(req.RecoveryCode) {
			used = domain.AuthenticatorRecoveryCodes
		}
	default:
		for i := range next.Authenticators {
			a := &next.Authenticators[i]
			if !a.IsActive() || a.Type == domain.AuthenticatorRecoveryCodes {
				continue
			}
			if req.AuthenticatorID != "" && a.ID != req.AuthenticatorID {
				continue
			}
			if s.answerMatches(*a, req, now) {
				a.ClearChallenge()
				used = a.Type
				break
			}
		}
	}
	if used == "" {
		return ConfirmResult{}, s.failed(ctx, caller, cred, "verify", used, now)
	}

	res, err := s.complete(ctx, caller, cred, next, amrFor(used), now)
	if err != nil {
		return ConfirmResult{}, err
	}

	recordAudit(ctx, s.Auditor, audit.Event{
		Code:    audit.MFAVerified,
		UserID:  cred.UserID,
		Details: map[string]any{"authenticator_type": string(used)},
	})
	s.Metrics.RecordMFA(ctx, "verify", string(used), true)
	return res, nil
}

func (s *MFAService) answerMatches(a domain.MFAAuthenticator, req ConfirmRequest, now time.Time) bool {
	switch {
	case a.Type == domain.AuthenticatorOTP:
		if req.OTP == "" {
			return false
		}
		secret, err := s.Box.OpenString(a.SecretEncrypted)
		if err != nil {
			return false
		}
		ok, err := totp.ValidateCustom(req.OTP, secret, now, totp.ValidateOpts{
			Period:    totpPeriod,
			Skew:      1,
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		})
		return err == nil && ok
	case a.Type.IsOOB():
		return req.OOBCode != "" && a.ChallengeMatches(req.OOBCode, req.BindingCode, now)
	default:
		return false
	}
}

// complete persists the transition and, for a caller holding an MFA token, ends the login.
func (s *MFAService) complete(ctx context.Context, caller domain.Caller, cred, next domain.PersonCredential, amr []string, now time.Time) (ConfirmResult, error) {
	loggingIn := !caller.Authenticated()
	if loggingIn {
		next.ClearMFAToken()
	}
	if _, err := s.Store.Credentials().Save(ctx, next); err != nil {
		return ConfirmResult{}, fmt.Errorf("save credential: %w", err)
	}
	if !loggingIn {
		return ConfirmResult{Authenticators: authenticatorViews(next)}, nil
	}
	if s.Lockout != nil {
		if err := s.Lockout.Reset(ctx, cred.UserID); err != nil {
			slogx.FromContext(ctx).Warn("failed to reset lockout counter", slog.String("user_id", cred.UserID), slog.Any("error", err))
		}
	}

	user, err := s.Store.Users().GetUserByID(ctx, cred.UserID)
	if err != nil {
		return ConfirmResult{}, fmt.Errorf("load user: %w", err)
	}
	if user.IsSuspended() {
		return ConfirmResult{}, domain.NotAuthenticated("")
	}
	tokens, err := s.Issuer.Issue(IssueRequest{User: user, AMR: amr, AuthTime: now}, now)
	if err != nil {
		return ConfirmResult{}, err
	}
	return ConfirmResult{Tokens: &tokens}, nil
}

// failed records a wrong answer. During login it counts toward lockout; reaching the threshold
// locks the credential and voids the MFA token.
func (s *MFAService) failed(ctx context.Context, caller domain.Caller, cred domain.PersonCredential, op string, t domain.AuthenticatorType, now time.Time) error {
	recordAudit(ctx, s.Auditor, audit.Event{
		Code:    audit.MFAFailed,
		UserID:  cred.UserID,
		Details: map[string]any{"operation": op, "authenticator_type": string(t)},
	})
	s.Metrics.RecordMFA(ctx, op, string(t), false)

	if !caller.Authenticated() && s.Lockout != nil {
		locked, err := s.Lockout.RecordFailure(ctx, cred.UserID)
		if err != nil {
			return fmt.Errorf("record failed attempt: %w", err)
		}
		if locked {
			next := cred.Clone()
			next.Lock(now)
			next.ClearMFAToken()
			if _, err := s.Store.Credentials().Save(ctx, next); err != nil {
				return fmt.Errorf("save credential: %w", err)
			}
			recordAudit(ctx, s.Auditor, audit.Event{Code: audit.AuthLockout, UserID: cred.UserID})
			s.Metrics.RecordLockout(ctx)
			slogx.FromContext(ctx).Warn("credential locked after repeated mfa failures", slog.String("user_id", cred.UserID))
			return domain.EntityLocked()
		}
	}
	return domain.Invalid(domain.CodeInvalidGrant, "mfa code mismatch")
}

func amrFor(t domain.AuthenticatorType) []string {
	amr := []string{AMRPassword, AMRMFA}
	switch {
	case t == domain.AuthenticatorOTP:
		amr = append(amr, AMROTP)
	case t.IsOOB():
		amr = append(amr, AMROOB)
	case t == domain.AuthenticatorRecoveryCodes:
		amr = append(amr, AMRRecovery)
	}
	return amr
}

// ListAuthenticators returns the caller's factors. Secrets and digests are stripped.
func (s *MFAService) ListAuthenticators(ctx context.Context, caller domain.Caller) ([]domain.MFAAuthenticator, error) {
	cred, err := s.resolve(ctx, caller, ListPolicy, s.Clock.Now())
	if err != nil {
		return nil, err
	}
	return authenticatorViews(cred), nil
}

func authenticatorViews(cred domain.PersonCredential) []domain.MFAAuthenticator {
	out := make([]domain.MFAAuthenticator, 0, len(cred.Authenticators))
	for _, a := range cred.Authenticators {
		view := domain.MFAAuthenticator{
			ID:          a.ID,
			Type:        a.Type,
			Status:      a.Status,
			Channel:     a.Channel,
			CreatedAt:   a.CreatedAt,
			ConfirmedAt: a.ConfirmedAt,
		}
		if a.Type == domain.AuthenticatorRecoveryCodes {
			// Only the count is meaningful to the caller.
			view.RecoveryCodeDigests = make([]string, len(a.RecoveryCodeDigests))
		}
		out = append(out, view)
	}
	return out
}

// Disassociate removes one of the caller's factors. Removing the last active factor turns MFA off
// and discards the recovery codes.
func (s *MFAService) Disassociate(ctx context.Context, caller domain.Caller, authenticatorID string) error {
	cred, err := s.resolve(ctx, caller, DisassociatePolicy, s.Clock.Now())
	if err != nil {
		return err
	}

	next := cred.Clone()
	auth := next.Authenticator(authenticatorID)
	if auth == nil || auth.Type == domain.AuthenticatorRecoveryCodes {
		return domain.NotFound("authenticator not found")
	}
	authType := auth.Type
	next.Detach(authenticatorID)
	if !next.HasActiveFactor() {
		if rc := next.RecoveryCodes(); rc != nil {
			next.Detach(rc.ID)
		}
		next.MFAEnabled = false
	}

	if _, err := s.Store.Credentials().Save(ctx, next); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}

	recordAudit(ctx, s.Auditor, audit.Event{
		Code:    audit.MFADisassociated,
		UserID:  cred.UserID,
		Details: map[string]any{"authenticator_type": string(authType)},
	})
	s.Metrics.RecordMFA(ctx, "disassociate", string(authType), true)
	return nil
}

// ChangeMFAEnabled lets an administrator require or waive MFA for a user. A user required to use
// MFA without any factor enrols during the next login using the MFA token.
func (s *MFAService) ChangeMFAEnabled(ctx context.Context, caller domain.Caller, userID string, enabled bool) error {
	if err := s.requireAdmin(caller); err != nil {
		return err
	}
	cred, err := s.tenantCredential(ctx, caller, userID)
	if err != nil {
		return err
	}
	if cred.MFAEnabled == enabled {
		return nil
	}

	next := cred.Clone()
	next.MFAEnabled = enabled
	if !enabled {
		next.ClearMFAToken()
	}
	if _, err := s.Store.Credentials().Save(ctx, next); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}

	recordAudit(ctx, s.Auditor, audit.Event{
		Code:         audit.MFAEnabledChanged,
		UserID:       caller.UserID,
		TargetUserID: userID,
		Details:      map[string]any{"enabled": enabled},
	})
	slogx.FromContext(ctx).Info("mfa requirement changed", slog.String("target_user_id", userID), slog.Bool("enabled", enabled))
	return nil
}

// ResetMFA removes every factor of a user, for example after a lost device.
func (s *MFAService) ResetMFA(ctx context.Context, caller domain.Caller, userID string) error {
	if err := s.requireAdmin(caller); err != nil {
		return err
	}
	cred, err := s.tenantCredential(ctx, caller, userID)
	if err != nil {
		return err
	}

	next := cred.Clone()
	next.ResetMFA()
	if _, err := s.Store.Credentials().Save(ctx, next); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}

	recordAudit(ctx, s.Auditor, audit.Event{Code: audit.MFAReset, UserID: caller.UserID, TargetUserID: userID})
	s.Metrics.RecordMFA(ctx, "reset", "", true)
	return nil
}

func (s *MFAService) requireAdmin(caller domain.Caller) error {
	if !domain.AuthenticatedOnly.Allows(caller) {
		return domain.Forbidden("authentication required")
	}
	return requireElevated(caller, s.ElevatedRole)
}

func (s *MFAService) tenantCredential(ctx context.Context, caller domain.Caller, userID string) (domain.PersonCredential, error) {
	user, err := loadTenantUser(ctx, s.Store.Users(), caller, userID)
	if err != nil {
		return domain.PersonCredential{}, err
	}
	cred, err := s.Store.Credentials().GetByUserID(ctx, user.ID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.PersonCredential{}, domain.NotFound("credential not found")
	}
	if err != nil {
		return domain.PersonCredential{}, fmt.Errorf("load credential: %w", err)
	}
	return cred, nil
}
