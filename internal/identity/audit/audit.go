// Package audit records security-relevant outcomes with stable codes. The trail is written through
// its own handler so it survives independently of the application log level.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"sync"
)

type Code string

const (
	AuthSuccess           Code = "AUTH_SUCCESS"
	AuthPasswordFailed    Code = "AUTH_PASSWORD_FAILED"
	AuthUnknownUser       Code = "AUTH_UNKNOWN_USER"
	AuthSuspended         Code = "AUTH_SUSPENDED"
	AuthLocked            Code = "AUTH_LOCKED"
	AuthLockout           Code = "AUTH_LOCKOUT"
	MFARequired           Code = "MFA_REQUIRED"
	MFAAssociated         Code = "MFA_ASSOCIATED"
	MFAChallenged         Code = "MFA_CHALLENGED"
	MFAConfirmed          Code = "MFA_CONFIRMED"
	MFAVerified           Code = "MFA_VERIFIED"
	MFAFailed             Code = "MFA_FAILED"
	MFADisassociated      Code = "MFA_DISASSOCIATED"
	MFAEnabledChanged     Code = "MFA_ENABLED_CHANGED"
	MFAReset              Code = "MFA_RESET"
	RegistrationCreated   Code = "REGISTRATION_CREATED"
	RegistrationConfirmed Code = "REGISTRATION_CONFIRMED"
	ConsentGranted        Code = "CONSENT_GRANTED"
	ConsentRevoked        Code = "CONSENT_REVOKED"
	ClientCreated         Code = "CLIENT_CREATED"
	ClientSecretRotated   Code = "CLIENT_SECRET_ROTATED"
	CodeExchanged         Code = "CODE_EXCHANGED"
	TokenRefreshed        Code = "TOKEN_REFRESHED"
	TokenRevoked          Code = "TOKEN_REVOKED"
	SSOSuccess            Code = "SSO_SUCCESS"
	SSOFailed             Code = "SSO_FAILED"
	SSOProvisioned        Code = "SSO_PROVISIONED"
	UserSuspended         Code = "USER_SUSPENDED"
	UserLockChanged       Code = "USER_LOCK_CHANGED"
)

// Event is one audit record. UserID is the acting user; TargetUserID is hashed before writing.
type Event struct {
	Code         Code
	UserID       string
	TargetUserID string
	ClientID     string
	TenantID     string
	Details      map[string]any
}

type Auditor interface {
	Record(ctx context.Context, e Event)
}

// Logger writes events as JSON lines at Info level.
type Logger struct {
	logger *slog.Logger
}

func New(w io.Writer) *Logger {
	return &Logger{logger: slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))}
}

func (a *Logger) Record(ctx context.Context, e Event) {
	attrs := []slog.Attr{slog.String("code", string(e.Code))}
	if e.UserID != "" {
		attrs = append(attrs, slog.String("user_id", e.UserID))
	}
	if e.TargetUserID != "" {
		attrs = append(attrs, slog.String("target_user_hash", HashID(e.TargetUserID)))
	}
	if e.ClientID != "" {
		attrs = append(attrs, slog.String("client_id", e.ClientID))
	}
	if e.TenantID != "" {
		attrs = append(attrs, slog.String("tenant_id", e.TenantID))
	}
	if len(e.Details) > 0 {
		attrs = append(attrs, slog.Any("details", e.Details))
	}
	a.logger.LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
}

// HashID returns a short sha256 prefix so identifiers can be correlated without being exposed.
func HashID(id string) string {
	if id == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:8])
}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Record(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *Recorder) Codes() []Code {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Code, len(r.events))
	for i, e := range r.events {
		out[i] = e.Code
	}
	return out
}

func (r *Recorder) Count(code Code) int {
	n := 0
	for _, c := range r.Codes() {
		if c == code {
			n++
		}
	}
	return n
}
