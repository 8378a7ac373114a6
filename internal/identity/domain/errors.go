package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine failures. The transport layer maps kinds to status codes.
type ErrorKind int

const (
	KindNotAuthenticated ErrorKind = iota + 1
	KindForbiddenAccess
	KindEntityNotFound
	KindPreconditionViolation
	KindValidation
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotAuthenticated:
		return "not_authenticated"
	case KindForbiddenAccess:
		return "forbidden_access"
	case KindEntityNotFound:
		return "entity_not_found"
	case KindPreconditionViolation:
		return "precondition_violation"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Error is the typed engine error. Code is a machine readable sub-kind (an OAuth2 error code for
// KindValidation) and Data carries continuation values such as an MFA token.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Data    map[string]string
}

func (e *Error) Error() string {
	switch {
	case e.Code != "" && e.Message != "":
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Code, e.Message)
	case e.Code != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Code)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	default:
		return e.Kind.String()
	}
}

// Is matches on kind, and on code when the target carries one. A locked credential error therefore
// satisfies both errors.Is(err, ErrEntityLocked) and errors.Is(err, ErrNotAuthenticated).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// Value returns a Data entry, or "" when absent.
func (e *Error) Value(key string) string {
	if e == nil || e.Data == nil {
		return ""
	}
	return e.Data[key]
}

// Sentinels for errors.Is. Never mutate these; use the constructors below.
var (
	ErrNotAuthenticated      = &Error{Kind: KindNotAuthenticated}
	ErrEntityLocked          = &Error{Kind: KindNotAuthenticated, Code: "entity_locked"}
	ErrForbiddenAccess       = &Error{Kind: KindForbiddenAccess}
	ErrMFARequired           = &Error{Kind: KindForbiddenAccess, Code: CodeMFARequired}
	ErrEntityNotFound        = &Error{Kind: KindEntityNotFound}
	ErrPreconditionViolation = &Error{Kind: KindPreconditionViolation}
	ErrValidation            = &Error{Kind: KindValidation}

	ErrInvalidRequest          = &Error{Kind: KindValidation, Code: CodeInvalidRequest}
	ErrInvalidClient           = &Error{Kind: KindValidation, Code: CodeInvalidClient}
	ErrInvalidGrant            = &Error{Kind: KindValidation, Code: CodeInvalidGrant}
	ErrInvalidScope            = &Error{Kind: KindValidation, Code: CodeInvalidScope}
	ErrUnsupportedResponseType = &Error{Kind: KindValidation, Code: CodeUnsupportedResponseType}
	ErrUnsupportedGrantType    = &Error{Kind: KindValidation, Code: CodeUnsupportedGrantType}
)

const (
	CodeMFARequired             = "mfa_required"
	CodeInvalidRequest          = "invalid_request"
	CodeInvalidClient           = "invalid_client"
	CodeInvalidGrant            = "invalid_grant"
	CodeInvalidScope            = "invalid_scope"
	CodeUnsupportedResponseType = "unsupported_response_type"
	CodeUnsupportedGrantType    = "unsupported_grant_type"

	// DataMFAToken is the Data key carrying the MFA token on an mfa_required error.
	DataMFAToken = "mfa_token"
	// DataProvider is the Data key naming the SSO provider on a federated authentication failure.
	DataProvider = "provider"
)

func NotAuthenticated(msg string) error {
	return &Error{Kind: KindNotAuthenticated, Message: msg}
}

func EntityLocked() error {
	return &Error{Kind: KindNotAuthenticated, Code: ErrEntityLocked.Code, Message: "credential locked"}
}

func Forbidden(msg string) error {
	return &Error{Kind: KindForbiddenAccess, Message: msg}
}

// MFARequired is returned by a successful password check when a second factor is still needed.
func MFARequired(mfaToken string) error {
	return &Error{
		Kind:    KindForbiddenAccess,
		Code:    CodeMFARequired,
		Message: "multi-factor authentication required",
		Data:    map[string]string{DataMFAToken: mfaToken},
	}
}

func NotFound(msg string) error {
	return &Error{Kind: KindEntityNotFound, Message: msg}
}

func Precondition(code, msg string) error {
	return &Error{Kind: KindPreconditionViolation, Code: code, Message: msg}
}

// Invalid builds a validation error carrying an OAuth2 error code.
func Invalid(code, msg string) error {
	return &Error{Kind: KindValidation, Code: code, Message: msg}
}

// AsError unwraps err into a *Error.
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
