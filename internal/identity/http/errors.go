package http

import (
	"errors"
	"net/http"

	"github.com/aussiebroadwan/nativeid/internal/identity/domain"
	"github.com/aussiebroadwan/nativeid/pkg/idsdk"
	"github.com/aussiebroadwan/nativeid/pkg/slogx"
)

// writeError renders an engine error as an OAuth2 error body. Errors outside the domain taxonomy
// are logged and hidden behind server_error.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var de *domain.Error
	if !errors.As(err, &de) {
		slogx.FromContext(r.Context()).Error("request failed",
			"err", err,
			"path", r.URL.Path,
		)
		idsdk.ErrServerError.WriteError(w)
		return
	}
	toOAuth2Error(de).WriteError(w)
}

func toOAuth2Error(e *domain.Error) *idsdk.OAuth2Error {
	switch e.Kind {
	case domain.KindNotAuthenticated:
		// Locked, unknown and wrong-password failures must look identical.
		return idsdk.ErrNotAuthenticated

	case domain.KindForbiddenAccess:
		if e.Code == domain.CodeMFARequired {
			return &idsdk.OAuth2Error{
				StatusCode:  http.StatusForbidden,
				Code:        idsdk.ErrorCodeMFARequired,
				Description: describe(e, "multi-factor authentication required"),
				MFAToken:    e.Value(domain.DataMFAToken),
			}
		}
		return idsdk.NewOAuth2Error(http.StatusForbidden, idsdk.ErrorCodeAccessDenied, describe(e, "access denied"))

	case domain.KindEntityNotFound:
		return idsdk.NewOAuth2Error(http.StatusNotFound, idsdk.ErrorCodeNotFound, describe(e, "resource not found"))

	case domain.KindPreconditionViolation:
		code := e.Code
		if code == "" {
			code = idsdk.ErrorCodePreconditionFailed
		}
		return idsdk.NewOAuth2Error(http.StatusConflict, code, describe(e, "precondition failed"))

	case domain.KindValidation:
		code := e.Code
		if code == "" {
			code = idsdk.ErrorCodeInvalidRequest
		}
		status := http.StatusBadRequest
		if code == idsdk.ErrorCodeInvalidClient {
			status = http.StatusUnauthorized
		}
		return idsdk.NewOAuth2Error(status, code, describe(e, "invalid request"))
	}
	return idsdk.ErrServerError
}

func describe(e *domain.Error, fallback string) string {
	if e.Message != "" {
		return e.Message
	}
	return fallback
}
