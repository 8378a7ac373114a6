package http

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aussiebroadwan/nativeid/internal/identity/domain"
	"github.com/stretchr/testify/require"
)

func TestToOAuth2Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not authenticated", domain.NotAuthenticated("bad password"), http.StatusUnauthorized, "access_denied"},
		{"locked looks the same", domain.EntityLocked(), http.StatusUnauthorized, "access_denied"},
		{"mfa required", domain.MFARequired("tok"), http.StatusForbidden, "mfa_required"},
		{"forbidden", domain.Forbidden("nope"), http.StatusForbidden, "access_denied"},
		{"not found", domain.NotFound("missing"), http.StatusNotFound, "not_found"},
		{"precondition", domain.Precondition("client_protected", "protected"), http.StatusConflict, "client_protected"},
		{"invalid grant", domain.Invalid(domain.CodeInvalidGrant, "used"), http.StatusBadRequest, "invalid_grant"},
		{"invalid client", domain.Invalid(domain.CodeInvalidClient, "bad"), http.StatusUnauthorized, "invalid_client"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var de *domain.Error
			require.True(t, errors.As(tt.err, &de))
			oe := toOAuth2Error(de)
			require.Equal(t, tt.status, oe.StatusCode)
			require.Equal(t, tt.code, oe.Code)
		})
	}

	t.Run("authentication failures share one body", func(t *testing.T) {
		var a, b *domain.Error
		require.True(t, errors.As(domain.NotAuthenticated("unknown user"), &a))
		require.True(t, errors.As(domain.EntityLocked(), &b))
		require.Equal(t, toOAuth2Error(a), toOAuth2Error(b))
	})

	t.Run("mfa token is exposed", func(t *testing.T) {
		var de *domain.Error
		require.True(t, errors.As(domain.MFARequired("tok"), &de))
		require.Equal(t, "tok", toOAuth2Error(de).MFAToken)
	})
}

func TestWriteErrorHidesInternalErrors(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("database on fire"))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "fire")
}
