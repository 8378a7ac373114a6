package http

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/nativeid/pkg/idsdk"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
)

func TestAuthenticate(t *testing.T) {
	t.Parallel()
	s := newServer(t)
	u := s.register("alice@example.com")

	t.Run("success sets the session cookie", func(t *testing.T) {
		body := strings.NewReader(`{"username":"alice@example.com","password":"` + testPassword + `"}`)
		resp, err := s.api.HTTPClient.Post(s.srv.URL+"/v1/authenticate", "application/json", body)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

		var session *http.Cookie
		for _, c := range resp.Cookies() {
			if c.Name == SessionCookieName {
				session = c
			}
		}
		require.NotNil(t, session)
		require.True(t, session.HttpOnly)
		require.Equal(t, "/oauth2/authorize", session.Path)

		claims, err := s.keys.Verifier.Verify(session.Value)
		require.NoError(t, err)
		require.Equal(t, u.ID, claims.Subject)
		require.Equal(t, testTenant, claims.TenantID)
	})

	t.Run("failures are indistinguishable", func(t *testing.T) {
		_, wrongPassword := s.api.Authenticate(s.ctx(), "alice@example.com", "nope")
		_, unknownUser := s.api.Authenticate(s.ctx(), "nobody@example.com", testPassword)

		a := requireOAuth2Error(t, wrongPassword, http.StatusUnauthorized, idsdk.ErrorCodeAccessDenied)
		b := requireOAuth2Error(t, unknownUser, http.StatusUnauthorized, idsdk.ErrorCodeAccessDenied)
		require.Equal(t, a.Description, b.Description)
	})

	t.Run("refresh session", func(t *testing.T) {
		tokens, err := s.api.Authenticate(s.ctx(), "alice@example.com", testPassword)
		require.NoError(t, err)
		require.NotEmpty(t, tokens.RefreshToken)

		refreshed, err := s.api.RefreshSession(s.ctx(), tokens.RefreshToken)
		require.NoError(t, err)
		require.NotEmpty(t, refreshed.AccessToken)

		_, err = s.api.RefreshSession(s.ctx(), "garbage")
		require.Error(t, err)
	})

	t.Run("malformed body", func(t *testing.T) {
		resp, err := s.api.HTTPClient.Post(s.srv.URL+"/v1/authenticate", "application/json",
			strings.NewReader(`{"username":`))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestRegistration(t *testing.T) {
	t.Parallel()
	s := newServer(t)

	t.Run("unconfirmed accounts cannot sign in", func(t *testing.T) {
		require.NoError(t, s.api.Register(s.ctx(), idsdk.RegisterRequest{
			Username: "pending@example.com",
			Password: testPassword,
		}))
		_, err := s.api.Authenticate(s.ctx(), "pending@example.com", testPassword)
		requireOAuth2Error(t, err, http.StatusConflict, "registration_pending")
	})

	t.Run("tenant is required", func(t *testing.T) {
		anon := idsdk.NewClient(s.srv.URL)
		err := anon.Register(s.ctx(), idsdk.RegisterRequest{Username: "x@example.com", Password: testPassword})
		requireOAuth2Error(t, err, http.StatusBadRequest, idsdk.ErrorCodeInvalidRequest)
	})

	t.Run("unknown confirmation token", func(t *testing.T) {
		err := s.api.ConfirmRegistration(s.ctx(), "not-a-token")
		require.Error(t, err)
	})

	t.Run("invalid username", func(t *testing.T) {
		err := s.api.Register(s.ctx(), idsdk.RegisterRequest{Username: "not an email", Password: testPassword})
		requireOAuth2Error(t, err, http.StatusBadRequest, idsdk.ErrorCodeInvalidRequest)
	})
}

func TestMFAOverHTTP(t *testing.T) {
	t.Parallel()
	s := newServer(t)
	_, session := s.signIn("alice@example.com")

	enrol, err := s.api.MFAAssociate(s.ctx(), session, idsdk.MFAAssociateRequest{AuthenticatorType: "otp"})
	require.NoError(t, err)
	require.NotEmpty(t, enrol.Secret)
	require.NotEmpty(t, enrol.RecoveryCodes)

	code, err := totp.GenerateCode(enrol.Secret, time.Now())
	require.NoError(t, err)
	confirmed, auths, err := s.api.MFAConfirm(s.ctx(), session, idsdk.MFAConfirmRequest{
		AuthenticatorID: enrol.AuthenticatorID,
		OTP:             code,
	})
	require.NoError(t, err)
	require.Nil(t, confirmed, "a signed-in caller is not issued new tokens")
	require.Len(t, auths, 2)
	for _, a := range auths {
		require.Equal(t, "active", a.Status)
	}

	list, err := s.api.ListAuthenticators(s.ctx(), session)
	require.NoError(t, err)
	require.NotEmpty(t, list)

	_, err = s.api.Authenticate(s.ctx(), "alice@example.com", testPassword)
	oe := requireOAuth2Error(t, err, http.StatusForbidden, idsdk.ErrorCodeMFARequired)
	mfaToken, ok := idsdk.MFATokenFrom(err)
	require.True(t, ok)
	require.Equal(t, oe.MFAToken, mfaToken)

	t.Run("wrong code", func(t *testing.T) {
		_, err := s.api.MFAVerify(s.ctx(), "", idsdk.MFAConfirmRequest{MFAToken: mfaToken, OTP: "000000"})
		requireOAuth2Error(t, err, http.StatusBadRequest, idsdk.ErrorCodeInvalidGrant)
	})

	t.Run("recovery code completes the login", func(t *testing.T) {
		tokens, err := s.api.MFAVerify(s.ctx(), "", idsdk.MFAConfirmRequest{
			MFAToken:     mfaToken,
			RecoveryCode: enrol.RecoveryCodes[0],
		})
		require.NoError(t, err)
		require.NotNil(t, tokens)

		claims, err := s.keys.Verifier.Verify(tokens.AccessToken)
		require.NoError(t, err)
		require.Contains(t, claims.AMR, "mfa")
	})

	t.Run("anonymous list is rejected", func(t *testing.T) {
		_, err := s.api.ListAuthenticators(s.ctx(), "")
		requireOAuth2Error(t, err, http.StatusUnauthorized, "invalid_token")
	})
}
