package http

import (
	"net/http"
	"testing"
	"time"

	"github.com/aussiebroadwan/nativeid/pkg/idsdk"
	"github.com/stretchr/testify/require"
)

func TestAdminRoutesRequireRole(t *testing.T) {
	t.Parallel()
	s := newServer(t)
	_, member := s.signIn("alice@example.com")

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/v1/clients"},
		{http.MethodPost, "/v1/clients"},
		{http.MethodGet, "/v1/admin/keys"},
		{http.MethodPost, "/v1/admin/keys/rotate"},
		{http.MethodPost, "/v1/invites"},
		{http.MethodPut, "/v1/admin/users/someone/lock"},
	}
	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			require.Equal(t, http.StatusUnauthorized, s.do(rt.method, rt.path, "").StatusCode)
			require.Equal(t, http.StatusForbidden, s.do(rt.method, rt.path, member).StatusCode)
		})
	}
}

func TestClientAdministration(t *testing.T) {
	t.Parallel()
	s := newServer(t)
	admin := s.adminToken(testTenant)
	other := s.adminToken("tenant-b")

	created, err := s.api.CreateClient(s.ctx(), admin, idsdk.CreateClientRequest{
		Name:         "Billing",
		RedirectURI:  callbackURI,
		Confidential: true,
		Protected:    true,
	})
	require.NoError(t, err)
	require.False(t, created.Public)
	require.Len(t, created.Secrets, 1)
	require.Equal(t, created.SecretID, created.Secrets[0].ID)

	t.Run("get", func(t *testing.T) {
		resp := s.do(http.MethodGet, "/v1/clients/"+created.ID, admin)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("other tenants cannot see the client", func(t *testing.T) {
		resp := s.do(http.MethodGet, "/v1/clients/"+created.ID, other)
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("protected clients cannot be deleted", func(t *testing.T) {
		resp := s.do(http.MethodDelete, "/v1/clients/"+created.ID, admin)
		require.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("invalid redirect uri", func(t *testing.T) {
		_, err := s.api.CreateClient(s.ctx(), admin, idsdk.CreateClientRequest{
			Name:        "Broken",
			RedirectURI: "not a uri",
		})
		requireOAuth2Error(t, err, http.StatusBadRequest, idsdk.ErrorCodeInvalidRequest)
	})

	t.Run("unprotected clients can be deleted", func(t *testing.T) {
		c, err := s.api.CreateClient(s.ctx(), admin, idsdk.CreateClientRequest{Name: "Temp", RedirectURI: callbackURI})
		require.NoError(t, err)
		require.True(t, c.Public)
		require.Empty(t, c.ClientSecret)

		require.Equal(t, http.StatusNoContent, s.do(http.MethodDelete, "/v1/clients/"+c.ID, admin).StatusCode)
		require.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/v1/clients/"+c.ID, admin).StatusCode)
	})
}

func TestUserAdministration(t *testing.T) {
	t.Parallel()
	s := newServer(t)
	admin := s.adminToken(testTenant)
	u := s.register("alice@example.com")

	require.NoError(t, s.api.SetLocked(s.ctx(), admin, u.ID, true))
	_, err := s.api.Authenticate(s.ctx(), "alice@example.com", testPassword)
	requireOAuth2Error(t, err, http.StatusUnauthorized, idsdk.ErrorCodeAccessDenied)

	require.NoError(t, s.api.SetLocked(s.ctx(), admin, u.ID, false))
	_, err = s.api.Authenticate(s.ctx(), "alice@example.com", testPassword)
	require.NoError(t, err)

	t.Run("other tenants see not found", func(t *testing.T) {
		err := s.api.SetLocked(s.ctx(), s.adminToken("tenant-b"), u.ID, true)
		requireOAuth2Error(t, err, http.StatusNotFound, idsdk.ErrorCodeNotFound)
	})

	t.Run("mint invite", func(t *testing.T) {
		token, err := s.api.MintInvite(s.ctx(), admin, idsdk.MintInviteRequest{
			Roles:     []string{"member"},
			ExpiresAt: time.Now().Add(time.Hour),
		})
		require.NoError(t, err)
		require.NotEmpty(t, token)

		_, err = s.api.MintInvite(s.ctx(), admin, idsdk.MintInviteRequest{
			Roles:     []string{adminRole},
			ExpiresAt: time.Now().Add(time.Hour),
			Reusable:  true,
		})
		requireOAuth2Error(t, err, http.StatusBadRequest, idsdk.ErrorCodeInvalidRequest)
	})
}

func TestKeyAdministration(t *testing.T) {
	t.Parallel()
	s := newServer(t)
	admin := s.adminToken(testTenant)
	before := s.keys.SignerKIDs()

	rotated, err := s.api.RotateKeys(s.ctx(), admin, true)
	require.NoError(t, err)
	require.NotEmpty(t, rotated.NewKID)
	require.ElementsMatch(t, before, rotated.RetiredKIDs)
	require.Equal(t, 1, rotated.ActiveKeys)

	keys, err := s.api.ListKeys(s.ctx(), admin)
	require.NoError(t, err)
	var active []string
	for _, k := range keys {
		if k.Active {
			active = append(active, k.Kid)
		}
	}
	require.Equal(t, []string{rotated.NewKID}, active)

	// Retired keys stay published for tokens minted before the rotation.
	kids, err := s.api.JWKS(s.ctx())
	require.NoError(t, err)
	require.Contains(t, kids, rotated.NewKID)

	t.Run("the last signing key cannot be retired", func(t *testing.T) {
		resp := s.do(http.MethodDelete, "/v1/admin/keys/"+rotated.NewKID, s.adminToken(testTenant))
		require.Equal(t, http.StatusConflict, resp.StatusCode)
	})
}
