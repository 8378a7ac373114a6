package identity_test

import (
	"net/http"
	"testing"

	"github.com/aussiebroadwan/nativeid/pkg/idsdk"
	"github.com/stretchr/testify/require"
)

// TestRateLimitAuthenticate runs with production limits: the strict bucket allows five calls a
// minute per address.
func TestRateLimitAuthenticate(t *testing.T) {
	in := setupIdentityContainer(t, map[string]string{
		"RATELIMIT_STRICT_REQUESTS":   "5",
		"RATELIMIT_STRICT_WINDOW_SEC": "60",
		"RATELIMIT_STRICT_BURST":      "5",
	})
	c := in.client()

	for i := range 5 {
		_, err := c.Authenticate(t.Context(), "nobody@example.com", "wrong")
		requireOAuth2Error(t, err, http.StatusUnauthorized, idsdk.ErrorCodeAccessDenied)
		t.Logf("request %d rejected as unauthenticated", i+1)
	}

	_, err := c.Authenticate(t.Context(), "nobody@example.com", "wrong")
	var oe *idsdk.OAuth2Error
	require.ErrorAs(t, err, &oe)
	require.Equal(t, http.StatusTooManyRequests, oe.StatusCode)
}
