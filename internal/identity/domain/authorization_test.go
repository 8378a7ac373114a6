package domain

import (
	"testing"
	"time"

	"github.com/aussiebroadwan/nativeid/pkg/cryptox"
	"github.com/stretchr/testify/require"
)

func TestVerifyCodeVerifier(t *testing.T) {
	t.Parallel()

	t.Run("plain verifier must match challenge", func(t *testing.T) {
		require.True(t, VerifyCodeVerifier("verifier", PKCEMethodPlain, "verifier"))
		require.False(t, VerifyCodeVerifier("verifier", PKCEMethodPlain, "other"))
	})

	t.Run("S256 verifier computes hash", func(t *testing.T) {
		challenge := S256Challenge("example-verifier")
		require.True(t, VerifyCodeVerifier(challenge, PKCEMethodS256, "example-verifier"))
		require.False(t, VerifyCodeVerifier(challenge, PKCEMethodS256, "wrong"))
		require.False(t, VerifyCodeVerifier(challenge, PKCEMethodS256, ""))
	})

	t.Run("empty challenge accepts any verifier", func(t *testing.T) {
		require.True(t, VerifyCodeVerifier("", "", "anything"))
	})

	t.Run("unknown method rejected", func(t *testing.T) {
		require.False(t, VerifyCodeVerifier("x", "S512", "x"))
	})
}

func TestAuthorizationExchangeCode(t *testing.T) {
	t.Parallel()

	now := time.Now()
	newAuthz := func() *Authorization {
		a := &Authorization{ClientID: "C1", UserID: "u1"}
		a.IssueCode(CodeGrant{
			CodeDigest:          cryptox.FingerprintToken("ABC123"),
			RedirectURI:         "https://app/callback",
			Scopes:              []string{"openid", "profile", "openid"},
			CodeChallenge:       S256Challenge("verifier"),
			CodeChallengeMethod: PKCEMethodS256,
			ExpiresAt:           now.Add(time.Minute),
		})
		return a
	}

	t.Run("exchanges exactly once", func(t *testing.T) {
		a := newAuthz()
		require.Equal(t, []string{"openid", "profile"}, a.Scopes)
		require.NoError(t, a.ExchangeCode("ABC123", "https://app/callback", "verifier", now))
		require.True(t, a.IsExchanged())

		err := a.ExchangeCode("ABC123", "https://app/callback", "verifier", now)
		require.ErrorIs(t, err, ErrInvalidGrant)
	})

	t.Run("rejects wrong verifier", func(t *testing.T) {
		a := newAuthz()
		require.ErrorIs(t, a.ExchangeCode("ABC123", "https://app/callback", "nope", now), ErrInvalidGrant)
		require.False(t, a.IsExchanged())
	})

	t.Run("rejects redirect mismatch", func(t *testing.T) {
		a := newAuthz()
		require.ErrorIs(t, a.ExchangeCode("ABC123", "https://evil/callback", "verifier", now), ErrInvalidGrant)
	})

	t.Run("rejects expired code", func(t *testing.T) {
		a := newAuthz()
		require.ErrorIs(t, a.ExchangeCode("ABC123", "https://app/callback", "verifier", now.Add(time.Hour)), ErrInvalidGrant)
	})

	t.Run("rejects unknown code", func(t *testing.T) {
		a := newAuthz()
		require.ErrorIs(t, a.ExchangeCode("XYZ", "https://app/callback", "verifier", now), ErrInvalidGrant)
	})

	t.Run("reissue keeps recorded tokens", func(t *testing.T) {
		a := newAuthz()
		require.NoError(t, a.ExchangeCode("ABC123", "https://app/callback", "verifier", now))
		a.RecordTokens("acc", now.Add(time.Hour), "ref", now.Add(24*time.Hour))
		a.IssueCode(CodeGrant{CodeDigest: "new", ExpiresAt: now.Add(time.Minute)})
		require.False(t, a.IsExchanged())
		require.True(t, a.AccessValid(now))
		a.RevokeTokens()
		require.False(t, a.AccessValid(now))
		require.False(t, a.RefreshValid(now))
	})
}

func TestConsentCovers(t *testing.T) {
	t.Parallel()

	var c Consent
	require.False(t, c.Covers([]string{"openid"}))
	c.Grant([]string{"openid", "profile"})
	require.True(t, c.Covers([]string{"openid"}))
	require.False(t, c.Covers([]string{"openid", "email"}))
	c.Revoke()
	require.False(t, c.Covers([]string{"openid"}))
}
