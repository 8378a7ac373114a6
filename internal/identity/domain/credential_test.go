package domain

import (
	"testing"
	"time"

	"github.com/aussiebroadwan/nativeid/pkg/cryptox"
	"github.com/stretchr/testify/require"
)

func TestPersonCredentialAttach(t *testing.T) {
	t.Parallel()

	t.Run("replaces pending authenticator of the same type", func(t *testing.T) {
		var c PersonCredential
		require.False(t, c.Attach(MFAAuthenticator{ID: "a", Type: AuthenticatorOTP, Status: AuthenticatorUnconfirmed}))
		require.True(t, c.Attach(MFAAuthenticator{ID: "b", Type: AuthenticatorOTP, Status: AuthenticatorUnconfirmed}))
		require.Len(t, c.Authenticators, 1)
		require.Equal(t, "b", c.Authenticators[0].ID)
	})

	t.Run("keeps active authenticator of the same type", func(t *testing.T) {
		var c PersonCredential
		c.Attach(MFAAuthenticator{ID: "a", Type: AuthenticatorOTP, Status: AuthenticatorActive})
		require.False(t, c.Attach(MFAAuthenticator{ID: "b", Type: AuthenticatorOTP, Status: AuthenticatorUnconfirmed}))
		require.Len(t, c.Authenticators, 2)
	})

	t.Run("detach and factors", func(t *testing.T) {
		var c PersonCredential
		c.Attach(MFAAuthenticator{ID: "a", Type: AuthenticatorOTP, Status: AuthenticatorActive})
		c.Attach(MFAAuthenticator{ID: "r", Type: AuthenticatorRecoveryCodes, Status: AuthenticatorActive})
		require.Len(t, c.Factors(), 1)
		require.True(t, c.HasActiveFactor())
		require.True(t, c.Detach("a"))
		require.False(t, c.Detach("a"))
		require.False(t, c.HasActiveFactor())
		require.NotNil(t, c.RecoveryCodes())
	})
}

func TestPersonCredentialClone(t *testing.T) {
	t.Parallel()

	c := PersonCredential{Authenticators: []MFAAuthenticator{{ID: "a", RecoveryCodeDigests: []string{"x"}}}}
	cp := c.Clone()
	cp.Authenticators[0].ID = "b"
	cp.Authenticators[0].RecoveryCodeDigests[0] = "y"
	require.Equal(t, "a", c.Authenticators[0].ID)
	require.Equal(t, "x", c.Authenticators[0].RecoveryCodeDigests[0])
}

func TestPersonCredentialTokens(t *testing.T) {
	t.Parallel()

	now := time.Now()
	var c PersonCredential
	require.False(t, c.MFATokenValid(now))

	c.IssueMFAToken("digest", now.Add(time.Minute))
	require.True(t, c.MFATokenValid(now))
	require.False(t, c.MFATokenValid(now.Add(2*time.Minute)))

	c.ClearMFAToken()
	require.False(t, c.MFATokenValid(now))

	c.BeginRegistration("reg", now.Add(time.Hour))
	require.False(t, c.IsRegistered())
	require.False(t, c.RegistrationExpired(now))
	c.CompleteRegistration(now)
	require.True(t, c.IsRegistered())
	require.Empty(t, c.RegistrationTokenDigest)
}

func TestMFAAuthenticatorChallenge(t *testing.T) {
	t.Parallel()

	now := time.Now()
	a := MFAAuthenticator{Type: AuthenticatorOOBSMS}
	a.SetChallenge(cryptox.FingerprintToken("oob"), cryptox.FingerprintToken("123456"), now.Add(time.Minute))

	require.True(t, a.ChallengeMatches("oob", "123456", now))
	require.False(t, a.ChallengeMatches("oob", "654321", now))
	require.False(t, a.ChallengeMatches("other", "123456", now))
	require.False(t, a.ChallengeMatches("oob", "123456", now.Add(time.Hour)))

	a.ClearChallenge()
	require.False(t, a.ChallengeMatches("oob", "123456", now))
}

func TestConsumeRecoveryCode(t *testing.T) {
	t.Parallel()

	a := MFAAuthenticator{RecoveryCodeDigests: []string{
		cryptox.FingerprintToken("one"),
		cryptox.FingerprintToken("two"),
	}}
	require.True(t, a.ConsumeRecoveryCode("two"))
	require.False(t, a.ConsumeRecoveryCode("two"))
	require.Len(t, a.RecoveryCodeDigests, 1)
}
