package domain

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"time"

	"github.com/aussiebroadwan/nativeid/pkg/cryptox"
)

const (
	PKCEMethodPlain = "plain"
	PKCEMethodS256  = "S256"
)

// Authorization is the OIDC aggregate for one (client, user) pair. It holds the outstanding
// authorization code and the digests of the tokens issued from it.
type Authorization struct {
	ID                  string
	ClientID            string
	UserID              string
	Scopes              []string
	Nonce               string
	State               string
	RedirectURI         string
	CodeChallenge       string
	CodeChallengeMethod string
	CodeDigest          string
	CodeExpiresAt       *time.Time
	CodeExchangedAt     *time.Time
	AccessTokenDigest   string
	AccessExpiresAt     *time.Time
	RefreshTokenDigest  string
	RefreshExpiresAt    *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
	Version             int64
}

// CodeGrant carries the parameters bound to a freshly minted code.
type CodeGrant struct {
	CodeDigest          string
	RedirectURI         string
	Scopes              []string
	State               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
	ExpiresAt           time.Time
}

// IssueCode binds a new code to the aggregate. Any previous code, exchanged or not, is replaced;
// tokens issued from an earlier exchange are left intact.
func (a *Authorization) IssueCode(g CodeGrant) {
	a.CodeDigest = g.CodeDigest
	a.RedirectURI = g.RedirectURI
	a.Scopes = NormalizeScopes(g.Scopes)
	a.State = g.State
	a.Nonce = g.Nonce
	a.CodeChallenge = g.CodeChallenge
	a.CodeChallengeMethod = g.CodeChallengeMethod
	exp := g.ExpiresAt
	a.CodeExpiresAt = &exp
	a.CodeExchangedAt = nil
}

// IsExchanged reports whether the current code has been redeemed.
func (a Authorization) IsExchanged() bool { return a.CodeExchangedAt != nil }

// ExchangeCode redeems the code exactly once. It enforces expiry, single use, the redirect URI and
// the PKCE verifier. Every failure is invalid_grant.
func (a *Authorization) ExchangeCode(code, redirectURI, verifier string, now time.Time) error {
	if a.CodeDigest == "" || !cryptox.EqualFingerprint(code, a.CodeDigest) {
		return Invalid(CodeInvalidGrant, "authorization code not recognised")
	}
	if a.CodeExchangedAt != nil {
		return Invalid(CodeInvalidGrant, "authorization code already used")
	}
	if a.CodeExpiresAt == nil || !now.Before(*a.CodeExpiresAt) {
		return Invalid(CodeInvalidGrant, "authorization code expired")
	}
	if a.RedirectURI != redirectURI {
		return Invalid(CodeInvalidGrant, "redirect_uri mismatch")
	}
	if !VerifyCodeVerifier(a.CodeChallenge, a.CodeChallengeMethod, verifier) {
		return Invalid(CodeInvalidGrant, "code_verifier mismatch")
	}
	a.CodeExchangedAt = &now
	return nil
}

// RecordTokens stores digests of freshly issued tokens, replacing any previous pair.
func (a *Authorization) RecordTokens(accessDigest string, accessExp time.Time, refreshDigest string, refreshExp time.Time) {
	a.AccessTokenDigest = accessDigest
	a.AccessExpiresAt = &accessExp
	a.RefreshTokenDigest = refreshDigest
	a.RefreshExpiresAt = &refreshExp
}

func (a *Authorization) RevokeTokens() {
	a.AccessTokenDigest = ""
	a.AccessExpiresAt = nil
	a.RefreshTokenDigest = ""
	a.RefreshExpiresAt = nil
}

func (a Authorization) AccessValid(now time.Time) bool {
	return a.AccessTokenDigest != "" && a.AccessExpiresAt != nil && now.Before(*a.AccessExpiresAt)
}

func (a Authorization) RefreshValid(now time.Time) bool {
	return a.RefreshTokenDigest != "" && a.RefreshExpiresAt != nil && now.Before(*a.RefreshExpiresAt)
}

// ValidPKCEMethod reports whether method is plain or S256.
func ValidPKCEMethod(method string) bool {
	return method == PKCEMethodPlain || method == PKCEMethodS256
}

// S256Challenge derives the S256 code challenge for a verifier.
func S256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// VerifyCodeVerifier checks a PKCE verifier. With no stored challenge any verifier is accepted.
func VerifyCodeVerifier(challenge, method, verifier string) bool {
	if challenge == "" {
		return true
	}
	if verifier == "" {
		return false
	}
	var expected string
	switch method {
	case PKCEMethodPlain:
		expected = verifier
	case PKCEMethodS256:
		expected = S256Challenge(verifier)
	default:
		return false
	}
	return subtle.ConstantTimeCompare([]byte(challenge), []byte(expected)) == 1
}
