package jwtx

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMalformed   = errors.New("jwtx: malformed token")
	ErrUnknownKID  = errors.New("jwtx: unknown kid")
	ErrInvalidSig  = errors.New("jwtx: invalid signature")
	ErrIssuer      = errors.New("jwtx: issuer mismatch")
	ErrAudience    = errors.New("jwtx: audience mismatch")
	ErrExpired     = errors.New("jwtx: token expired")
	ErrNotYetValid = errors.New("jwtx: token not yet valid")
	ErrTokenUse    = errors.New("jwtx: unexpected token_use")
)

// Verifier validates a JWT and returns its claims.
type Verifier interface {
	Verify(token string) (Claims, error)
}

// KeySetVerifier verifies tokens against the public keys of a KeySet,
// selected by the "kid" header.
type KeySetVerifier struct {
	Keys      *KeySet
	Algorithm string
	Issuer    string
	Audience  []string
	Leeway    time.Duration
}

// NewVerifier returns a verifier accepting only alg.
func NewVerifier(keys *KeySet, alg, issuer string, audience []string) *KeySetVerifier {
	return &KeySetVerifier{Keys: keys, Algorithm: alg, Issuer: issuer, Audience: audience, Leeway: 30 * time.Second}
}

// Verify parses and validates signature, issuer, expiry and audience.
func (v *KeySetVerifier) Verify(token string) (Claims, error) {
	var c Claims
	if err := v.VerifyInto(token, &c); err != nil {
		return Claims{}, err
	}
	if err := c.ValidateAudience(v.Audience); err != nil {
		return Claims{}, err
	}
	return c, nil
}

// VerifyInto is Verify for arbitrary claim types (e.g. IDClaims).
func (v *KeySetVerifier) VerifyInto(token string, claims jwt.Claims) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{v.Algorithm}),
		jwt.WithLeeway(v.Leeway),
		jwt.WithExpirationRequired(),
	}
	if v.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.Issuer))
	}

	_, err := jwt.NewParser(opts...).ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, ErrUnknownKID
		}
		pub, err := v.Keys.Get(kid)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrUnknownKID, kid)
		}
		return pub, nil
	})
	return mapParseError(err)
}

func mapParseError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUnknownKID):
		return ErrUnknownKID
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return ErrNotYetValid
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return ErrIssuer
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrInvalidSig
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}
