package jwtx

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Supported JWT signing algorithms.
const (
	AlgorithmRS256 = "RS256"
	AlgorithmES256 = "ES256"
	AlgorithmEdDSA = "EdDSA"
)

// Signer signs JWTs with one private key identified by its kid.
type Signer interface {
	Alg() string
	KID() string
	Sign(claims jwt.Claims) (string, error)
	PublicJWK() JWK
}

type keySigner struct {
	kid    string
	method jwt.SigningMethod
	key    crypto.Signer
}

// NewSigner parses a PEM private key (PKCS8, or PKCS1 for RSA) and binds it
// to alg. The key type must match the algorithm.
func NewSigner(alg, kid string, pemKey []byte) (Signer, error) {
	block, _ := pem.Decode(pemKey)
	if block == nil {
		return nil, errors.New("jwtx: invalid PEM private key")
	}

	var parsed any
	var err error
	switch block.Type {
	case "PRIVATE KEY":
		parsed, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	case "RSA PRIVATE KEY":
		parsed, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	default:
		return nil, fmt.Errorf("jwtx: unsupported PEM block %q", block.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("jwtx: parse private key: %w", err)
	}

	s := &keySigner{kid: kid}
	switch alg {
	case AlgorithmRS256:
		k, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("jwtx: RS256 requires an RSA key")
		}
		s.method, s.key = jwt.SigningMethodRS256, k
	case AlgorithmES256:
		k, ok := parsed.(*ecdsa.PrivateKey)
		if !ok || k.Curve.Params().Name != "P-256" {
			return nil, errors.New("jwtx: ES256 requires a P-256 ECDSA key")
		}
		s.method, s.key = jwt.SigningMethodES256, k
	case AlgorithmEdDSA:
		k, ok := parsed.(ed25519.PrivateKey)
		if !ok {
			return nil, errors.New("jwtx: EdDSA requires an Ed25519 key")
		}
		s.method, s.key = jwt.SigningMethodEdDSA, k
	default:
		return nil, fmt.Errorf("jwtx: unsupported algorithm %q", alg)
	}
	return s, nil
}

func (s *keySigner) Alg() string { return s.method.Alg() }
func (s *keySigner) KID() string { return s.kid }

func (s *keySigner) Sign(claims jwt.Claims) (string, error) {
	t := jwt.NewWithClaims(s.method, claims)
	t.Header["kid"] = s.kid
	return t.SignedString(s.key)
}

func (s *keySigner) PublicJWK() JWK {
	jwk, _ := NewJWK(s.kid, s.Alg(), s.key.Public())
	return jwk
}
