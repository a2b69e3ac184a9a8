// Package jwk decodes RFC 7517 JSON Web Keys into verifiable public keys.
package jwk

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
)

var (
	ErrUnsupportedKey = errors.New("unsupported JSON web key")
	ErrMalformedKey   = errors.New("malformed JSON web key")
)

const (
	KeyTypeRSA   = "RSA"
	UseSignature = "sig"

	// exponentAQAB is 65537, the exponent every mainstream issuer publishes.
	exponentAQAB = "AQAB"
)

// JSONWebKey is a single entry of a JWKS document. Only the members needed to
// build an RSA verification key are kept.
type JSONWebKey struct {
	KeyType   string `json:"kty"`
	Use       string `json:"use,omitempty"`
	KeyOps    KeyOps `json:"key_ops,omitempty"`
	Algorithm string `json:"alg,omitempty"`
	KeyID     string `json:"kid,omitempty"`
	E         string `json:"e,omitempty"`
	N         string `json:"n,omitempty"`
}

// NewRSASigningKey returns an RS256 signature key record with the common
// 65537 exponent.
func NewRSASigningKey(keyID, modulus string) JSONWebKey {
	return JSONWebKey{
		KeyType:   KeyTypeRSA,
		Use:       UseSignature,
		Algorithm: "RS256",
		KeyID:     keyID,
		E:         exponentAQAB,
		N:         modulus,
	}
}

func (k JSONWebKey) String() string {
	return fmt.Sprintf("JSONWebKey{kid=%s, kty=%s, use=%s, alg=%s}", k.KeyID, k.KeyType, k.Use, k.Algorithm)
}

// KeyOps accepts both the RFC 7517 array form and the single string some
// issuers emit.
type KeyOps []string

func (o *KeyOps) UnmarshalJSON(b []byte) error {
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		if single != "" {
			*o = KeyOps{single}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return fmt.Errorf("key_ops must be a string or an array of strings: %w", err)
	}
	*o = many
	return nil
}

// Decode converts an RSA signature key into an *rsa.PublicKey.
func Decode(k JSONWebKey) (*rsa.PublicKey, error) {
	if !strings.EqualFold(k.KeyType, KeyTypeRSA) || !strings.EqualFold(k.Use, UseSignature) {
		return nil, fmt.Errorf("%w: kid %q has kty=%q use=%q", ErrUnsupportedKey, k.KeyID, k.KeyType, k.Use)
	}

	n, err := decodeUint(k.N)
	if err != nil {
		return nil, fmt.Errorf("%w: kid %q modulus: %w", ErrMalformedKey, k.KeyID, err)
	}
	e, err := decodeUint(k.E)
	if err != nil {
		return nil, fmt.Errorf("%w: kid %q exponent: %w", ErrMalformedKey, k.KeyID, err)
	}

	if n.Sign() == 0 || n.Bit(0) == 0 {
		return nil, fmt.Errorf("%w: kid %q modulus must be a positive odd integer", ErrMalformedKey, k.KeyID)
	}
	if !e.IsInt64() || e.Int64() < 3 || e.Int64() > math.MaxInt32 || e.Bit(0) == 0 {
		return nil, fmt.Errorf("%w: kid %q exponent out of range", ErrMalformedKey, k.KeyID)
	}

	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

// decodeUint reads a Base64urlUInt value as an unsigned big-endian magnitude.
// Trailing padding is tolerated.
func decodeUint(s string) (*big.Int, error) {
	s = strings.TrimRight(s, "=")
	if s == "" {
		return nil, errors.New("empty value")
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("not base64url: %w", err)
	}
	return new(big.Int).SetBytes(b), nil
}
