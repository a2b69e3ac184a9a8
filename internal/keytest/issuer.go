// Package keytest provides an in-memory token issuer with rotating RSA keys
// and the endpoints that publish its public keys.
package keytest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultMaxKeys = 10

type keyPair struct {
	keyID        string
	privateKey   *rsa.PrivateKey
	publicKeyDER []byte
}

// PublishedKey is a public key as listed by the issuer.
type PublishedKey struct {
	KeyID     string
	PublicKey *rsa.PublicKey
	DER       []byte
}

type Option func(*Issuer)

// WithMaxKeys bounds how many keys are published. Older keys fall out of the
// set on rotation.
func WithMaxKeys(n int) Option {
	return func(i *Issuer) {
		i.maxKeys = n
	}
}

func WithKeyBits(bits int) Option {
	return func(i *Issuer) {
		i.bits = bits
	}
}

// Issuer signs RS256 tokens with its active key and publishes the most
// recent keys.
type Issuer struct {
	logger  *slog.Logger
	maxKeys int
	bits    int

	mu        sync.Mutex
	seq       int
	active    *keyPair
	keys      []*keyPair
	rotatedAt time.Time
}

func NewIssuer(logger *slog.Logger, opts ...Option) (*Issuer, error) {
	i := &Issuer{
		logger:  logger,
		maxKeys: defaultMaxKeys,
		bits:    2048,
	}
	for _, opt := range opts {
		opt(i)
	}
	if _, err := i.Rotate(); err != nil {
		return nil, fmt.Errorf("failed to rotate key: %w", err)
	}
	return i, nil
}

// Rotate generates a new active key and returns its id.
func (i *Issuer) Rotate() (string, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, i.bits)
	if err != nil {
		return "", fmt.Errorf("failed to generate private key: %w", err)
	}
	publicKeyDER, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	i.seq++
	newKey := &keyPair{
		keyID:        fmt.Sprintf("%s-%d", time.Now().Format("20060102150405"), i.seq),
		privateKey:   privateKey,
		publicKeyDER: publicKeyDER,
	}
	i.active = newKey
	i.keys = append(i.keys, newKey)
	if len(i.keys) > i.maxKeys {
		i.keys = i.keys[len(i.keys)-i.maxKeys:]
	}
	i.rotatedAt = time.Now()
	i.logger.Info("Updated active key", slog.String("key-id", newKey.keyID), slog.Int("num-keys", len(i.keys)))

	return newKey.keyID, nil
}

func (i *Issuer) ActiveKeyID() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.active.keyID
}

func (i *Issuer) LastRotatedAt() time.Time {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.rotatedAt
}

func (i *Issuer) PublicKeys() []*PublishedKey {
	i.mu.Lock()
	defer i.mu.Unlock()

	rv := make([]*PublishedKey, 0, len(i.keys))
	for _, k := range i.keys {
		rv = append(rv, &PublishedKey{
			KeyID:     k.keyID,
			PublicKey: &k.privateKey.PublicKey,
			DER:       k.publicKeyDER,
		})
	}
	return rv
}

// Sign issues an RS256 token with the active key id in its header.
func (i *Issuer) Sign(claims jwt.Claims) (string, error) {
	i.mu.Lock()
	active := i.active
	i.mu.Unlock()

	return signWith(active.privateKey, active.keyID, claims)
}

// SignWithKeyID signs with the active key but advertises keyID instead. An
// empty keyID leaves the kid header out.
func (i *Issuer) SignWithKeyID(claims jwt.Claims, keyID string) (string, error) {
	i.mu.Lock()
	active := i.active
	i.mu.Unlock()

	return signWith(active.privateKey, keyID, claims)
}

func signWith(privateKey *rsa.PrivateKey, keyID string, claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if keyID != "" {
		token.Header["kid"] = keyID
	}
	signed, err := token.SignedString(privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// SignEncoded signs an already base64url encoded claims segment, the way an
// external signer receives it, and returns the encoded header and signature.
func (i *Issuer) SignEncoded(encodedClaims string) (header, signature string, err error) {
	i.mu.Lock()
	active := i.active
	i.mu.Unlock()

	token := jwt.New(jwt.SigningMethodRS256)
	token.Header["kid"] = active.keyID
	headerJSON, err := json.Marshal(token.Header)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal header: %w", err)
	}
	header = token.EncodeSegment(headerJSON)

	sig, err := token.Method.Sign(header+"."+encodedClaims, active.privateKey)
	if err != nil {
		return "", "", fmt.Errorf("failed to sign: %w", err)
	}
	return header, token.EncodeSegment(sig), nil
}
