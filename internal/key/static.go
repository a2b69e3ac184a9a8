package key

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"slices"
)

var _ Source = (*StaticSource)(nil)

// DecodeRSAPublicKey accepts PKIX ("PUBLIC KEY") and PKCS#1
// ("RSA PUBLIC KEY") PEM blocks.
func DecodeRSAPublicKey(p string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(p))
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}
	if block.Type == "RSA PUBLIC KEY" {
		publicKey, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse public key: %w", err)
		}
		return publicKey, nil
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	publicKey, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, not RSA", pub)
	}
	return publicKey, nil
}

// StaticSource serves a fixed key set.
type StaticSource struct {
	keys []*PublicKey
}

// NewStaticSource decodes PEM public keys indexed by key id.
func NewStaticSource(pems map[string]string) (*StaticSource, error) {
	ids := make([]string, 0, len(pems))
	for id := range pems {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	s := &StaticSource{}
	for _, id := range ids {
		publicKey, err := DecodeRSAPublicKey(pems[id])
		if err != nil {
			return nil, fmt.Errorf("static key %q: %w", id, err)
		}
		s.keys = append(s.keys, &PublicKey{KeyID: id, Key: publicKey})
	}
	return s, nil
}

func (s *StaticSource) FetchKeys(context.Context) ([]*PublicKey, error) {
	return slices.Clone(s.keys), nil
}
