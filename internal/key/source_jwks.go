package key

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/zarvd/jwks-authorizer/internal/jwk"
)

const (
	DefaultRequestTimeout = 10 * time.Second

	maxJWKSBytes = 1 << 20
)

var ErrJWKSTooLarge = errors.New("JWKS response exceeds 1 MiB")

var _ Source = (*JWKSSource)(nil)

// JWKSSource fetches keys from a JWKS endpoint over HTTP.
type JWKSSource struct {
	logger        *slog.Logger
	url           string
	client        *http.Client
	authorization string
}

type JWKSOption func(*JWKSSource)

// WithAuthorization sends value as the Authorization header of every request.
func WithAuthorization(value string) JWKSOption {
	return func(s *JWKSSource) {
		s.authorization = value
	}
}

// NewJWKSSource uses a client with DefaultRequestTimeout when client is nil.
func NewJWKSSource(logger *slog.Logger, url string, client *http.Client, opts ...JWKSOption) *JWKSSource {
	if client == nil {
		client = &http.Client{Timeout: DefaultRequestTimeout}
	}
	s := &JWKSSource{
		logger: logger.With(slog.String("source", "jwks"), slog.String("url", url)),
		url:    url,
		client: client,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *JWKSSource) FetchKeys(ctx context.Context) ([]*PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to build request: %w", ErrKeySourceUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	if s.authorization != "" {
		req.Header.Set("Authorization", s.authorization)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET %s: %w", ErrKeySourceUnavailable, s.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: GET %s returned %s", ErrKeySourceUnavailable, s.url, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %w", ErrKeySourceUnavailable, err)
	}
	if len(body) > maxJWKSBytes {
		return nil, fmt.Errorf("%w: %w", ErrKeySourceUnavailable, ErrJWKSTooLarge)
	}

	entries, skipped, err := jwk.ParseSet(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeySourceUnavailable, err)
	}
	for _, err := range skipped {
		skipKey(s.logger, "", skipMalformed, err)
	}

	keys := make([]*PublicKey, 0, len(entries))
	for _, entry := range entries {
		if entry.KeyID == "" {
			skipKey(s.logger, "", skipMalformed, errors.New("key has no kid"))
			continue
		}
		pub, err := jwk.Decode(entry)
		if err != nil {
			reason := skipMalformed
			if errors.Is(err, jwk.ErrUnsupportedKey) {
				reason = skipUnsupported
			}
			skipKey(s.logger, entry.KeyID, reason, err)
			continue
		}
		keys = append(keys, &PublicKey{KeyID: entry.KeyID, Key: pub})
	}

	s.logger.Debug("Fetched JWKS", slog.Int("num-entries", len(entries)), slog.Int("num-keys", len(keys)))
	return keys, nil
}
