package key

import (
	"context"
	"crypto"
	"errors"
	"log/slog"

	"github.com/zarvd/jwks-authorizer/internal/metrics"
)

var (
	ErrUnknownKey           = errors.New("unknown signing key id")
	ErrKeySourceUnavailable = errors.New("signing key source unavailable")
)

const (
	skipUnsupported = "unsupported"
	skipMalformed   = "malformed"
)

type PublicKey struct {
	KeyID string
	Key   crypto.PublicKey
}

// Source produces the full, current set of verification keys. Each call is a
// complete replacement for the previous result.
type Source interface {
	FetchKeys(ctx context.Context) ([]*PublicKey, error)
}

func skipKey(logger *slog.Logger, keyID, reason string, err error) {
	metrics.KeysSkippedTotal.WithLabelValues(reason).Inc()
	logger.Warn("Skipping signing key",
		slog.String("key-id", keyID),
		slog.String("reason", reason),
		slog.Any("error", err),
	)
}
