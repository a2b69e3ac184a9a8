package key

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zarvd/jwks-authorizer/internal/metrics"
)

// DefaultRotationCooldown bounds how often an unknown key id may force a
// refetch of the key set.
const DefaultRotationCooldown = 5 * time.Minute

type Option func(*Resolver)

func WithRotationCooldown(d time.Duration) Option {
	return func(r *Resolver) {
		r.cooldown = d
	}
}

// WithClock replaces time.Now for both the cooldown check and the cache's
// rotation timestamp.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
	}
}

// Resolver returns verification keys by key id, refetching the key set from
// its source when an id is missing.
type Resolver struct {
	logger *slog.Logger
	source Source
	cache  *Cache

	cooldown time.Duration
	now      func() time.Time

	// mu serializes every fetch-and-replace. Cache hits never take it.
	mu sync.Mutex
}

// NewResolver fetches the key set once before returning, so a resolver that
// exists always has keys from a successful fetch.
func NewResolver(ctx context.Context, logger *slog.Logger, source Source, opts ...Option) (*Resolver, error) {
	r := &Resolver{
		logger:   logger.With(slog.String("component", "key-resolver")),
		source:   source,
		cooldown: DefaultRotationCooldown,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.cache = NewCache(r.now)

	if err := r.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("failed to fetch initial signing keys: %w", err)
	}
	return r, nil
}

func (r *Resolver) Resolve(ctx context.Context, keyID string) (crypto.PublicKey, error) {
	if k, ok := r.cache.Lookup(keyID); ok {
		metrics.KeyResolveTotal.WithLabelValues(metrics.OutcomeHit).Inc()
		return k, nil
	}

	if err := r.refreshOnMiss(ctx, keyID); err != nil {
		metrics.KeyResolveTotal.WithLabelValues(metrics.OutcomeError).Inc()
		return nil, err
	}

	// Also covers the caller that was held back by the cooldown: a refresh
	// completed by someone else may already hold the key.
	if k, ok := r.cache.Lookup(keyID); ok {
		metrics.KeyResolveTotal.WithLabelValues(metrics.OutcomeRefreshed).Inc()
		return k, nil
	}

	metrics.KeyResolveTotal.WithLabelValues(metrics.OutcomeUnknown).Inc()
	r.logger.Warn("Unknown key id", slog.String("key-id", keyID))
	return nil, fmt.Errorf("%w: %q", ErrUnknownKey, keyID)
}

func (r *Resolver) refreshOnMiss(ctx context.Context, keyID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.cache.Lookup(keyID); ok {
		return nil
	}

	if since := r.now().Sub(r.cache.LastRotatedAt()); since < r.cooldown {
		r.logger.Warn("Key id missing but key set was refreshed recently, not refetching",
			slog.String("key-id", keyID),
			slog.Duration("since-rotation", since),
			slog.Duration("cooldown", r.cooldown),
		)
		return nil
	}

	r.logger.Info("Key id missing, refetching key set", slog.String("key-id", keyID))
	return r.refreshLocked(ctx)
}

// Refresh unconditionally refetches the key set and replaces the cache.
func (r *Resolver) Refresh(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refreshLocked(ctx)
}

func (r *Resolver) refreshLocked(ctx context.Context) error {
	keys, err := r.source.FetchKeys(ctx)
	if err != nil {
		metrics.KeyFetchTotal.WithLabelValues(metrics.ResultError).Inc()
		r.logger.Error("Failed to fetch signing keys", slog.Any("error", err))
		if !errors.Is(err, ErrKeySourceUnavailable) {
			err = fmt.Errorf("%w: %w", ErrKeySourceUnavailable, err)
		}
		return err
	}

	r.cache.ReplaceAll(keys)
	metrics.KeyFetchTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	r.logger.Info("Replaced signing keys",
		slog.Int("num-keys", r.cache.Len()),
		slog.Any("key-ids", r.cache.KeyIDs()),
	)
	return nil
}

func (r *Resolver) KeyIDs() []string {
	return r.cache.KeyIDs()
}

func (r *Resolver) LastRotatedAt() time.Time {
	return r.cache.LastRotatedAt()
}
