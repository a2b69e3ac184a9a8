package key

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu    sync.Mutex
	keys  []*PublicKey
	err   error
	calls atomic.Int64
}

func (s *fakeSource) FetchKeys(context.Context) ([]*PublicKey, error) {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.keys, nil
}

func (s *fakeSource) set(keys []*PublicKey, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = keys
	s.err = err
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestNewResolver(t *testing.T) {
	t.Parallel()

	t.Run("fetches keys eagerly", func(t *testing.T) {
		src := &fakeSource{keys: []*PublicKey{{KeyID: "a", Key: newRSAKey(t)}}}

		r, err := NewResolver(context.Background(), slog.Default(), src)
		require.NoError(t, err)
		require.EqualValues(t, 1, src.calls.Load())
		require.Equal(t, []string{"a"}, r.KeyIDs())
		require.False(t, r.LastRotatedAt().IsZero())
	})

	t.Run("fails when the first fetch fails", func(t *testing.T) {
		src := &fakeSource{err: errors.New("connection refused")}

		_, err := NewResolver(context.Background(), slog.Default(), src)
		require.ErrorIs(t, err, ErrKeySourceUnavailable)
	})
}

func TestResolver_Resolve(t *testing.T) {
	t.Parallel()

	t.Run("known key is served from the cache", func(t *testing.T) {
		a := newRSAKey(t)
		src := &fakeSource{keys: []*PublicKey{{KeyID: "a", Key: a}}}
		r, err := NewResolver(context.Background(), slog.Default(), src)
		require.NoError(t, err)

		for range 5 {
			got, err := r.Resolve(context.Background(), "a")
			require.NoError(t, err)
			require.Equal(t, a, got)
		}
		require.EqualValues(t, 1, src.calls.Load())
	})

	t.Run("new key after cooldown triggers a refetch", func(t *testing.T) {
		clock := newFakeClock()
		a, b := newRSAKey(t), newRSAKey(t)
		src := &fakeSource{keys: []*PublicKey{{KeyID: "a", Key: a}}}
		r, err := NewResolver(context.Background(), slog.Default(), src, WithClock(clock.Now))
		require.NoError(t, err)

		src.set([]*PublicKey{{KeyID: "b", Key: b}}, nil)
		clock.Advance(DefaultRotationCooldown)

		got, err := r.Resolve(context.Background(), "b")
		require.NoError(t, err)
		require.Equal(t, b, got)
		require.EqualValues(t, 2, src.calls.Load())

		// the old set is replaced, not merged
		_, err = r.Resolve(context.Background(), "a")
		require.ErrorIs(t, err, ErrUnknownKey)
		require.EqualValues(t, 2, src.calls.Load())
	})

	t.Run("unknown key within cooldown does not refetch", func(t *testing.T) {
		clock := newFakeClock()
		src := &fakeSource{keys: []*PublicKey{{KeyID: "a", Key: newRSAKey(t)}}}
		r, err := NewResolver(context.Background(), slog.Default(), src, WithClock(clock.Now))
		require.NoError(t, err)

		clock.Advance(DefaultRotationCooldown - time.Second)
		for range 10 {
			_, err := r.Resolve(context.Background(), "forged")
			require.ErrorIs(t, err, ErrUnknownKey)
		}
		require.EqualValues(t, 1, src.calls.Load())
	})

	t.Run("a refetch that still misses restarts the cooldown", func(t *testing.T) {
		clock := newFakeClock()
		src := &fakeSource{keys: []*PublicKey{{KeyID: "a", Key: newRSAKey(t)}}}
		r, err := NewResolver(context.Background(), slog.Default(), src, WithClock(clock.Now))
		require.NoError(t, err)

		clock.Advance(time.Hour)
		_, err = r.Resolve(context.Background(), "forged")
		require.ErrorIs(t, err, ErrUnknownKey)
		require.EqualValues(t, 2, src.calls.Load())

		_, err = r.Resolve(context.Background(), "forged")
		require.ErrorIs(t, err, ErrUnknownKey)
		require.EqualValues(t, 2, src.calls.Load())
	})

	t.Run("concurrent misses share one fetch", func(t *testing.T) {
		clock := newFakeClock()
		b := newRSAKey(t)
		src := &fakeSource{keys: []*PublicKey{{KeyID: "a", Key: newRSAKey(t)}}}
		r, err := NewResolver(context.Background(), slog.Default(), src, WithClock(clock.Now))
		require.NoError(t, err)

		src.set([]*PublicKey{{KeyID: "b", Key: b}}, nil)
		clock.Advance(time.Hour)

		var wg sync.WaitGroup
		errs := make(chan error, 32)
		for range 32 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				got, err := r.Resolve(context.Background(), "b")
				if err == nil && got != b {
					err = errors.New("wrong key")
				}
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			require.NoError(t, err)
		}
		require.EqualValues(t, 2, src.calls.Load())
	})

	t.Run("source failure surfaces as unavailable", func(t *testing.T) {
		clock := newFakeClock()
		src := &fakeSource{keys: []*PublicKey{{KeyID: "a", Key: newRSAKey(t)}}}
		r, err := NewResolver(context.Background(), slog.Default(), src, WithClock(clock.Now))
		require.NoError(t, err)
		rotatedAt := r.LastRotatedAt()

		src.set(nil, errors.New("dial tcp: i/o timeout"))
		clock.Advance(time.Hour)

		_, err = r.Resolve(context.Background(), "b")
		require.ErrorIs(t, err, ErrKeySourceUnavailable)
		require.NotErrorIs(t, err, ErrUnknownKey)

		// a failed fetch leaves the cache and its timestamp alone
		require.Equal(t, rotatedAt, r.LastRotatedAt())
		require.Equal(t, []string{"a"}, r.KeyIDs())
	})

	t.Run("custom cooldown", func(t *testing.T) {
		clock := newFakeClock()
		src := &fakeSource{keys: []*PublicKey{{KeyID: "a", Key: newRSAKey(t)}}}
		r, err := NewResolver(context.Background(), slog.Default(), src,
			WithClock(clock.Now),
			WithRotationCooldown(time.Second),
		)
		require.NoError(t, err)

		clock.Advance(time.Second)
		_, err = r.Resolve(context.Background(), "b")
		require.ErrorIs(t, err, ErrUnknownKey)
		require.EqualValues(t, 2, src.calls.Load())
	})
}
