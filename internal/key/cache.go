package key

import (
	"crypto"
	"slices"
	"sync/atomic"
	"time"
)

type snapshot struct {
	keys      map[string]crypto.PublicKey
	rotatedAt time.Time
}

// Cache maps key ids to public keys. Readers never lock: every ReplaceAll
// publishes a new immutable snapshot.
type Cache struct {
	now     func() time.Time
	current atomic.Pointer[snapshot]
}

func NewCache(now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	c := &Cache{now: now}
	c.current.Store(&snapshot{keys: map[string]crypto.PublicKey{}})
	return c
}

// ReplaceAll discards every cached key and installs keys in their place. Old
// and new sets are never merged.
func (c *Cache) ReplaceAll(keys []*PublicKey) {
	next := &snapshot{
		keys:      make(map[string]crypto.PublicKey, len(keys)),
		rotatedAt: c.now(),
	}
	for _, k := range keys {
		if k == nil || k.Key == nil {
			continue
		}
		next.keys[k.KeyID] = k.Key
	}
	c.current.Store(next)
}

func (c *Cache) Lookup(keyID string) (crypto.PublicKey, bool) {
	k, ok := c.current.Load().keys[keyID]
	return k, ok
}

// LastRotatedAt is the zero time until the first ReplaceAll.
func (c *Cache) LastRotatedAt() time.Time {
	return c.current.Load().rotatedAt
}

func (c *Cache) Len() int {
	return len(c.current.Load().keys)
}

func (c *Cache) KeyIDs() []string {
	s := c.current.Load()
	ids := make([]string, 0, len(s.keys))
	for id := range s.keys {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
