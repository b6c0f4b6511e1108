package ownership

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codewatch-dev/codewatch/internal/model"
)

// DefaultTTL is how long a resolved (user, org) entry stays valid before it
// must be re-resolved against GitHub.
const DefaultTTL = 15 * time.Minute

type cacheKey struct {
	user string
	org  string
}

func newCacheKey(user, org string) cacheKey {
	return cacheKey{user: strings.ToLower(user), org: strings.ToLower(org)}
}

// ttlCache is a mutex-guarded (user, org) -> role memo with time-based
// expiry instead of size-based eviction: entries simply stop being served
// once past ExpiresAt, and Invalidate drops every entry for a user at once.
type ttlCache struct {
	mu      sync.RWMutex
	entries map[cacheKey]model.OwnershipCacheEntry

	hits   atomic.Int64
	misses atomic.Int64
}

func newTTLCache() *ttlCache {
	return &ttlCache{entries: make(map[cacheKey]model.OwnershipCacheEntry)}
}

// get returns the cached entry for (user, org) if present and not expired.
func (c *ttlCache) get(user, org string, now time.Time) (model.OwnershipCacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[newCacheKey(user, org)]
	if !ok || now.After(entry.ExpiresAt) {
		c.misses.Add(1)

		return model.OwnershipCacheEntry{}, false
	}

	c.hits.Add(1)

	return entry, true
}

// put stores entry, keyed by (entry.UserID, entry.Org).
func (c *ttlCache) put(entry model.OwnershipCacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[newCacheKey(entry.UserID, entry.Org)] = entry
}

// invalidate removes every cached entry for user, regardless of org.
func (c *ttlCache) invalidate(user string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	lower := strings.ToLower(user)

	for key := range c.entries {
		if key.user == lower {
			delete(c.entries, key)
		}
	}
}

// stats reports cumulative hit/miss counts, useful for metrics wiring.
type stats struct {
	Hits   int64
	Misses int64
}

func (c *ttlCache) stats() stats {
	return stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}
