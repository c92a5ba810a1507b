package dispatcher

import "sync"

// dedupCacheCap bounds the in-memory duplicate-suppression set, matching
// agent_dispatcher.py's MAX_DEDUP_CACHE_SIZE. This is a size-bounded set with
// "keep the newest half" eviction, not a true LRU: eviction is cheap and
// order-preserving enough for a best-effort, single-instance dedup window.
const dedupCacheCap = 10000

// dedupCache is the best-effort idempotency-key dedup set from
// agent_dispatcher.py's _is_duplicate/_add_to_cache. It is not durable and is
// reset on restart; agents that need cross-restart dedup rely on
// model.IdempotencyRecord persisted by the executor instead.
type dedupCache struct {
	mu    sync.Mutex
	order []string
	seen  map[string]struct{}
}

func newDedupCache() *dedupCache {
	return &dedupCache{seen: make(map[string]struct{})}
}

// Seen reports whether key was already recorded.
func (c *dedupCache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.seen[key]
	return ok
}

// Add records key, evicting the oldest half of entries once the cache is
// full, matching _add_to_cache's eviction policy.
func (c *dedupCache) Add(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.seen[key]; ok {
		return
	}
	if len(c.order) >= dedupCacheCap {
		half := len(c.order) / 2
		for _, k := range c.order[:half] {
			delete(c.seen, k)
		}
		c.order = append([]string(nil), c.order[half:]...)
	}
	c.seen[key] = struct{}{}
	c.order = append(c.order, key)
}

// Len returns the number of keys currently tracked.
func (c *dedupCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

// Clear empties the cache, matching clear_cache (used in tests/admin tooling).
func (c *dedupCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = make(map[string]struct{})
	c.order = nil
}
