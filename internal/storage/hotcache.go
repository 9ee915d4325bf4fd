package storage

import (
	"sync"
	"time"

	"github.com/firasghr/casperedge/internal/storagekey"
)

// surrogateEntry is what the hot-cache remembers about one surrogate key:
// its last-known invalidation timestamp, and when we learned it.
type surrogateEntry struct {
	timestamp int64
	fetchedAt time.Time
}

// hotCache is a thread-safe, concurrent-map cache of surrogate-key
// invalidation timestamps, shared across every worker for one remote_kv
// backend instance. It exists purely to avoid a round trip to the remote
// server on every get/store when a surrogate key's state was learned
// recently.
type hotCache struct {
	mu  sync.RWMutex
	ttl time.Duration
	m   map[storagekey.Key]surrogateEntry
}

func newHotCache(ttl time.Duration) *hotCache {
	return &hotCache{ttl: ttl, m: make(map[storagekey.Key]surrogateEntry)}
}

// lookup returns the cached entry and whether it is still fresh (within
// ttl of when it was learned). A stale or absent entry reports fresh=false.
func (h *hotCache) lookup(key storagekey.Key) (entry surrogateEntry, fresh bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.m[key]
	if !ok {
		return surrogateEntry{}, false
	}
	return e, time.Since(e.fetchedAt) <= h.ttl
}

// set records the latest known timestamp for key, regardless of freshness
// (callers decide whether the value itself is usable; set always refreshes
// fetchedAt so a subsequent lookup sees it as fresh).
func (h *hotCache) set(key storagekey.Key, timestamp int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.m[key] = surrogateEntry{timestamp: timestamp, fetchedAt: time.Now()}
}
