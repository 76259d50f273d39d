package promptctx

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/mynah-ai/mynah/pkg/memory"
)

// pruneThreshold is the entry count above which Set sweeps expired entries.
const pruneThreshold = 128

// contextCache memoizes retrieval results per query text with a short TTL.
// It is session-local; the mutex is only there because Warm runs off the
// generation goroutine.
type contextCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[uint64]cacheEntry
}

type cacheEntry struct {
	at      time.Time
	results []memory.ContextResult
}

func newContextCache(ttl time.Duration) *contextCache {
	return &contextCache{ttl: ttl, entries: make(map[uint64]cacheEntry)}
}

// key hashes the query text with FNV-1a.
func (c *contextCache) key(text string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(text))
	return h.Sum64()
}

// Get returns the cached results for text and whether a fresh entry exists.
func (c *contextCache) Get(text string) ([]memory.ContextResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[c.key(text)]
	if !ok || time.Since(e.at) > c.ttl {
		return nil, false
	}
	return e.results, true
}

// Set stores results for text, sweeping expired entries when the cache has
// grown past the prune threshold.
func (c *contextCache) Set(text string, results []memory.ContextResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) > pruneThreshold {
		for k, e := range c.entries {
			if time.Since(e.at) > c.ttl {
				delete(c.entries, k)
			}
		}
	}
	c.entries[c.key(text)] = cacheEntry{at: time.Now(), results: results}
}
