package gateway

import (
	"sync"
	"time"
)

type searchCacheEntry struct {
	resp *SearchAdsResponse
	at   time.Time
}

// SearchCache holds recent competitor-search responses keyed by their
// normalized request parameters. Listing groups querying the same market
// slice within the TTL share one network call.
type SearchCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]searchCacheEntry
}

// NewSearchCache creates a cache with the given TTL.
func NewSearchCache(ttl time.Duration) *SearchCache {
	return &SearchCache{
		ttl:     ttl,
		entries: make(map[string]searchCacheEntry),
	}
}

// Get returns the cached response for key if it is younger than the TTL.
func (c *SearchCache) Get(key string) (*SearchAdsResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || time.Since(entry.at) >= c.ttl {
		return nil, false
	}
	return entry.resp, true
}

// Put stores a response under key with the current timestamp.
func (c *SearchCache) Put(key string, resp *SearchAdsResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Drop expired entries opportunistically; the key space is small
	// (one per managed market slice) so a full sweep is cheap.
	for k, e := range c.entries {
		if time.Since(e.at) >= c.ttl {
			delete(c.entries, k)
		}
	}

	c.entries[key] = searchCacheEntry{resp: resp, at: time.Now()}
}
