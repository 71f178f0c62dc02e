package extraction

import (
	"context"
	"sync"

	"github.com/bidboard/backend/internal/metrics"
)

// Cache deduplicates extraction work by content fingerprint. A stored result
// without useful content is reported as a miss, and Set refuses to store
// one, so an empty extraction can never pin its fingerprint forever.
type Cache interface {
	Get(ctx context.Context, text string) (*Result, bool, error)
	Set(ctx context.Context, text string, result *Result) error
}

// MemoryCache is the process-local implementation, used in tests and as the
// fallback when Redis is unavailable. Entries are never evicted.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*Result
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]*Result)}
}

func (c *MemoryCache) Get(ctx context.Context, text string) (*Result, bool, error) {
	key := Fingerprint(text)

	c.mu.RLock()
	result, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || !result.HasUsefulContent() {
		metrics.CacheMisses.WithLabelValues("memory").Inc()
		return nil, false, nil
	}

	metrics.CacheHits.WithLabelValues("memory").Inc()
	return result, true, nil
}

func (c *MemoryCache) Set(ctx context.Context, text string, result *Result) error {
	if !result.HasUsefulContent() {
		return nil
	}

	c.mu.Lock()
	c.entries[Fingerprint(text)] = result
	c.mu.Unlock()

	return nil
}
