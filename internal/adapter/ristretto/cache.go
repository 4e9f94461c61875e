// Package ristretto implements the cache port with dgraph-io/ristretto, an
// in-process cache with TinyLFU admission and cost-bounded eviction.
package ristretto

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Cache wraps a ristretto cache keyed by string with byte-slice values.
type Cache struct {
	c *ristretto.Cache[string, []byte]
}

// New creates a cache bounded to maxCostBytes of stored values. maxEntries
// sizes the admission counters; ristretto recommends ten counters per
// expected live entry.
func New(maxCostBytes, maxEntries int64) (*Cache, error) {
	if maxEntries < 1 {
		maxEntries = maxCostBytes / 1024
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: max(maxEntries*10, 100),
		MaxCost:     maxCostBytes,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("ristretto: %w", err)
	}
	return &Cache{c: c}, nil
}

// Get retrieves a value from the cache.
func (c *Cache) Get(_ context.Context, key string) (data []byte, ok bool, err error) {
	val, found := c.c.Get(key)
	if !found {
		return nil, false, nil
	}
	return val, true, nil
}

// Set stores a value with the given TTL. Writes are buffered by ristretto,
// so Set waits for the buffer to drain to make the value visible to the
// next Get. Admission may still reject the value; that is reported as a
// later miss, not an error.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.c.SetWithTTL(key, value, int64(len(value)), ttl)
	c.c.Wait()
	return nil
}

// Delete removes a value from the cache.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.c.Del(key)
	return nil
}

// Ratio reports the hit ratio observed by ristretto.
func (c *Cache) Ratio() float64 {
	if c.c.Metrics == nil {
		return 0
	}
	return c.c.Metrics.Ratio()
}

// Close shuts down the cache and releases resources.
func (c *Cache) Close() {
	c.c.Close()
}
