// Package tiered layers an in-process cache over a shared remote one.
package tiered

import (
	"context"
	"log/slog"
	"time"

	"github.com/matross-gh/platform-engineering-copilot/internal/port/cache"
)

// Cache reads through L1 to L2 and writes to both. L2 is treated as
// best-effort: its failures are logged and degrade to L1-only behavior.
type Cache struct {
	l1       cache.Cache
	l2       cache.Cache
	l1Expire time.Duration
}

// New creates a tiered cache. l1Expire bounds how long entries backfilled
// from L2 stay in L1, so updates made by other replicas are picked up.
func New(l1, l2 cache.Cache, l1Expire time.Duration) *Cache {
	return &Cache{l1: l1, l2: l2, l1Expire: l1Expire}
}

// Get checks L1, then L2, backfilling L1 on an L2 hit.
func (c *Cache) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	val, found, err := c.l1.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if found {
		return val, true, nil
	}

	val, found, err = c.l2.Get(ctx, key)
	if err != nil {
		slog.Warn("shared cache get failed", "error", err)
		return nil, false, nil
	}
	if !found {
		return nil, false, nil
	}
	if err := c.l1.Set(ctx, key, val, c.l1Expire); err != nil {
		slog.Warn("cache backfill failed", "error", err)
	}
	return val, true, nil
}

// Set writes L1 first. An L2 failure is logged, not returned.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.l1.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	if err := c.l2.Set(ctx, key, value, ttl); err != nil {
		slog.Warn("shared cache set failed", "error", err)
	}
	return nil
}

// Delete removes key from both levels. An L2 failure is returned so a
// corrupt shared entry is not silently kept.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.l1.Delete(ctx, key); err != nil {
		return err
	}
	return c.l2.Delete(ctx, key)
}
