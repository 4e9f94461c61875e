// Package natskv implements the cache port on a NATS JetStream KeyValue
// bucket, letting replicas share validated plans.
package natskv

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Cache stores entries in a KV bucket. Expiry is the bucket's TTL; the
// per-entry ttl passed to Set is not honored.
type Cache struct {
	kv jetstream.KeyValue
}

// New wraps an existing bucket.
func New(kv jetstream.KeyValue) *Cache {
	return &Cache{kv: kv}
}

// Open creates or updates bucket with the given entry TTL and wraps it.
func Open(ctx context.Context, js jetstream.JetStream, bucket string, ttl time.Duration) (*Cache, error) {
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "copilot plan cache",
		TTL:         ttl,
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("natskv bucket %s: %w", bucket, err)
	}
	return New(kv), nil
}

// kvKey maps an arbitrary cache key onto the restricted KV key alphabet.
func kvKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Get retrieves a value. Missing and deleted keys are a miss.
func (c *Cache) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	entry, err := c.kv.Get(ctx, kvKey(key))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("natskv get: %w", err)
	}
	return entry.Value(), true, nil
}

// Set stores a value.
func (c *Cache) Set(ctx context.Context, key string, value []byte, _ time.Duration) error {
	if _, err := c.kv.Put(ctx, kvKey(key), value); err != nil {
		return fmt.Errorf("natskv put: %w", err)
	}
	return nil
}

// Delete removes a value. Deleting a missing key is not an error.
func (c *Cache) Delete(ctx context.Context, key string) error {
	err := c.kv.Delete(ctx, kvKey(key))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("natskv delete: %w", err)
	}
	return nil
}
