package tiered_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/matross-gh/platform-engineering-copilot/internal/adapter/tiered"
	"github.com/matross-gh/platform-engineering-copilot/internal/port/cache/cachetest"
)

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
	ttls map[string]time.Duration
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte), ttls: make(map[string]time.Duration)}
}

func (m *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, false, m.err
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	delete(m.data, key)
	return nil
}

func TestTieredContract(t *testing.T) {
	cachetest.RunContractTests(t, tiered.New(newMemCache(), newMemCache(), time.Minute))
}

func TestTieredL2HitBackfillsL1(t *testing.T) {
	l1, l2 := newMemCache(), newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)
	l2.data["plan:fresh:scan"] = []byte("v")

	val, found, err := c.Get(context.Background(), "plan:fresh:scan")
	if err != nil || !found || string(val) != "v" {
		t.Fatalf("Get = %q, %v, %v", val, found, err)
	}
	if string(l1.data["plan:fresh:scan"]) != "v" {
		t.Fatal("expected L1 backfill")
	}
	if l1.ttls["plan:fresh:scan"] != 5*time.Minute {
		t.Errorf("backfill ttl = %v, want 5m", l1.ttls["plan:fresh:scan"])
	}
}

func TestTieredSetWritesBothLevels(t *testing.T) {
	l1, l2 := newMemCache(), newMemCache()
	c := tiered.New(l1, l2, time.Minute)

	if err := c.Set(context.Background(), "k", []byte("v"), time.Hour); err != nil {
		t.Fatal(err)
	}
	if l1.data["k"] == nil || l2.data["k"] == nil {
		t.Fatal("expected both levels written")
	}
}

func TestTieredL2FailureDegrades(t *testing.T) {
	l1, l2 := newMemCache(), newMemCache()
	l2.err = errors.New("nats down")
	c := tiered.New(l1, l2, time.Minute)
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), time.Hour); err != nil {
		t.Fatalf("Set should tolerate L2 failure, got %v", err)
	}
	val, found, err := c.Get(ctx, "k")
	if err != nil || !found || string(val) != "v" {
		t.Fatalf("expected L1 hit, got %q, %v, %v", val, found, err)
	}
	if _, found, err := c.Get(ctx, "other"); err != nil || found {
		t.Fatalf("expected clean miss on L2 failure, got %v, %v", found, err)
	}
	if err := c.Delete(ctx, "k"); err == nil {
		t.Error("expected Delete to report the L2 failure")
	}
}
