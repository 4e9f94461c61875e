package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/matross-gh/platform-engineering-copilot/internal/domain/conversation"
	"github.com/matross-gh/platform-engineering-copilot/internal/domain/plan"
	"github.com/matross-gh/platform-engineering-copilot/internal/port/cache"
)

const planCachePrefix = "plan:"

// Context fingerprints distinguishing a fresh request from an answer to a
// pending clarification.
const (
	fingerprintFresh        = "fresh"
	fingerprintContinuation = "continuation"
)

// CacheEntry is the stored form of a validated plan.
type CacheEntry struct {
	Signature string    `json:"signature"`
	Plan      plan.Plan `json:"plan"`
	CreatedAt time.Time `json:"created_at"`
	HitCount  int64     `json:"hit_count"`
}

// CacheStats reports lookup counters since construction.
type CacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// PlanCache reuses validated plans for repeated requests so the planning
// oracle is skipped. Keys combine the normalized message with a coarse
// context fingerprint.
type PlanCache struct {
	backend cache.Cache
	ttl     time.Duration
	now     func() time.Time
	hits    atomic.Int64
	misses  atomic.Int64
}

// NewPlanCache creates a plan cache over backend. A nil backend disables
// caching: every lookup misses and Put is a no-op.
func NewPlanCache(backend cache.Cache, ttl time.Duration) *PlanCache {
	return &PlanCache{backend: backend, ttl: ttl, now: time.Now}
}

// normalizeMessage trims, case-folds and collapses whitespace.
func normalizeMessage(message string) string {
	return strings.Join(strings.FieldsFunc(strings.ToLower(message), unicode.IsSpace), " ")
}

// fingerprint classifies the conversation state relevant to plan reuse.
func fingerprint(conv *conversation.Context) string {
	if conv.IsContinuation() {
		return fingerprintContinuation
	}
	return fingerprintFresh
}

// signature is the cache key for message under conv.
func signature(message string, conv *conversation.Context) string {
	return planCachePrefix + fingerprint(conv) + ":" + normalizeMessage(message)
}

// TryGet returns the plan stored for message under conv's fingerprint,
// exactly as it was put. Callers rebind it before execution.
func (c *PlanCache) TryGet(ctx context.Context, message string, conv *conversation.Context) (plan.Plan, bool) {
	if c == nil || c.backend == nil {
		return plan.Plan{}, false
	}
	key := signature(message, conv)

	data, found, err := c.backend.Get(ctx, key)
	if err != nil {
		slog.Warn("plan cache get failed", "error", err)
	}
	if err != nil || !found {
		c.misses.Add(1)
		return plan.Plan{}, false
	}

	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil || len(entry.Plan.Tasks) == 0 {
		slog.Warn("plan cache entry corrupt, dropping", "error", err)
		_ = c.backend.Delete(ctx, key)
		c.misses.Add(1)
		return plan.Plan{}, false
	}
	c.hits.Add(1)

	// Hit counts are best-effort; the entry keeps its original expiry
	// horizon approximately by rewriting with the remaining TTL.
	entry.HitCount++
	if remaining := c.ttl - c.now().Sub(entry.CreatedAt); remaining > 0 {
		if updated, err := json.Marshal(entry); err == nil {
			_ = c.backend.Set(ctx, key, updated, remaining)
		}
	}
	return entry.Plan, true
}

// Put stores p for message under conv's fingerprint.
func (c *PlanCache) Put(ctx context.Context, message string, conv *conversation.Context, p plan.Plan) {
	if c == nil || c.backend == nil || len(p.Tasks) == 0 {
		return
	}
	key := signature(message, conv)
	entry := CacheEntry{
		Signature: key,
		Plan:      p.Clone(),
		CreatedAt: c.now(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		slog.Warn("plan cache marshal failed", "error", err)
		return
	}
	if err := c.backend.Set(ctx, key, data, c.ttl); err != nil {
		slog.Warn("plan cache set failed", "error", err)
	}
}

// Stats returns hit and miss counters.
func (c *PlanCache) Stats() CacheStats {
	if c == nil {
		return CacheStats{}
	}
	return CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}
