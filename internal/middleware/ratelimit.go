package middleware

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const defaultMaxBuckets = 100000

// RateLimiter is per-client token bucket rate limiting middleware. Buckets
// live in an expiring LRU, so idle clients are forgotten after the idle
// window and the number of tracked clients is bounded.
type RateLimiter struct {
	mu      sync.Mutex
	buckets *expirable.LRU[string, *bucket]
	rate    float64 // tokens per second
	burst   int     // max tokens
	key     func(*http.Request) string
}

type bucket struct {
	tokens    float64
	updatedAt time.Time
}

// NewRateLimiter creates a rate limiter with the given sustained rate
// (requests per second) and burst size. Buckets unused for idle are dropped.
func NewRateLimiter(rate float64, burst int, idle time.Duration) *RateLimiter {
	return NewRateLimiterSize(rate, burst, idle, defaultMaxBuckets)
}

// NewRateLimiterSize is NewRateLimiter with an explicit bound on tracked clients.
func NewRateLimiterSize(rate float64, burst int, idle time.Duration, maxBuckets int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		buckets: expirable.NewLRU[string, *bucket](maxBuckets, nil, idle),
		rate:    rate,
		burst:   burst,
		key:     realIP,
	}
}

// KeyBy replaces the client key function. The default keys by remote IP.
func (rl *RateLimiter) KeyBy(fn func(*http.Request) string) *RateLimiter {
	rl.key = fn
	return rl
}

// Handler returns HTTP middleware that enforces per-client rate limiting.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		remaining, retryAfter, allowed := rl.allow(rl.key(r))

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", rl.burst))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))

		if !allowed {
			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", math.Ceil(retryAfter)))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// allow reports whether a request for key may proceed, with the tokens left
// and the seconds until the next token.
func (rl *RateLimiter) allow(key string) (remaining int, retryAfter float64, allowed bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	b, ok := rl.buckets.Get(key)
	if !ok {
		b = &bucket{tokens: float64(rl.burst), updatedAt: now}
	} else {
		b.tokens = math.Min(float64(rl.burst), b.tokens+now.Sub(b.updatedAt).Seconds()*rl.rate)
		b.updatedAt = now
	}
	// Add refreshes the expiry.
	rl.buckets.Add(key, b)

	if b.tokens < 1 {
		if rl.rate <= 0 {
			return 0, 1, false
		}
		return 0, (1 - b.tokens) / rl.rate, false
	}
	b.tokens--
	return int(b.tokens), 0, true
}

// Len returns the number of tracked client buckets.
func (rl *RateLimiter) Len() int {
	return rl.buckets.Len()
}

// realIP extracts the client IP from RemoteAddr. Proxy headers are not
// trusted since clients can set them freely.
func realIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
