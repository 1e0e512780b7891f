package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/rtclinic/followup/internal/platform/auth"
)

// RateLimitConfig holds rate limiting configuration. POSTs rewrite the whole
// table and are metered in their own, smaller bucket.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int

	// Write limits apply to POST requests. Zero values fall back to the
	// read limits.
	WriteRequestsPerSecond float64
	WriteBurstSize         int
}

// DefaultRateLimitConfig returns default rate limiting settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond:      10,
		BurstSize:              20,
		WriteRequestsPerSecond: 1,
		WriteBurstSize:         5,
	}
}

// limit is one rate/burst pair.
type limit struct {
	rate  float64
	burst int
}

func (l limit) header() string {
	return strconv.FormatFloat(l.rate, 'f', -1, 64)
}

func (cfg RateLimitConfig) limits() (read, write limit) {
	if cfg.RequestsPerSecond <= 0 || cfg.BurstSize <= 0 {
		def := DefaultRateLimitConfig()
		cfg.RequestsPerSecond, cfg.BurstSize = def.RequestsPerSecond, def.BurstSize
	}
	read = limit{rate: cfg.RequestsPerSecond, burst: cfg.BurstSize}
	write = limit{rate: cfg.WriteRequestsPerSecond, burst: cfg.WriteBurstSize}
	if write.rate <= 0 || write.burst <= 0 {
		write = read
	}
	return read, write
}

// tokenBucket implements a token bucket rate limiter.
type tokenBucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	mu         sync.Mutex
}

func newTokenBucket(rate float64, burst int) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: rate,
		lastRefill: time.Now(),
	}
}

func (b *tokenBucket) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

func (b *tokenBucket) retryAfter() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.refillRate <= 0 {
		return 1
	}
	return int((1-b.tokens)/b.refillRate) + 1
}

// rateLimiterStore holds per-key token buckets sharing one limit.
type rateLimiterStore struct {
	buckets map[string]*tokenBucket
	mu      sync.RWMutex
	limit   limit
}

func newRateLimiterStore(l limit) *rateLimiterStore {
	return &rateLimiterStore{
		buckets: make(map[string]*tokenBucket),
		limit:   l,
	}
}

func (s *rateLimiterStore) getBucket(key string) *tokenBucket {
	s.mu.RLock()
	bucket, ok := s.buckets[key]
	s.mu.RUnlock()
	if ok {
		return bucket
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Double-check after acquiring write lock
	if bucket, ok := s.buckets[key]; ok {
		return bucket
	}
	bucket = newTokenBucket(s.limit.rate, s.limit.burst)
	s.buckets[key] = bucket
	return bucket
}

// RateLimit meters requests per client IP and, once authenticated, per
// user. POST requests draw from the write bucket, everything else from the
// read bucket, so a burst of submissions does not block lookups.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	read, write := cfg.limits()
	reads := newRateLimiterStore(read)
	writes := newRateLimiterStore(write)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.RealIP()
			if uid := auth.UserIDFromContext(c.Request().Context()); uid != "" {
				key = uid + ":" + key
			}

			store := reads
			if c.Request().Method == http.MethodPost {
				store = writes
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", store.limit.header())
			bucket := store.getBucket(key)
			if !bucket.allow() {
				h.Set("Retry-After", strconv.Itoa(bucket.retryAfter()))
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
