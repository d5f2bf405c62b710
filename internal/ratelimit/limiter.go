// Package ratelimit provides keyed token buckets for throttling connection
// attempts.
package ratelimit

import (
	"sync"
	"time"
)

// Config configures a Limiter.
type Config struct {
	// Enabled turns limiting on. A disabled limiter allows everything.
	Enabled bool `yaml:"enabled"`
	// RequestsPerSecond is the sustained refill rate per key.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	// BurstSize is the bucket capacity per key.
	BurstSize int `yaml:"burst_size"`
}

// DefaultConfig allows a short reconnect burst per client address.
func DefaultConfig() Config {
	return Config{
		Enabled:           false,
		RequestsPerSecond: 2,
		BurstSize:         10,
	}
}

func (c Config) normalized() Config {
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 2
	}
	if c.BurstSize <= 0 {
		c.BurstSize = int(c.RequestsPerSecond*2) + 1
	}
	return c
}

// bucket is a token bucket. Callers hold the owning Limiter's lock.
type bucket struct {
	tokens     float64
	lastRefill time.Time
}

func (b *bucket) refill(now time.Time, rate, capacity float64) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * rate
		if b.tokens > capacity {
			b.tokens = capacity
		}
	}
	b.lastRefill = now
}

// Limiter keeps one bucket per key, e.g. per client address.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	rate     float64
	capacity float64
	enabled  bool
	maxKeys  int
	now      func() time.Time
}

// NewLimiter creates a limiter. A nil *Limiter allows everything.
func NewLimiter(config Config) *Limiter {
	config = config.normalized()
	return &Limiter{
		buckets:  make(map[string]*bucket),
		rate:     config.RequestsPerSecond,
		capacity: float64(config.BurstSize),
		enabled:  config.Enabled,
		maxKeys:  10000,
		now:      time.Now,
	}
}

// Allow consumes a token for key. When none is available it returns false and
// the time until the next token.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	if l == nil || !l.enabled {
		return true, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= l.maxKeys {
			l.pruneLocked(now)
		}
		b = &bucket{tokens: l.capacity, lastRefill: now}
		l.buckets[key] = b
	}
	b.refill(now, l.rate, l.capacity)

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	wait := time.Duration((1 - b.tokens) / l.rate * float64(time.Second))
	return false, wait
}

// Len reports how many keys hold a bucket.
func (l *Limiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// pruneLocked drops buckets that have refilled completely; their keys have
// been idle long enough that a fresh bucket is equivalent.
func (l *Limiter) pruneLocked(now time.Time) {
	for key, b := range l.buckets {
		b.refill(now, l.rate, l.capacity)
		if b.tokens >= l.capacity {
			delete(l.buckets, key)
		}
	}
}
