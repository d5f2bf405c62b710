package ratelimit

import (
	"fmt"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time           { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(cfg Config) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	l := NewLimiter(cfg)
	l.now = clock.now
	return l, clock
}

func TestLimiterBurstThenDeny(t *testing.T) {
	l, _ := newTestLimiter(Config{Enabled: true, RequestsPerSecond: 10, BurstSize: 5})

	for i := 0; i < 5; i++ {
		if ok, _ := l.Allow("1.2.3.4"); !ok {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	ok, wait := l.Allow("1.2.3.4")
	if ok {
		t.Fatal("request after burst should be denied")
	}
	if wait <= 0 || wait > 100*time.Millisecond {
		t.Fatalf("wait = %v, want (0, 100ms]", wait)
	}
}

func TestLimiterRefill(t *testing.T) {
	l, clock := newTestLimiter(Config{Enabled: true, RequestsPerSecond: 2, BurstSize: 1})

	if ok, _ := l.Allow("k"); !ok {
		t.Fatal("first request should be allowed")
	}
	if ok, _ := l.Allow("k"); ok {
		t.Fatal("second request should be denied")
	}
	clock.advance(500 * time.Millisecond)
	if ok, _ := l.Allow("k"); !ok {
		t.Fatal("request after refill should be allowed")
	}
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(Config{Enabled: true, RequestsPerSecond: 1, BurstSize: 1})

	if ok, _ := l.Allow("a"); !ok {
		t.Fatal("a should be allowed")
	}
	if ok, _ := l.Allow("b"); !ok {
		t.Fatal("b should be allowed")
	}
	if ok, _ := l.Allow("a"); ok {
		t.Fatal("a should be limited")
	}
}

func TestLimiterDisabledAndNil(t *testing.T) {
	l := NewLimiter(Config{Enabled: false, RequestsPerSecond: 1, BurstSize: 1})
	for i := 0; i < 10; i++ {
		if ok, _ := l.Allow("k"); !ok {
			t.Fatal("disabled limiter should allow")
		}
	}
	if l.Len() != 0 {
		t.Fatalf("disabled limiter kept %d buckets", l.Len())
	}

	var nilLimiter *Limiter
	if ok, _ := nilLimiter.Allow("k"); !ok {
		t.Fatal("nil limiter should allow")
	}
}

func TestLimiterPrunesIdleKeys(t *testing.T) {
	l, clock := newTestLimiter(Config{Enabled: true, RequestsPerSecond: 10, BurstSize: 2})
	l.maxKeys = 3

	for i := 0; i < 3; i++ {
		l.Allow(fmt.Sprintf("k%d", i))
	}
	clock.advance(time.Second)
	l.Allow("fresh")
	if got := l.Len(); got != 1 {
		t.Fatalf("Len = %d after prune, want 1", got)
	}
}
