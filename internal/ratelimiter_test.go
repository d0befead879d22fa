package internal

import (
	"testing"
	"time"
)

func TestRateLimiterPerKey(t *testing.T) {
	limiter := NewRateLimiter(1, 2)
	now := time.Unix(100, 0)
	limiter.now = func() time.Time { return now }

	if !limiter.Allow("10.0.0.1") || !limiter.Allow("10.0.0.1") {
		t.Fatalf("burst of two should be allowed")
	}
	if limiter.Allow("10.0.0.1") {
		t.Fatalf("third immediate request should be limited")
	}
	if !limiter.Allow("10.0.0.2") {
		t.Fatalf("other keys have their own bucket")
	}
	now = now.Add(time.Second)
	if !limiter.Allow("10.0.0.1") {
		t.Fatalf("a token should refill after one second")
	}
}

func TestRateLimiterPrunesStaleKeys(t *testing.T) {
	limiter := NewRateLimiter(1, 1)
	now := time.Unix(100, 0)
	limiter.now = func() time.Time { return now }
	limiter.Allow("a")
	limiter.Allow("b")

	now = now.Add(2 * staleAfter)
	limiter.Allow("c")
	if got := limiter.size(); got != 1 {
		t.Fatalf("expected stale keys pruned, %d left", got)
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	limiter := NewRateLimiter(0, 0)
	for i := 0; i < 100; i++ {
		if !limiter.Allow("k") {
			t.Fatalf("a zero rate disables limiting")
		}
	}
	var nilLimiter *RateLimiter
	if !nilLimiter.Allow("k") {
		t.Fatalf("nil limiter allows everything")
	}
}
