package internal

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// staleAfter is how long an unused key keeps its limiter.
const staleAfter = 10 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter hands out one token bucket per key (a remote IP for
// handshakes). A non-positive rate disables limiting.
type RateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	rps       rate.Limit
	burst     int
	lastPrune time.Time
	now       func() time.Time
}

func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		rps:      rate.Limit(perSecond),
		burst:    burst,
		now:      time.Now,
	}
}

func (r *RateLimiter) Allow(key string) bool {
	if r == nil || r.rps <= 0 {
		return true
	}
	return r.get(key).AllowN(r.now(), 1)
}

func (r *RateLimiter) get(key string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if now.Sub(r.lastPrune) > staleAfter {
		for k, entry := range r.limiters {
			if now.Sub(entry.lastSeen) > staleAfter {
				delete(r.limiters, k)
			}
		}
		r.lastPrune = now
	}
	entry, ok := r.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(r.rps, r.burst)}
		r.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

func (r *RateLimiter) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.limiters)
}
