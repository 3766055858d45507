package v1

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxTrackedPrincipals caps the limiter table; past it the table is reset,
// which at worst grants a fresh burst to active principals.
const maxTrackedPrincipals = 10_000

// principalLimiter applies a token bucket per principal. A nil limiter allows everything.
type principalLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

func newPrincipalLimiter(perMinute int) *principalLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &principalLimiter{
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *principalLimiter) Allow(principal string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	limiter, ok := l.limiters[principal]
	if !ok {
		if len(l.limiters) >= maxTrackedPrincipals {
			l.limiters = make(map[string]*rate.Limiter)
		}
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[principal] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}
