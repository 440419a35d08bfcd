package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LocalLimiter keeps one token bucket per key in process memory. Buckets idle
// for longer than their window are dropped on the next sweep.
type LocalLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	now       func() time.Time
	lastSweep time.Time
}

// NewLocalLimiter creates an in-process limiter.
func NewLocalLimiter() *LocalLimiter {
	return &LocalLimiter{buckets: make(map[string]*bucket), now: time.Now}
}

// Allow takes one token from key's bucket.
func (l *LocalLimiter) Allow(ctx context.Context, key string, rule Rule) (Decision, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweepLocked(now, rule.Window)

	b, ok := l.buckets[key]
	if !ok {
		every := rate.Every(rule.Window / time.Duration(max(rule.Requests, 1)))
		b = &bucket{limiter: rate.NewLimiter(every, rule.Requests)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	allowed := b.limiter.AllowN(now, 1)
	remaining := int(b.limiter.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: allowed, Remaining: remaining, ResetAt: now.Add(rule.Window)}, nil
}

func (l *LocalLimiter) sweepLocked(now time.Time, window time.Duration) {
	if now.Sub(l.lastSweep) < window {
		return
	}
	l.lastSweep = now
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > window {
			delete(l.buckets, key)
		}
	}
}
