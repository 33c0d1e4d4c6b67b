package gateway

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// phoneLimiter keeps one token bucket per phone number and forgets
// numbers that have been quiet for longer than idle.
type phoneLimiter struct {
	limit rate.Limit
	burst int
	idle  time.Duration

	mu          sync.Mutex
	buckets     map[string]*bucket
	lastCleanup time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func newPhoneLimiter(perMinute, burst int, idle time.Duration) *phoneLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &phoneLimiter{
		limit:       rate.Limit(float64(perMinute) / 60),
		burst:       burst,
		idle:        idle,
		buckets:     make(map[string]*bucket),
		lastCleanup: time.Now(),
	}
}

// Allow reports whether phone may make a request at now.
func (l *phoneLimiter) Allow(phone string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[phone]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[phone] = b
	}
	b.seen = now
	allowed := b.lim.AllowN(now, 1)

	if now.Sub(l.lastCleanup) >= l.idle {
		for k, v := range l.buckets {
			if now.Sub(v.seen) > l.idle {
				delete(l.buckets, k)
			}
		}
		l.lastCleanup = now
	}
	return allowed
}

// Len returns the number of tracked phone numbers.
func (l *phoneLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
