package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiter holds one token bucket per contributor.
type limiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func newLimiter(perSecond float64, burst int) *limiter {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &limiter{limit: limit, burst: burst, buckets: make(map[string]*rate.Limiter)}
}

// allow takes a token for who. When none is available it returns false and
// how long until one will be.
func (l *limiter) allow(who string) (bool, time.Duration) {
	l.mu.Lock()
	b, ok := l.buckets[who]
	if !ok {
		b = rate.NewLimiter(l.limit, l.burst)
		l.buckets[who] = b
	}
	l.mu.Unlock()

	res := b.Reserve()
	if !res.OK() {
		return false, time.Second
	}
	if delay := res.Delay(); delay > 0 {
		res.Cancel()
		return false, delay
	}
	return true, 0
}
