// Package ratelimit gates per-user actions such as PR review requests.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Error is returned when a key has used up its allowance.
type Error struct {
	ResetAt time.Time
}

func (e *Error) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.ResetAt.UTC().Format(time.RFC3339))
}

// pruneAt is the number of tracked keys above which idle limiters are dropped.
const pruneAt = 4096

// Limiter allows at most N events per window for each key, refilling evenly.
type Limiter struct {
	mu     sync.Mutex
	keys   map[string]*rate.Limiter
	limit  rate.Limit
	burst  int
	window time.Duration
	now    func() time.Time
}

// New creates a Limiter allowing n events per window per key.
func New(n int, window time.Duration) *Limiter {
	if n <= 0 {
		n = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		keys:   make(map[string]*rate.Limiter),
		limit:  rate.Limit(float64(n) / window.Seconds()),
		burst:  n,
		window: window,
		now:    time.Now,
	}
}

// Allow consumes one event for key. It returns *Error with the time the next
// event will be allowed when the key is over its limit.
func (l *Limiter) Allow(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	lim, ok := l.keys[key]
	if !ok {
		if len(l.keys) >= pruneAt {
			l.prune(now)
		}
		lim = rate.NewLimiter(l.limit, l.burst)
		l.keys[key] = lim
	}

	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return &Error{ResetAt: now.Add(l.window)}
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return &Error{ResetAt: now.Add(d)}
	}
	return nil
}

// prune drops limiters that have refilled completely.
func (l *Limiter) prune(now time.Time) {
	for k, lim := range l.keys {
		if lim.TokensAt(now) >= float64(l.burst) {
			delete(l.keys, k)
		}
	}
}
