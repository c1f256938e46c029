package bot

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is an in-memory per-sender rate limiter keyed by session key. Each
// key gets a token bucket refilling one token every window/limit with a burst
// of limit, so a key is admitted at most limit times in a window.
type Limiter struct {
	mu        sync.Mutex
	buckets   map[string]*senderBucket
	every     rate.Limit
	burst     int
	window    time.Duration
	now       func() time.Time
	lastSweep time.Time
}

type senderBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiter creates a limiter admitting limit interactions per window.
func NewLimiter(limit int, window time.Duration) *Limiter {
	if limit < 1 {
		limit = 1
	}

	return &Limiter{
		buckets: make(map[string]*senderBucket),
		every:   rate.Every(window / time.Duration(limit)),
		burst:   limit,
		window:  window,
		now:     time.Now,
	}
}

// Allow reports whether an interaction for key is admitted now. Rejected
// interactions consume no token.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	b := l.buckets[key]
	if b == nil {
		b = &senderBucket{limiter: rate.NewLimiter(l.every, l.burst)}
		l.buckets[key] = b
	}

	b.lastSeen = now

	return b.limiter.AllowN(now, 1)
}

// sweep drops keys idle for a full window once per window. An idle bucket
// has refilled to its burst, so dropping it changes no decision. Must be
// called with l.mu held.
func (l *Limiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}

	l.lastSweep = now

	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) >= l.window {
			delete(l.buckets, key)
		}
	}
}
