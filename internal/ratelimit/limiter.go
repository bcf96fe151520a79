// Package ratelimit implements token-bucket admission control for the
// realtime gateway, keyed independently by connection id and by client IP.
package ratelimit

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Config tunes the limiter. Both buckets refill to capacity once per
// RefillInterval.
type Config struct {
	ConnCapacity   int
	IPCapacity     int
	RefillInterval time.Duration
}

// DefaultConfig returns the production budgets: 5 ops/sec per connection,
// 8 ops/sec per IP.
func DefaultConfig() Config {
	return Config{
		ConnCapacity:   5,
		IPCapacity:     8,
		RefillInterval: time.Second,
	}
}

type bucket struct {
	tokens     int
	lastRefill time.Time
}

func (b *bucket) tryConsume(capacity int, interval time.Duration, now time.Time) bool {
	elapsed := now.Sub(b.lastRefill)
	if elapsed >= interval {
		intervals := int(elapsed / interval)
		b.tokens += intervals * capacity
		if b.tokens > capacity {
			b.tokens = capacity
		}
		b.lastRefill = b.lastRefill.Add(time.Duration(intervals) * interval)
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Limiter admits an action only when both the per-connection and the per-IP
// bucket have capacity. The connection bucket is consumed before the IP
// bucket is checked; a rejection at either stage counts as not admitted.
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	perConn map[string]*bucket
	perIP   map[string]*bucket
	clock   clockwork.Clock
}

// New creates a Limiter with the given budgets.
func New(cfg Config, clock clockwork.Clock) *Limiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Limiter{
		cfg:     cfg,
		perConn: make(map[string]*bucket),
		perIP:   make(map[string]*bucket),
		clock:   clock,
	}
}

// Allow reports whether an action from the given connection and IP may
// proceed now.
func (l *Limiter) Allow(connID, ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	cb, ok := l.perConn[connID]
	if !ok {
		cb = &bucket{tokens: l.cfg.ConnCapacity, lastRefill: now}
		l.perConn[connID] = cb
	}
	if !cb.tryConsume(l.cfg.ConnCapacity, l.cfg.RefillInterval, now) {
		return false
	}

	ib, ok := l.perIP[ip]
	if !ok {
		ib = &bucket{tokens: l.cfg.IPCapacity, lastRefill: now}
		l.perIP[ip] = ib
	}
	return ib.tryConsume(l.cfg.IPCapacity, l.cfg.RefillInterval, now)
}

// Forget drops the per-connection bucket once a connection is gone so the
// map does not grow without bound. IP buckets are kept; they are shared.
func (l *Limiter) Forget(connID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.perConn, connID)
}
