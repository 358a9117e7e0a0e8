// Package ratelimit keeps one token bucket per key.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type entry struct {
	l        *rate.Limiter
	lastSeen time.Time
}

// Pool lazily creates a limiter per key and forgets keys idle for longer
// than the TTL. A non-positive limit disables limiting.
type Pool struct {
	mu        sync.Mutex
	m         map[string]*entry
	limit     rate.Limit
	burst     int
	ttl       time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func NewPool(perSecond float64, burst int) *Pool {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &Pool{
		m:     make(map[string]*entry),
		limit: limit,
		burst: burst,
		ttl:   10 * time.Minute,
		now:   time.Now,
	}
}

func (p *Pool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if now.Sub(p.lastSweep) > p.ttl {
		p.sweep(now)
	}

	if e, ok := p.m[key]; ok {
		e.lastSeen = now
		return e.l
	}
	l := rate.NewLimiter(p.limit, p.burst)
	p.m[key] = &entry{l: l, lastSeen: now}
	return l
}

func (p *Pool) sweep(now time.Time) {
	cutoff := now.Add(-p.ttl)
	for k, e := range p.m {
		if e.lastSeen.Before(cutoff) {
			delete(p.m, k)
		}
	}
	p.lastSweep = now
}

// Allow reports whether key may proceed now without waiting.
func (p *Pool) Allow(key string) bool {
	return p.get(key).Allow()
}

// Wait blocks until key may proceed or ctx is done.
func (p *Pool) Wait(ctx context.Context, key string) error {
	return p.get(key).Wait(ctx)
}

// Len is the number of tracked keys.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}
