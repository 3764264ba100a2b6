// Package ratelimit implements a per-key token-bucket rate limiter
// over golang.org/x/time/rate. It adds the per-key registry and
// idle-key compaction sweep golang.org/x/time/rate doesn't provide on
// its own.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// entry pairs a limiter with the last time it was touched, so
// Compact can evict keys nobody has used recently.
type entry struct {
	limiter    *rate.Limiter
	lastUsedAt time.Time
}

// Limiter is a keyed rate limiter: one token bucket per hostname,
// client id, or IPC channel name.
type Limiter struct {
	mu      sync.Mutex
	perSec  rate.Limit
	burst   int
	entries map[string]*entry
}

// New builds a limiter allowing burst immediate requests and perSec
// steady-state requests per second, per key.
func New(perSec float64, burst int) *Limiter {
	return &Limiter{
		perSec:  rate.Limit(perSec),
		burst:   burst,
		entries: make(map[string]*entry),
	}
}

// Allow increments key's bucket and reports whether the request is
// within budget.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.perSec, l.burst)}
		l.entries[key] = e
	}
	e.lastUsedAt = time.Now()
	l.mu.Unlock()
	return e.limiter.Allow()
}

// Wait blocks until key's bucket admits a request or ctx is done,
// unlike Allow's non-blocking check. Callers pace outbound requests
// with this instead of rejecting them outright.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.perSec, l.burst)}
		l.entries[key] = e
	}
	e.lastUsedAt = time.Now()
	lim := e.limiter
	l.mu.Unlock()
	return lim.Wait(ctx)
}

// Compact drops keys idle for longer than maxIdle, bounding memory use
// under a long-running daemon that talks to many transient hosts.
func (l *Limiter) Compact(maxIdle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := time.Now().Add(-maxIdle)
	removed := 0
	for k, e := range l.entries {
		if e.lastUsedAt.Before(cutoff) {
			delete(l.entries, k)
			removed++
		}
	}
	return removed
}

// RunCompactionLoop periodically compacts until ctxDone fires; call it
// once per Limiter instance from the engine's lifecycle goroutine.
func (l *Limiter) RunCompactionLoop(interval, maxIdle time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.Compact(maxIdle)
		case <-done:
			return
		}
	}
}
