// Package workerpool runs background jobs (merge, batched progress
// flush) behind a bounded concurrency limit, built on
// golang.org/x/sync/errgroup the same way internal/transport's chunk
// downloader is, plus a liveness heartbeat so the engine can mark
// itself degraded if the pool stalls.
package workerpool

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Pool bounds concurrent background jobs and tracks the most recent
// time any job finished, so a caller can detect the pool going quiet
// under sustained load.
type Pool struct {
	limit int

	mu          sync.Mutex
	lastFinish  time.Time
	activeCount int
}

func New(limit int) *Pool {
	return &Pool{limit: limit, lastFinish: zeroButReady()}
}

// zeroButReady seeds lastFinish as "now" at construction, since
// time.Now() elsewhere in this package is the only place wall time
// is read; a pool that has never run a job isn't degraded.
func zeroButReady() time.Time { return time.Now() }

// Submit runs jobs concurrently (bounded by the pool's limit) and
// returns the first error, cancelling the remaining jobs' context,
// mirroring errgroup's fail-fast semantics.
func (p *Pool) Submit(ctx context.Context, jobs ...func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.limit)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			p.mu.Lock()
			p.activeCount++
			p.mu.Unlock()
			defer func() {
				p.mu.Lock()
				p.activeCount--
				p.lastFinish = time.Now()
				p.mu.Unlock()
			}()
			return job(gctx)
		})
	}
	return g.Wait()
}

// Active reports the number of jobs currently running.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeCount
}

// Degraded reports true if the pool has outstanding work but hasn't
// finished anything within staleAfter, signalling the pool is stuck
// rather than merely busy.
func (p *Pool) Degraded(staleAfter time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeCount > 0 && time.Since(p.lastFinish) > staleAfter
}
