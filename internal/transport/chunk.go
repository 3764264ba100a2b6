package transport

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tanq16/cartvault/internal/breaker"
	"github.com/tanq16/cartvault/internal/concurrency"
	"github.com/tanq16/cartvault/internal/errkind"
	"github.com/tanq16/cartvault/internal/httpclient"
	"github.com/tanq16/cartvault/internal/model"
	"github.com/tanq16/cartvault/internal/ratelimit"
	"github.com/tanq16/cartvault/internal/session"
)

// ChunkProgressFunc reports one chunk's cumulative written bytes.
type ChunkProgressFunc func(chunkIndex int, written int64)

// ChunkAttemptFunc is called after every failed chunk attempt, before
// the decision to retry or give up, so the caller can record it and
// emit a chunk-failed event.
type ChunkAttemptFunc func(chunkIndex, attemptNumber int, bytesTransferred int64, err error, willRetry bool)

// ChunkPartPath returns the staging path for one chunk's bytes, kept
// alongside the final file with the engine's configured suffix so a
// crash mid-download leaves an inspectable, cleanable trail.
func ChunkPartPath(destPath, stagingSuffix string, chunkIndex int) string {
	return fmt.Sprintf("%s%s.part%d", destPath, stagingSuffix, chunkIndex)
}

// DownloadChunks fetches every pending chunk of one download
// concurrently, bounded by sem, stopping the whole group on the first
// unretryable error or ctx cancellation. Each chunk's bytes land in
// its own staging file; the caller assembles them afterward.
// chunkTimeout bounds each individual attempt (0 disables it);
// idleTimeout aborts an attempt with no bytes arriving for that long
// (0 disables it). limiter, if non-nil, paces request initiation per
// host.
//
// Built on golang.org/x/sync/errgroup for structured cancellation
// instead of a raw sync.WaitGroup plus error channel.
func DownloadChunks(
	ctx context.Context,
	sess *session.Session,
	pool *httpclient.Pool,
	br breaker.Executor,
	sem *concurrency.ChunkSemaphore,
	url, destPath, stagingSuffix string,
	chunks []model.Chunk,
	maxRetries int,
	chunkTimeout, idleTimeout time.Duration,
	limiter *ratelimit.Limiter,
	onProgress ChunkProgressFunc,
	onAttempt ChunkAttemptFunc,
) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, ch := range chunks {
		ch := ch
		if ch.State == model.ChunkCompleted {
			continue
		}
		g.Go(func() error {
			if err := sem.Acquire(gctx); err != nil {
				return err
			}
			defer sem.Release()
			return downloadOneChunk(gctx, sess, pool, br, url, destPath, stagingSuffix, ch, maxRetries, chunkTimeout, idleTimeout, limiter, onProgress, onAttempt)
		})
	}
	return g.Wait()
}

func downloadOneChunk(
	ctx context.Context,
	sess *session.Session,
	pool *httpclient.Pool,
	br breaker.Executor,
	url, destPath, stagingSuffix string,
	ch model.Chunk,
	maxRetries int,
	chunkTimeout, idleTimeout time.Duration,
	limiter *ratelimit.Limiter,
	onProgress ChunkProgressFunc,
	onAttempt ChunkAttemptFunc,
) error {
	partPath := ChunkPartPath(destPath, stagingSuffix, ch.ChunkIndex)

	var already int64
	if fi, err := os.Stat(partPath); err == nil {
		already = fi.Size()
	}
	start := ch.StartByte + already
	if start > ch.EndByte {
		return nil // already fully fetched
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := jitteredBackoff(attempt)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if chunkTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, chunkTimeout)
		}
		err := br.Execute(func() error {
			return fetchRange(attemptCtx, sess, pool, url, partPath, start, ch.EndByte, ch.ChunkIndex, idleTimeout, limiter, onProgress)
		})
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return nil
		}
		lastErr = err

		var transferred int64
		if fi, statErr := os.Stat(partPath); statErr == nil {
			transferred = fi.Size()
		}
		willRetry := attempt < maxRetries && errkind.IsRetryable(err)
		if onAttempt != nil {
			onAttempt(ch.ChunkIndex, attempt+1, transferred, err, willRetry)
		}
		if !errkind.IsRetryable(err) {
			return err
		}
		// re-derive how much landed before retrying
		if fi, statErr := os.Stat(partPath); statErr == nil {
			start = ch.StartByte + fi.Size()
		}
	}
	return lastErr
}

func fetchRange(ctx context.Context, sess *session.Session, pool *httpclient.Pool, url, partPath string, start, end int64, chunkIndex int, idleTimeout time.Duration, limiter *ratelimit.Limiter, onProgress ChunkProgressFunc) error {
	rangeHeader := fmt.Sprintf("bytes=%d-%d", start, end)
	req, err := pool.NewRequest(http.MethodGet, url, rangeHeader)
	if err != nil {
		return err
	}
	req = req.WithContext(ctx)
	host := req.URL.Hostname()

	if limiter != nil {
		if err := limiter.Wait(ctx, host); err != nil {
			return errkind.Wrap(errkind.Network, "rate limit wait", err)
		}
	}

	resp, err := pool.For(host).Do(req)
	if err != nil {
		return errkind.Wrap(errkind.Network, "chunk request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		return errkind.New(errkind.Server, fmt.Sprintf("chunk %d: unexpected status %d", chunkIndex, resp.StatusCode))
	}

	if err := os.MkdirAll(filepath.Dir(partPath), 0o755); err != nil {
		return errkind.Wrap(errkind.Disk, "create staging dir", err)
	}
	f, err := os.OpenFile(partPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errkind.Wrap(errkind.Disk, "open chunk part", err)
	}
	defer f.Close()

	startedAt, err := f.Seek(0, 2)
	if err != nil {
		return errkind.Wrap(errkind.Disk, "seek chunk part", err)
	}

	_, err = copyWithProgress(ctx, sess, f, resp.Body, startedAt, idleTimeout, func(total int64) {
		if onProgress != nil {
			onProgress(chunkIndex, total)
		}
	})
	return err
}

// jitteredBackoff grows roughly exponentially with attempt, capped at
// 30s, with up to 30% random jitter to avoid retry storms across
// chunks of the same download.
func jitteredBackoff(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt)) * time.Second
	if base > 30*time.Second {
		base = 30 * time.Second
	}
	jitter := time.Duration(float64(base) * 0.3 * pseudoRandFraction(attempt))
	return base + jitter
}

// pseudoRandFraction returns a deterministic-but-spread value in
// [0,1) derived from attempt, avoiding a dependency on math/rand's
// global seed state for this narrow use.
func pseudoRandFraction(attempt int) float64 {
	x := (attempt*2654435761 + 1) & 0x7fffffff
	return float64(x%1000) / 1000.0
}
