// Package transport implements the simple (unchunked) downloader and
// the chunked downloader: the components that actually move bytes
// over HTTP. Both take a session token for cooperative cancellation
// alongside ctx, and report progress through a callback the caller
// wires into the event bus.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/tanq16/cartvault/internal/errkind"
	"github.com/tanq16/cartvault/internal/httpclient"
	"github.com/tanq16/cartvault/internal/ratelimit"
	"github.com/tanq16/cartvault/internal/session"
)

// ProgressFunc is called with cumulative bytes written so far. It must
// not block for long; callers typically just forward the count into a
// speed tracker and a debounced event.
type ProgressFunc func(written int64)

// SimpleDownload streams url directly to destPath with no chunking,
// used for small files. It supports resume: if
// destPath already has partial bytes and the server accepts Range, it
// continues from where it left off. chunkTimeout bounds the whole
// attempt (0 disables it); idleTimeout aborts the attempt if no bytes
// arrive for that long (0 disables it). limiter, if non-nil, paces
// request initiation per host.
func SimpleDownload(ctx context.Context, sess *session.Session, pool *httpclient.Pool, url, destPath string, chunkTimeout, idleTimeout time.Duration, limiter *ratelimit.Limiter, onProgress ProgressFunc) (int64, error) {
	if chunkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, chunkTimeout)
		defer cancel()
	}

	var startAt int64
	if fi, err := os.Stat(destPath); err == nil {
		startAt = fi.Size()
	}

	rangeHeader := ""
	if startAt > 0 {
		rangeHeader = fmt.Sprintf("bytes=%d-", startAt)
	}
	req, err := pool.NewRequest(http.MethodGet, url, rangeHeader)
	if err != nil {
		return 0, err
	}
	req = req.WithContext(ctx)

	host := req.URL.Hostname()
	if limiter != nil {
		if err := limiter.Wait(ctx, host); err != nil {
			return 0, errkind.Wrap(errkind.Network, "rate limit wait", err)
		}
	}
	resp, err := pool.For(host).Do(req)
	if err != nil {
		return 0, errkind.Wrap(errkind.Network, "request failed", err)
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	switch resp.StatusCode {
	case http.StatusPartialContent:
		flags |= os.O_APPEND
	case http.StatusOK:
		startAt = 0
		flags |= os.O_TRUNC
	default:
		return 0, errkind.New(errkind.Server, fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}

	f, err := os.OpenFile(destPath, flags, 0o644)
	if err != nil {
		return 0, errkind.Wrap(errkind.Disk, "open destination file", err)
	}
	defer f.Close()

	written, err := copyWithProgress(ctx, sess, f, resp.Body, startAt, idleTimeout, onProgress)
	if err != nil {
		return written, err
	}
	return written, nil
}

// readResult carries one Read call's outcome across the goroutine
// boundary copyWithProgress uses to enforce an idle-read timeout.
type readResult struct {
	n   int
	err error
}

// copyWithProgress streams src into dst in fixed chunks, checking ctx
// and the session token between reads so a pause or cancel lands
// within one buffer's worth of latency, and reporting the running
// total via onProgress. Each Read runs on its own goroutine so a
// stalled connection (bytes stop arriving, no error, no EOF) can be
// aborted after idleTimeout instead of hanging forever; idleTimeout<=0
// disables the check. A Read that is still in flight when this
// function returns is abandoned; it unblocks on its own once the
// caller closes the response body.
func copyWithProgress(ctx context.Context, sess *session.Session, dst io.Writer, src io.Reader, startAt int64, idleTimeout time.Duration, onProgress ProgressFunc) (int64, error) {
	buf := make([]byte, 256*1024)
	total := startAt
	lastProgressAt := time.Now()

	var sessDone <-chan struct{}
	if sess != nil {
		sessDone = sess.Ctx.Done()
	}

	for {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		case <-sessDone:
			return total, errkind.New(errkind.Cancelled, "session invalidated")
		default:
		}

		resultCh := make(chan readResult, 1)
		go func() {
			n, err := src.Read(buf)
			resultCh <- readResult{n: n, err: err}
		}()

		var timerC <-chan time.Time
		var timer *time.Timer
		if idleTimeout > 0 {
			timer = time.NewTimer(idleTimeout)
			timerC = timer.C
		}

		var res readResult
		select {
		case res = <-resultCh:
			if timer != nil {
				timer.Stop()
			}
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return total, ctx.Err()
		case <-sessDone:
			if timer != nil {
				timer.Stop()
			}
			return total, errkind.New(errkind.Cancelled, "session invalidated")
		case <-timerC:
			return total, errkind.New(errkind.Network, fmt.Sprintf("no data received for %s", idleTimeout))
		}

		if res.n > 0 {
			if _, err := dst.Write(buf[:res.n]); err != nil {
				return total, errkind.Wrap(errkind.Disk, "write destination file", err)
			}
			total += int64(res.n)
			if onProgress != nil && time.Since(lastProgressAt) > 20*time.Millisecond {
				onProgress(total)
				lastProgressAt = time.Now()
			}
		}
		if res.err != nil {
			if res.err == io.EOF {
				if onProgress != nil {
					onProgress(total)
				}
				return total, nil
			}
			return total, errkind.Wrap(errkind.Network, "read response body", res.err)
		}
	}
}
