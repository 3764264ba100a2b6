package transport

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tanq16/cartvault/internal/errkind"
	"github.com/tanq16/cartvault/internal/httpclient"
	"github.com/tanq16/cartvault/internal/ratelimit"
)

// ProbeResult reports what the server told us about a URL before any
// bytes are downloaded: whether it supports byte ranges and, if known,
// its total size.
type ProbeResult struct {
	TotalBytes      *int64
	SupportsRanges  bool
}

// Probe issues a HEAD request (falling back to a one-byte GET range,
// bytes=0-0, if HEAD is rejected) to learn content length and range support,
// used by the engine's start-flow to decide SIMPLE vs CHUNKED mode.
func Probe(ctx context.Context, pool *httpclient.Pool, limiter *ratelimit.Limiter, url string) (ProbeResult, error) {
	req, err := pool.NewRequest(http.MethodHead, url, "")
	if err != nil {
		return ProbeResult{}, err
	}
	req = req.WithContext(ctx)
	host := req.URL.Hostname()

	if limiter != nil {
		if err := limiter.Wait(ctx, host); err != nil {
			return ProbeResult{}, errkind.Wrap(errkind.Network, "rate limit wait", err)
		}
	}
	resp, err := pool.For(host).Do(req)
	if err != nil {
		return ProbeResult{}, errkind.Wrap(errkind.Network, "probe request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return probeWithRangeGet(ctx, pool, limiter, url)
	}

	result := ProbeResult{SupportsRanges: resp.Header.Get("Accept-Ranges") == "bytes"}
	if resp.ContentLength > 0 {
		size := resp.ContentLength
		result.TotalBytes = &size
	}
	return result, nil
}

func probeWithRangeGet(ctx context.Context, pool *httpclient.Pool, limiter *ratelimit.Limiter, url string) (ProbeResult, error) {
	req, err := pool.NewRequest(http.MethodGet, url, "bytes=0-0")
	if err != nil {
		return ProbeResult{}, err
	}
	req = req.WithContext(ctx)
	host := req.URL.Hostname()

	if limiter != nil {
		if err := limiter.Wait(ctx, host); err != nil {
			return ProbeResult{}, errkind.Wrap(errkind.Network, "rate limit wait", err)
		}
	}
	resp, err := pool.For(host).Do(req)
	if err != nil {
		return ProbeResult{}, errkind.Wrap(errkind.Network, "probe request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return ProbeResult{}, errkind.New(errkind.Server, "server rejected probe request")
	}

	result := ProbeResult{SupportsRanges: resp.StatusCode == http.StatusPartialContent}
	if total, ok := parseContentRangeTotal(resp.Header.Get("Content-Range")); ok {
		result.TotalBytes = &total
	} else if resp.ContentLength > 0 {
		size := resp.ContentLength
		result.TotalBytes = &size
	}
	return result, nil
}

// parseContentRangeTotal extracts the total size from a header like
// "bytes 0-0/104857600".
func parseContentRangeTotal(header string) (int64, bool) {
	if header == "" {
		return 0, false
	}
	var start, end, total int64
	n, err := fmt.Sscanf(header, "bytes %d-%d/%d", &start, &end, &total)
	if err != nil || n != 3 {
		return 0, false
	}
	return total, true
}
