// Package httpclient builds the tuned *http.Client the engine issues
// every outbound request through, plus the host-allowlist check and
// redirect-host revalidation the engine requires: a shared,
// keep-alive-tuned http.Transport, keyed per-host so connections pool
// within a host but not across hosts.
package httpclient

import (
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/tanq16/cartvault/internal/errkind"
)

// Config carries the per-pool tunables the engine needs (no CLI
// proxy/UA flags here — those are EngineConfig fields upstream).
type Config struct {
	ConnectTimeout time.Duration
	IdleTimeout    time.Duration
	UserAgent      string
	HostAllowlist  []string

	// TLSConfig overrides the transport's TLS settings, e.g. to pin a
	// custom CA. Nil keeps the stdlib default.
	TLSConfig *tls.Config
}

// Allowed reports whether host may be contacted. An empty allowlist is
// permissive (no restriction configured) so tests and local
// development don't need to enumerate every host up front; a
// non-empty list is an exact allowlist for a locked-down deployment.
func (c Config) Allowed(host string) bool {
	if len(c.HostAllowlist) == 0 {
		return true
	}
	for _, h := range c.HostAllowlist {
		if h == host {
			return true
		}
	}
	return false
}

// Pool hands out one shared *http.Client per host, so connections
// pool within a host but not across hosts.
type Pool struct {
	cfg Config

	mu      sync.Mutex
	clients map[string]*http.Client
}

func NewPool(cfg Config) *Pool {
	return &Pool{cfg: cfg, clients: make(map[string]*http.Client)}
}

// Config returns the pool's configuration, mainly so callers can run
// the Allowed() host check without threading Config separately.
func (p *Pool) Config() Config { return p.cfg }

// For returns the shared client for host, constructing it on first use.
func (p *Pool) For(host string) *http.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[host]; ok {
		return c
	}
	c := newClient(p.cfg)
	p.clients[host] = c
	return c
}

func newClient(cfg Config) *http.Client {
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout == 0 {
		connectTimeout = 30 * time.Second
	}
	idleTimeout := cfg.IdleTimeout
	if idleTimeout == 0 {
		idleTimeout = 60 * time.Second
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		IdleConnTimeout:     idleTimeout,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		DisableCompression:  true,
		TLSClientConfig:     cfg.TLSConfig,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
	return &http.Client{
		Transport: transport,
		// Every redirect hop is re-checked against the https-only rule
		// and the host allowlist, as NewRequest does for the first hop.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return errkind.New(errkind.Network, "stopped after 10 redirects")
			}
			if req.URL.Scheme != "https" || !cfg.Allowed(req.URL.Hostname()) {
				return errkind.New(errkind.Validation, "redirect to disallowed host: "+req.URL.Hostname())
			}
			return nil
		},
		// No client-wide Timeout: per-request deadlines come from the
		// caller's context, so a connect timeout, a chunk timeout, and
		// an idle-stall abort can each apply independently.
	}
}

// NewRequest builds a request with the engine's User-Agent set and
// validates that the target host is allow-listed and the scheme is
// https.
func (p *Pool) NewRequest(method, rawURL string, rangeHeader string) (*http.Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errkind.Wrap(errkind.Validation, "invalid URL", err)
	}
	if u.Scheme != "https" {
		return nil, errkind.New(errkind.Validation, "only https URLs are accepted")
	}
	if !p.cfg.Allowed(u.Hostname()) {
		return nil, errkind.New(errkind.Validation, "host not in allow-list: "+u.Hostname())
	}
	req, err := http.NewRequest(method, rawURL, nil)
	if err != nil {
		return nil, errkind.Wrap(errkind.Validation, "building request", err)
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)
	req.Header.Set("Connection", "keep-alive")
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	return req, nil
}
