// Package breaker implements a per-host/global circuit breaker
// registry on the standard library: sync.Mutex plus time.Time
// comparisons driving a small explicit CLOSED/OPEN/HALF_OPEN state
// machine.
package breaker

import (
	"sync"
	"time"

	"github.com/tanq16/cartvault/internal/errkind"
)

// State is the breaker's own three-state machine.
type State string

const (
	Closed   State = "CLOSED"
	Open     State = "OPEN"
	HalfOpen State = "HALF_OPEN"
)

// Config parametrizes one breaker's thresholds.
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	OpenTimeout      time.Duration
	ResetTimeout     time.Duration
}

// GlobalDefaults and PerHostDefaults are the engine's built-in breaker
// thresholds.
func GlobalDefaults() Config {
	return Config{FailureThreshold: 5, SuccessThreshold: 2, OpenTimeout: 60 * time.Second, ResetTimeout: 60 * time.Second}
}

func PerHostDefaults() Config {
	return Config{FailureThreshold: 10, SuccessThreshold: 2, OpenTimeout: 120 * time.Second, ResetTimeout: 60 * time.Second}
}

// Breaker is one CLOSED/OPEN/HALF_OPEN state machine.
type Breaker struct {
	cfg Config

	mu              sync.Mutex
	state           State
	consecutiveFail int
	consecutiveOK   int
	openedAt        time.Time
	halfOpenProbing bool
}

func New(cfg Config) *Breaker {
	return &Breaker{cfg: cfg, state: Closed}
}

// State reports the breaker's current state, resolving OPEN -> HALF_OPEN
// transitions lazily on read.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpenLocked()
	return b.state
}

func (b *Breaker) maybeHalfOpenLocked() {
	if b.state == Open && time.Since(b.openedAt) >= b.cfg.ResetTimeout {
		b.state = HalfOpen
		b.halfOpenProbing = false
		b.consecutiveOK = 0
	}
}

// Execute runs f only if the breaker admits the call; otherwise it
// returns CircuitOpenError without invoking f.
func (b *Breaker) Execute(f func() error) error {
	b.mu.Lock()
	b.maybeHalfOpenLocked()
	switch b.state {
	case Open:
		b.mu.Unlock()
		return errkind.New(errkind.CircuitOpen, "circuit breaker open")
	case HalfOpen:
		if b.halfOpenProbing {
			b.mu.Unlock()
			return errkind.New(errkind.CircuitOpen, "circuit breaker half-open: probe in flight")
		}
		b.halfOpenProbing = true
	}
	b.mu.Unlock()

	err := f()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == HalfOpen {
		b.halfOpenProbing = false
	}
	if err != nil {
		b.onFailureLocked()
		return err
	}
	b.onSuccessLocked()
	return nil
}

func (b *Breaker) onFailureLocked() {
	switch b.state {
	case HalfOpen:
		b.trip()
	default:
		b.consecutiveFail++
		b.consecutiveOK = 0
		if b.consecutiveFail >= b.cfg.FailureThreshold {
			b.trip()
		}
	}
}

func (b *Breaker) onSuccessLocked() {
	switch b.state {
	case HalfOpen:
		b.consecutiveOK++
		if b.consecutiveOK >= b.cfg.SuccessThreshold {
			b.state = Closed
			b.consecutiveFail = 0
			b.consecutiveOK = 0
		}
	default:
		b.consecutiveFail = 0
	}
}

func (b *Breaker) trip() {
	b.state = Open
	b.openedAt = time.Now()
	b.consecutiveFail = 0
	b.consecutiveOK = 0
	b.halfOpenProbing = false
}

// Registry owns every breaker the engine uses: one global breaker
// (mode=global) or one per hostname (mode=per_host), selected by
// configuration.
type Registry struct {
	mu     sync.Mutex
	mode   Mode
	global *Breaker
	byHost map[string]*Breaker
}

type Mode string

const (
	ModeOff     Mode = "off"
	ModeGlobal  Mode = "global"
	ModePerHost Mode = "per_host"
)

func NewRegistry(mode Mode) *Registry {
	return &Registry{
		mode:   mode,
		global: New(GlobalDefaults()),
		byHost: make(map[string]*Breaker),
	}
}

// Executor is what callers need from a breaker: guarded execution and
// a readable state for metrics. *Breaker and the ModeOff no-op both
// implement it.
type Executor interface {
	Execute(f func() error) error
	State() State
}

// For returns the breaker that should guard a request to host. In
// ModeOff it returns a breaker that never trips.
func (r *Registry) For(host string) Executor {
	switch r.mode {
	case ModeGlobal:
		return r.global
	case ModePerHost:
		r.mu.Lock()
		defer r.mu.Unlock()
		b, ok := r.byHost[host]
		if !ok {
			b = New(PerHostDefaults())
			r.byHost[host] = b
		}
		return b
	default:
		return noopBreaker
	}
}

// States returns a snapshot of every breaker's state, keyed by host
// ("*" for the global breaker), for debug/metrics reporting.
func (r *Registry) States() map[string]State {
	out := map[string]State{}
	switch r.mode {
	case ModeGlobal:
		out["*"] = r.global.State()
	case ModePerHost:
		r.mu.Lock()
		hosts := make([]string, 0, len(r.byHost))
		for h := range r.byHost {
			hosts = append(hosts, h)
		}
		r.mu.Unlock()
		for _, h := range hosts {
			out[h] = r.For(h).State()
		}
	}
	return out
}

// Shutdown drops every breaker; they own no timers, so this is just
// releasing references.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byHost = make(map[string]*Breaker)
}

var noopBreaker = &alwaysClosed{}

// alwaysClosed implements the same Execute signature as *Breaker for
// ModeOff without a type-switch at every call site.
type alwaysClosed struct{}

func (a *alwaysClosed) Execute(f func() error) error { return f() }
func (a *alwaysClosed) State() State                 { return Closed }
