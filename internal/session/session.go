// Package session implements the Session Manager: a
// monotonic token per logical run of a download, so a late callback
// from an aborted attempt can be recognized and dropped instead of
// mutating state it no longer has permission to touch.
package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Token identifies one run of one download. Every spawned task
// captures the token at start; any state-mutating callback re-checks
// it against the Manager before writing.
type Token string

// Session bundles the token with a cancellable context, so cancelling
// a download both invalidates the token and aborts in-flight I/O in
// one call.
type Session struct {
	Token  Token
	Ctx    context.Context
	cancel context.CancelFunc
}

// Cancel aborts every in-flight operation bound to this session.
func (s *Session) Cancel() { s.cancel() }

// Manager owns the current session per download id.
type Manager struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
}

func NewManager() *Manager {
	return &Manager{sessions: make(map[int64]*Session)}
}

// Start invalidates any previous session for id and issues a fresh
// one, derived from parent so engine-wide shutdown cancels every
// session transitively.
func (m *Manager) Start(parent context.Context, id int64) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.sessions[id]; ok {
		old.cancel()
	}
	ctx, cancel := context.WithCancel(parent)
	s := &Session{Token: Token(uuid.NewString()), Ctx: ctx, cancel: cancel}
	m.sessions[id] = s
	return s
}

// Invalidate cancels and drops the current session for id (pause/cancel path).
func (m *Manager) Invalidate(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.cancel()
		delete(m.sessions, id)
	}
}

// Current returns the live session for id, if any.
func (m *Manager) Current(id int64) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// IsCurrent reports whether token is still the live session for id.
// A callback must check this immediately before every state-mutating
// write.
func (m *Manager) IsCurrent(id int64, token Token) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return ok && s.Token == token
}

// InvalidateAll cancels every live session, used on engine shutdown
// and pause_all/cancel_all.
func (m *Manager) InvalidateAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		s.cancel()
		delete(m.sessions, id)
	}
}
