// Package events is the typed in-process Event Bus: a
// synchronous pub/sub fan-out to the UI boundary that debounces
// state-changed and never blocks on a slow subscriber.
package events

import (
	"sync"
	"time"
)

// Kind names the events the bus can publish.
type Kind string

const (
	StateChanged        Kind = "state-changed"
	DownloadProgress    Kind = "download-progress"
	DownloadCompleted   Kind = "download-completed"
	DownloadFailed      Kind = "download-failed"
	ChunkCompleted      Kind = "chunk-completed"
	ChunkFailed         Kind = "chunk-failed"
	MergeStarted        Kind = "merge-started"
	VerificationStarted Kind = "verification-started"
	NeedsConfirmation   Kind = "needs-confirmation"
)

// Event is the envelope delivered to subscribers. Payload is one of
// the *Payload types below, chosen by Kind.
type Event struct {
	Kind    Kind
	Payload any
}

type StateChangedPayload struct {
	Version int64
}

type ChunkProgress struct {
	Index   int   `json:"index"`
	Written int64 `json:"written"`
}

type DownloadProgressPayload struct {
	ID             int64           `json:"id"`
	Bytes          int64           `json:"bytes"`
	Percent        float64         `json:"percent"`
	SpeedBPS       float64         `json:"speed_bps"`
	ETASeconds     *float64        `json:"eta_s,omitempty"`
	ChunkProgress  []ChunkProgress `json:"chunk_progress,omitempty"`
}

type DownloadCompletedPayload struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	SavePath string `json:"save_path"`
}

type DownloadFailedPayload struct {
	ID              int64  `json:"id"`
	Error           string `json:"error"`
	FailedDuringMerge bool `json:"failed_during_merge"`
}

type ChunkCompletedPayload struct {
	ID         int64 `json:"id"`
	ChunkIndex int   `json:"chunk_index"`
}

type ChunkFailedPayload struct {
	ID         int64  `json:"id"`
	ChunkIndex int    `json:"chunk_index"`
	Error      string `json:"error"`
	WillRetry  bool   `json:"will_retry"`
}

type MergeStartedPayload struct{ ID int64 `json:"id"` }
type VerificationStartedPayload struct{ ID int64 `json:"id"` }

type NeedsConfirmationPayload struct {
	ID       int64  `json:"id"`
	SavePath string `json:"save_path"`
	Size     int64  `json:"size,omitempty"`
}

// Subscriber receives events on a buffered channel. If the buffer is
// full the bus drops the event for that subscriber rather than
// blocking the emitter.
type Subscriber struct {
	ch     chan Event
	closed bool
}

func (s *Subscriber) C() <-chan Event { return s.ch }

// Bus fans events out to subscribers and debounces state-changed.
type Bus struct {
	mu          sync.Mutex
	subscribers map[*Subscriber]struct{}

	debounce      time.Duration
	pendingVer    int64
	debounceTimer *time.Timer
	timerFn       func(time.Duration, func()) *time.Timer
}

// New builds a bus with a ~50ms state-changed debounce window.
func New() *Bus {
	return &Bus{
		subscribers: make(map[*Subscriber]struct{}),
		debounce:    50 * time.Millisecond,
	}
}

// Subscribe registers a new listener with a bounded buffer.
func (b *Bus) Subscribe(buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &Subscriber{ch: make(chan Event, buffer)}
	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes and closes a subscriber's channel.
func (b *Bus) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[sub]; ok {
		delete(b.subscribers, sub)
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
	}
}

// publish is the non-blocking fan-out primitive shared by every emit method.
func (b *Bus) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subscribers {
		select {
		case sub.ch <- ev:
		default:
			// slow subscriber: drop, per back-pressure policy.
		}
	}
}

// EmitStateChanged debounces bursts of version bumps into one
// emission carrying the latest version. Safe for
// concurrent callers; version never regresses.
func (b *Bus) EmitStateChanged(version int64) {
	b.mu.Lock()
	if version > b.pendingVer {
		b.pendingVer = version
	}
	if b.debounceTimer != nil {
		b.mu.Unlock()
		return
	}
	newTimer := func(d time.Duration, f func()) *time.Timer { return time.AfterFunc(d, f) }
	if b.timerFn != nil {
		newTimer = b.timerFn
	}
	b.debounceTimer = newTimer(b.debounce, b.flushStateChanged)
	b.mu.Unlock()
}

func (b *Bus) flushStateChanged() {
	b.mu.Lock()
	v := b.pendingVer
	b.debounceTimer = nil
	b.mu.Unlock()
	b.publish(Event{Kind: StateChanged, Payload: StateChangedPayload{Version: v}})
}

// EmitProgress is not debounced; callers are expected to already
// throttle to <=2Hz per download.
func (b *Bus) EmitProgress(p DownloadProgressPayload) {
	b.publish(Event{Kind: DownloadProgress, Payload: p})
}

func (b *Bus) EmitCompleted(p DownloadCompletedPayload) {
	b.publish(Event{Kind: DownloadCompleted, Payload: p})
}

func (b *Bus) EmitFailed(p DownloadFailedPayload) {
	b.publish(Event{Kind: DownloadFailed, Payload: p})
}

func (b *Bus) EmitChunkCompleted(p ChunkCompletedPayload) {
	b.publish(Event{Kind: ChunkCompleted, Payload: p})
}

func (b *Bus) EmitChunkFailed(p ChunkFailedPayload) {
	b.publish(Event{Kind: ChunkFailed, Payload: p})
}

func (b *Bus) EmitMergeStarted(id int64) {
	b.publish(Event{Kind: MergeStarted, Payload: MergeStartedPayload{ID: id}})
}

func (b *Bus) EmitVerificationStarted(id int64) {
	b.publish(Event{Kind: VerificationStarted, Payload: VerificationStartedPayload{ID: id}})
}

func (b *Bus) EmitNeedsConfirmation(p NeedsConfirmationPayload) {
	b.publish(Event{Kind: NeedsConfirmation, Payload: p})
}
