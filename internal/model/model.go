// Package model holds the durable entities of the download engine:
// downloads, chunks, and attempt log rows.
package model

import "time"

// State is a download's position in the canonical state machine. The
// allowed-transition table lives in Transitions.
type State string

const (
	Queued      State = "QUEUED"
	Starting    State = "STARTING"
	Downloading State = "DOWNLOADING"
	Paused      State = "PAUSED"
	Merging     State = "MERGING"
	Verifying   State = "VERIFYING"
	Completed   State = "COMPLETED"
	Failed      State = "FAILED"
	Cancelled   State = "CANCELLED"
)

// ChunkState is a chunk's independent lifecycle within a CHUNKED download.
type ChunkState string

const (
	ChunkPending     ChunkState = "PENDING"
	ChunkDownloading ChunkState = "DOWNLOADING"
	ChunkCompleted   ChunkState = "COMPLETED"
	ChunkFailed      ChunkState = "FAILED"
	ChunkPaused      ChunkState = "PAUSED"
)

// Mode is decided once, at START, and never changes for a download's
// lifetime.
type Mode string

const (
	ModeSimple  Mode = "SIMPLE"
	ModeChunked Mode = "CHUNKED"
)

// Priority matches: 1=low, 2=normal, 3=high.
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityNormal Priority = 2
	PriorityHigh   Priority = 3
)

// AwaitOverwrite is the sentinel error_code that turns a PAUSED row
// into an "awaiting confirmation" state: resume is refused until the
// caller calls ConfirmOverwrite.
const AwaitOverwrite = "AWAIT_OVERWRITE"

// Transitions is the allowed-transition table for the download state
// machine. A transition not present here is rejected with errkind.State.
var Transitions = map[State]map[State]bool{
	Queued:      set(Starting, Cancelled, Paused),
	Starting:    set(Downloading, Paused, Failed, Cancelled),
	Downloading: set(Paused, Merging, Verifying, Failed, Cancelled, Completed),
	Paused:      set(Queued, Starting, Cancelled, Failed),
	Merging:     set(Verifying, Completed, Failed, Cancelled),
	Verifying:   set(Completed, Failed, Cancelled),
	Completed:   {},
	Failed:      set(Queued, Cancelled),
	Cancelled:   {},
}

func set(states ...State) map[State]bool {
	m := make(map[State]bool, len(states))
	for _, s := range states {
		m[s] = true
	}
	return m
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to State) bool {
	allowed, ok := Transitions[from]
	if !ok {
		return false
	}
	return allowed[to]
}

// IsTerminal reports whether a state has no outgoing transitions.
func IsTerminal(s State) bool {
	return s == Completed || s == Cancelled
}

// Download is the durable record backing one queued, running, or
// finished transfer.
type Download struct {
	ID               int64
	URL              string
	SavePath         string
	TotalBytes       *int64 // nil until resolved
	State            State
	DownloadedBytes  int64
	Priority         Priority
	Mode             Mode
	ErrorMessage     string
	ErrorCode        string
	CreatedAt        time.Time
	LastUpdatedAt    time.Time
	LastTransitionAt time.Time
}

// Chunk is the durable per-range record, only present for
// Mode == ModeChunked downloads.
type Chunk struct {
	DownloadID    int64
	ChunkIndex    int
	StartByte     int64
	EndByte       int64 // inclusive
	State         ChunkState
	WrittenBytes  int64
	Attempts      int
	TailChecksum  string // hex sha256 of the last 64KiB of the part file
}

// Len returns the number of bytes in the chunk's range.
func (c Chunk) Len() int64 { return c.EndByte - c.StartByte + 1 }

// Attempt is an append-only diagnostic row.
type Attempt struct {
	ID                int64
	DownloadID        int64
	ChunkIndex        *int // nil for whole-download (simple mode) attempts
	AttemptNumber     int
	ErrorText         string
	ErrorCode         string
	BytesTransferred  int64
	Timestamp         time.Time
}

// Summary is the lightweight projection handed to UI snapshots.
type Summary struct {
	ID              int64      `json:"id"`
	URL             string     `json:"url"`
	SavePath        string     `json:"save_path"`
	TotalBytes      *int64     `json:"total_bytes,omitempty"`
	DownloadedBytes int64      `json:"downloaded_bytes"`
	State           State      `json:"state"`
	Priority        Priority   `json:"priority"`
	Mode            Mode       `json:"mode"`
	ErrorMessage    string     `json:"error,omitempty"`
	ErrorCode       string     `json:"error_code,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	LastUpdatedAt   time.Time  `json:"last_updated_at"`
}

// StateCounts is the aggregate produced by Store.Summary.
type StateCounts map[State]int
