// Package store is the durable, write-ahead-logged state store:
// single writer, many readers, atomic state transitions, versioned
// snapshots, split between a write handle and a pooled read handle
// over mattn/go-sqlite3.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tanq16/cartvault/internal/errkind"
	"github.com/tanq16/cartvault/internal/model"
)

// Store is the engine's sole owner of downloads/chunks/attempts rows.
// writer is a single-connection handle;
// reader is a pooled read-only handle so UI polling never blocks a
// mutation.
type Store struct {
	writer *sql.DB
	reader *sql.DB
}

// Open creates (if needed) and opens the SQLite database at path with
// WAL journaling and synchronous=NORMAL.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on", path)
	writer, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errkind.Wrap(errkind.Disk, "opening state store", err)
	}
	writer.SetMaxOpenConns(1) // enforce the single-writer invariant

	roDSN := fmt.Sprintf("file:%s?_journal_mode=WAL&mode=ro", path)
	reader, err := sql.Open("sqlite3", roDSN)
	if err != nil {
		writer.Close()
		return nil, errkind.Wrap(errkind.Disk, "opening state store reader", err)
	}
	reader.SetMaxOpenConns(4)

	if _, err := writer.Exec(schema); err != nil {
		writer.Close()
		reader.Close()
		return nil, errkind.Wrap(errkind.Disk, "migrating state store", err)
	}
	return &Store{writer: writer, reader: reader}, nil
}

// Close releases both handles. Called during engine shutdown.
func (s *Store) Close() error {
	err1 := s.writer.Close()
	err2 := s.reader.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *Store) bumpVersion(tx *sql.Tx) (int64, error) {
	if _, err := tx.Exec(`UPDATE meta SET value = CAST(value AS INTEGER) + 1 WHERE key = 'state_version'`); err != nil {
		return 0, err
	}
	var v int64
	if err := tx.QueryRow(`SELECT value FROM meta WHERE key = 'state_version'`).Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

// CurrentVersion reads state_version without a transaction (cheap;
// used by callers deciding whether to bother calling Snapshot at all).
func (s *Store) CurrentVersion() (int64, error) {
	var v int64
	err := s.reader.QueryRow(`SELECT value FROM meta WHERE key = 'state_version'`).Scan(&v)
	return v, err
}

// Add persists a new download in QUEUED state.
func (s *Store) Add(url, savePath string, priority model.Priority, totalBytes *int64) (int64, int64, error) {
	tx, err := s.writer.Begin()
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.Exec(
		`INSERT INTO downloads (url, save_path, total_bytes, state, downloaded_bytes, priority, mode, created_at, last_updated_at, last_transition_at)
		 VALUES (?, ?, ?, ?, 0, ?, '', ?, ?, ?)`,
		url, savePath, totalBytes, model.Queued, priority, now, now, now,
	)
	if err != nil {
		return 0, 0, errkind.Wrap(errkind.Disk, "inserting download", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, 0, err
	}
	version, err := s.bumpVersion(tx)
	if err != nil {
		return 0, 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	return id, version, nil
}

// AddItem is one row of an AddBatch call.
type AddItem struct {
	URL        string
	SavePath   string
	Priority   model.Priority
	TotalBytes *int64
}

// AddBatch inserts many downloads in a single writer transaction, so
// adding a whole folder of URLs pays for one round trip through the
// single-writer lock instead of N.
func (s *Store) AddBatch(items []AddItem) ([]int64, int64, error) {
	if len(items) == 0 {
		return nil, 0, nil
	}
	tx, err := s.writer.Begin()
	if err != nil {
		return nil, 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO downloads (url, save_path, total_bytes, state, downloaded_bytes, priority, mode, created_at, last_updated_at, last_transition_at)
		 VALUES (?, ?, ?, ?, 0, ?, '', ?, ?, ?)`)
	if err != nil {
		return nil, 0, err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	ids := make([]int64, 0, len(items))
	for _, it := range items {
		res, err := stmt.Exec(it.URL, it.SavePath, it.TotalBytes, model.Queued, it.Priority, now, now, now)
		if err != nil {
			return nil, 0, errkind.Wrap(errkind.Disk, "inserting batched download", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, 0, err
		}
		ids = append(ids, id)
	}
	version, err := s.bumpVersion(tx)
	if err != nil {
		return nil, 0, err
	}
	if err := tx.Commit(); err != nil {
		return nil, 0, err
	}
	return ids, version, nil
}

// transitionOpts carries the optional error payload attached to a
// state change.
type TransitionOpts struct {
	ErrorMessage string
	ErrorCode    string
}

// SetState performs a validated state transition. Illegal transitions
// are rejected without mutating anything.
func (s *Store) SetState(id int64, newState model.State, opts *TransitionOpts) (int64, error) {
	tx, err := s.writer.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var current model.State
	if err := tx.QueryRow(`SELECT state FROM downloads WHERE id = ?`, id).Scan(&current); err != nil {
		if err == sql.ErrNoRows {
			return 0, errkind.New(errkind.State, fmt.Sprintf("download %d not found", id))
		}
		return 0, err
	}
	if !model.CanTransition(current, newState) {
		return 0, errkind.New(errkind.State, fmt.Sprintf("illegal transition %s -> %s", current, newState))
	}

	now := time.Now().UTC()
	msg, code := "", ""
	if opts != nil {
		msg, code = opts.ErrorMessage, opts.ErrorCode
	}
	if _, err := tx.Exec(
		`UPDATE downloads SET state = ?, error_message = ?, error_code = ?, last_updated_at = ?, last_transition_at = ? WHERE id = ?`,
		newState, msg, code, now, now, id,
	); err != nil {
		return 0, err
	}
	version, err := s.bumpVersion(tx)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return version, nil
}

// SetMode records the SIMPLE/CHUNKED decision made at START.
func (s *Store) SetMode(id int64, mode model.Mode) (int64, error) {
	tx, err := s.writer.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`UPDATE downloads SET mode = ?, last_updated_at = ? WHERE id = ?`, mode, time.Now().UTC(), id); err != nil {
		return 0, err
	}
	version, err := s.bumpVersion(tx)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return version, nil
}

// SetTotalBytes fills in total_bytes once resolved by the probe step.
func (s *Store) SetTotalBytes(id int64, total int64) (int64, error) {
	tx, err := s.writer.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`UPDATE downloads SET total_bytes = ?, last_updated_at = ? WHERE id = ?`, total, time.Now().UTC(), id); err != nil {
		return 0, err
	}
	version, err := s.bumpVersion(tx)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return version, nil
}

// UpdateProgress writes one download's cumulative byte count.
func (s *Store) UpdateProgress(id int64, bytes int64) (int64, error) {
	tx, err := s.writer.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`UPDATE downloads SET downloaded_bytes = ?, last_updated_at = ? WHERE id = ?`, bytes, time.Now().UTC(), id); err != nil {
		return 0, err
	}
	version, err := s.bumpVersion(tx)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return version, nil
}

// ProgressUpdate is one row of a BatchUpdateProgress call.
type ProgressUpdate struct {
	ID    int64
	Bytes int64
}

// BatchUpdateProgress coalesces many downloads' progress updates into
// a single transaction, the batched-write half of the worker pool's
// responsibilities.
func (s *Store) BatchUpdateProgress(updates []ProgressUpdate) (int64, error) {
	if len(updates) == 0 {
		return s.CurrentVersion()
	}
	tx, err := s.writer.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	stmt, err := tx.Prepare(`UPDATE downloads SET downloaded_bytes = ?, last_updated_at = ? WHERE id = ?`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()
	now := time.Now().UTC()
	for _, u := range updates {
		if _, err := stmt.Exec(u.Bytes, now, u.ID); err != nil {
			return 0, err
		}
	}
	version, err := s.bumpVersion(tx)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return version, nil
}

// UpsertChunks writes the Chunk Planner's plan.
func (s *Store) UpsertChunks(downloadID int64, chunks []model.Chunk) (int64, error) {
	tx, err := s.writer.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	stmt, err := tx.Prepare(`
		INSERT INTO chunks (download_id, chunk_index, start_byte, end_byte, state, written_bytes, attempts, tail_checksum)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(download_id, chunk_index) DO UPDATE SET
			start_byte = excluded.start_byte, end_byte = excluded.end_byte`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()
	for _, c := range chunks {
		state := c.State
		if state == "" {
			state = model.ChunkPending
		}
		if _, err := stmt.Exec(downloadID, c.ChunkIndex, c.StartByte, c.EndByte, state, c.WrittenBytes, c.Attempts, c.TailChecksum); err != nil {
			return 0, err
		}
	}
	version, err := s.bumpVersion(tx)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return version, nil
}

// SetChunkState updates one chunk's lifecycle state.
func (s *Store) SetChunkState(downloadID int64, chunkIndex int, state model.ChunkState) (int64, error) {
	tx, err := s.writer.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(
		`UPDATE chunks SET state = ? WHERE download_id = ? AND chunk_index = ?`,
		state, downloadID, chunkIndex,
	); err != nil {
		return 0, err
	}
	version, err := s.bumpVersion(tx)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return version, nil
}

// SetChunkProgress updates a chunk's written-bytes / checksum checkpoint.
func (s *Store) SetChunkProgress(downloadID int64, chunkIndex int, written int64, tailChecksum string) (int64, error) {
	tx, err := s.writer.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(
		`UPDATE chunks SET written_bytes = ?, tail_checksum = ? WHERE download_id = ? AND chunk_index = ?`,
		written, tailChecksum, downloadID, chunkIndex,
	); err != nil {
		return 0, err
	}
	version, err := s.bumpVersion(tx)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return version, nil
}

// IncrementChunkAttempts bumps a chunk's attempt counter and returns
// the new value alongside the bumped state version.
func (s *Store) IncrementChunkAttempts(downloadID int64, chunkIndex int) (int, int64, error) {
	tx, err := s.writer.Begin()
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`UPDATE chunks SET attempts = attempts + 1 WHERE download_id = ? AND chunk_index = ?`, downloadID, chunkIndex); err != nil {
		return 0, 0, err
	}
	var attempts int
	if err := tx.QueryRow(`SELECT attempts FROM chunks WHERE download_id = ? AND chunk_index = ?`, downloadID, chunkIndex).Scan(&attempts); err != nil {
		return 0, 0, err
	}
	version, err := s.bumpVersion(tx)
	if err != nil {
		return 0, 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	return attempts, version, nil
}

// ListChunks returns every chunk row for a download, ordered by index.
func (s *Store) ListChunks(downloadID int64) ([]model.Chunk, error) {
	rows, err := s.reader.Query(
		`SELECT download_id, chunk_index, start_byte, end_byte, state, written_bytes, attempts, tail_checksum
		 FROM chunks WHERE download_id = ? ORDER BY chunk_index`, downloadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Chunk
	for rows.Next() {
		var c model.Chunk
		if err := rows.Scan(&c.DownloadID, &c.ChunkIndex, &c.StartByte, &c.EndByte, &c.State, &c.WrittenBytes, &c.Attempts, &c.TailChecksum); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteChunks removes all chunk rows for a download (used on cancel
// and on remove).
func (s *Store) DeleteChunks(downloadID int64) error {
	_, err := s.writer.Exec(`DELETE FROM chunks WHERE download_id = ?`, downloadID)
	return err
}

// RecordAttempt appends a diagnostic row.
func (s *Store) RecordAttempt(a model.Attempt) error {
	_, err := s.writer.Exec(
		`INSERT INTO attempts (download_id, chunk_index, attempt_number, error_text, error_code, bytes_transferred, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.DownloadID, a.ChunkIndex, a.AttemptNumber, a.ErrorText, a.ErrorCode, a.BytesTransferred, time.Now().UTC(),
	)
	return err
}

// ListAttempts returns every attempt row for a download, most recent last.
func (s *Store) ListAttempts(downloadID int64) ([]model.Attempt, error) {
	rows, err := s.reader.Query(
		`SELECT id, download_id, chunk_index, attempt_number, error_text, error_code, bytes_transferred, timestamp
		 FROM attempts WHERE download_id = ? ORDER BY timestamp`, downloadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Attempt
	for rows.Next() {
		var a model.Attempt
		if err := rows.Scan(&a.ID, &a.DownloadID, &a.ChunkIndex, &a.AttemptNumber, &a.ErrorText, &a.ErrorCode, &a.BytesTransferred, &a.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Get fetches a single download row.
func (s *Store) Get(id int64) (model.Download, error) {
	d := model.Download{}
	err := s.reader.QueryRow(
		`SELECT id, url, save_path, total_bytes, state, downloaded_bytes, priority, mode, error_message, error_code, created_at, last_updated_at, last_transition_at
		 FROM downloads WHERE id = ?`, id,
	).Scan(&d.ID, &d.URL, &d.SavePath, &d.TotalBytes, &d.State, &d.DownloadedBytes, &d.Priority, &d.Mode, &d.ErrorMessage, &d.ErrorCode, &d.CreatedAt, &d.LastUpdatedAt, &d.LastTransitionAt)
	if err == sql.ErrNoRows {
		return d, errkind.New(errkind.State, fmt.Sprintf("download %d not found", id))
	}
	return d, err
}

// ListByState returns up to limit downloads in the given state,
// ordered by priority then insertion.
func (s *Store) ListByState(state model.State, limit int) ([]model.Download, error) {
	rows, err := s.reader.Query(
		`SELECT id, url, save_path, total_bytes, state, downloaded_bytes, priority, mode, error_message, error_code, created_at, last_updated_at, last_transition_at
		 FROM downloads WHERE state = ? ORDER BY priority DESC, id ASC LIMIT ?`, state, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Download
	for rows.Next() {
		var d model.Download
		if err := rows.Scan(&d.ID, &d.URL, &d.SavePath, &d.TotalBytes, &d.State, &d.DownloadedBytes, &d.Priority, &d.Mode, &d.ErrorMessage, &d.ErrorCode, &d.CreatedAt, &d.LastUpdatedAt, &d.LastTransitionAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Snapshot returns the full summary set plus current version, unless
// minVersion already equals the current version, in which case it
// returns (version, nil, false) so the caller can skip re-rendering
// an unchanged view.
func (s *Store) Snapshot(minVersion int64) (int64, []model.Summary, bool, error) {
	version, err := s.CurrentVersion()
	if err != nil {
		return 0, nil, false, err
	}
	if minVersion == version {
		return version, nil, false, nil
	}
	rows, err := s.reader.Query(
		`SELECT id, url, save_path, total_bytes, downloaded_bytes, state, priority, mode, error_message, error_code, created_at, last_updated_at
		 FROM downloads ORDER BY id`)
	if err != nil {
		return 0, nil, false, err
	}
	defer rows.Close()
	var out []model.Summary
	for rows.Next() {
		var sm model.Summary
		if err := rows.Scan(&sm.ID, &sm.URL, &sm.SavePath, &sm.TotalBytes, &sm.DownloadedBytes, &sm.State, &sm.Priority, &sm.Mode, &sm.ErrorMessage, &sm.ErrorCode, &sm.CreatedAt, &sm.LastUpdatedAt); err != nil {
			return 0, nil, false, err
		}
		out = append(out, sm)
	}
	return version, out, true, rows.Err()
}

// SummaryCounts aggregates download counts per state.
func (s *Store) SummaryCounts() (model.StateCounts, error) {
	rows, err := s.reader.Query(`SELECT state, COUNT(*) FROM downloads GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := model.StateCounts{}
	for rows.Next() {
		var st model.State
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		counts[st] = n
	}
	return counts, rows.Err()
}

// Remove deletes a terminal download's rows.
// Callers must have already confirmed the state is terminal and
// deleted the on-disk artifacts.
func (s *Store) Remove(id int64) error {
	tx, err := s.writer.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM chunks WHERE download_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM attempts WHERE download_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM downloads WHERE id = ?`, id); err != nil {
		return err
	}
	if _, err := s.bumpVersion(tx); err != nil {
		return err
	}
	return tx.Commit()
}
