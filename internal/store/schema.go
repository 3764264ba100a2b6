package store

const schema = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
INSERT OR IGNORE INTO meta (key, value) VALUES ('state_version', '0');

CREATE TABLE IF NOT EXISTS downloads (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	url                 TEXT NOT NULL,
	save_path           TEXT NOT NULL,
	total_bytes         INTEGER,
	state               TEXT NOT NULL,
	downloaded_bytes    INTEGER NOT NULL DEFAULT 0,
	priority            INTEGER NOT NULL DEFAULT 2,
	mode                TEXT NOT NULL DEFAULT '',
	error_message       TEXT NOT NULL DEFAULT '',
	error_code          TEXT NOT NULL DEFAULT '',
	created_at          DATETIME NOT NULL,
	last_updated_at     DATETIME NOT NULL,
	last_transition_at  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_downloads_state ON downloads(state);

CREATE TABLE IF NOT EXISTS chunks (
	download_id   INTEGER NOT NULL,
	chunk_index   INTEGER NOT NULL,
	start_byte    INTEGER NOT NULL,
	end_byte      INTEGER NOT NULL,
	state         TEXT NOT NULL,
	written_bytes INTEGER NOT NULL DEFAULT 0,
	attempts      INTEGER NOT NULL DEFAULT 0,
	tail_checksum TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (download_id, chunk_index)
);
CREATE INDEX IF NOT EXISTS idx_chunks_download ON chunks(download_id, chunk_index);

CREATE TABLE IF NOT EXISTS attempts (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	download_id       INTEGER NOT NULL,
	chunk_index       INTEGER,
	attempt_number    INTEGER NOT NULL,
	error_text        TEXT NOT NULL DEFAULT '',
	error_code        TEXT NOT NULL DEFAULT '',
	bytes_transferred INTEGER NOT NULL DEFAULT 0,
	timestamp         DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attempts_download_ts ON attempts(download_id, timestamp);
`
