package store

import (
	"path/filepath"
	"testing"

	"github.com/tanq16/cartvault/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAddCreatesQueuedDownload(t *testing.T) {
	s := openTestStore(t)
	id, version, err := s.Add("https://a.example/f", "/tmp/f", model.PriorityNormal, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == 0 {
		t.Fatal("expected a non-zero id")
	}
	if version == 0 {
		t.Fatal("expected the version to bump past its initial value")
	}
	d, err := s.Get(id)
	if err != nil {
		t.Fatalf("unexpected error fetching the row: %v", err)
	}
	if d.State != model.Queued {
		t.Fatalf("expected a new download to start QUEUED, got %s", d.State)
	}
	if d.URL != "https://a.example/f" {
		t.Fatalf("unexpected URL: %s", d.URL)
	}
}

func TestAddBatchInsertsAllRows(t *testing.T) {
	s := openTestStore(t)
	items := []AddItem{
		{URL: "https://a.example/1", SavePath: "/tmp/1", Priority: model.PriorityLow},
		{URL: "https://a.example/2", SavePath: "/tmp/2", Priority: model.PriorityHigh},
	}
	ids, _, err := s.AddBatch(items)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %d", len(ids))
	}
	for _, id := range ids {
		if _, err := s.Get(id); err != nil {
			t.Fatalf("expected row %d to exist: %v", id, err)
		}
	}
}

func TestAddBatchEmptyIsNoop(t *testing.T) {
	s := openTestStore(t)
	ids, version, err := s.AddBatch(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ids != nil || version != 0 {
		t.Fatalf("expected a no-op for an empty batch, got ids=%v version=%d", ids, version)
	}
}

func TestSetStateAllowsLegalTransition(t *testing.T) {
	s := openTestStore(t)
	id, _, _ := s.Add("https://a.example/f", "/tmp/f", model.PriorityNormal, nil)
	if _, err := s.SetState(id, model.Starting, nil); err != nil {
		t.Fatalf("unexpected error on a legal transition: %v", err)
	}
	d, _ := s.Get(id)
	if d.State != model.Starting {
		t.Fatalf("expected STARTING, got %s", d.State)
	}
}

func TestSetStateRejectsIllegalTransition(t *testing.T) {
	s := openTestStore(t)
	id, _, _ := s.Add("https://a.example/f", "/tmp/f", model.PriorityNormal, nil)
	if _, err := s.SetState(id, model.Completed, nil); err == nil {
		t.Fatal("expected QUEUED -> COMPLETED to be rejected")
	}
	d, _ := s.Get(id)
	if d.State != model.Queued {
		t.Fatalf("state should be unchanged after a rejected transition, got %s", d.State)
	}
}

func TestSetStateRecordsErrorPayload(t *testing.T) {
	s := openTestStore(t)
	id, _, _ := s.Add("https://a.example/f", "/tmp/f", model.PriorityNormal, nil)
	s.SetState(id, model.Starting, nil)
	s.SetState(id, model.Downloading, nil)
	if _, err := s.SetState(id, model.Failed, &TransitionOpts{ErrorMessage: "boom", ErrorCode: "TIMEOUT"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d, _ := s.Get(id)
	if d.ErrorMessage != "boom" || d.ErrorCode != "TIMEOUT" {
		t.Fatalf("expected error payload to be recorded, got %q/%q", d.ErrorMessage, d.ErrorCode)
	}
}

func TestSetStateUnknownIDErrors(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.SetState(9999, model.Starting, nil); err == nil {
		t.Fatal("expected an error for a nonexistent download id")
	}
}

func TestUpdateProgressPersists(t *testing.T) {
	s := openTestStore(t)
	id, v0, _ := s.Add("https://a.example/f", "/tmp/f", model.PriorityNormal, nil)
	v1, err := s.UpdateProgress(id, 4096)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v1 <= v0 {
		t.Fatalf("expected version to bump past %d, got %d", v0, v1)
	}
	d, _ := s.Get(id)
	if d.DownloadedBytes != 4096 {
		t.Fatalf("expected downloaded_bytes=4096, got %d", d.DownloadedBytes)
	}
}

func TestUpsertChunksThenListChunks(t *testing.T) {
	s := openTestStore(t)
	id, v0, _ := s.Add("https://a.example/f", "/tmp/f", model.PriorityNormal, nil)
	chunks := []model.Chunk{
		{DownloadID: id, ChunkIndex: 0, StartByte: 0, EndByte: 99},
		{DownloadID: id, ChunkIndex: 1, StartByte: 100, EndByte: 199},
	}
	v1, err := s.UpsertChunks(id, chunks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v1 <= v0 {
		t.Fatalf("expected version to bump past %d, got %d", v0, v1)
	}
	got, err := s.ListChunks(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(got))
	}
	if got[0].ChunkIndex != 0 || got[1].ChunkIndex != 1 {
		t.Fatal("expected chunks ordered by index")
	}
	if got[0].State != model.ChunkPending {
		t.Fatalf("expected default chunk state PENDING, got %s", got[0].State)
	}
}

func TestIncrementChunkAttemptsCounts(t *testing.T) {
	s := openTestStore(t)
	id, _, _ := s.Add("https://a.example/f", "/tmp/f", model.PriorityNormal, nil)
	s.UpsertChunks(id, []model.Chunk{{DownloadID: id, ChunkIndex: 0, StartByte: 0, EndByte: 9}})

	n, v1, err := s.IncrementChunkAttempts(id, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected attempts=1, got %d", n)
	}
	n, v2, err := s.IncrementChunkAttempts(id, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected attempts=2, got %d", n)
	}
	if v2 <= v1 {
		t.Fatalf("expected version to bump on each attempt increment, got v1=%d v2=%d", v1, v2)
	}
}

func TestSnapshotSkipsUnchangedVersion(t *testing.T) {
	s := openTestStore(t)
	s.Add("https://a.example/f", "/tmp/f", model.PriorityNormal, nil)
	version, summaries, changed, err := s.Snapshot(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !changed || len(summaries) != 1 {
		t.Fatalf("expected a changed snapshot with 1 row, got changed=%v len=%d", changed, len(summaries))
	}

	_, again, changedAgain, err := s.Snapshot(version)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if changedAgain || again != nil {
		t.Fatal("expected Snapshot to report no change when minVersion already equals current version")
	}
}

func TestSummaryCountsAggregatesByState(t *testing.T) {
	s := openTestStore(t)
	id1, _, _ := s.Add("https://a.example/1", "/tmp/1", model.PriorityNormal, nil)
	s.Add("https://a.example/2", "/tmp/2", model.PriorityNormal, nil)
	s.SetState(id1, model.Starting, nil)

	counts, err := s.SummaryCounts()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if counts[model.Queued] != 1 {
		t.Fatalf("expected 1 QUEUED, got %d", counts[model.Queued])
	}
	if counts[model.Starting] != 1 {
		t.Fatalf("expected 1 STARTING, got %d", counts[model.Starting])
	}
}

func TestRemoveDeletesDownloadAndChunks(t *testing.T) {
	s := openTestStore(t)
	id, _, _ := s.Add("https://a.example/f", "/tmp/f", model.PriorityNormal, nil)
	s.UpsertChunks(id, []model.Chunk{{DownloadID: id, ChunkIndex: 0, StartByte: 0, EndByte: 9}})

	if err := s.Remove(id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.Get(id); err == nil {
		t.Fatal("expected the download row to be gone after Remove")
	}
	chunks, err := s.ListChunks(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 0 {
		t.Fatal("expected chunks to be removed alongside the download")
	}
}
