package transport

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/tanq16/cartvault/internal/session"
)

// blockingReader never returns from Read until unblocked, used to
// exercise the idle-timeout path of copyWithProgress.
type blockingReader struct {
	unblock chan struct{}
}

func (r *blockingReader) Read(p []byte) (int, error) {
	<-r.unblock
	return 0, io.EOF
}

func TestChunkPartPathIncludesSuffixAndIndex(t *testing.T) {
	got := ChunkPartPath("/tmp/file.iso", ".cartvault", 3)
	want := "/tmp/file.iso.cartvault.part3"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestParseContentRangeTotalValid(t *testing.T) {
	total, ok := parseContentRangeTotal("bytes 0-0/104857600")
	if !ok {
		t.Fatal("expected a well-formed Content-Range header to parse")
	}
	if total != 104857600 {
		t.Fatalf("expected total=104857600, got %d", total)
	}
}

func TestParseContentRangeTotalEmpty(t *testing.T) {
	if _, ok := parseContentRangeTotal(""); ok {
		t.Fatal("expected an empty header to fail to parse")
	}
}

func TestParseContentRangeTotalMalformed(t *testing.T) {
	if _, ok := parseContentRangeTotal("not-a-content-range"); ok {
		t.Fatal("expected a malformed header to fail to parse")
	}
}

func TestCopyWithProgressWritesAllBytes(t *testing.T) {
	src := strings.NewReader("the quick brown fox jumps over the lazy dog")
	var dst bytes.Buffer
	n, err := copyWithProgress(context.Background(), nil, &dst, src, 0, 0, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != int64(dst.Len()) {
		t.Fatalf("returned count %d does not match bytes written %d", n, dst.Len())
	}
	if dst.String() != "the quick brown fox jumps over the lazy dog" {
		t.Fatalf("unexpected content: %q", dst.String())
	}
}

func TestCopyWithProgressStartsFromOffset(t *testing.T) {
	src := strings.NewReader("world")
	var dst bytes.Buffer
	n, err := copyWithProgress(context.Background(), nil, &dst, src, 100, 0, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 105 {
		t.Fatalf("expected the returned total to include the starting offset, got %d", n)
	}
}

func TestCopyWithProgressRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := strings.NewReader("data that will never be read")
	var dst bytes.Buffer
	_, err := copyWithProgress(ctx, nil, &dst, src, 0, 0, nil)
	if err == nil {
		t.Fatal("expected an error when the context is already cancelled")
	}
}

func TestCopyWithProgressRespectsInvalidatedSession(t *testing.T) {
	mgr := session.NewManager()
	sess := mgr.Start(context.Background(), 1)
	mgr.Invalidate(1)

	src := strings.NewReader("data that will never be read")
	var dst bytes.Buffer
	_, err := copyWithProgress(context.Background(), sess, &dst, src, 0, 0, nil)
	if err == nil {
		t.Fatal("expected an error when the session has been invalidated")
	}
}

func TestCopyWithProgressAbortsOnIdleStall(t *testing.T) {
	src := &blockingReader{unblock: make(chan struct{})}
	defer close(src.unblock)
	var dst bytes.Buffer

	start := time.Now()
	_, err := copyWithProgress(context.Background(), nil, &dst, src, 0, 20*time.Millisecond, nil)
	if err == nil {
		t.Fatal("expected an error when no bytes arrive within the idle timeout")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("expected the idle timeout to fire promptly, took %s", elapsed)
	}
}
