package verifier

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "f.bin")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}
	return path
}

func TestVerifySizeMatches(t *testing.T) {
	path := writeTemp(t, "0123456789")
	if err := VerifySize(path, 10); err != nil {
		t.Fatalf("expected matching size to pass, got %v", err)
	}
}

func TestVerifySizeMismatch(t *testing.T) {
	path := writeTemp(t, "0123456789")
	if err := VerifySize(path, 11); err == nil {
		t.Fatal("expected a size mismatch error")
	}
}

func TestHashIsDeterministic(t *testing.T) {
	path := writeTemp(t, "the quick brown fox")
	h1, err := Hash(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h2, err := Hash(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected a stable digest, got %q then %q", h1, h2)
	}
	if len(h1) != 64 {
		t.Fatalf("expected a 64-char hex SHA-256 digest, got %d chars", len(h1))
	}
}

func TestVerifyHashAcceptsCaseInsensitiveMatch(t *testing.T) {
	path := writeTemp(t, "payload")
	got, err := Hash(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	upper := ""
	for _, r := range got {
		if 'a' <= r && r <= 'z' {
			r -= 'a' - 'A'
		}
		upper += string(r)
	}
	if err := VerifyHash(path, upper); err != nil {
		t.Fatalf("expected an uppercase-hex match to pass, got %v", err)
	}
}

func TestVerifyHashRejectsMismatch(t *testing.T) {
	path := writeTemp(t, "payload")
	if err := VerifyHash(path, "0000000000000000000000000000000000000000000000000000000000000000"); err == nil {
		t.Fatal("expected a hash mismatch error")
	}
}

func TestTailChecksumUsesLastNBytes(t *testing.T) {
	path := writeTemp(t, "aaaaaaaaaaXYZ")
	full, err := TailChecksum(path, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tailOnly := writeTemp(t, "XYZ")
	want, err := Hash(tailOnly)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if full != want {
		t.Fatalf("expected the tail checksum to match the hash of just the tail bytes")
	}
}

func TestTailChecksumClampsToFileSize(t *testing.T) {
	path := writeTemp(t, "ab")
	got, err := TailChecksum(path, 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want, err := Hash(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Fatal("expected requesting more tail bytes than the file has to fall back to the whole file")
	}
}
