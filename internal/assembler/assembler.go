// Package assembler joins a download's chunk staging files into the
// final destination file, atomically: write into a temp file in the
// same directory as the destination, fsync, then rename over it so
// readers never observe a partially assembled file.
package assembler

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/tanq16/cartvault/internal/errkind"
	"github.com/tanq16/cartvault/internal/model"
	"github.com/tanq16/cartvault/internal/transport"
)

// Assemble concatenates each chunk's staging part, in chunk-index
// order, into destPath, then removes the staging parts. It does no
// size check before copying, and leaves destPath untouched on error.
func Assemble(ctx context.Context, destPath, stagingSuffix string, chunks []model.Chunk) (int64, error) {
	tmpPath := destPath + stagingSuffix + ".assembling"
	out, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, errkind.Wrap(errkind.Disk, "create assembly temp file", err)
	}

	var total int64
	for _, ch := range chunks {
		select {
		case <-ctx.Done():
			out.Close()
			os.Remove(tmpPath)
			return total, ctx.Err()
		default:
		}

		partPath := transport.ChunkPartPath(destPath, stagingSuffix, ch.ChunkIndex)
		n, err := appendPart(out, partPath)
		total += n
		if err != nil {
			out.Close()
			os.Remove(tmpPath)
			return total, err
		}
	}

	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmpPath)
		return total, errkind.Wrap(errkind.Disk, "fsync assembled file", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpPath)
		return total, errkind.Wrap(errkind.Disk, "close assembled file", err)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		os.Remove(tmpPath)
		return total, errkind.Wrap(errkind.Disk, "create destination dir", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return total, errkind.Wrap(errkind.Disk, "rename assembled file into place", err)
	}

	for _, ch := range chunks {
		os.Remove(transport.ChunkPartPath(destPath, stagingSuffix, ch.ChunkIndex))
	}
	return total, nil
}

func appendPart(out *os.File, partPath string) (int64, error) {
	in, err := os.Open(partPath)
	if err != nil {
		return 0, errkind.Wrap(errkind.Disk, "open chunk part for assembly", err)
	}
	defer in.Close()

	n, err := io.Copy(out, in)
	if err != nil {
		return n, errkind.Wrap(errkind.Disk, "copy chunk part into assembly", err)
	}
	return n, nil
}
