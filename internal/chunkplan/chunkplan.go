// Package chunkplan implements the chunk planner: given a known total
// size, it produces a deterministic list of byte ranges. The size
// bands and rounding rule generalize a simpler chunk-count heuristic
// ("fileSize/connections < 10MB -> simple") into an explicit
// size-band table.
package chunkplan

import (
	"github.com/tanq16/cartvault/internal/model"
)

const (
	sizeBandSimpleMax = 50 * 1024 * 1024
	sizeBand500MB     = 500 * 1024 * 1024
	sizeBand2GB       = 2 * 1024 * 1024 * 1024

	roundBoundary = 64 * 1024 // 64 KiB

	initialTarget50to500  = 4
	initialTarget500to2GB = 8
	initialTargetAbove2GB = 12

	minChunksBand50to500  = 4
	maxChunksBand50to500  = 8
	minChunksBand500to2GB = 8
	maxChunksBand500to2GB = 16
	minChunksAbove2GB     = 8
	maxChunksAbove2GB     = 16
)

// PlanResult is the planner's output for one download.
type PlanResult struct {
	Mode         model.Mode
	InitialCount int
	MinChunks    int
	MaxChunks    int
	Chunks       []model.Chunk
}

// Plan decides SIMPLE vs CHUNKED and, for CHUNKED, the initial chunk
// layout, based on the download's total size.
func Plan(downloadID int64, totalBytes int64) PlanResult {
	switch {
	case totalBytes < sizeBandSimpleMax:
		return PlanResult{Mode: model.ModeSimple}
	case totalBytes < sizeBand500MB:
		return build(downloadID, totalBytes, initialTarget50to500, minChunksBand50to500, maxChunksBand50to500)
	case totalBytes < sizeBand2GB:
		return build(downloadID, totalBytes, initialTarget500to2GB, minChunksBand500to2GB, maxChunksBand500to2GB)
	default:
		return build(downloadID, totalBytes, initialTargetAbove2GB, minChunksAbove2GB, maxChunksAbove2GB)
	}
}

func build(downloadID, totalBytes int64, count, minChunks, maxChunks int) PlanResult {
	chunks := Ranges(downloadID, totalBytes, count)
	return PlanResult{
		Mode:         model.ModeChunked,
		InitialCount: count,
		MinChunks:    minChunks,
		MaxChunks:    maxChunks,
		Chunks:       chunks,
	}
}

// Ranges partitions [0, totalBytes-1] into count contiguous,
// non-overlapping ranges, rounding the per-chunk size up to a 64 KiB
// boundary and letting the last chunk absorb the remainder.
func Ranges(downloadID int64, totalBytes int64, count int) []model.Chunk {
	if count < 1 {
		count = 1
	}
	chunkSize := totalBytes / int64(count)
	if rem := chunkSize % roundBoundary; rem != 0 {
		chunkSize += roundBoundary - rem
	}
	if chunkSize < 1 {
		chunkSize = totalBytes
	}

	chunks := make([]model.Chunk, 0, count)
	var start int64
	idx := 0
	for start < totalBytes {
		end := start + chunkSize - 1
		if end >= totalBytes-1 || idx == count-1 {
			end = totalBytes - 1
		}
		chunks = append(chunks, model.Chunk{
			DownloadID: downloadID,
			ChunkIndex: idx,
			StartByte:  start,
			EndByte:    end,
			State:      model.ChunkPending,
		})
		start = end + 1
		idx++
	}
	return chunks
}
