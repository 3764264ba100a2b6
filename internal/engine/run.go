package engine

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/tanq16/cartvault/internal/assembler"
	"github.com/tanq16/cartvault/internal/chunkplan"
	"github.com/tanq16/cartvault/internal/errkind"
	"github.com/tanq16/cartvault/internal/events"
	"github.com/tanq16/cartvault/internal/model"
	"github.com/tanq16/cartvault/internal/session"
	"github.com/tanq16/cartvault/internal/store"
	"github.com/tanq16/cartvault/internal/transport"
	"github.com/tanq16/cartvault/internal/verifier"
)

// startDownload runs one download's full STARTING -> ... -> terminal
// flow on its own goroutine. It holds one global slot for its entire
// lifetime, releasing it on any exit path.
func (e *Engine) startDownload(id int64) {
	defer e.global.Release()

	sess := e.sessions.Start(e.rootCtx, id)

	version, err := e.store.SetState(id, model.Starting, nil)
	if err != nil {
		e.log.Warn().Int64("id", id).Err(err).Msg("could not move to STARTING")
		return
	}
	e.bus.EmitStateChanged(version)

	d, err := e.store.Get(id)
	if err != nil {
		e.fail(id, err, false)
		return
	}

	if err := e.resolveModeAndExistence(sess, &d); err != nil {
		if errors.Is(err, errAwaitOverwrite) {
			return // resolveModeAndExistence already parked it in AWAIT_OVERWRITE
		}
		e.fail(id, err, false)
		return
	}

	version, err = e.store.SetState(id, model.Downloading, nil)
	if err != nil {
		e.fail(id, err, false)
		return
	}
	e.bus.EmitStateChanged(version)
	e.speedTrack.Reset(id, d.DownloadedBytes)

	var runErr error
	if d.Mode == model.ModeSimple {
		runErr = e.runSimple(sess, d)
	} else {
		runErr = e.runChunked(sess, d)
	}
	if runErr != nil {
		if !e.sessions.IsCurrent(id, sess.Token) {
			return // superseded by a pause/cancel; that path already transitioned state
		}
		e.fail(id, runErr, false)
		return
	}
	if !e.sessions.IsCurrent(id, sess.Token) {
		return
	}

	if err := e.mergeAndVerify(sess, d); err != nil {
		e.fail(id, err, true)
		return
	}
}

// resolveModeAndExistence probes the URL for size/range support,
// decides SIMPLE vs CHUNKED, writes the chunk plan if any, and checks
// whether save_path already exists — parking the download in
// PAUSED/AWAIT_OVERWRITE if so, until ConfirmOverwrite is called.
func (e *Engine) resolveModeAndExistence(sess *session.Session, d *model.Download) error {
	if _, err := os.Stat(d.SavePath); err == nil {
		version, setErr := e.store.SetState(d.ID, model.Paused, &store.TransitionOpts{
			ErrorMessage: "destination file already exists",
			ErrorCode:    model.AwaitOverwrite,
		})
		if setErr != nil {
			return setErr
		}
		e.bus.EmitStateChanged(version)
		e.bus.EmitNeedsConfirmation(events.NeedsConfirmationPayload{ID: d.ID, SavePath: d.SavePath})
		return errAwaitOverwrite
	}

	if e.cfg.DisableChunked {
		d.Mode = model.ModeSimple
		version, err := e.store.SetMode(d.ID, model.ModeSimple)
		if err != nil {
			return err
		}
		e.bus.EmitStateChanged(version)
		return nil
	}

	result, err := transport.Probe(sess.Ctx, e.httpPool, e.limiter, d.URL)
	if err != nil {
		return err
	}
	if result.TotalBytes != nil {
		version, err := e.store.SetTotalBytes(d.ID, *result.TotalBytes)
		if err != nil {
			return err
		}
		e.bus.EmitStateChanged(version)
		d.TotalBytes = result.TotalBytes
	}

	if result.TotalBytes == nil || !result.SupportsRanges {
		d.Mode = model.ModeSimple
		version, err := e.store.SetMode(d.ID, model.ModeSimple)
		if err != nil {
			return err
		}
		e.bus.EmitStateChanged(version)
		return nil
	}

	plan := chunkplan.Plan(d.ID, *result.TotalBytes)
	d.Mode = plan.Mode
	version, err := e.store.SetMode(d.ID, plan.Mode)
	if err != nil {
		return err
	}
	e.bus.EmitStateChanged(version)
	if plan.Mode == model.ModeChunked {
		version, err := e.store.UpsertChunks(d.ID, plan.Chunks)
		if err != nil {
			return err
		}
		e.bus.EmitStateChanged(version)
		e.chunkSemFor(d.ID, plan.InitialCount)
	}
	return nil
}

// progressEmitInterval is the minimum spacing between progress events
// for a single download, keeping the stream at <=2Hz per download.
const progressEmitInterval = 500 * time.Millisecond

// chunkTimeout derives the per-attempt overall deadline from the
// configured minutes, shared by both simple and chunked attempts.
func (e *Engine) chunkTimeout() time.Duration {
	return time.Duration(e.cfg.ChunkTimeoutMinutes * float64(time.Minute))
}

// idleTimeout derives the per-attempt idle-read abort threshold.
func (e *Engine) idleTimeout() time.Duration {
	return time.Duration(e.cfg.IdleTimeoutSeconds) * time.Second
}

func (e *Engine) runSimple(sess *session.Session, d model.Download) error {
	lastEmit := time.Now()
	_, err := transport.SimpleDownload(sess.Ctx, sess, e.httpPool, d.URL, d.SavePath, e.chunkTimeout(), e.idleTimeout(), e.limiter, func(written int64) {
		if !e.sessions.IsCurrent(d.ID, sess.Token) {
			return
		}
		version, err := e.store.UpdateProgress(d.ID, written)
		if err == nil {
			e.bus.EmitStateChanged(version)
		}
		bps := e.speedTrack.Observe(d.ID, written)
		if time.Since(lastEmit) > progressEmitInterval {
			e.emitProgress(d, written, bps, nil)
			lastEmit = time.Now()
		}
	})
	return err
}

func (e *Engine) runChunked(sess *session.Session, d model.Download) error {
	chunks, err := e.store.ListChunks(d.ID)
	if err != nil {
		return err
	}
	sem := e.chunkSemFor(d.ID, e.cfg.MinChunksPerDownload)
	host := hostOf(d.URL)

	var progressMu sync.Mutex
	perChunkWritten := make(map[int]int64, len(chunks))
	var lastEmit time.Time
	err = transport.DownloadChunks(sess.Ctx, sess, e.httpPool, e.breakers.For(host), sem,
		d.URL, d.SavePath, e.cfg.StagingDirSuffix, chunks, e.cfg.MaxChunkRetries,
		e.chunkTimeout(), e.idleTimeout(), e.limiter,
		func(chunkIndex int, written int64) {
			if !e.sessions.IsCurrent(d.ID, sess.Token) {
				return
			}
			version, err := e.store.SetChunkProgress(d.ID, chunkIndex, written, "")
			if err == nil {
				e.bus.EmitStateChanged(version)
			}

			progressMu.Lock()
			perChunkWritten[chunkIndex] = written
			var totalWritten int64
			for _, w := range perChunkWritten {
				totalWritten += w
			}
			shouldEmit := time.Since(lastEmit) > progressEmitInterval
			if shouldEmit {
				lastEmit = time.Now()
			}
			progressMu.Unlock()

			version, err = e.store.UpdateProgress(d.ID, totalWritten)
			if err == nil {
				e.bus.EmitStateChanged(version)
			}
			bps := e.speedTrack.Observe(d.ID, totalWritten)
			if shouldEmit {
				e.emitProgress(d, totalWritten, bps, nil)
			}
		},
		func(chunkIndex, attemptNumber int, bytesTransferred int64, attemptErr error, willRetry bool) {
			e.store.RecordAttempt(model.Attempt{
				DownloadID:       d.ID,
				ChunkIndex:       &chunkIndex,
				AttemptNumber:    attemptNumber,
				ErrorText:        attemptErr.Error(),
				ErrorCode:        errorCode(attemptErr),
				BytesTransferred: bytesTransferred,
			})
			_, version, err := e.store.IncrementChunkAttempts(d.ID, chunkIndex)
			if err == nil {
				e.bus.EmitStateChanged(version)
			}
			e.bus.EmitChunkFailed(events.ChunkFailedPayload{
				ID: d.ID, ChunkIndex: chunkIndex, Error: attemptErr.Error(), WillRetry: willRetry,
			})
		},
	)
	if err != nil {
		return err
	}
	for _, ch := range chunks {
		version, err := e.store.SetChunkState(d.ID, ch.ChunkIndex, model.ChunkCompleted)
		if err == nil {
			e.bus.EmitStateChanged(version)
		}
		e.bus.EmitChunkCompleted(events.ChunkCompletedPayload{ID: d.ID, ChunkIndex: ch.ChunkIndex})
	}
	return nil
}

// errorCode extracts the tagged errkind.Kind from err, or "" if err
// was never classified.
func errorCode(err error) string {
	var tagged *errkind.Error
	if errors.As(err, &tagged) {
		return string(tagged.Kind)
	}
	return ""
}

func (e *Engine) emitProgress(d model.Download, written int64, bps float64, chunkProg []events.ChunkProgress) {
	var percent float64
	if d.TotalBytes != nil && *d.TotalBytes > 0 {
		percent = float64(written) / float64(*d.TotalBytes) * 100
	}
	eta := e.speedTrack.ETASeconds(d.ID, written, d.TotalBytes)
	e.bus.EmitProgress(events.DownloadProgressPayload{
		ID: d.ID, Bytes: written, Percent: percent, SpeedBPS: bps, ETASeconds: eta, ChunkProgress: chunkProg,
	})
}

func (e *Engine) mergeAndVerify(sess *session.Session, d model.Download) error {
	if d.Mode == model.ModeChunked {
		version, err := e.store.SetState(d.ID, model.Merging, nil)
		if err != nil {
			return err
		}
		e.bus.EmitStateChanged(version)
		e.bus.EmitMergeStarted(d.ID)

		chunks, err := e.store.ListChunks(d.ID)
		if err != nil {
			return err
		}
		mergeErr := e.workers.Submit(sess.Ctx, func(ctx context.Context) error {
			_, err := assembler.Assemble(ctx, d.SavePath, e.cfg.StagingDirSuffix, chunks)
			return err
		})
		if mergeErr != nil {
			return mergeErr
		}
	}

	if !e.cfg.SkipVerification {
		version, err := e.store.SetState(d.ID, model.Verifying, nil)
		if err != nil {
			return err
		}
		e.bus.EmitStateChanged(version)
		e.bus.EmitVerificationStarted(d.ID)

		if d.TotalBytes != nil {
			if err := verifier.VerifySize(d.SavePath, *d.TotalBytes); err != nil {
				return err
			}
		}
	}

	version, err := e.store.SetState(d.ID, model.Completed, nil)
	if err != nil {
		return err
	}
	e.store.DeleteChunks(d.ID)
	e.speedTrack.Drop(d.ID)
	e.adaptive.Drop(d.ID)
	e.dropChunkSem(d.ID)
	e.bus.EmitStateChanged(version)
	e.bus.EmitCompleted(events.DownloadCompletedPayload{ID: d.ID, SavePath: d.SavePath})
	return nil
}

// errAwaitOverwrite signals that resolveModeAndExistence already
// parked the download in PAUSED/AWAIT_OVERWRITE, so the caller should
// stop without also recording a FAILED transition.
var errAwaitOverwrite = errors.New("awaiting overwrite confirmation")

// fail transitions a download to FAILED, recording the error. A
// context.Canceled error means the session was invalidated by a
// pause/cancel that already transitioned state elsewhere, so it's
// dropped rather than overwriting that transition.
func (e *Engine) fail(id int64, err error, duringMerge bool) {
	if errors.Is(err, context.Canceled) {
		return
	}
	msg := err.Error()
	code := errorCode(err)
	version, setErr := e.store.SetState(id, model.Failed, &store.TransitionOpts{ErrorMessage: msg, ErrorCode: code})
	if setErr != nil {
		e.log.Error().Int64("id", id).Err(setErr).Msg("failed to record FAILED state")
		return
	}
	e.bus.EmitStateChanged(version)
	e.bus.EmitFailed(events.DownloadFailedPayload{ID: id, Error: msg, FailedDuringMerge: duringMerge})
}
