// Package engine is the orchestrator that wires every other component
// together: state store, event bus, session manager, circuit breaker
// registry, rate limiter, speed tracker, concurrency controller,
// scheduler, chunk planner, HTTP transport, assembler, verifier, and
// worker pool. It exposes the operations external callers (the
// Control API, the CLI) invoke: add, pause, resume, cancel, retry,
// remove, confirm_overwrite, snapshot, debug, add_batch.
package engine

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tanq16/cartvault/internal/breaker"
	"github.com/tanq16/cartvault/internal/concurrency"
	"github.com/tanq16/cartvault/internal/config"
	"github.com/tanq16/cartvault/internal/errkind"
	"github.com/tanq16/cartvault/internal/events"
	"github.com/tanq16/cartvault/internal/httpclient"
	"github.com/tanq16/cartvault/internal/metrics"
	"github.com/tanq16/cartvault/internal/model"
	"github.com/tanq16/cartvault/internal/ratelimit"
	"github.com/tanq16/cartvault/internal/session"
	"github.com/tanq16/cartvault/internal/speed"
	"github.com/tanq16/cartvault/internal/store"
	"github.com/tanq16/cartvault/internal/workerpool"
)

// Store is the subset of *store.Store the engine depends on, so tests
// can substitute an in-memory fake without a real sqlite file.
type Store interface {
	Add(url, savePath string, priority model.Priority, totalBytes *int64) (int64, int64, error)
	AddBatch(items []store.AddItem) ([]int64, int64, error)
	SetState(id int64, newState model.State, opts *store.TransitionOpts) (int64, error)
	SetMode(id int64, mode model.Mode) (int64, error)
	SetTotalBytes(id int64, total int64) (int64, error)
	UpdateProgress(id int64, bytes int64) (int64, error)
	BatchUpdateProgress(updates []store.ProgressUpdate) (int64, error)
	UpsertChunks(downloadID int64, chunks []model.Chunk) (int64, error)
	SetChunkState(downloadID int64, chunkIndex int, state model.ChunkState) (int64, error)
	SetChunkProgress(downloadID int64, chunkIndex int, written int64, tailChecksum string) (int64, error)
	IncrementChunkAttempts(downloadID int64, chunkIndex int) (int, int64, error)
	ListChunks(downloadID int64) ([]model.Chunk, error)
	DeleteChunks(downloadID int64) error
	RecordAttempt(a model.Attempt) error
	ListAttempts(downloadID int64) ([]model.Attempt, error)
	Get(id int64) (model.Download, error)
	ListByState(state model.State, limit int) ([]model.Download, error)
	Snapshot(minVersion int64) (int64, []model.Summary, bool, error)
	SummaryCounts() (model.StateCounts, error)
	Remove(id int64) error
	CurrentVersion() (int64, error)
}

// Engine holds every live component and the engine-wide shutdown context.
type Engine struct {
	cfg config.EngineConfig
	log zerolog.Logger

	store      Store
	bus        *events.Bus
	sessions   *session.Manager
	breakers   *breaker.Registry
	limiter    *ratelimit.Limiter
	speedTrack *speed.Tracker
	global     *concurrency.GlobalSlots
	adaptive   *concurrency.AdaptiveTarget
	httpPool   *httpclient.Pool
	workers    *workerpool.Pool
	metrics    *metrics.Registry

	rootCtx    context.Context
	rootCancel context.CancelFunc

	mu          sync.Mutex
	chunkSems   map[int64]*concurrency.ChunkSemaphore
	insertOrder int64
}

// New wires every component from cfg, including its own *httpclient.Pool.
// st is usually *store.Store but accepted as the narrow Store interface
// for testability.
func New(cfg config.EngineConfig, st Store, log zerolog.Logger) *Engine {
	pool := httpclient.NewPool(httpclient.Config{
		ConnectTimeout: time.Duration(cfg.ConnectTimeoutSeconds) * time.Second,
		IdleTimeout:    time.Duration(cfg.IdleTimeoutSeconds) * time.Second,
		UserAgent:      cfg.UserAgent,
		HostAllowlist:  cfg.HostAllowlist,
	})
	return NewWithPool(cfg, st, log, pool)
}

// NewWithPool wires every component from cfg against a caller-supplied
// *httpclient.Pool. Production code always goes through New; tests use
// this to inject a pool trusting a test server's certificate.
func NewWithPool(cfg config.EngineConfig, st Store, log zerolog.Logger, pool *httpclient.Pool) *Engine {
	ctx, cancel := context.WithCancel(context.Background())

	breakerMode := breaker.ModeOff
	switch cfg.CircuitBreakerMode {
	case config.BreakerGlobal:
		breakerMode = breaker.ModeGlobal
	case config.BreakerPerHost:
		breakerMode = breaker.ModePerHost
	}

	e := &Engine{
		cfg:        cfg,
		log:        log,
		store:      st,
		bus:        events.New(),
		sessions:   session.NewManager(),
		breakers:   breaker.NewRegistry(breakerMode),
		limiter:    ratelimit.New(4, 8),
		speedTrack: speed.New(),
		global:     concurrency.NewGlobalSlots(cfg.MaxParallelDownloads),
		adaptive:   concurrency.NewAdaptiveTarget(cfg.MinChunksPerDownload, cfg.MaxChunksPerDownload),
		httpPool:   pool,
		workers:    workerpool.New(cfg.MaxParallelDownloads),
		metrics:    metrics.New(),
		rootCtx:    ctx,
		rootCancel: cancel,
		chunkSems:  make(map[int64]*concurrency.ChunkSemaphore),
	}

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(done)
	}()
	go e.limiter.RunCompactionLoop(5*time.Minute, 15*time.Minute, done)
	go e.runAdaptiveSampler(ctx)

	return e
}

// AllowControlRequest throttles Control API IPC by client key (usually
// the remote address), separate from the per-host download limiter.
func (e *Engine) AllowControlRequest(key string) bool {
	return e.limiter.Allow("control:" + key)
}

// runAdaptiveSampler periodically feeds each active chunked download's
// observed throughput into the adaptive chunk-count controller.
func (e *Engine) runAdaptiveSampler(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.mu.Lock()
			sems := make(map[int64]*concurrency.ChunkSemaphore, len(e.chunkSems))
			for id, sem := range e.chunkSems {
				sems[id] = sem
			}
			e.mu.Unlock()
			for id, sem := range sems {
				bps := e.speedTrack.CurrentBPS(id)
				e.adaptive.Sample(id, sem, bps, bps <= 0)
			}
		}
	}
}

// Bus exposes the event stream for the Control API's SSE endpoint.
func (e *Engine) Bus() *events.Bus { return e.bus }

// Metrics exposes the Prometheus registry for the /metrics handler.
func (e *Engine) Metrics() *metrics.Registry { return e.metrics }

// Shutdown cancels every in-flight session and background loop.
func (e *Engine) Shutdown() {
	e.sessions.InvalidateAll()
	e.rootCancel()
}

// Add queues a new download. savePath must be an absolute destination
// path decided by the caller.
func (e *Engine) Add(url, savePath string, priority model.Priority) (int64, error) {
	id, version, err := e.store.Add(url, savePath, priority, nil)
	if err != nil {
		return 0, err
	}
	e.bus.EmitStateChanged(version)
	e.log.Info().Int64("id", id).Str("url", url).Msg("download queued")
	return id, nil
}

// AddBatch queues many downloads in one store transaction (add_batch),
// used for adding a whole folder's worth of URLs without serializing
// on N separate single-writer round trips.
func (e *Engine) AddBatch(items []store.AddItem) ([]int64, error) {
	ids, version, err := e.store.AddBatch(items)
	if err != nil {
		return nil, err
	}
	e.bus.EmitStateChanged(version)
	e.log.Info().Int("count", len(ids)).Msg("download batch queued")
	return ids, nil
}

// Pause moves a download to PAUSED and invalidates its session,
// aborting any in-flight request within one read/write cycle.
func (e *Engine) Pause(id int64) error {
	e.sessions.Invalidate(id)
	version, err := e.store.SetState(id, model.Paused, nil)
	if err != nil {
		return err
	}
	e.bus.EmitStateChanged(version)
	return nil
}

// PauseAll pauses every download currently STARTING or DOWNLOADING.
func (e *Engine) PauseAll() error {
	for _, st := range []model.State{model.Starting, model.Downloading} {
		downloads, err := e.store.ListByState(st, 10_000)
		if err != nil {
			return err
		}
		for _, d := range downloads {
			if err := e.Pause(d.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// Resume re-queues a PAUSED download so the scheduler picks it back
// up. A download paused with AWAIT_OVERWRITE cannot be resumed this
// way; the caller must confirm_overwrite first.
func (e *Engine) Resume(id int64) error {
	d, err := e.store.Get(id)
	if err != nil {
		return err
	}
	if d.State == model.Paused && d.ErrorCode == model.AwaitOverwrite {
		return errkind.New(errkind.State, "download is awaiting overwrite confirmation; call confirm_overwrite")
	}
	version, err := e.store.SetState(id, model.Queued, nil)
	if err != nil {
		return err
	}
	e.bus.EmitStateChanged(version)
	return nil
}

// ResumeAll re-queues every resumable PAUSED download (skipping ones
// awaiting overwrite confirmation).
func (e *Engine) ResumeAll() error {
	downloads, err := e.store.ListByState(model.Paused, 10_000)
	if err != nil {
		return err
	}
	for _, d := range downloads {
		if d.ErrorCode == model.AwaitOverwrite {
			continue
		}
		if err := e.Resume(d.ID); err != nil {
			return err
		}
	}
	return nil
}

// Cancel aborts a download permanently, invalidating its session and
// discarding chunk rows and staging files.
func (e *Engine) Cancel(id int64) error {
	e.sessions.Invalidate(id)
	d, err := e.store.Get(id)
	if err != nil {
		return err
	}
	version, err := e.store.SetState(id, model.Cancelled, nil)
	if err != nil {
		return err
	}
	e.cleanupStaging(d)
	e.store.DeleteChunks(id)
	e.speedTrack.Drop(id)
	e.adaptive.Drop(id)
	e.dropChunkSem(id)
	e.bus.EmitStateChanged(version)
	return nil
}

// CancelAll cancels every non-terminal download.
func (e *Engine) CancelAll() error {
	for _, st := range []model.State{model.Queued, model.Starting, model.Downloading, model.Paused, model.Merging, model.Verifying} {
		downloads, err := e.store.ListByState(st, 10_000)
		if err != nil {
			return err
		}
		for _, d := range downloads {
			if err := e.Cancel(d.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// Retry re-queues a FAILED download for another attempt. Chunk rows and
// part files left by the failed run are kept, so chunks resume from the
// bytes already on disk.
func (e *Engine) Retry(id int64) error {
	d, err := e.store.Get(id)
	if err != nil {
		return err
	}
	if d.State != model.Failed {
		return errkind.New(errkind.State, "retry is only valid from FAILED")
	}
	version, err := e.store.SetState(id, model.Queued, nil)
	if err != nil {
		return err
	}
	e.bus.EmitStateChanged(version)
	return nil
}

// ConfirmOverwrite is the only path out of PAUSED/AWAIT_OVERWRITE: the
// caller has confirmed it's fine to overwrite the existing file at
// save_path, so the existing file is removed and the download re-queues
// to fetch a fresh copy.
func (e *Engine) ConfirmOverwrite(id int64) error {
	d, err := e.store.Get(id)
	if err != nil {
		return err
	}
	if d.State != model.Paused || d.ErrorCode != model.AwaitOverwrite {
		return errkind.New(errkind.State, "confirm_overwrite is only valid on a download awaiting overwrite confirmation")
	}
	if err := os.Remove(d.SavePath); err != nil && !os.IsNotExist(err) {
		return errkind.Wrap(errkind.Disk, "removing existing file before overwrite", err)
	}
	version, err := e.store.SetState(id, model.Queued, nil)
	if err != nil {
		return err
	}
	e.bus.EmitStateChanged(version)
	return nil
}

// Remove deletes a terminal download's row and any leftover artifacts.
func (e *Engine) Remove(id int64) error {
	d, err := e.store.Get(id)
	if err != nil {
		return err
	}
	if !model.IsTerminal(d.State) {
		return errkind.New(errkind.State, "remove is only valid on a terminal download")
	}
	e.cleanupStaging(d)
	return e.store.Remove(id)
}

// Snapshot returns the full summary set when minVersion is stale, or
// (version, nil, false) when the caller is already current.
func (e *Engine) Snapshot(minVersion int64) (int64, []model.Summary, bool, error) {
	return e.store.Snapshot(minVersion)
}

// DebugInfo is the payload behind the debug operation: aggregate
// counts plus a point-in-time view of resource usage.
type DebugInfo struct {
	StateCounts     model.StateCounts
	GlobalSlotsUsed int
	GlobalSlotsCap  int
	BreakerStates   map[string]breaker.State
	WorkerPoolBusy  int
}

func (e *Engine) Debug() (DebugInfo, error) {
	counts, err := e.store.SummaryCounts()
	if err != nil {
		return DebugInfo{}, err
	}
	return DebugInfo{
		StateCounts:     counts,
		GlobalSlotsUsed: e.global.InUse(),
		GlobalSlotsCap:  e.global.Capacity(),
		BreakerStates:   e.breakers.States(),
		WorkerPoolBusy:  e.workers.Active(),
	}, nil
}

func (e *Engine) cleanupStaging(d model.Download) {
	chunks, _ := e.store.ListChunks(d.ID)
	for _, ch := range chunks {
		path := fmt.Sprintf("%s%s.part%d", d.SavePath, e.cfg.StagingDirSuffix, ch.ChunkIndex)
		os.Remove(path)
	}
	os.Remove(d.SavePath + e.cfg.StagingDirSuffix + ".assembling")
}

func (e *Engine) dropChunkSem(id int64) {
	e.mu.Lock()
	delete(e.chunkSems, id)
	e.mu.Unlock()
}

func (e *Engine) chunkSemFor(id int64, initial int) *concurrency.ChunkSemaphore {
	e.mu.Lock()
	defer e.mu.Unlock()
	if sem, ok := e.chunkSems[id]; ok {
		return sem
	}
	sem := concurrency.NewChunkSemaphore(initial)
	e.chunkSems[id] = sem
	return sem
}

// nextInsertOrder hands out a monotonic per-engine counter. The
// scheduler loop does not call it: it passes the store's auto-increment
// download id as the scheduler's insertion-order tiebreaker.
func (e *Engine) nextInsertOrder() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.insertOrder++
	return e.insertOrder
}
