package engine

import (
	"net/url"
	"time"

	"github.com/tanq16/cartvault/internal/model"
	"github.com/tanq16/cartvault/internal/scheduler"
)

// Run starts the engine's background scheduler tick loop. It blocks
// until the engine's root context is cancelled (Shutdown), so callers
// typically invoke it in its own goroutine.
func (e *Engine) Run() {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-e.rootCtx.Done():
			return
		case <-ticker.C:
			e.tick()
		}
	}
}

func (e *Engine) tick() {
	queued, err := e.store.ListByState(model.Queued, 1000)
	if err != nil {
		e.log.Error().Err(err).Msg("scheduler: list queued failed")
		return
	}
	if len(queued) == 0 {
		return
	}

	starting, _ := e.store.ListByState(model.Starting, 1000)
	downloading, _ := e.store.ListByState(model.Downloading, 1000)

	candidates := make([]scheduler.Candidate, 0, len(queued))
	now := time.Now()
	for _, d := range queued {
		candidates = append(candidates, scheduler.Candidate{
			ID:          d.ID,
			URL:         d.URL,
			Priority:    d.Priority,
			AgeSeconds:  now.Sub(d.CreatedAt).Seconds(),
			InsertOrder: d.ID,
		})
	}

	perHostActive := map[string]int{}
	for _, d := range append(starting, downloading...) {
		perHostActive[hostOf(d.URL)]++
	}

	picked := scheduler.Tick(scheduler.Inputs{
		Queued:          candidates,
		GlobalFreeSlots: e.global.Capacity() - e.global.InUse(),
		PerHostCap:      e.cfg.PerHostCap,
		PerHostActive:   perHostActive,
		BreakerStateByHost: func(host string) scheduler.BreakerState {
			return scheduler.BreakerState(e.breakers.For(host).State())
		},
		Weights: scheduler.Weights{PriorityWeight: e.cfg.PriorityWeight, AgeWeight: e.cfg.AgeWeight},
	})

	for _, id := range picked {
		if !e.global.TryAcquire() {
			break
		}
		go e.startDownload(id)
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
