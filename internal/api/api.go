// Package api exposes the engine's operations over HTTP with
// go-chi/chi/v5, plus a server-sent-events stream over the event bus
// and a Prometheus /metrics endpoint. Request bodies are validated
// with go-playground/validator before they reach the engine.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/tanq16/cartvault/internal/engine"
	"github.com/tanq16/cartvault/internal/errkind"
	"github.com/tanq16/cartvault/internal/model"
	"github.com/tanq16/cartvault/internal/store"
)

var validate = validator.New()

// Server wraps an *engine.Engine with an HTTP mux.
type Server struct {
	eng *engine.Engine
	mux *chi.Mux
}

func NewServer(eng *engine.Engine) *Server {
	s := &Server{eng: eng, mux: chi.NewRouter()}
	s.mux.Use(middleware.Recoverer)
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) routes() {
	s.mux.Get("/metrics", s.eng.Metrics().Handler().ServeHTTP)
	s.mux.Get("/events", s.handleEvents)

	s.mux.Route("/downloads", func(r chi.Router) {
		r.Post("/", s.handleAdd)
		r.Post("/batch", s.handleAddBatch)
		r.Get("/{id}", s.handleGetSnapshot)
		r.Post("/{id}/pause", s.handleAction(s.eng.Pause))
		r.Post("/{id}/resume", s.handleAction(s.eng.Resume))
		r.Post("/{id}/cancel", s.handleAction(s.eng.Cancel))
		r.Post("/{id}/retry", s.handleAction(s.eng.Retry))
		r.Post("/{id}/confirm-overwrite", s.handleAction(s.eng.ConfirmOverwrite))
		r.Delete("/{id}", s.handleAction(s.eng.Remove))
	})

	s.mux.Post("/pause-all", s.handleBulk(s.eng.PauseAll))
	s.mux.Post("/resume-all", s.handleBulk(s.eng.ResumeAll))
	s.mux.Post("/cancel-all", s.handleBulk(s.eng.CancelAll))

	s.mux.Get("/snapshot", s.handleSnapshot)
	s.mux.Get("/debug", s.handleDebug)
}

type addRequest struct {
	URL      string `json:"url" validate:"required,url"`
	SavePath string `json:"save_path" validate:"required"`
	Priority int    `json:"priority" validate:"oneof=1 2 3"`
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	var req addRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	id, err := s.eng.Add(req.URL, req.SavePath, model.Priority(req.Priority))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

type addBatchRequest struct {
	Items []addRequest `json:"items" validate:"required,min=1,dive"`
}

func (s *Server) handleAddBatch(w http.ResponseWriter, r *http.Request) {
	var req addBatchRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	items := make([]store.AddItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = store.AddItem{URL: it.URL, SavePath: it.SavePath, Priority: model.Priority(it.Priority)}
	}
	ids, err := s.eng.AddBatch(items)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string][]int64{"ids": ids})
}

func (s *Server) handleAction(fn func(int64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r)
		if !ok {
			return
		}
		if err := fn(id); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleBulk(fn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	if !s.eng.AllowControlRequest(r.RemoteAddr) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	_, summaries, _, err := s.eng.Snapshot(0)
	if err != nil {
		writeErr(w, err)
		return
	}
	for _, sm := range summaries {
		if sm.ID == id {
			writeJSON(w, http.StatusOK, sm)
			return
		}
	}
	http.Error(w, "not found", http.StatusNotFound)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if !s.eng.AllowControlRequest(r.RemoteAddr) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}
	minVersion, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
	version, summaries, changed, err := s.eng.Snapshot(minVersion)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":   version,
		"changed":   changed,
		"downloads": summaries,
	})
}

func (s *Server) handleDebug(w http.ResponseWriter, r *http.Request) {
	info, err := s.eng.Debug()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleEvents streams the event bus as server-sent events, one
// subscriber per connected client, torn down on client disconnect.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sub := s.eng.Bus().Subscribe(64)
	defer s.eng.Bus().Unsubscribe(sub)

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			payload, err := json.Marshal(ev.Payload)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, payload)
			flusher.Flush()
		}
	}
}

func idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return false
	}
	if err := validate.Struct(dst); err != nil {
		http.Error(w, "validation failed: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var tagged *errkind.Error
	if errors.As(err, &tagged) {
		switch tagged.Kind {
		case errkind.Validation:
			status = http.StatusBadRequest
		case errkind.State:
			status = http.StatusConflict
		}
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
