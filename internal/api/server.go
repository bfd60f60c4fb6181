// Package api exposes a read-only HTTP surface over a running loop:
// sprint status, run history, and a websocket event stream. It observes;
// it never drives the pipeline.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"bmadloop/internal/config"
	"bmadloop/internal/domain"
	"bmadloop/internal/events"
	"bmadloop/internal/runner"
	"bmadloop/internal/storage"
	"bmadloop/internal/tracking"
)

// Server is the read-only API server.
type Server struct {
	cfg     *config.Config
	store   tracking.Store
	history storage.Store
	bus     *events.Bus
	hub     *Hub
	logger  *zap.Logger

	mu      sync.Mutex
	server  *http.Server
	cancel  func()
	running bool
}

// NewServer creates an API server.
func NewServer(cfg *config.Config, store tracking.Store, history storage.Store, bus *events.Bus, logger *zap.Logger) *Server {
	return &Server{
		cfg:     cfg,
		store:   store,
		history: history,
		bus:     bus,
		hub:     NewHub(logger),
		logger:  logger,
	}
}

// Start serves until Stop is called. It blocks, like
// http.Server.ListenAndServe.
func (s *Server) Start(port int) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	go s.hub.Run()
	go s.forwardEvents(ctx)

	s.logger.Info("api server listening", zap.Int("port", port))
	return s.server.ListenAndServe()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	s.cancel()
	s.hub.Stop()
	return s.server.Shutdown(ctx)
}

// forwardEvents pipes bus events to websocket clients.
func (s *Server) forwardEvents(ctx context.Context) {
	ch, cancel := s.bus.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			s.hub.Broadcast(ev)
		}
	}
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.healthHandler)
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.statusHandler)
		r.Get("/runs", s.listRunsHandler)
		r.Get("/runs/{id}", s.getRunHandler)
		r.Get("/stats", s.statsHandler)
		r.Get("/ws", s.hub.ServeWs)
	})
	return r
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusResponse is the sprint overview.
type statusResponse struct {
	Stories  []storyStatus    `json:"stories"`
	Counts   map[string]int   `json:"counts"`
	Progress *runner.Progress `json:"progress,omitempty"`
}

type storyStatus struct {
	Key    string `json:"key"`
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.ReadSprintRecord()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	resp := statusResponse{Counts: make(map[string]int)}
	for _, key := range rec.StoryKeys() {
		status, _ := rec.Get(key)
		id, err := domain.ParseStoryID(key)
		if err != nil {
			continue
		}
		resp.Stories = append(resp.Stories, storyStatus{
			Key:    key,
			ID:     id.String(),
			Status: string(status),
		})
		resp.Counts[string(status)]++
	}

	// Attach in-flight progress when a run is active.
	if p, err := runner.ReadProgress(s.cfg.ProgressFilePath()); err == nil {
		resp.Progress = p
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listRunsHandler(w http.ResponseWriter, r *http.Request) {
	filter := &storage.RunFilter{
		StoryID: r.URL.Query().Get("story"),
		State:   domain.RunState(r.URL.Query().Get("state")),
		Limit:   50,
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		filter.Limit = n
	}

	runs, err := s.history.ListRuns(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	total, err := s.history.CountRuns(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "total": total})
}

func (s *Server) getRunHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var rec *storage.RunRecord
	var err error
	if r.URL.Query().Get("output") == "true" {
		rec, err = s.history.GetRunWithOutput(r.Context(), id)
	} else {
		rec, err = s.history.GetRun(r.Context(), id)
	}
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := s.history.GetStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
