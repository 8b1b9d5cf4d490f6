package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/journal-crawler/internal/config"
	"github.com/JakeFAU/journal-crawler/internal/journal"
	"github.com/JakeFAU/journal-crawler/internal/metrics"
	"github.com/JakeFAU/journal-crawler/internal/pipeline"
)

const (
	requestTimeout = 60 * time.Second
	storeTimeout   = 5 * time.Second
)

// RunController starts and stops crawl runs. *pipeline.Runner satisfies it.
type RunController interface {
	Start(ctx context.Context, req pipeline.RunRequest) (string, error)
	Stop(ctx context.Context, runID string) error
	Active() (string, bool)
}

// Server wires HTTP handlers to the run controller and store.
type Server struct {
	router chi.Router
	store  journal.Store
	runs   RunController
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(store journal.Store, runs RunController, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:  store,
		runs:   runs,
		logger: logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/runs", func(r chi.Router) {
			r.Post("/", s.startRun)
			r.Get("/latest", s.latestRun)
			r.Route("/{run_id}", func(r chi.Router) {
				r.Get("/", s.getRun)
				r.Post("/stop", s.stopRun)
			})
		})
		r.Get("/journals/{journal_id}", s.getJournal)
		r.Get("/issn/{issn}", s.getByISSN)
		r.Get("/stats", s.stats)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("store not ready", zap.Error(err))
		s.writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// storeError maps ErrNotFound to 404 and logs everything else as a 500.
func (s *Server) storeError(w http.ResponseWriter, err error, what string) {
	if errors.Is(err, journal.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, what+" not found")
		return
	}
	s.logger.Error("load "+what+" failed", zap.Error(err))
	s.writeError(w, http.StatusInternalServerError, "failed to load "+what)
}
