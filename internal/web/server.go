// Package web serves the agent-facing HTTP API: transcript ingestion,
// task decisions, session snapshots and live event streams.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/evanwires/sidekick/internal/engine"
	"github.com/evanwires/sidekick/internal/logging"
	"github.com/evanwires/sidekick/internal/model"
)

// Engine is the slice of the orchestration engine the API needs.
type Engine interface {
	SessionID() string
	AppendUtterance(speaker model.Speaker, text string, seq uint64) (model.Utterance, error)
	RequestAssistance(ctx context.Context) (engine.IngestResult, error)
	Approve(id string) error
	Reject(id string) error
	Retry(ctx context.Context, id string) error
	Advance(ctx context.Context, id string) error
	Snapshot() model.SessionSnapshot
	Reset() error
	Subscribe() (<-chan engine.Event, func())
}

// Server provides the HTTP handlers and state.
type Server struct {
	engine  Engine
	metrics http.Handler
	log     zerolog.Logger
}

// NewServer creates the API server. metricsHandler may be nil when the
// metrics endpoint is disabled.
func NewServer(eng Engine, metricsHandler http.Handler) *Server {
	return &Server{
		engine:  eng,
		metrics: metricsHandler,
		log:     logging.Component("web"),
	}
}

// Routes returns the router for the API.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/utterances", s.handleAppendUtterance)
		r.Post("/assist", s.handleAssist)
		r.Get("/session", s.handleSession)
		r.Get("/tasks", s.handleTasks)
		r.Route("/tasks/{id}", func(r chi.Router) {
			r.Get("/", s.handleTask)
			r.Post("/approve", s.taskOp(func(_ context.Context, id string) error {
				return s.engine.Approve(id)
			}))
			r.Post("/reject", s.taskOp(func(_ context.Context, id string) error {
				return s.engine.Reject(id)
			}))
			r.Post("/retry", s.taskOp(s.engine.Retry))
			r.Post("/advance", s.taskOp(s.engine.Advance))
		})
		r.Post("/session/reset", s.handleReset)
		r.Get("/events", s.handleEvents)
	})
	r.Get("/ws", s.handleWS)
	r.Get("/healthz", s.handleHealthz)
	if s.metrics != nil {
		r.Method("GET", "/metrics", s.metrics)
	}
	return r
}

// ListenAndServe blocks serving the API until ctx is canceled, then
// shuts the listener down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.log.Info().Str("addr", addr).Msg("listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
