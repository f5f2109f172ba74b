// Package server provides HTTP server wiring and lifecycle management for
// one pod: the conduit receive side plus health.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/podshare/podshare-go/internal/federation"
	"github.com/podshare/podshare-go/internal/platform/config"
	"github.com/podshare/podshare-go/internal/platform/logutil"
)

// Server wraps the HTTP server and its dependencies.
type Server struct {
	cfg        *config.Config
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a server exposing the given conduit handler. conduit may be
// nil for single-pod deployments; the conduit routes are then not mounted.
func New(cfg *config.Config, conduit *federation.Handler, logger *slog.Logger) *Server {
	logger = logutil.NoopIfNil(logger)
	s := &Server{cfg: cfg, logger: logger}

	router := s.setupRoutes(conduit)
	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes(conduit *federation.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	if conduit != nil {
		conduit.Mount(r)
	}
	return r
}

// Start runs the HTTP listener until it fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting server",
		"addr", s.cfg.ListenAddr,
		"public_origin", s.cfg.PublicOrigin,
	)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router, for tests driving the server in-process.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
