// Package server wires the HTTP API: job submission and status, artifact
// retrieval, health and version endpoints.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/factgate/factgate/internal/errors"
	"github.com/factgate/factgate/internal/server/handlers"
	"github.com/factgate/factgate/internal/server/middleware"
	"github.com/factgate/factgate/pkg/orchestrator"
	"github.com/factgate/factgate/pkg/resultstore"
)

// Deps are the collaborators the API server exposes.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator

	// Artifacts serves stored content for file-backed result stores.
	// Nil for backends whose handles resolve directly (S3).
	Artifacts resultstore.ContentReader

	Health  *handlers.HealthManager
	Log     *zap.Logger
	Version string
}

// Server is the HTTP API server.
type Server struct {
	host    string
	port    int
	deps    Deps
	handler http.Handler
	httpSrv *http.Server
}

// New creates a server listening on host:port.
func New(host string, port int, deps Deps) *Server {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Health == nil {
		deps.Health = handlers.NewHealthManager(deps.Version)
	}

	s := &Server{host: host, port: port, deps: deps}
	s.handler = s.buildRouter()
	return s
}

// Handler returns the root HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Port returns the configured listen port.
func (s *Server) Port() int {
	return s.port
}

// Start runs the server until ctx is cancelled, then shuts down
// gracefully within shutdownTimeout.
func (s *Server) Start(ctx context.Context, readTimeout, writeTimeout, idleTimeout, shutdownTimeout time.Duration) error {
	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.host, s.port),
		Handler:      s.handler,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.deps.Log.Info("http server listening", zap.String("addr", s.httpSrv.Addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(s.deps.Log))
	r.Use(middleware.Logging(s.deps.Log))

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		apperrors.WriteHTTPCode(w, http.StatusNotFound, "NOT_FOUND",
			"resource not found", middleware.GetRequestID(req.Context()))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		apperrors.WriteHTTPCode(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"method not allowed", middleware.GetRequestID(req.Context()))
	})

	jobs := handlers.NewJobs(s.deps.Orchestrator)
	artifacts := handlers.NewArtifacts(s.deps.Artifacts)

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", jobs.Submit)
		r.Get("/{jobID}", jobs.Status)
		r.Post("/{jobID}/cancel", jobs.Cancel)
		r.Get("/{jobID}/artifact", artifacts.Get)
	})

	r.Get("/health", s.deps.Health.HealthHandler)
	r.Get("/health/live", s.deps.Health.LiveHandler)
	r.Get("/health/ready", s.deps.Health.ReadyHandler)
	r.Get("/health/startup", s.deps.Health.StartupHandler)

	r.Get("/version", s.versionHandler)

	return r
}

func (s *Server) versionHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"name":    "factgate",
		"version": s.deps.Version,
	})
}
