package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/conveyorhq/conveyor/engine"
)

// Server serves the HTTP API for one engine.
type Server struct {
	engine          *engine.Engine
	logger          *slog.Logger
	addr            string
	shutdownTimeout time.Duration
	router          chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithAddr sets the listen address. Defaults to ":8080".
func WithAddr(addr string) Option {
	return func(s *Server) {
		s.addr = addr
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithShutdownTimeout bounds how long Run waits for in-flight requests
// after its context is cancelled.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// NewServer builds a Server around the engine.
func NewServer(e *engine.Engine, opts ...Option) *Server {
	s := &Server{
		engine:          e,
		logger:          slog.Default(),
		addr:            ":8080",
		shutdownTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

// Handler returns the router, for mounting or for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("api listening", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/jobs", s.handleEnqueue)

		r.Route("/tenants/{tenantID}", func(r chi.Router) {
			r.Get("/jobs", s.handleListJobs)
			r.Get("/jobs/{jobID}", s.handleGetJob)
			r.Post("/jobs/{jobID}/cancel", s.handleCancelJob)
			r.Post("/jobs/{jobID}/retry", s.handleRetryJob)
			r.Get("/stats", s.handleStats)
		})

		r.Route("/dlq", func(r chi.Router) {
			r.Get("/", s.handleListDLQ)
			r.Post("/{entryID}/requeue", s.handleRequeueDLQ)
		})
	})

	return r
}
