// Package server exposes the render endpoint, the live-reload socket, the
// metrics endpoint and a small preview shell over a live component registry.
package server

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/conneroisu/hydra/internal/config"
	"github.com/conneroisu/hydra/internal/logging"
	"github.com/conneroisu/hydra/internal/metrics"
	"github.com/conneroisu/hydra/internal/registry"
	"github.com/conneroisu/hydra/internal/renderer"
	"github.com/conneroisu/hydra/internal/websocket"
)

const shutdownTimeout = 10 * time.Second

// Server serves components from a live registry.
type Server struct {
	config   *config.Config
	live     *registry.Live
	pipeline *renderer.Pipeline
	hub      *websocket.Hub
	origins  websocket.AllowedOrigins
	logger   logging.Logger
	metrics  *metrics.Metrics
	router   chi.Router

	httpServer   *http.Server
	serverMutex  sync.RWMutex
	shutdownOnce sync.Once
	shutdownErr  error
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics enables the metrics endpoint and request counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New creates a server over live. It does not listen until Start or Serve.
func New(cfg *config.Config, live *registry.Live, opts ...Option) *Server {
	s := &Server{
		config:  cfg,
		live:    live,
		origins: websocket.AllowedOrigins(cfg.Server.AllowedOrigins),
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.pipeline = renderer.New(live,
		renderer.WithMarker(cfg.Render.Marker),
		renderer.WithLogger(s.logger),
		renderer.WithMetrics(s.metrics),
	)
	s.hub = websocket.NewHub(s.origins,
		websocket.WithLogger(s.logger),
		websocket.WithMetrics(s.metrics),
	)
	s.logger = s.logger.WithComponent("server")
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(s.cors)
		r.Post(s.config.Render.Endpoint, s.handleRender)
		r.Options(s.config.Render.Endpoint, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	})
	r.Handle(s.config.Render.LivePath, s.hub)
	if s.metrics != nil && s.metrics.Registry != nil {
		r.Handle(s.config.Server.MetricsPath, promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	}

	r.Get("/health", s.handleHealth)
	r.Get("/api/components", s.handleComponents)
	r.Get("/components/{name}", s.handleComponentPage)
	r.Get("/", s.handleIndex)
	return r
}

// Handler returns the HTTP handler with every route registered.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Pipeline returns the render pipeline used by the endpoint.
func (s *Server) Pipeline() *renderer.Pipeline {
	return s.pipeline
}

// Hub returns the live-reload hub.
func (s *Server) Hub() *websocket.Hub {
	return s.hub
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Server.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Server.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
// Registry swaps are announced to live-reload clients while serving.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.serverMutex.Lock()
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpServer
	s.serverMutex.Unlock()

	followCtx, stopFollow := context.WithCancel(ctx)
	defer stopFollow()
	s.hub.Follow(followCtx, s.live)

	s.logger.Info(ctx, "Server listening", "addr", ln.Addr().String(),
		"endpoint", s.config.Render.Endpoint, "live", s.config.Render.LivePath)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}
}

// Shutdown closes live-reload clients and stops the HTTP server. It is
// safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.logger.Info(ctx, "Shutting down server")
		if err := s.hub.Shutdown(ctx); err != nil {
			s.shutdownErr = err
		}

		s.serverMutex.RLock()
		srv := s.httpServer
		s.serverMutex.RUnlock()
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				s.shutdownErr = err
			}
		}
	})
	return s.shutdownErr
}
