// Package httpapi serves the onboarding HTTP API and the operational
// endpoints (/health, /ready, /metrics).
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Server is the HTTP server of the service
type Server struct {
	httpServer *http.Server
	router     chi.Router
	logger     *zap.Logger
	checks     []Check
}

// NewServer creates the server with the operational routes registered. api may
// be nil, in which case only /health and /ready are served.
func NewServer(port int, readTimeout time.Duration, logger *zap.Logger, api *Handler, checks ...Check) *Server {
	r := chi.NewRouter()
	server := &Server{
		httpServer: &http.Server{
			Addr:              ":" + strconv.Itoa(port),
			Handler:           r,
			ReadHeaderTimeout: readTimeout,
			ReadTimeout:       readTimeout,
		},
		router: r,
		logger: logger.Named("http"),
		checks: checks,
	}

	r.Use(middleware.RealIP)
	r.Use(recoverer(server.logger))
	r.Use(instrument(server.logger))

	r.Get("/health", server.handleHealth)
	r.Get("/ready", server.handleReady)
	if api != nil {
		api.Register(r)
	}
	return server
}

// Handler exposes the root router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// RegisterMetricsHandler adds the /metrics endpoint handler.
// Should only be called if metrics are enabled.
func (s *Server) RegisterMetricsHandler(handler http.Handler) {
	s.logger.Info("Registering /metrics endpoint")
	s.router.Method(http.MethodGet, "/metrics", handler)
}

// Start begins the HTTP server
func (s *Server) Start() {
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.httpServer.Shutdown(ctx)
}
