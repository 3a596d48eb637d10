package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"studyhall/warden/pkg/admission"
	"studyhall/warden/pkg/config"
)

// Server is the HTTP surface: health and readiness probes, Prometheus
// metrics, and read-only usage and behavior reporting. Admission itself
// is consumed in-process through the admission.Service; this surface
// exists for operators and dashboards.
type Server struct {
	cfg     config.ServerConfig
	service *admission.Service
	logger  *slog.Logger
	httpSrv *http.Server
}

// New creates a server over the admission service.
func New(cfg config.Config, service *admission.Service) *Server {
	s := &Server{
		cfg:     cfg.Server,
		service: service,
		logger:  slog.Default().With("component", "server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("GET /v1/usage/{identity}", s.handleUsage)
	mux.HandleFunc("GET /v1/usage/{identity}/history", s.handleHistory)
	mux.HandleFunc("GET /v1/admin/records", s.handleRecords)
	mux.HandleFunc("GET /v1/behavior/{device}", s.handleBehavior)

	if cfg.Telemetry.Metrics.Enabled != nil && *cfg.Telemetry.Metrics.Enabled {
		mux.Handle("GET "+cfg.Telemetry.Metrics.Path, promhttp.Handler())
	}

	s.httpSrv = &http.Server{
		Addr:         cfg.Server.ListenAddress,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return s
}

// Handler returns the server's HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "address", s.cfg.ListenAddress)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	s.logger.Info("http server shutting down")
	return s.httpSrv.Shutdown(shutdownCtx)
}
