package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/core-tools/hsu-startup/pkg/errors"
	"github.com/core-tools/hsu-startup/pkg/logging"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter serves the supervisor's own observability endpoints:
//   - GET /metrics - Prometheus exposition for gatherer
//   - GET /status  - JSON snapshot of m
//   - GET /health  - liveness of the supervisor itself
func NewRouter(gatherer prometheus.Gatherer, m *Metrics) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(m.Snapshot())
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	return r
}

// Server exposes NewRouter on a TCP port
type Server struct {
	server   *http.Server
	listener net.Listener
	logger   logging.Logger
}

// Listen binds address:port; port 0 picks a free port
func Listen(address string, port int, handler http.Handler, logger logging.Logger) (*Server, error) {
	addr := net.JoinHostPort(address, fmt.Sprintf("%d", port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.NewNetworkError("failed to listen for metrics", err).WithContext("address", addr)
	}

	return &Server{
		server: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: listener,
		logger:   logger,
	}, nil
}

func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve runs until Shutdown is called
func (s *Server) Serve() {
	s.logger.Infof("Metrics server listening, address: %s", s.Addr())
	if err := s.server.Serve(s.listener); err != nil && err != http.ErrServerClosed {
		s.logger.Errorf("Metrics server failed: %v", err)
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		return errors.NewInternalError("failed to shut down metrics server", err)
	}
	return nil
}
