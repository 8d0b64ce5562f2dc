// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DiscordBridgeMC Contributors

// Package observability serves Prometheus metrics and health probes.
package observability

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"

	"github.com/NyaDerator/DiscordBridgeMC/internal/gateway"
)

// ReadinessChecker reports whether the game server accepts commands.
type ReadinessChecker func() bool

// sinkFailures is package-level so sinks record without a Server.
var sinkFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "bridgemc_cooldown_sink_failures_total",
		Help: "Cooldown display commands that could not be delivered, by operation",
	},
	[]string{"op"},
)

// RecordSinkFailure counts an undelivered cooldown display command.
func RecordSinkFailure(op string) {
	sinkFailures.WithLabelValues(op).Inc()
}

// Metrics holds collectors owned by the bridge process itself.
type Metrics struct {
	RequestsTotal *prometheus.CounterVec
}

// NewMetrics registers the API request counter, the sink failure counter and
// the gateway verdict metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridgemc_api_requests_total",
			Help: "API requests by route pattern and HTTP status",
		},
		[]string{"route", "status"},
	)
	reg.MustRegister(requests, sinkFailures)
	gateway.RegisterMetrics(reg)
	return &Metrics{RequestsTotal: requests}
}

// Server exposes /metrics, /healthz/liveness and /healthz/readiness.
type Server struct {
	addr     string
	registry *prometheus.Registry
	metrics  *Metrics
	ready    ReadinessChecker
	logger   *slog.Logger

	listener   net.Listener
	httpServer *http.Server
	running    atomic.Bool
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the server's logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer creates a server for addr. A nil ready checker always reports
// ready.
func NewServer(addr string, ready ReadinessChecker, opts ...ServerOption) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewBuildInfoCollector(),
	)

	s := &Server{
		addr:     addr,
		registry: registry,
		metrics:  NewMetrics(registry),
		ready:    ready,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Metrics returns the bridge's own collectors.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Registry returns the registry served on /metrics.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	r.Route("/healthz", func(r chi.Router) {
		r.Get("/liveness", func(w http.ResponseWriter, _ *http.Request) {
			writeProbe(w, http.StatusOK, "ok")
		})
		r.Get("/readiness", s.handleReadiness)
	})
	return r
}

func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	if s.ready != nil && !s.ready() {
		writeProbe(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	writeProbe(w, http.StatusOK, "ok")
}

func writeProbe(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body + "\n"))
}

// Start listens and serves in the background. The returned channel carries
// at most one serve error and is closed once serving ends.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.With("addr", s.addr).Errorf("observability server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.addr).Wrapf(err, "listen")
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		err := s.httpServer.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("observability server error", "error", err)
			errCh <- err
		}
	}()

	s.logger.Info("observability server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop shuts the server down, waiting for in-flight scrapes until ctx ends.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.running.Store(true)
		return oops.With("addr", s.addr).Wrapf(err, "shutdown observability server")
	}
	s.logger.Info("observability server stopped")
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
