// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DiscordBridgeMC Contributors

// Package api serves the HTTP intake that chat bots use to submit console
// commands, together with a few operator endpoints.
package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"

	"github.com/NyaDerator/DiscordBridgeMC/internal/config"
	"github.com/NyaDerator/DiscordBridgeMC/internal/gateway"
	"github.com/NyaDerator/DiscordBridgeMC/internal/stats"
)

// Gateway handles command requests.
type Gateway interface {
	Handle(ctx context.Context, req gateway.Request) gateway.Verdict
	ResetCooldown(name string) error
	ResetGlobalCooldown()
}

// Reloader rebuilds the configuration snapshot.
type Reloader interface {
	Reload(ctx context.Context) (*config.Snapshot, error)
}

// Players lists online players.
type Players interface {
	Online() []gateway.Actor
}

// Cooldowns exposes active cooldowns.
type Cooldowns interface {
	Snapshot() map[string]time.Duration
	GlobalRemaining() time.Duration
}

// ServerState reports the game server's lifecycle.
type ServerState interface {
	Running() bool
	Ready() bool
}

// StatsSource summarizes verdict counters.
type StatsSource interface {
	Summary(ctx context.Context) (stats.Summary, error)
}

// RequestCounter counts served requests by route and status.
type RequestCounter interface {
	WithLabelValues(lvs ...string) prometheus.Counter
}

// Deps are the API's collaborators. Gateway and Config are required.
type Deps struct {
	Gateway   Gateway
	Config    gateway.ConfigSource
	Reloader  Reloader    // optional
	Players   Players     // optional
	Cooldowns Cooldowns   // optional
	Server    ServerState // optional
	Stats     StatsSource // optional
}

// Constructor errors.
var (
	ErrNilGateway = oops.Code(gateway.CodeInternalError).Errorf("gateway cannot be nil")
	ErrNilConfig  = oops.Code(gateway.CodeInternalError).Errorf("config source cannot be nil")
)

// Server serves the intake API.
type Server struct {
	addr    string
	deps    Deps
	token   string
	timeout time.Duration
	version string
	origins []string
	limiter *RequesterLimiter
	counter RequestCounter
	logger  *slog.Logger

	handler    http.Handler
	listener   net.Listener
	httpServer *http.Server
	running    atomic.Bool
}

// Option configures a Server.
type Option func(*Server)

// WithToken requires "Authorization: Bearer <token>" on every request. An
// empty token disables authentication.
func WithToken(token string) Option {
	return func(s *Server) {
		s.token = token
	}
}

// WithTimeout bounds each request. Defaults to 10s.
func WithTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithCORSOrigins allows browser callers from origins. Wildcards like
// "https://*.example.com" are accepted. Empty disables CORS.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) {
		s.origins = origins
	}
}

// WithLimiter throttles execute requests per requester.
func WithLimiter(l *RequesterLimiter) Option {
	return func(s *Server) {
		s.limiter = l
	}
}

// WithRequestCounter counts requests by route pattern and status.
func WithRequestCounter(c RequestCounter) Option {
	return func(s *Server) {
		s.counter = c
	}
}

// WithVersion sets the version reported by /v1/status.
func WithVersion(version string) Option {
	return func(s *Server) {
		s.version = version
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer creates an API server for addr.
func NewServer(addr string, deps Deps, opts ...Option) (*Server, error) {
	if deps.Gateway == nil {
		return nil, ErrNilGateway
	}
	if deps.Config == nil {
		return nil, ErrNilConfig
	}

	s := &Server{
		addr:    addr,
		deps:    deps,
		timeout: 10 * time.Second,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.timeout))
	if len(s.origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders: []string{"Retry-After", "X-Request-Id"},
			MaxAge:         300,
		}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Post("/execute", s.handleExecute)
		r.Get("/status", s.handleStatus)
		r.Get("/players", s.handlePlayers)
		r.Delete("/cooldowns", s.handleResetGlobal)
		r.Delete("/cooldowns/{player}", s.handleResetPlayer)
		r.Post("/admin/reload", s.handleReload)
	})

	return r
}

// authenticate checks the bearer token.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="bridgemc"`)
			writeError(w, oops.Code(CodeUnauthorized).Errorf("missing or invalid bearer token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// logRequests logs each request and feeds the request counter.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		if s.counter != nil {
			s.counter.WithLabelValues(route, strconv.Itoa(status)).Inc()
		}
		s.logger.DebugContext(r.Context(), "api request",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"route", route,
			"status", status,
			"duration", time.Since(start))
	})
}

// Start begins serving. The returned channel receives a serve error, if any,
// and is closed when the server stops.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("api server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	httpSrv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			s.logger.Error("api server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	s.logger.Info("api server started", "addr", listener.Addr().String(), "auth", s.token != "")
	return errCh, nil
}

// Stop gracefully shuts the server down and closes the limiter.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.With("operation", "shutdown_api_server").Wrap(err)
		}
	}
	if s.limiter != nil {
		s.limiter.Close()
	}
	s.logger.Info("api server stopped")
	return nil
}

// Addr returns the listen address, or "" when not running.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
