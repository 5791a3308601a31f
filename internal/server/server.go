// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tally Contributors

package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"github.com/tally-dev/tally/internal/metrics"
	tallyerr "github.com/tally-dev/tally/pkg/errors"
)

// Version is reported in the OpenAPI document.
const Version = "0.1.0"

// Config holds HTTP server configuration.
type Config struct {
	ListenAddr   string
	CORSOrigins  []string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// ChatRate and ChatBurst bound chat requests per client IP. A zero
	// ChatRate disables the limit.
	ChatRate  float64
	ChatBurst int
	// Metrics, when set, is served on /metrics and counts rejected chats.
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Server wraps a chi router with huma API and HTTP server.
type Server struct {
	router   chi.Router
	api      huma.API
	cfg      Config
	logger   *slog.Logger
	services *Services
	limiter  *chatLimiter
	done     chan struct{}
}

// New creates a Server with chi router, huma API, health endpoint, and CORS.
// Chat and proposal routes are added by RegisterServices.
func New(cfg Config) (*Server, error) {
	if cfg.ListenAddr == "" {
		return nil, tallyerr.New(tallyerr.CodeServerConfigInvalid, "listen address is required")
	}
	if cfg.ChatRate < 0 {
		return nil, tallyerr.Errorf(tallyerr.CodeServerConfigInvalid, "chat rate must not be negative (got %g)", cfg.ChatRate)
	}
	if cfg.ChatRate > 0 && cfg.ChatBurst <= 0 {
		return nil, tallyerr.Errorf(tallyerr.CodeServerConfigInvalid,
			"chat burst must be positive when chat rate is set (got burst=%d, rate=%g)", cfg.ChatBurst, cfg.ChatRate)
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	// Streams last for a whole investigation, so writes are not bounded by
	// default.
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(clientIPContextMiddleware)
	r.Use(corsMiddleware(cfg.CORSOrigins))

	humaConfig := huma.DefaultConfig("Tally API", Version)
	humaConfig.Info.Description = "Billing investigation agent and proposal review API"
	api := humachi.New(r, humaConfig)

	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Tags:        []string{"system"},
	}, func(_ context.Context, _ *struct{}) (*HealthResponse, error) {
		return &HealthResponse{Body: HealthBody{Status: "ok"}}, nil
	})

	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	srv := &Server{
		router: r,
		api:    api,
		cfg:    cfg,
		logger: logger,
		done:   make(chan struct{}),
	}
	if cfg.ChatRate > 0 {
		srv.limiter = newChatLimiter(rate.Limit(cfg.ChatRate), cfg.ChatBurst)
		go srv.limiter.cleanupLoop(srv.done)
	}

	return srv, nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.router
}

// API returns the huma API for registering additional operations.
func (s *Server) API() huma.API {
	return s.api
}

// RegisterServices sets the service dependencies and registers the chat
// and review routes.
func (s *Server) RegisterServices(svc *Services) {
	s.services = svc
	s.registerChatRoutes()
	s.registerRoutes()
}

// Close stops background work started by New. Start calls it on return.
func (s *Server) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// Start runs the HTTP server and blocks until the context is cancelled,
// then performs graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.Close()

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return tallyerr.Errorf(tallyerr.CodeServerStartFailure, "listening on %s: %w", s.cfg.ListenAddr, err)
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.logger.Info("server listening", "addr", ln.Addr().String())

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return tallyerr.Errorf(tallyerr.CodeServerStartFailure, "serving: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return tallyerr.Errorf(tallyerr.CodeServerShutdownFailure, "shutting down: %w", err)
	}

	return <-errCh
}

// HealthBody is the JSON body of the health endpoint response.
type HealthBody struct {
	Status string `json:"status" example:"ok" doc:"Health status"`
}

// HealthResponse wraps the health check response.
type HealthResponse struct {
	Body HealthBody
}

func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173"}
	}

	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	})
}

// apiError converts a coded error into a huma status error.
func (s *Server) apiError(op string, err error) error {
	status := tallyerr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "op", op, "code", tallyerr.CodeOf(err), "error", err)
	}
	return huma.NewError(status, err.Error())
}
