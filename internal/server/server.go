// Package server exposes the scanner dashboard API and websocket stream.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/jupiterarb/internal/domain"
	"github.com/alanyoungcy/jupiterarb/internal/server/handler"
	"github.com/alanyoungcy/jupiterarb/internal/server/middleware"
	"github.com/alanyoungcy/jupiterarb/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey enables authentication when non-empty.
	APIKey string
	// RateLimitPerIP is requests per minute per client; 0 disables it.
	RateLimitPerIP int
}

// Handlers aggregates the route handlers.
type Handlers struct {
	Health  *handler.HealthHandler
	Scanner *handler.ScannerHandler
	History *handler.HistoryHandler
}

// Server is the dashboard HTTP + websocket server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers routes and wraps them in CORS, logging, rate limit and
// auth middleware, outermost first. limiter may be nil.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	mux.HandleFunc("GET /api/scanner/status", handlers.Scanner.Status)
	mux.HandleFunc("GET /api/scanner/opportunities", handlers.Scanner.Opportunities)
	mux.HandleFunc("POST /api/scanner/start", handlers.Scanner.Start)
	mux.HandleFunc("POST /api/scanner/stop", handlers.Scanner.Stop)
	mux.HandleFunc("PUT /api/scanner/config", handlers.Scanner.UpdateConfig)

	if handlers.History != nil {
		mux.HandleFunc("GET /api/opportunities/recent", handlers.History.RecentOpportunities)
		mux.HandleFunc("GET /api/executions/recent", handlers.History.RecentExecutions)
	}

	if hub != nil {
		mux.HandleFunc("GET /ws/scanner", hub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	h = middleware.RateLimit(limiter, cfg.RateLimitPerIP, time.Minute, logger)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger.With(slog.String("component", "server")),
	}
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
