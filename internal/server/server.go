// Package server exposes the game over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/spacewager/internal/crypto"
	"github.com/alanyoungcy/spacewager/internal/domain"
	"github.com/alanyoungcy/spacewager/internal/server/handler"
	"github.com/alanyoungcy/spacewager/internal/server/middleware"
	"github.com/alanyoungcy/spacewager/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	RateLimit   int    // requests per RateWindow per client IP; 0 disables
	RateWindow  time.Duration
	// Verifier, when set, requires execute requests naming a player to be
	// signed by that player.
	Verifier *crypto.Verifier
	// Nonces remembers accepted signatures. Nil uses an in-process store.
	Nonces domain.NonceStore
}

// Handlers aggregates the HTTP handlers the server registers. Audit, Hub and
// Metrics are optional.
type Handlers struct {
	Health  *handler.HealthHandler
	Game    *handler.GameHandler
	Audit   *handler.AuditHandler
	Hub     *ws.Hub
	Metrics http.Handler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware chain:
// CORS, logging, rate limit, auth. limiter may be nil when RateLimit is 0.
func NewServer(cfg Config, h Handlers, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      NewHandler(cfg, h, limiter, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// NewHandler builds the routed, middleware-wrapped handler.
func NewHandler(cfg Config, h Handlers, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)

	var execute http.Handler = http.HandlerFunc(h.Game.Execute)
	if cfg.Verifier != nil {
		nonces := cfg.Nonces
		if nonces == nil {
			nonces = middleware.NewLocalNonces()
		}
		execute = middleware.Signature(cfg.Verifier, nonces, logger)(execute)
	}
	mux.Handle("POST /api/execute", execute)
	mux.HandleFunc("POST /api/query", h.Game.Query)

	mux.HandleFunc("GET /api/state", h.Game.GetState)
	mux.HandleFunc("GET /api/config", h.Game.GetConfig)
	mux.HandleFunc("GET /api/predictions", h.Game.ListPredictions)
	mux.HandleFunc("GET /api/predictions/{id}", h.Game.GetPrediction)
	mux.HandleFunc("GET /api/players/{player}", h.Game.GetPlayer)
	mux.HandleFunc("GET /api/players/{player}/games", h.Game.ListGames)
	mux.HandleFunc("GET /api/players/{player}/games/{id}", h.Game.GetGame)

	if h.Audit != nil {
		mux.HandleFunc("GET /api/audit", h.Audit.ListRecent)
	}
	if h.Hub != nil {
		mux.HandleFunc("GET /ws", h.Hub.HandleWS)
	}
	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics)
	}

	var handler http.Handler = mux
	handler = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(handler)
	if limiter != nil && cfg.RateLimit > 0 {
		handler = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(handler)
	}
	handler = middleware.Logging(logger)(handler)
	handler = middleware.CORS(cfg.CORSOrigins)(handler)
	return handler
}

// Start listens until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
