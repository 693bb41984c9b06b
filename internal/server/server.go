package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/drawsettle/internal/domain"
	"github.com/alanyoungcy/drawsettle/internal/metrics"
	"github.com/alanyoungcy/drawsettle/internal/server/handler"
	"github.com/alanyoungcy/drawsettle/internal/server/middleware"
	"github.com/alanyoungcy/drawsettle/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey guards mutating routes. Empty disables authentication.
	APIKey string
	// OpenReads leaves GET routes reachable without the key.
	OpenReads bool
	// RateLimit is requests per RateWindow per client IP; zero disables it.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates the HTTP handlers the server registers. Payouts,
// Oracle, Hub and Metrics are optional.
type Handlers struct {
	Health  *handler.HealthHandler
	Status  *handler.StatusHandler
	Config  *handler.ConfigHandler
	Draws   *handler.DrawHandler
	Oracle  *handler.OracleHandler
	Payouts *handler.PayoutHandler
	Hub     *ws.Hub
	Metrics *metrics.Metrics
}

// Server is the HTTP and WebSocket API of the settlement engine.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// publicPaths never require the API key. Oracle callbacks are
// authenticated by signature instead.
var publicPaths = []string{"/api/health", "/api/oracle/callback", "/metrics"}

// NewServer registers every route and wraps the mux in middleware.
// limiter may be nil.
func NewServer(cfg Config, h Handlers, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := routes(h)

	var root http.Handler = mux
	if h.Metrics != nil {
		root = h.Metrics.Instrument(root)
	}
	root = middleware.Auth(cfg.APIKey, middleware.AuthOptions{
		PublicPrefixes: publicPaths,
		OpenReads:      cfg.OpenReads,
	})(root)
	if limiter != nil && cfg.RateLimit > 0 {
		root = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(root)
	}
	root = middleware.Logging(logger)(root)
	root = middleware.CORS(cfg.CORSOrigins)(root)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      root,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

func routes(h Handlers) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", h.Status.GetStatus)

	mux.HandleFunc("GET /api/config", h.Config.GetConfig)
	mux.HandleFunc("PUT /api/config", h.Config.UpdateConfig)

	mux.HandleFunc("GET /api/draws", h.Draws.ListDraws)
	mux.HandleFunc("GET /api/draws/current", h.Draws.GetCurrentDraw)
	mux.HandleFunc("GET /api/draws/{id}", h.Draws.GetDraw)
	mux.HandleFunc("POST /api/draws/{id}/tickets", h.Draws.BuyTickets)
	mux.HandleFunc("GET /api/draws/{id}/tickets/{addr}", h.Draws.GetTickets)
	mux.HandleFunc("GET /api/draws/{id}/winners/{addr}", h.Draws.CheckWinner)
	mux.HandleFunc("POST /api/draws/{id}/settle", h.Draws.RequestSettlement)
	mux.HandleFunc("POST /api/draws/{id}/claim", h.Draws.Claim)

	if h.Oracle != nil {
		mux.HandleFunc("POST /api/oracle/callback", h.Oracle.Callback)
	}
	if h.Payouts != nil {
		mux.HandleFunc("GET /api/payouts/unpaid", h.Payouts.ListUnpaid)
		mux.HandleFunc("POST /api/payouts/treasury/{id}/retry", h.Payouts.RetryTreasury)
		mux.HandleFunc("GET /api/balances/{addr}", h.Payouts.GetBalance)
	}
	if h.Hub != nil {
		mux.HandleFunc("GET /ws", h.Hub.HandleWS)
	}
	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics.Handler())
	}
	return mux
}

// Handler returns the fully wrapped root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens until the server fails or is shut down.
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
