package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/assertmarket/internal/domain"
	"github.com/alanyoungcy/assertmarket/internal/server/handler"
	"github.com/alanyoungcy/assertmarket/internal/server/middleware"
	"github.com/alanyoungcy/assertmarket/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// AdminKey guards the admin and oracle simulator routes. Empty disables
	// them.
	AdminKey string
	// TrustCallerHeader skips caller signature checks. Development only.
	TrustCallerHeader bool
	MaxSkew           time.Duration
	// RateLimit is requests per RateWindow per caller; zero disables it.
	RateLimit  int
	RateWindow time.Duration
	// ReplayGuard remembers accepted signed requests. Nil keeps them in
	// process, which is only enough for a single replica.
	ReplayGuard domain.ReplayGuard
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health     *handler.HealthHandler
	Markets    *handler.MarketHandler
	Collateral *handler.CollateralHandler
	Oracle     *handler.OracleHandler
	Events     *handler.EventsHandler
	// Archive is nil when no object store is configured.
	Archive *handler.ArchiveHandler
}

// Server is the HTTP + WebSocket API of the market engine.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware
// chain. limiter and hub may be nil.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	admin := middleware.AdminKey(cfg.AdminKey)

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Markets.
	mux.HandleFunc("POST /api/markets", handlers.Markets.CreateMarket)
	mux.HandleFunc("POST /api/markets/batch", handlers.Markets.CreateMarkets)
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/quote", handlers.Markets.Quote)
	mux.HandleFunc("POST /api/markets/{id}/buy", handlers.Markets.Buy)
	mux.HandleFunc("POST /api/markets/{id}/liquidity", handlers.Markets.AddLiquidity)
	mux.HandleFunc("POST /api/markets/{id}/liquidity/redeem", handlers.Markets.RemoveLiquidity)
	mux.HandleFunc("POST /api/markets/{id}/settle", handlers.Markets.Settle)
	mux.HandleFunc("POST /api/markets/{id}/assert", handlers.Markets.Assert)
	mux.HandleFunc("GET /api/markets/{id}/balances/{address}", handlers.Markets.Balances)

	// Collateral.
	mux.HandleFunc("GET /api/collateral/{address}", handlers.Collateral.Balance)
	mux.HandleFunc("POST /api/collateral/approve", handlers.Collateral.Approve)
	mux.Handle("POST /api/admin/collateral/mint", admin(http.HandlerFunc(handlers.Collateral.Mint)))

	// Oracle callbacks, authenticated by the caller signature.
	mux.HandleFunc("POST /api/oracle/callbacks/resolved", handlers.Oracle.Resolved)
	mux.HandleFunc("POST /api/oracle/callbacks/disputed", handlers.Oracle.Disputed)
	if handlers.Oracle.HasSimulator() {
		mux.Handle("GET /api/oracle/sim", admin(http.HandlerFunc(handlers.Oracle.ListAssertions)))
		mux.Handle("GET /api/oracle/sim/{id}", admin(http.HandlerFunc(handlers.Oracle.GetAssertion)))
		mux.Handle("POST /api/oracle/sim/{id}/dispute", admin(http.HandlerFunc(handlers.Oracle.Dispute)))
		mux.Handle("POST /api/oracle/sim/{id}/resolve", admin(http.HandlerFunc(handlers.Oracle.Resolve)))
		mux.Handle("POST /api/oracle/sim/{id}/settle", admin(http.HandlerFunc(handlers.Oracle.Settle)))
	}

	// Events.
	mux.HandleFunc("GET /api/events", handlers.Events.ListEvents)
	mux.HandleFunc("GET /api/events/stream", handlers.Events.Stream)

	if handlers.Archive != nil {
		mux.HandleFunc("GET /api/archives", handlers.Archive.List)
		mux.HandleFunc("GET /api/archives/{path...}", handlers.Archive.Download)
		mux.Handle("POST /api/admin/archive/run", admin(http.HandlerFunc(handlers.Archive.Run)))
	}

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	// Build the chain inside out: CORS, logging, caller auth, rate limit.
	var h http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateWindow
		if window <= 0 {
			window = time.Second
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window, logger)(h)
	}
	h = middleware.CallerAuth(middleware.CallerAuthConfig{
		MaxSkew:     cfg.MaxSkew,
		TrustHeader: cfg.TrustCallerHeader,
		Replay:      cfg.ReplayGuard,
	})(h)
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
		handler: h,
		logger:  logger,
	}
}

// Handler returns the fully wrapped handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.handler }

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
