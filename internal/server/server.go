// Package server assembles the HTTP server: REST routes, the realtime
// websocket routes and the middleware chain.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/alanyoungcy/auctionhouse/internal/server/handler"
	"github.com/alanyoungcy/auctionhouse/internal/server/middleware"
	"github.com/alanyoungcy/auctionhouse/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port            int
	CORSOrigins     []string
	RateLimit       int
	RateWindow      time.Duration
	ShutdownTimeout time.Duration
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health *handler.HealthHandler
	Items  *handler.ItemHandler
	Bids   *handler.BidHandler
	Admin  *handler.AdminHandler
	Status *handler.StatusHandler
	// Archive is nil when object storage is disabled.
	Archive *handler.ArchiveHandler
}

// Server is the HTTP + websocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware
// chain. Outermost first: CORS, logging, authentication, rate limiting.
func NewServer(
	cfg Config,
	handlers Handlers,
	gateway *ws.Gateway,
	resolver middleware.IdentityResolver,
	limiter middleware.Limiter,
	logger *slog.Logger,
) *Server {
	mux := Routes(handlers, gateway)

	var h http.Handler = mux
	h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	h = middleware.Authenticate(resolver)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger.With(slog.String("component", "server")),
	}
}

// Routes builds the route table.
func Routes(h Handlers, gateway *ws.Gateway) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)

	mux.HandleFunc("GET /api/items", h.Items.ListActive)
	mux.HandleFunc("POST /api/items", middleware.RequireAdmin(h.Items.CreateItem))
	mux.HandleFunc("GET /api/items/{id}", h.Items.GetItem)
	mux.HandleFunc("GET /api/items/{id}/bids", h.Items.ListBids)
	mux.HandleFunc("GET /api/items/{id}/winner", h.Items.Winner)
	mux.HandleFunc("POST /api/items/{id}/finalize", middleware.RequireAdmin(h.Items.Finalize))

	mux.HandleFunc("POST /api/items/{id}/bids", middleware.RequireIdentity(h.Bids.PlaceBid))
	mux.HandleFunc("GET /api/me/bids", middleware.RequireIdentity(h.Bids.MyBids))

	if h.Admin != nil {
		mux.HandleFunc("GET /api/events", middleware.RequireAdmin(h.Admin.Events))
		mux.HandleFunc("GET /api/audit", middleware.RequireAdmin(h.Admin.Audit))
	}
	if h.Archive != nil {
		mux.HandleFunc("GET /api/archive", middleware.RequireAdmin(h.Archive.List))
		mux.HandleFunc("GET /api/archive/{month}/{id}", middleware.RequireAdmin(h.Archive.Get))
	}
	if h.Status != nil {
		mux.HandleFunc("GET /api/status", middleware.RequireAdmin(h.Status.GetStatus))
	}

	if gateway != nil {
		mux.HandleFunc("GET /ws/active-items", gateway.HandleActiveItems)
		mux.HandleFunc("GET /ws/bid/{id}", gateway.HandleBid)
	}
	return mux
}

// Start listens on the configured port. It blocks until the server fails or
// is shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("server: starting", slog.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serve: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones within the
// context deadline. Hijacked websocket connections are not tracked here; the
// gateway closes them when its base context is cancelled.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
