// Package server exposes the marketplace engine over HTTP and streams its
// events over WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/nftmarket/internal/domain"
	"github.com/alanyoungcy/nftmarket/internal/server/handler"
	"github.com/alanyoungcy/nftmarket/internal/server/middleware"
	"github.com/alanyoungcy/nftmarket/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, the API-key gate is disabled

	// DevAuth trusts X-Account without a request signature.
	DevAuth    bool
	MaxSkew    time.Duration
	RateLimit  int
	RateWindow time.Duration

	// Nonces claims each signed mutation once so it cannot be replayed
	// within MaxSkew. Nil disables the check.
	Nonces domain.LockManager
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health      *handler.HealthHandler
	Listings    *handler.ListingHandler
	Offers      *handler.OfferHandler
	Admin       *handler.AdminHandler
	Settlements *handler.SettlementHandler
}

// Server is the HTTP + WebSocket API server for the marketplace.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (CORS, logging, rate limit, API key, caller auth)
// and attaches the WebSocket hub. limiter may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// --- Register routes ---

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Listings and auctions.
	mux.HandleFunc("POST /api/listings", handlers.Listings.CreateListing)
	mux.HandleFunc("GET /api/listings", handlers.Listings.ListListings)
	mux.HandleFunc("GET /api/listings/{id}", handlers.Listings.GetListing)
	mux.HandleFunc("DELETE /api/listings/{id}", handlers.Listings.CancelListing)
	mux.HandleFunc("POST /api/listings/{id}/buy", handlers.Listings.Buy)
	mux.HandleFunc("POST /api/listings/{id}/bids", handlers.Listings.PlaceBid)
	mux.HandleFunc("POST /api/listings/{id}/end", handlers.Listings.EndAuction)

	// Offers.
	mux.HandleFunc("POST /api/offers", handlers.Offers.PlaceOffer)
	mux.HandleFunc("GET /api/offers", handlers.Offers.ListOffers)
	mux.HandleFunc("GET /api/offers/{id}", handlers.Offers.GetOffer)
	mux.HandleFunc("POST /api/offers/{id}/accept", handlers.Offers.AcceptOffer)
	mux.HandleFunc("DELETE /api/offers/{id}", handlers.Offers.WithdrawOffer)

	// Settlement history.
	mux.HandleFunc("GET /api/settlements", handlers.Settlements.ListSettlements)
	mux.HandleFunc("GET /api/settlements/{id}", handlers.Settlements.GetSettlement)

	// Roles.
	mux.HandleFunc("GET /api/roles", handlers.Admin.ListRoles)
	mux.HandleFunc("POST /api/roles", handlers.Admin.GrantRole)
	mux.HandleFunc("DELETE /api/roles", handlers.Admin.RevokeRole)

	// Platform config and royalties.
	mux.HandleFunc("GET /api/config", handlers.Admin.GetConfig)
	mux.HandleFunc("PUT /api/config/fee", handlers.Admin.SetFee)
	mux.HandleFunc("PUT /api/config/fee-recipient", handlers.Admin.SetFeeRecipient)
	mux.HandleFunc("POST /api/config/payment-tokens", handlers.Admin.ApprovePaymentToken)
	mux.HandleFunc("DELETE /api/config/payment-tokens/{token}", handlers.Admin.RevokePaymentToken)
	mux.HandleFunc("PUT /api/royalties", handlers.Admin.SetRoyalty)
	mux.HandleFunc("GET /api/royalties/{collection}", handlers.Admin.GetRoyalty)

	// Emergency stop.
	mux.HandleFunc("POST /api/pause", handlers.Admin.Pause)
	mux.HandleFunc("POST /api/unpause", handlers.Admin.Unpause)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux

	h = middleware.Account(middleware.AccountOptions{
		Dev:     cfg.DevAuth,
		MaxSkew: cfg.MaxSkew,
		Nonces:  cfg.Nonces,
		Logger:  logger,
	})(h)

	h = middleware.APIKey(cfg.APIKey, "/api/health")(h)

	h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)

	h = middleware.Logging(logger)(h)

	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		handler:    h,
		logger:     logger,
	}
}

// Handler returns the fully wrapped root handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
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
