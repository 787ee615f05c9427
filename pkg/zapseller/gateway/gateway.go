// Package gateway provides the HTTP admin surface for ZapSeller: status and
// health probes, profile and cart inspection, abandoned-cart listing, and
// operator-initiated sends. Everything delegates into the seller engine.
package gateway

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jholhewres/zapseller/pkg/zapseller/seller"
)

// Gateway is the HTTP admin server.
type Gateway struct {
	seller    *seller.Seller
	config    seller.GatewayConfig
	server    *http.Server
	logger    *slog.Logger
	startedAt time.Time
}

// New creates a new Gateway.
func New(s *seller.Seller, cfg seller.GatewayConfig, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Listen == "" {
		cfg.Listen = "127.0.0.1:8920"
	}
	return &Gateway{
		seller: s,
		config: cfg,
		logger: logger.With("component", "gateway"),
	}
}

// routes assembles the full handler stack: mux plus middleware.
func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()

	// Health (always public)
	mux.HandleFunc("/health", g.handleHealth)

	// API routes
	mux.HandleFunc("/api/status", g.handleStatus)
	mux.HandleFunc("/api/catalog", g.handleCatalog)
	mux.HandleFunc("/api/profiles/", g.handleProfile)
	mux.HandleFunc("/api/carts/abandoned", g.handleAbandonedCarts)
	mux.HandleFunc("/api/carts/", g.handleCartByID)
	mux.HandleFunc("/api/send", g.handleSend)

	return g.securityHeadersMiddleware(g.authMiddleware(mux))
}

// Start starts the HTTP server.
func (g *Gateway) Start(ctx context.Context) error {
	g.startedAt = time.Now()
	g.server = &http.Server{
		Addr:    g.config.Listen,
		Handler: g.routes(),
	}

	// Warn when there is no auth token on a non-loopback bind.
	if g.config.AuthToken == "" {
		host, _, _ := net.SplitHostPort(g.config.Listen)
		if host == "" {
			host = "0.0.0.0"
		}
		ip := net.ParseIP(host)
		isLoopback := ip != nil && ip.IsLoopback()
		if !isLoopback && host != "localhost" {
			g.logger.Warn("SECURITY: gateway has no auth token and is bound to a non-loopback address",
				"address", g.config.Listen)
		}
	}

	go func() {
		if err := g.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			g.logger.Error("gateway server error", "error", err)
		}
	}()
	g.logger.Info("gateway started", "address", g.config.Listen)
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("gateway stopping...")
	return g.server.Shutdown(ctx)
}
