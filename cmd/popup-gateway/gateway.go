// ABOUTME: Gateway struct wiring collaborators into the HTTP bridge server
// ABOUTME: Run blocks until context cancellation, then shuts down gracefully

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/revibase/passkey-popup/internal/chain"
	"github.com/revibase/passkey-popup/internal/challenge"
	"github.com/revibase/passkey-popup/internal/config"
	"github.com/revibase/passkey-popup/internal/display"
	"github.com/revibase/passkey-popup/internal/passkeydb"
	"github.com/revibase/passkey-popup/internal/payer"
)

// Gateway owns the HTTP server and the session bridge.
type Gateway struct {
	config     *config.Config
	logger     *slog.Logger
	bridge     *Bridge
	httpServer *http.Server
}

// NewGateway wires the external clients and builds the bridge.
func NewGateway(cfg *config.Config, logger *slog.Logger) *Gateway {
	rpc := chain.NewClient(cfg.Endpoints.RPC, cfg.Endpoints.ImageProxy, logger.With("component", "chain"))
	db := passkeydb.NewClient(cfg.Endpoints.PasskeyDB, logger.With("component", "passkeydb"))
	payers := payer.NewClient(cfg.Endpoints.Payers, logger.With("component", "payer"))

	bridge := NewBridge(BridgeDeps{
		Config:     cfg,
		RPC:        rpc,
		DB:         db,
		Payers:     payers,
		Challenges: challenge.NewBuilder(rpc, logger.With("component", "challenge")),
		Renderer:   display.NewRenderer(rpc, db, logger.With("component", "display")),
		Logger:     logger.With("component", "bridge"),
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /session", bridge.HandleOpener)
	mux.HandleFunc("GET /popup/{id}", bridge.HandlePopup)

	return &Gateway{
		config: cfg,
		logger: logger,
		bridge: bridge,
		httpServer: &http.Server{
			Addr:              cfg.Server.HTTPAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or the server error that forced exit.
func (g *Gateway) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", listener.Addr().String())
		if err := g.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown uses a fresh context since the run context is already
// canceled by the time shutdown starts.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	g.bridge.Shutdown()
	return g.httpServer.Shutdown(ctx)
}
