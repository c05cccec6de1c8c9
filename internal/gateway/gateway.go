// ABOUTME: HTTP server wiring for warren's API, SSE stream, and WebSocket stream.
// ABOUTME: Owns route registration, startup, and graceful shutdown.

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/2389/warren/internal/broadcast"
	"github.com/2389/warren/internal/config"
	"github.com/2389/warren/internal/orchestrator"
	"github.com/2389/warren/internal/store"
)

// Gateway serves the HTTP API over the orchestrator and the event stream.
type Gateway struct {
	cfg      config.ServerConfig
	registry *orchestrator.Registry
	store    store.Store
	bus      *broadcast.Broadcaster
	logger   *slog.Logger

	httpServer *http.Server
}

// New creates a Gateway. Call Run to start serving.
func New(cfg config.ServerConfig, registry *orchestrator.Registry, st store.Store, bus *broadcast.Broadcaster, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		cfg:      cfg,
		registry: registry,
		store:    st,
		bus:      bus,
		logger:   logger.With("component", "gateway"),
	}
}

// Routes builds the HTTP handler. Exposed separately so tests can drive the
// mux without a listener.
func (g *Gateway) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/api/operations", g.handleListOperations)
	mux.HandleFunc("/api/ops/", g.handleInvokeOp)
	mux.HandleFunc("/api/agents", g.handleListAgents)
	mux.HandleFunc("/api/agents/", g.handleAgentEvents)
	mux.HandleFunc("/api/events", g.handleEventStream)
	mux.HandleFunc("/ws", g.handleWebSocket)

	return mux
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (g *Gateway) Run(ctx context.Context) error {
	g.httpServer = &http.Server{
		Addr:              g.cfg.HTTPAddr,
		Handler:           g.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("=== GATEWAY LISTENING ===", "addr", g.cfg.HTTPAddr)
		if err := g.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return g.Shutdown(shutdownCtx)
}

// Shutdown stops accepting connections and drains in-flight requests.
func (g *Gateway) Shutdown(ctx context.Context) error {
	if g.httpServer == nil {
		return nil
	}
	g.logger.Info("gateway shutting down")
	if err := g.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
