// Package server owns the service's transports: the stdio pipe transport and
// the HTTP network transport with authentication, rate limiting, CORS, a
// health endpoint and Prometheus metrics. Protocol framing and session
// negotiation on /mcp are delegated to the mcp-go protocol library.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codectx-dev/codectx/internal/config"
	"github.com/codectx-dev/codectx/internal/logger"
	"github.com/codectx-dev/codectx/internal/metrics"
	"github.com/codectx-dev/codectx/internal/version"
)

// HTTP is the network transport.
type HTTP struct {
	cfg *config.Config
	log *logger.Logger

	httpSrv    *http.Server
	streamable *mcpserver.StreamableHTTPServer
	limiter    *RateLimiter

	startTime      time.Time
	activeSessions *atomic.Int64
}

// NewHTTP builds the network transport around an MCP server instance.
// sessionCounter is maintained by the session hooks installed on the MCP
// server (see NewMCPServer).
func NewHTTP(cfg *config.Config, mcpSrv *mcpserver.MCPServer, sessionCounter *atomic.Int64, log *logger.Logger) *HTTP {
	h := &HTTP{
		cfg:            cfg,
		log:            log,
		limiter:        NewRateLimiter(cfg.RateLimit),
		startTime:      time.Now(),
		activeSessions: sessionCounter,
	}

	h.streamable = mcpserver.NewStreamableHTTPServer(mcpSrv,
		mcpserver.WithEndpointPath("/mcp"),
	)

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Mcp-Session-Id", "Last-Event-ID"},
		ExposedHeaders:   []string{"Mcp-Session-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(audit(log))
	r.Use(rateLimit(h.limiter, log))
	r.Use(bearerAuth(cfg.AuthToken, log))

	r.Get("/health", h.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/mcp", h.streamable)
	r.Handle("/mcp/*", h.streamable)

	h.httpSrv = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
		// no write timeout: /mcp GET holds a long-lived SSE stream
		ReadHeaderTimeout: 10 * time.Second,
	}
	return h
}

// handleHealth is never authenticated and never rate limited.
func (h *HTTP) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":         "ok",
		"version":        version.Get(),
		"transport":      "http",
		"uptime":         time.Since(h.startTime).Round(time.Second).String(),
		"activeSessions": h.activeSessions.Load(),
	})
}

// Handler exposes the router for tests.
func (h *HTTP) Handler() http.Handler {
	return h.httpSrv.Handler
}

// Start serves until the listener fails or Shutdown runs.
func (h *HTTP) Start() error {
	h.log.Info("http transport listening", "addr", h.httpSrv.Addr)
	if err := h.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and closes open sessions.
func (h *HTTP) Shutdown(ctx context.Context) error {
	h.limiter.Stop()
	if err := h.streamable.Shutdown(ctx); err != nil {
		h.log.Warn("mcp transport shutdown", "err", err)
	}
	return h.httpSrv.Shutdown(ctx)
}

// NewMCPServer builds one MCP server instance with session hooks that keep
// the active-session count and gauge current. Each transport gets its own
// instance; all instances share one tool Service underneath.
func NewMCPServer(log *logger.Logger, sessionCounter *atomic.Int64) *mcpserver.MCPServer {
	hooks := &mcpserver.Hooks{}
	hooks.AddOnRegisterSession(func(ctx context.Context, session mcpserver.ClientSession) {
		sessionCounter.Add(1)
		metrics.ActiveSessions.Inc()
		log.Info("session opened", "sessionId", session.SessionID())
	})
	hooks.AddOnUnregisterSession(func(ctx context.Context, session mcpserver.ClientSession) {
		sessionCounter.Add(-1)
		metrics.ActiveSessions.Dec()
		log.Info("session closed", "sessionId", session.SessionID())
	})

	return mcpserver.NewMCPServer(
		"codectx",
		version.Get(),
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithHooks(hooks),
		mcpserver.WithInstructions("Semantic code search over registered git repositories. Index a repository with index_codebase, then query it with search_code or across all repositories with search_all."),
	)
}

// ServeStdio runs the pipe transport until ctx is cancelled or stdin closes.
// The pipe transport carries one implicit session and no authentication.
func ServeStdio(ctx context.Context, mcpSrv *mcpserver.MCPServer, log *logger.Logger) error {
	log.Info("stdio transport ready")
	errCh := make(chan error, 1)
	go func() {
		errCh <- mcpserver.ServeStdio(mcpSrv)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}
