package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	cfhttp "github.com/matross-gh/platform-engineering-copilot/internal/adapter/http"
	cfmcp "github.com/matross-gh/platform-engineering-copilot/internal/adapter/mcp"
	cfotel "github.com/matross-gh/platform-engineering-copilot/internal/adapter/otel"
	"github.com/matross-gh/platform-engineering-copilot/internal/middleware"
)

// version is reported by the MCP server handshake.
var version = "0.1.0"

const (
	shutdownTimeout = 10 * time.Second
	rateLimiterIdle = 10 * time.Minute
	writeTimeoutPad = 30 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestration API server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, closeLog, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		defer closeLog.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close(context.Background())

		return a.serve(ctx)
	},
}

// router builds the HTTP handler tree: REST API, health, WebSocket events
// and, when enabled, the MCP endpoint.
func (a *app) router(mcpSrv *cfmcp.Server) http.Handler {
	cfg := a.cfg

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(cfhttp.Logger)
	r.Use(chimw.Recoverer)
	r.Use(cfhttp.SecurityHeaders)
	r.Use(cfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(cfotel.HTTPMiddleware(cfg.OTEL.ServiceName))

	h := &cfhttp.Handlers{
		Orchestrator:     a.orchestrator,
		Store:            a.store,
		Cache:            a.cache,
		Pool:             a.pool,
		Registry:         a.registry,
		LiteLLM:          a.llm,
		MaxMessageLength: cfg.Server.MaxMessageLength,
	}
	if a.queue != nil {
		h.Queue = a.queue
	}

	r.Get("/health", h.Health)
	r.Get("/ws", a.hub.HandleWS)

	var limiter *middleware.RateLimiter
	if cfg.Server.RateLimitRPS > 0 {
		limiter = middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst, rateLimiterIdle)
	}
	cfhttp.MountRoutes(r, h, limiter)

	if mcpSrv != nil {
		r.Handle(cfmcp.EndpointPath, mcpSrv.Handler())
	}
	return r
}

// serve runs the API server until ctx is cancelled, then drains in-flight
// requests.
func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg

	var mcpSrv *cfmcp.Server
	if cfg.MCP.Enabled {
		mcpSrv = cfmcp.NewServer(cfmcp.ServerConfig{
			Addr:    cfg.MCP.Addr,
			Name:    cfg.Logging.Service,
			Version: version,
			APIKey:  cfg.MCP.APIKey,
		}, cfmcp.ServerDeps{
			Requests:      a.orchestrator,
			Conversations: a.store,
		})
		if cfg.MCP.Addr != "" {
			if err := mcpSrv.Start(); err != nil {
				return err
			}
		}
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           a.router(mcpSrv),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Orchestrator.RequestTimeout + writeTimeoutPad,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", srv.Addr, "mcp", cfg.MCP.Enabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if mcpSrv != nil {
		if err := mcpSrv.Stop(shutdownCtx); err != nil {
			slog.Error("mcp shutdown", "error", err)
		}
	}
	return srv.Shutdown(shutdownCtx)
}
