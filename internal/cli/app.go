package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/matross-gh/platform-engineering-copilot/internal/adapter/litellm"
	cfnats "github.com/matross-gh/platform-engineering-copilot/internal/adapter/nats"
	"github.com/matross-gh/platform-engineering-copilot/internal/adapter/natskv"
	cfotel "github.com/matross-gh/platform-engineering-copilot/internal/adapter/otel"
	"github.com/matross-gh/platform-engineering-copilot/internal/adapter/remoteexec"
	"github.com/matross-gh/platform-engineering-copilot/internal/adapter/ristretto"
	"github.com/matross-gh/platform-engineering-copilot/internal/adapter/tiered"
	"github.com/matross-gh/platform-engineering-copilot/internal/adapter/ws"
	"github.com/matross-gh/platform-engineering-copilot/internal/config"
	"github.com/matross-gh/platform-engineering-copilot/internal/domain"
	"github.com/matross-gh/platform-engineering-copilot/internal/domain/executor"
	"github.com/matross-gh/platform-engineering-copilot/internal/execpool"
	"github.com/matross-gh/platform-engineering-copilot/internal/port/cache"
	executorport "github.com/matross-gh/platform-engineering-copilot/internal/port/executor"
	"github.com/matross-gh/platform-engineering-copilot/internal/resilience"
	"github.com/matross-gh/platform-engineering-copilot/internal/service"
)

// sharedBackfillTTL bounds how long a plan read from the shared bucket is
// kept in process.
const sharedBackfillTTL = time.Minute

// app holds the wired orchestration core and everything that needs closing.
type app struct {
	cfg          *config.Config
	llm          *litellm.Client
	queue        *cfnats.Queue
	hub          *ws.Hub
	store        *service.ContextStore
	cache        *service.PlanCache
	registry     *executorport.Registry
	pool         *execpool.Pool
	orchestrator *service.OrchestratorService

	closers []func(context.Context) error
}

// buildApp wires infrastructure and services. NATS and OTEL are optional;
// a failure to reach NATS is logged and publishing is disabled.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	// --- Observability ---
	otelShutdown, err := cfotel.Setup(ctx, cfg.OTEL)
	if err != nil {
		return nil, fmt.Errorf("otel: %w", err)
	}
	a.closers = append(a.closers, otelShutdown)

	metrics, err := cfotel.NewMetrics()
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("otel metrics: %w", err)
	}

	// --- Infrastructure ---
	a.llm = litellm.NewClient(cfg.LiteLLM.URL, cfg.LiteLLM.MasterKey, cfg.LiteLLM.Timeout)
	a.llm.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	a.hub = ws.NewHub(originPatterns(cfg.Server.CORSOrigin)...)
	a.closers = append(a.closers, func(context.Context) error { a.hub.Close(); return nil })
	sinks := []service.AuditSink{service.NewBroadcastSink(a.hub)}

	if cfg.NATS.URL != "" {
		queue, err := cfnats.Connect(ctx, cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			slog.Warn("nats unavailable, audit publishing disabled", "url", cfg.NATS.URL, "error", err)
		} else {
			a.queue = queue
			a.closers = append(a.closers, func(context.Context) error { return queue.Close() })
			sinks = append(sinks, service.NewQueueSink(queue, cfg.NATS.Subject))
		}
	}

	if cfg.PlanCache.Enabled {
		backend, err := a.planCacheBackend(ctx)
		if err != nil {
			a.close(ctx)
			return nil, fmt.Errorf("plan cache: %w", err)
		}
		a.cache = service.NewPlanCache(backend, cfg.PlanCache.TTL)
	}

	// --- Executors ---
	a.registry, err = buildRegistry(cfg, a.llm)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	a.pool = execpool.New(cfg.Orchestrator.MaxConcurrentExecutors)

	// --- Services ---
	a.store = service.NewContextStore(cfg.ContextStore, sinks...)

	generator := service.NewPlanGenerator(a.llm, cfg.Orchestrator)
	generator.SetMetrics(metrics)

	engine := service.NewExecutionEngine(a.registry, a.pool, a.store, cfg.Orchestrator)
	engine.SetBroadcaster(a.hub)
	engine.SetMetrics(metrics)

	synth := service.NewSynthesizer(a.llm, cfg.Orchestrator)
	synth.SetMetrics(metrics)

	a.orchestrator = service.NewOrchestratorService(
		a.store,
		a.cache,
		generator,
		service.NewPlanValidator(),
		engine,
		synth,
		&cfg.Orchestrator,
	)
	a.orchestrator.SetBroadcaster(a.hub)
	a.orchestrator.SetMetrics(metrics)

	slog.Info("orchestrator ready",
		"executors", a.registry.Categories(),
		"plan_cache", cfg.PlanCache.Enabled,
		"nats", a.queue != nil,
		"max_concurrent_executors", cfg.Orchestrator.MaxConcurrentExecutors,
	)
	return a, nil
}

// planCacheBackend returns the in-process cache, layered over a shared NATS
// KV bucket when configured and NATS is connected.
func (a *app) planCacheBackend(ctx context.Context) (cache.Cache, error) {
	cfg := a.cfg.PlanCache
	local, err := ristretto.New(cfg.MaxSizeMB<<20, cfg.MaxEntries)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { local.Close(); return nil })

	if !cfg.Shared {
		return local, nil
	}
	if a.queue == nil {
		slog.Warn("shared plan cache needs nats, using in-process cache only")
		return local, nil
	}
	shared, err := natskv.Open(ctx, a.queue.JetStream(), cfg.Bucket, cfg.TTL)
	if err != nil {
		return nil, err
	}
	slog.Info("plan cache shared", "bucket", cfg.Bucket)
	return tiered.New(local, shared, min(cfg.TTL, sharedBackfillTTL)), nil
}

// buildRegistry binds configured remote executors and falls back to the
// completion-backed knowledge executor when none serves that category.
func buildRegistry(cfg *config.Config, llm *litellm.Client) (*executorport.Registry, error) {
	execs, err := remoteexec.FromConfig(cfg.Executors)
	if err != nil {
		return nil, fmt.Errorf("executors: %w", err)
	}
	registry, err := executorport.NewRegistry(execs...)
	if err != nil {
		return nil, fmt.Errorf("executors: %w", err)
	}
	if _, err := registry.Lookup(executor.CategoryKnowledge); errors.Is(err, domain.ErrExecutorNotRegistered) {
		if err := registry.Register(service.NewKnowledgeExecutor(llm, cfg.Orchestrator)); err != nil {
			return nil, fmt.Errorf("executors: %w", err)
		}
	}

	for _, c := range executor.Categories() {
		if _, err := registry.Lookup(c); err != nil {
			slog.Warn("no executor bound, tasks will be skipped", "category", c)
		}
	}
	return registry, nil
}

// close releases resources in reverse acquisition order.
func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			slog.Error("shutdown step failed", "error", err)
		}
	}
	a.closers = nil
}

// originPatterns turns the CORS origin into WebSocket origin patterns.
// A wildcard origin accepts any host.
func originPatterns(origin string) []string {
	switch origin {
	case "", "*":
		return nil
	}
	for _, scheme := range []string{"https://", "http://"} {
		if host, ok := strings.CutPrefix(origin, scheme); ok && host != "" {
			return []string{host}
		}
	}
	return []string{origin}
}
