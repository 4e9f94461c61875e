package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	cfhttp "github.com/matross-gh/platform-engineering-copilot/internal/adapter/http"
	"github.com/matross-gh/platform-engineering-copilot/internal/adapter/ristretto"
	"github.com/matross-gh/platform-engineering-copilot/internal/config"
	"github.com/matross-gh/platform-engineering-copilot/internal/domain/conversation"
	"github.com/matross-gh/platform-engineering-copilot/internal/domain/event"
	"github.com/matross-gh/platform-engineering-copilot/internal/domain/executor"
	"github.com/matross-gh/platform-engineering-copilot/internal/domain/outcome"
	"github.com/matross-gh/platform-engineering-copilot/internal/execpool"
	"github.com/matross-gh/platform-engineering-copilot/internal/middleware"
	executorport "github.com/matross-gh/platform-engineering-copilot/internal/port/executor"
	"github.com/matross-gh/platform-engineering-copilot/internal/resilience"
	"github.com/matross-gh/platform-engineering-copilot/internal/service"
)

type fakeLLM struct {
	healthy bool
	err     error
}

func (f *fakeLLM) Health(context.Context) (bool, error) { return f.healthy, f.err }
func (f *fakeLLM) BreakerState() resilience.State       { return resilience.StateClosed }

type fakeQueue struct{ connected bool }

func (f *fakeQueue) IsConnected() bool { return f.connected }

type testServer struct {
	router   chi.Router
	handlers *cfhttp.Handlers
	costRuns *atomic.Int32
}

func newTestServer(t *testing.T, limiter *middleware.RateLimiter) *testServer {
	t.Helper()
	cfg := config.Defaults()

	costRuns := &atomic.Int32{}
	reg, err := executorport.NewRegistry(executorport.Func{
		Cat: executor.CategoryCostManagement,
		Fn: func(context.Context, executor.Task, *conversation.Context) executor.Result {
			costRuns.Add(1)
			return executor.Result{Content: "You spent $120 this month.", Success: true}
		},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	backend, err := ristretto.New(1<<20, 100)
	if err != nil {
		t.Fatalf("ristretto.New: %v", err)
	}
	t.Cleanup(backend.Close)

	store := service.NewContextStore(cfg.ContextStore)
	cache := service.NewPlanCache(backend, time.Minute)
	pool := execpool.New(4)
	orch := service.NewOrchestratorService(
		store,
		cache,
		service.NewPlanGenerator(nil, cfg.Orchestrator),
		service.NewPlanValidator(),
		service.NewExecutionEngine(reg, pool, store, cfg.Orchestrator),
		service.NewSynthesizer(nil, cfg.Orchestrator),
		&cfg.Orchestrator,
	)

	h := &cfhttp.Handlers{
		Orchestrator:     orch,
		Store:            store,
		Cache:            cache,
		Pool:             pool,
		Registry:         reg,
		MaxMessageLength: 200,
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Get("/health", h.Health)
	cfhttp.MountRoutes(r, h, limiter)
	return &testServer{router: r, handlers: h, costRuns: costRuns}
}

func (s *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "10.0.0.1:4000"
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

func TestProcessConversationRequest(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodPost, "/api/v1/conversations/conv-1/requests", `{"message":"show my costs"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	out := decode[outcome.Outcome](t, rec)
	if out.ConversationID != "conv-1" {
		t.Errorf("conversationId = %q, want conv-1", out.ConversationID)
	}
	if !out.Success {
		t.Errorf("expected success, errors: %v", out.Errors)
	}
	if out.FinalResponse != "You spent $120 this month." {
		t.Errorf("finalResponse = %q", out.FinalResponse)
	}
	if s.costRuns.Load() != 1 {
		t.Errorf("cost executor ran %d times, want 1", s.costRuns.Load())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestProcessRequestGeneratesConversationID(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodPost, "/api/v1/requests", `{"message":"show my costs"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	out := decode[outcome.Outcome](t, rec)
	if out.ConversationID == "" {
		t.Fatal("expected a generated conversation id")
	}
	if !s.handlers.Store.Has(out.ConversationID) {
		t.Error("generated conversation was not stored")
	}
}

func TestProcessRequestValidation(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", `{`, http.StatusBadRequest},
		{"missing message", `{}`, http.StatusBadRequest},
		{"blank message", `{"message":"   "}`, http.StatusBadRequest},
		{"too long", `{"message":"` + strings.Repeat("x", 201) + `"}`, http.StatusBadRequest},
		{"context id mismatch", `{"message":"show my costs","context":{"id":"other"}}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/api/v1/conversations/conv-1/requests", tt.body)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
	if s.costRuns.Load() != 0 {
		t.Errorf("rejected requests reached an executor %d times", s.costRuns.Load())
	}
}

func TestConversationLifecycle(t *testing.T) {
	s := newTestServer(t, nil)

	if rec := s.do(http.MethodGet, "/api/v1/conversations/conv-9", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before first request, got %d", rec.Code)
	}

	s.do(http.MethodPost, "/api/v1/conversations/conv-9/requests", `{"message":"show my costs"}`)

	rec := s.do(http.MethodGet, "/api/v1/conversations/conv-9", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	conv := decode[conversation.Context](t, rec)
	if len(conv.Messages) != 2 {
		t.Errorf("expected user and assistant messages, got %d", len(conv.Messages))
	}

	rec = s.do(http.MethodGet, "/api/v1/conversations/conv-9/events", "")
	events := decode[[]event.Audit](t, rec)
	if len(events) == 0 {
		t.Error("expected audit events for the conversation")
	}

	if rec := s.do(http.MethodDelete, "/api/v1/conversations/conv-9", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if rec := s.do(http.MethodGet, "/api/v1/conversations/conv-9", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", rec.Code)
	}
	if rec := s.do(http.MethodDelete, "/api/v1/conversations/conv-9", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 deleting twice, got %d", rec.Code)
	}
}

func TestListEventsLimit(t *testing.T) {
	s := newTestServer(t, nil)
	for range 3 {
		s.do(http.MethodPost, "/api/v1/requests", `{"message":"show my costs"}`)
	}

	rec := s.do(http.MethodGet, "/api/v1/events?limit=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if events := decode[[]event.Audit](t, rec); len(events) != 2 {
		t.Errorf("expected 2 events, got %d", len(events))
	}
}

func TestListEventsEmpty(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodGet, "/api/v1/events", "")
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("expected empty JSON array, got %q", got)
	}
}

func TestListExecutors(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodGet, "/api/v1/executors", "")
	entries := decode[[]struct {
		Category   string `json:"category"`
		Registered bool   `json:"registered"`
	}](t, rec)

	if len(entries) != len(executor.Categories()) {
		t.Fatalf("expected %d catalogue entries, got %d", len(executor.Categories()), len(entries))
	}
	for _, e := range entries {
		want := e.Category == string(executor.CategoryCostManagement)
		if e.Registered != want {
			t.Errorf("%s registered = %v, want %v", e.Category, e.Registered, want)
		}
	}
}

func TestStats(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(http.MethodPost, "/api/v1/requests", `{"message":"show my costs"}`)

	rec := s.do(http.MethodGet, "/api/v1/stats", "")
	stats := decode[struct {
		Conversations int `json:"conversations"`
		ExecutorLimit int `json:"executor_limit"`
	}](t, rec)
	if stats.Conversations != 1 {
		t.Errorf("conversations = %d, want 1", stats.Conversations)
	}
	if stats.ExecutorLimit != 4 {
		t.Errorf("executor_limit = %d, want 4", stats.ExecutorLimit)
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		llm        cfhttp.LLMHealth
		queue      cfhttp.QueueHealth
		wantStatus string
		wantLLM    string
		wantNATS   string
	}{
		{"no dependencies", nil, nil, "ok", "disabled", "disabled"},
		{"all healthy", &fakeLLM{healthy: true}, &fakeQueue{connected: true}, "ok", "ok", "ok"},
		{"llm down", &fakeLLM{err: errors.New("refused")}, &fakeQueue{connected: true}, "degraded", "unavailable", "ok"},
		{"nats down", &fakeLLM{healthy: true}, &fakeQueue{}, "degraded", "ok", "disconnected"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, nil)
			s.handlers.LiteLLM = tt.llm
			s.handlers.Queue = tt.queue

			rec := s.do(http.MethodGet, "/health", "")
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
			got := decode[struct {
				Status  string `json:"status"`
				LiteLLM string `json:"litellm"`
				NATS    string `json:"nats"`
			}](t, rec)
			if got.Status != tt.wantStatus || got.LiteLLM != tt.wantLLM || got.NATS != tt.wantNATS {
				t.Errorf("health = %+v, want status=%s litellm=%s nats=%s", got, tt.wantStatus, tt.wantLLM, tt.wantNATS)
			}
		})
	}
}

func TestSubmissionRateLimited(t *testing.T) {
	s := newTestServer(t, middleware.NewRateLimiter(0.001, 1, time.Minute))

	if rec := s.do(http.MethodPost, "/api/v1/requests", `{"message":"show my costs"}`); rec.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", rec.Code)
	}
	if rec := s.do(http.MethodPost, "/api/v1/requests", `{"message":"show my costs"}`); rec.Code != http.StatusTooManyRequests {
		t.Errorf("second request: expected 429, got %d", rec.Code)
	}
	if rec := s.do(http.MethodGet, "/api/v1/events", ""); rec.Code != http.StatusOK {
		t.Errorf("reads should not be rate limited, got %d", rec.Code)
	}
}
