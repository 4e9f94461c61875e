package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/matross-gh/platform-engineering-copilot/internal/domain"
	"github.com/matross-gh/platform-engineering-copilot/internal/domain/conversation"
	"github.com/matross-gh/platform-engineering-copilot/internal/domain/event"
	"github.com/matross-gh/platform-engineering-copilot/internal/domain/executor"
	"github.com/matross-gh/platform-engineering-copilot/internal/execpool"
	"github.com/matross-gh/platform-engineering-copilot/internal/logger"
	executorport "github.com/matross-gh/platform-engineering-copilot/internal/port/executor"
	"github.com/matross-gh/platform-engineering-copilot/internal/resilience"
	"github.com/matross-gh/platform-engineering-copilot/internal/service"
)

const healthProbeTimeout = 3 * time.Second

// LLMHealth is the subset of the LiteLLM client used for health reporting.
type LLMHealth interface {
	Health(ctx context.Context) (bool, error)
	BreakerState() resilience.State
}

// QueueHealth reports message broker connectivity.
type QueueHealth interface {
	IsConnected() bool
}

// Handlers holds the dependencies of the REST endpoints. Optional
// dependencies may be nil.
type Handlers struct {
	Orchestrator     *service.OrchestratorService
	Store            *service.ContextStore
	Cache            *service.PlanCache
	Pool             *execpool.Pool
	Registry         *executorport.Registry
	LiteLLM          LLMHealth
	Queue            QueueHealth
	MaxMessageLength int
}

// processRequestBody is the payload of both request submission endpoints.
type processRequestBody struct {
	ConversationID string                `json:"conversationId"`
	Message        string                `json:"message"`
	Context        *conversation.Context `json:"context,omitempty"`
}

// ProcessRequest handles POST /api/v1/requests. The conversation id is
// optional and generated when absent.
func (h *Handlers) ProcessRequest(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[processRequestBody](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	h.process(w, r, strings.TrimSpace(body.ConversationID), body)
}

// ProcessConversationRequest handles POST /api/v1/conversations/{id}/requests.
func (h *Handlers) ProcessConversationRequest(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[processRequestBody](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	h.process(w, r, urlParam(r, "id"), body)
}

func (h *Handlers) process(w http.ResponseWriter, r *http.Request, convID string, body processRequestBody) {
	message := strings.TrimSpace(body.Message)
	if !requireField(w, message, "message") {
		return
	}
	if h.MaxMessageLength > 0 && len(message) > h.MaxMessageLength {
		writeError(w, http.StatusBadRequest, "message too long")
		return
	}
	if body.Context != nil && body.Context.ID != "" && convID != "" && body.Context.ID != convID {
		writeError(w, http.StatusBadRequest, "context id does not match conversation id")
		return
	}

	ctx := r.Context()
	if convID != "" {
		ctx = logger.WithConversationID(ctx, convID)
	}
	out := h.Orchestrator.ProcessRequest(ctx, convID, message, body.Context)
	writeJSON(w, http.StatusOK, out)
}

// GetConversation handles GET /api/v1/conversations/{id}
func (h *Handlers) GetConversation(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if !h.Store.Has(id) {
		writeDomainError(w, domain.ErrNotFound, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, h.Store.Get(id))
}

// DeleteConversation handles DELETE /api/v1/conversations/{id}
func (h *Handlers) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if !h.Store.Has(id) {
		writeDomainError(w, domain.ErrNotFound, "conversation not found")
		return
	}
	h.Store.Clear(id)
	w.WriteHeader(http.StatusNoContent)
}

// ListConversationEvents handles GET /api/v1/conversations/{id}/events
func (h *Handlers) ListConversationEvents(w http.ResponseWriter, r *http.Request) {
	events := h.Store.EventsFor(urlParam(r, "id"), queryLimit(r))
	if events == nil {
		events = []event.Audit{}
	}
	writeJSON(w, http.StatusOK, events)
}

// ListEvents handles GET /api/v1/events
func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	events := h.Store.Events(queryLimit(r))
	if events == nil {
		events = []event.Audit{}
	}
	writeJSON(w, http.StatusOK, events)
}

type executorEntry struct {
	Category   executor.Category `json:"category"`
	Summary    string            `json:"summary"`
	Registered bool              `json:"registered"`
}

// ListExecutors handles GET /api/v1/executors
func (h *Handlers) ListExecutors(w http.ResponseWriter, _ *http.Request) {
	registered := map[executor.Category]bool{}
	if h.Registry != nil {
		for _, c := range h.Registry.Categories() {
			registered[c] = true
		}
	}
	catalogue := executor.Catalogue()
	out := make([]executorEntry, 0, len(catalogue))
	for _, d := range catalogue {
		out = append(out, executorEntry{Category: d.Category, Summary: d.Summary, Registered: registered[d.Category]})
	}
	writeJSON(w, http.StatusOK, out)
}

type statsResponse struct {
	Conversations    int                `json:"conversations"`
	PlanCache        service.CacheStats `json:"plan_cache"`
	ExecutorLimit    int                `json:"executor_limit"`
	ExecutorInFlight int64              `json:"executor_in_flight"`
}

// Stats handles GET /api/v1/stats
func (h *Handlers) Stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statsResponse{
		Conversations:    h.Store.Len(),
		PlanCache:        h.Cache.Stats(),
		ExecutorLimit:    h.Pool.Limit(),
		ExecutorInFlight: h.Pool.InFlight(),
	})
}

type healthResponse struct {
	Status  string `json:"status"`
	LiteLLM string `json:"litellm"`
	Breaker string `json:"breaker,omitempty"`
	NATS    string `json:"nats"`
}

// Health handles GET /health. Degraded dependencies are reported in the
// body; the status code stays 200.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", LiteLLM: "disabled", NATS: "disabled"}

	if h.LiteLLM != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
		healthy, err := h.LiteLLM.Health(ctx)
		cancel()
		resp.Breaker = string(h.LiteLLM.BreakerState())
		if err == nil && healthy {
			resp.LiteLLM = "ok"
		} else {
			resp.LiteLLM = "unavailable"
			resp.Status = "degraded"
		}
	}
	if h.Queue != nil {
		if h.Queue.IsConnected() {
			resp.NATS = "ok"
		} else {
			resp.NATS = "disconnected"
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
