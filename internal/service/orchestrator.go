package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	cfotel "github.com/matross-gh/platform-engineering-copilot/internal/adapter/otel"
	"github.com/matross-gh/platform-engineering-copilot/internal/adapter/ws"
	"github.com/matross-gh/platform-engineering-copilot/internal/config"
	"github.com/matross-gh/platform-engineering-copilot/internal/domain/conversation"
	"github.com/matross-gh/platform-engineering-copilot/internal/domain/event"
	"github.com/matross-gh/platform-engineering-copilot/internal/domain/executor"
	"github.com/matross-gh/platform-engineering-copilot/internal/domain/outcome"
	"github.com/matross-gh/platform-engineering-copilot/internal/domain/plan"
	"github.com/matross-gh/platform-engineering-copilot/internal/logger"
	"github.com/matross-gh/platform-engineering-copilot/internal/port/broadcast"
)

// Intent reported for answers served from conversation facts.
const intentContextLookup = "context_lookup"

// metadataMissingFields is the result metadata key executors use to ask
// for more input.
const metadataMissingFields = "missing_fields"

// OrchestratorService turns one user message into an Outcome: it selects a
// plan, runs it against the executors and merges what they return.
type OrchestratorService struct {
	store     *ContextStore
	cache     *PlanCache
	generator *PlanGenerator
	validator *PlanValidator
	engine    *ExecutionEngine
	synth     *Synthesizer
	hub       broadcast.Broadcaster
	metrics   *cfotel.Metrics
	orchCfg   *config.Orchestrator
	now       func() time.Time
}

// NewOrchestratorService creates an OrchestratorService with all dependencies.
func NewOrchestratorService(
	store *ContextStore,
	cache *PlanCache,
	generator *PlanGenerator,
	validator *PlanValidator,
	engine *ExecutionEngine,
	synth *Synthesizer,
	orchCfg *config.Orchestrator,
) *OrchestratorService {
	return &OrchestratorService{
		store:     store,
		cache:     cache,
		generator: generator,
		validator: validator,
		engine:    engine,
		synth:     synth,
		orchCfg:   orchCfg,
		now:       time.Now,
	}
}

// SetBroadcaster enables outcome events for WebSocket subscribers.
func (s *OrchestratorService) SetBroadcaster(b broadcast.Broadcaster) { s.hub = b }

// SetMetrics enables request metrics.
func (s *OrchestratorService) SetMetrics(m *cfotel.Metrics) { s.metrics = m }

// Store exposes the conversation store for read-only endpoints.
func (s *OrchestratorService) Store() *ContextStore { return s.store }

// ProcessRequest handles one message for conversationID. existing, when
// non-nil, replaces whatever the store holds for the conversation. It never
// returns nil and never panics: any failure becomes a failed Outcome.
func (s *OrchestratorService) ProcessRequest(ctx context.Context, conversationID, message string, existing *conversation.Context) (out *outcome.Outcome) {
	start := s.now()
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	if logger.RequestID(ctx) == "" {
		ctx = logger.WithRequestID(ctx, uuid.NewString())
	}
	ctx = logger.WithConversationID(ctx, conversationID)

	ctx, span := cfotel.StartRequestSpan(ctx, conversationID)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("request pipeline panicked",
				append(logger.Attrs(ctx), "panic", r, "stack", string(debug.Stack()))...,
			)
			out = outcome.Failed(conversationID, fmt.Errorf("internal error: %v", r))
		}
		out.ElapsedMS = s.now().Sub(start).Milliseconds()

		var spanErr error
		if !out.Success && len(out.Errors) > 0 {
			spanErr = errors.New(out.Errors[0])
		}
		cfotel.EndSpan(span, spanErr)
		s.metrics.RecordRequest(ctx, out.PrimaryIntent, out.Success, s.now().Sub(start))
		s.finish(ctx, out)
	}()

	if s.orchCfg != nil && s.orchCfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.orchCfg.RequestTimeout)
		defer cancel()
	}

	return s.process(ctx, conversationID, message, existing)
}

func (s *OrchestratorService) process(ctx context.Context, convID, message string, existing *conversation.Context) *outcome.Outcome {
	conv := s.store.Update(convID, func(cur *conversation.Context) *conversation.Context {
		if existing != nil {
			cur = existing
		}
		return cur.WithMessage(conversation.RoleUser, message, s.now())
	})
	s.store.RecordEvent(ctx, "user", engineActor, event.RequestReceived, map[string]any{
		"conversation_id": convID,
		"request_id":      logger.RequestID(ctx),
	})

	normalized := normalizeMessage(message)
	if key, ok := recallFact(normalized); ok {
		if f, found := conv.Fact(key); found {
			return s.recallOutcome(convID, message, key, f.Value)
		}
	}

	p, err := s.selectPlan(ctx, message, conv)
	if err != nil {
		return outcome.Failed(convID, err)
	}

	rep := s.engine.Execute(ctx, p, convID)

	final := rep.Dispatched()
	if p.Pattern == plan.PatternCollaborative {
		final = executor.LatestByCategory(final)
	}
	text, synthCalls := s.synth.Synthesize(ctx, message, final)

	out := assembleOutcome(convID, p, rep, final, text)
	out.TotalCalls = rep.Calls + synthCalls
	if err := ctx.Err(); err != nil {
		out.Success = false
		out.RequiresFollowUp = true
		out.Errors = append(out.Errors, "request cancelled: "+err.Error())
		out.FollowUpPrompt = followUpPrompt(out.MissingFields, true, false)
	}

	s.foldOutcome(convID, message, out, final)
	return out
}

// selectPlan tries the fast path, then the cache, then the generator. Every
// plan that did not come from the cache passes through the validator.
func (s *OrchestratorService) selectPlan(ctx context.Context, message string, conv *conversation.Context) (plan.Plan, error) {
	ctx, span := cfotel.StartPlanSpan(ctx)
	var spanErr error
	defer func() { cfotel.EndSpan(span, spanErr) }()

	convID := conv.ID
	p, ok := s.generator.FastPath(message, conv)
	if !ok {
		if cached, hit := s.cache.TryGet(ctx, message, conv); hit {
			s.metrics.RecordCacheLookup(ctx, true)
			p = cached.Rebind(convID)
			p.Source = plan.SourceCache
			s.recordPlan(ctx, convID, p)
			return p, nil
		}
		s.metrics.RecordCacheLookup(ctx, false)

		generated, err := s.generator.Generate(ctx, message, conv)
		if err != nil {
			spanErr = err
			return plan.Plan{}, err
		}
		p = generated
	}

	fromOracle := p.Source == plan.SourceOracle
	p = s.validator.ValidateAndCorrect(p, message, convID)
	if fromOracle {
		s.cache.Put(ctx, message, conv, p)
	}
	s.recordPlan(ctx, convID, p)
	return p, nil
}

func (s *OrchestratorService) recordPlan(ctx context.Context, convID string, p plan.Plan) {
	s.metrics.RecordPlan(ctx, string(p.Source), string(p.Pattern))
	slog.Info("plan selected",
		"conversation_id", convID,
		"plan_source", p.Source,
		"pattern", p.Pattern,
		"intent", p.PrimaryIntent,
		"tasks", len(p.Tasks),
	)
	s.store.RecordEvent(ctx, engineActor, engineActor, event.PlanSelected, map[string]any{
		"conversation_id": convID,
		"source":          string(p.Source),
		"pattern":         string(p.Pattern),
		"intent":          p.PrimaryIntent,
		"categories":      p.Categories(),
	})
}

var recallLabels = map[string]string{
	conversation.FactSubscriptionID: "subscription",
	conversation.FactResourceGroup:  "resource group",
	conversation.FactRegion:         "region",
}

// recallOutcome answers a recall question straight from conversation facts.
func (s *OrchestratorService) recallOutcome(convID, message, key, value string) *outcome.Outcome {
	out := &outcome.Outcome{
		ConversationID:   convID,
		FinalResponse:    fmt.Sprintf("The last %s you used in this conversation is %s.", recallLabels[key], value),
		PrimaryIntent:    intentContextLookup,
		ExecutorsInvoked: []executor.Category{},
		ExecutionPattern: plan.PatternSequential,
		Success:          true,
		MissingFields:    []string{},
		QuickReplies:     quickRepliesFor(intentContextLookup),
		Metadata:         map[string]any{"fact": key},
		Errors:           []string{},
	}
	s.foldOutcome(convID, message, out, nil)
	return out
}

// assembleOutcome derives the caller-facing fields from an executed plan.
func assembleOutcome(convID string, p plan.Plan, rep Report, final []executor.Result, text string) *outcome.Outcome {
	out := &outcome.Outcome{
		ConversationID:   convID,
		FinalResponse:    text,
		PrimaryIntent:    p.PrimaryIntent,
		ExecutorsInvoked: slices.Clone(rep.Invoked),
		ExecutionPattern: p.Pattern,
		MissingFields:    []string{},
		QuickReplies:     quickRepliesFor(p.PrimaryIntent),
		Metadata:         map[string]any{},
		Errors:           []string{},
	}
	if out.ExecutorsInvoked == nil {
		out.ExecutorsInvoked = []executor.Category{}
	}

	warned := false
	for _, r := range rep.Results {
		if r.Skipped || len(r.Warnings) > 0 {
			warned = true
		}
	}

	// Only the latest collaborative round counts; earlier failures were
	// superseded.
	failed := false
	for _, r := range final {
		if r.NeedsFollowUp() {
			out.RequiresFollowUp = true
		}
		if !r.Success {
			failed = true
		}
		for _, e := range r.Errors {
			out.Errors = append(out.Errors, string(r.Category)+": "+e)
		}
		for k, v := range r.Metadata {
			if k == metadataMissingFields {
				out.MissingFields = appendMissing(out.MissingFields, v)
				continue
			}
			out.Metadata[k] = v
		}
	}
	for _, r := range rep.Results {
		if r.Skipped {
			out.Errors = append(out.Errors, string(r.Category)+": "+strings.Join(r.Warnings, "; "))
		}
	}

	out.Success = len(final) > 0 && !failed && !rep.Halted
	if warned || len(final) == 0 || len(out.MissingFields) > 0 {
		out.RequiresFollowUp = true
	}
	if out.RequiresFollowUp {
		out.FollowUpPrompt = followUpPrompt(out.MissingFields, failed || len(final) == 0, warned)
	}

	out.Metadata["plan_source"] = string(p.Source)
	if p.Pattern == plan.PatternCollaborative {
		out.Metadata["rounds"] = rep.Rounds
	}
	if rep.Halted {
		out.Metadata["halted"] = true
	}
	return out
}

// appendMissing merges a missing_fields metadata value, which executors send
// as a list or a comma-separated string, keeping first-seen order.
func appendMissing(dst []string, v any) []string {
	var fields []string
	switch vv := v.(type) {
	case []string:
		fields = vv
	case []any:
		for _, f := range vv {
			if s, ok := f.(string); ok {
				fields = append(fields, s)
			}
		}
	case string:
		fields = strings.Split(vv, ",")
	}
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f != "" && !slices.Contains(dst, f) {
			dst = append(dst, f)
		}
	}
	return dst
}

// followUpPrompt picks the follow-up question shown with the response.
func followUpPrompt(missing []string, failed, warned bool) string {
	switch {
	case len(missing) > 0:
		return "To continue, please provide: " + strings.Join(humanizeFields(missing), ", ") + "."
	case failed:
		return "Some steps did not complete. Would you like me to retry, or try a different approach?"
	case warned:
		return "Please review the warnings above. Is there anything you'd like me to adjust?"
	default:
		return ""
	}
}

func humanizeFields(fields []string) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = strings.ReplaceAll(f, "_", " ")
	}
	return out
}

// foldOutcome records the assistant reply and the workflow facts learned
// from this turn in one atomic update.
func (s *OrchestratorService) foldOutcome(convID, message string, out *outcome.Outcome, results []executor.Result) {
	now := s.now()
	facts := conversation.ExtractFacts(message)
	for _, r := range results {
		maps.Copy(facts, conversation.FactsFromMetadata(r.Metadata))
	}
	if out.PrimaryIntent != "" && out.PrimaryIntent != intentContextLookup {
		facts[conversation.FactLastIntent] = out.PrimaryIntent
	}

	s.store.Update(convID, func(c *conversation.Context) *conversation.Context {
		next := c.WithMessage(conversation.RoleAssistant, out.FinalResponse, now).WithFacts(facts, now)
		if len(out.MissingFields) > 0 {
			return next.WithFact(conversation.FactPendingClarification, strings.Join(out.MissingFields, ","), now)
		}
		return next.WithoutFact(conversation.FactPendingClarification)
	})
}

// finish emits the completion audit event and the outcome broadcast.
func (s *OrchestratorService) finish(ctx context.Context, out *outcome.Outcome) {
	msg := event.RequestCompleted
	if !out.Success && len(out.ExecutorsInvoked) == 0 && out.PrimaryIntent == "" {
		msg = event.RequestFailed
	}
	s.store.RecordEvent(context.WithoutCancel(ctx), engineActor, "user", msg, map[string]any{
		"conversation_id": out.ConversationID,
		"request_id":      logger.RequestID(ctx),
		"success":         out.Success,
		"intent":          out.PrimaryIntent,
		"elapsed_ms":      out.ElapsedMS,
	})
	if s.hub != nil {
		s.hub.BroadcastEvent(context.WithoutCancel(ctx), out.ConversationID, ws.EventOutcome, out)
	}
	slog.Info("request processed",
		append(logger.Attrs(ctx),
			"intent", out.PrimaryIntent,
			"success", out.Success,
			"total_calls", out.TotalCalls,
			"elapsed_ms", out.ElapsedMS,
		)...,
	)
}
