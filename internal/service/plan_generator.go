package service

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	cfotel "github.com/matross-gh/platform-engineering-copilot/internal/adapter/otel"
	"github.com/matross-gh/platform-engineering-copilot/internal/config"
	"github.com/matross-gh/platform-engineering-copilot/internal/domain"
	"github.com/matross-gh/platform-engineering-copilot/internal/domain/conversation"
	"github.com/matross-gh/platform-engineering-copilot/internal/domain/executor"
	"github.com/matross-gh/platform-engineering-copilot/internal/domain/plan"
	"github.com/matross-gh/platform-engineering-copilot/internal/port/oracle"
)

//go:embed templates/*.tmpl
var promptFS embed.FS

var promptTemplates = template.Must(template.ParseFS(promptFS, "templates/*.tmpl"))

const planningSystemPrompt = "You are the planning component of a platform engineering copilot. " +
	"You only classify requests and never answer them. Output JSON only."

// planningPromptData carries request context into templates/planning.tmpl.
type planningPromptData struct {
	Catalogue []executor.Descriptor
	Facts     []conversation.KeyedFact
	History   []conversation.Message
	Message   string
}

// plannerResponse is the JSON shape requested from the planning oracle.
// Every field is optional; the oracle output is untrusted.
type plannerResponse struct {
	PrimaryIntent        string        `json:"primaryIntent"`
	ExecutionPattern     string        `json:"executionPattern"`
	EstimatedTimeSeconds float64       `json:"estimatedTimeSeconds"`
	Tasks                []plannerTask `json:"tasks"`
}

type plannerTask struct {
	Category    string `json:"category"`
	Executor    string `json:"executor"`
	AgentType   string `json:"agentType"`
	Description string `json:"description"`
	Priority    *int   `json:"priority"`
	Critical    *bool  `json:"critical"`
}

// name returns whichever category field the oracle filled in.
func (t plannerTask) name() string {
	for _, s := range []string{t.Category, t.Executor, t.AgentType} {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// PlanGenerator turns a request into a candidate plan. Deterministic
// fast-path phrasing skips the oracle; anything the oracle cannot answer
// falls back to keyword scoring.
type PlanGenerator struct {
	oracle        oracle.Oracle
	model         string
	maxTokens     int
	historyWindow int
	metrics       *cfotel.Metrics
}

// NewPlanGenerator creates a generator backed by o. A nil oracle always
// uses the keyword fallback.
func NewPlanGenerator(o oracle.Oracle, cfg config.Orchestrator) *PlanGenerator {
	maxTokens := cfg.PlanningMaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}
	return &PlanGenerator{
		oracle:        o,
		model:         cfg.PlanningModel,
		maxTokens:     maxTokens,
		historyWindow: cfg.HistoryWindow,
	}
}

// SetMetrics enables oracle call metrics.
func (g *PlanGenerator) SetMetrics(m *cfotel.Metrics) { g.metrics = m }

// FastPath returns a single-task plan when message matches exactly one
// category's fixed phrasing. Turns answering a pending clarification never
// take the fast path.
func (g *PlanGenerator) FastPath(message string, conv *conversation.Context) (plan.Plan, bool) {
	if conv.IsContinuation() {
		return plan.Plan{}, false
	}
	cat, ok := matchFastPath(normalizeMessage(message))
	if !ok {
		return plan.Plan{}, false
	}
	return plan.Single(string(cat), cat, message, conversationID(conv), plan.SourceFastPath), true
}

// Generate builds a candidate plan for message. It only fails when ctx is
// done; oracle errors and unusable output degrade to the keyword fallback.
func (g *PlanGenerator) Generate(ctx context.Context, message string, conv *conversation.Context) (plan.Plan, error) {
	if p, ok := g.FastPath(message, conv); ok {
		return p, nil
	}

	convID := conversationID(conv)
	if g.oracle == nil {
		return g.fallback(message, convID), nil
	}

	p, err := g.ask(ctx, message, conv)
	if err == nil {
		return p, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return plan.Plan{}, fmt.Errorf("generate plan: %w", ctxErr)
	}
	slog.Warn("planning oracle unusable, using keyword fallback",
		"conversation_id", convID,
		"error", err,
	)
	return g.fallback(message, convID), nil
}

// ask renders the planning prompt, calls the oracle and parses its reply.
func (g *PlanGenerator) ask(ctx context.Context, message string, conv *conversation.Context) (plan.Plan, error) {
	prompt, err := g.buildPrompt(message, conv)
	if err != nil {
		return plan.Plan{}, fmt.Errorf("build planning prompt: %w", err)
	}

	spanCtx, span := cfotel.StartOracleSpan(ctx, "planning", g.model)
	raw, err := g.oracle.Complete(spanCtx, oracle.Request{
		Model:       g.model,
		System:      planningSystemPrompt,
		Prompt:      prompt,
		MaxTokens:   g.maxTokens,
		Temperature: 0.1,
		JSON:        true,
	})
	cfotel.EndSpan(span, err)
	g.metrics.RecordOracle(ctx, "planning", err == nil)
	if err != nil {
		return plan.Plan{}, fmt.Errorf("%w: %w", domain.ErrOracleUnavailable, err)
	}
	return parsePlan(raw, message, conversationID(conv))
}

func (g *PlanGenerator) buildPrompt(message string, conv *conversation.Context) (string, error) {
	history := conv.RecentMessages(g.historyWindow)
	for i := range history {
		history[i].Content = sanitizePromptInput(history[i].Content)
	}
	facts := conv.SortedFacts()
	for i := range facts {
		facts[i].Value = sanitizePromptInput(facts[i].Value)
	}

	var buf bytes.Buffer
	err := promptTemplates.ExecuteTemplate(&buf, "planning.tmpl", planningPromptData{
		Catalogue: executor.Catalogue(),
		Facts:     facts,
		History:   history,
		Message:   sanitizePromptInput(message),
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// parsePlan converts oracle output into a plan. Unknown categories are
// dropped, an unknown pattern becomes sequential and a missing priority
// takes the task's position. Output with no usable task is malformed.
func parsePlan(raw, message, convID string) (plan.Plan, error) {
	var resp plannerResponse
	content := extractJSON(raw)
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return plan.Plan{}, fmt.Errorf("%w: %w (content: %s)", domain.ErrMalformedPlan, err, truncate(raw, 200))
	}

	tasks := make([]executor.Task, 0, len(resp.Tasks))
	for i, rt := range resp.Tasks {
		cat, ok := executor.ParseCategory(rt.name())
		if !ok {
			slog.Warn("planner proposed unknown executor", "executor", rt.name(), "conversation_id", convID)
			continue
		}
		desc := strings.TrimSpace(rt.Description)
		if desc == "" {
			desc = message
		}
		priority := i + 1
		if rt.Priority != nil && *rt.Priority > 0 {
			priority = *rt.Priority
		}
		critical := len(resp.Tasks) == 1
		if rt.Critical != nil {
			critical = *rt.Critical
		}
		tasks = append(tasks, executor.NewTask(cat, desc, priority, critical, convID))
	}
	if len(tasks) == 0 {
		return plan.Plan{}, fmt.Errorf("%w: no usable tasks", domain.ErrMalformedPlan)
	}

	intent := strings.TrimSpace(resp.PrimaryIntent)
	if cat, ok := executor.ParseCategory(intent); ok {
		intent = string(cat)
	} else {
		intent = string(tasks[0].Category)
	}

	var estimate time.Duration
	if resp.EstimatedTimeSeconds > 0 {
		estimate = time.Duration(resp.EstimatedTimeSeconds * float64(time.Second))
	}

	return plan.Plan{
		PrimaryIntent:     intent,
		Tasks:             tasks,
		Pattern:           plan.ParsePattern(resp.ExecutionPattern),
		EstimatedDuration: estimate,
		Source:            plan.SourceOracle,
	}, nil
}

// fallback classifies by keyword weights into a single-task plan.
func (g *PlanGenerator) fallback(message, convID string) plan.Plan {
	cat := scoreCategories(normalizeMessage(message))
	return plan.Single(string(cat), cat, message, convID, plan.SourceFallback)
}

func conversationID(conv *conversation.Context) string {
	if conv == nil {
		return ""
	}
	return conv.ID
}
