package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	cfotel "github.com/matross-gh/platform-engineering-copilot/internal/adapter/otel"
	"github.com/matross-gh/platform-engineering-copilot/internal/adapter/ws"
	"github.com/matross-gh/platform-engineering-copilot/internal/config"
	"github.com/matross-gh/platform-engineering-copilot/internal/domain/conversation"
	"github.com/matross-gh/platform-engineering-copilot/internal/domain/event"
	"github.com/matross-gh/platform-engineering-copilot/internal/domain/executor"
	"github.com/matross-gh/platform-engineering-copilot/internal/domain/plan"
	"github.com/matross-gh/platform-engineering-copilot/internal/execpool"
	"github.com/matross-gh/platform-engineering-copilot/internal/port/broadcast"
	executorport "github.com/matross-gh/platform-engineering-copilot/internal/port/executor"
)

const engineActor = "orchestrator"

// errCriticalFailure cancels a parallel fan-out.
var errCriticalFailure = errors.New("critical task failed")

// Report is everything the engine learned while running one plan.
type Report struct {
	// Results holds every result in execution order, including every round
	// of a collaborative plan and skipped tasks.
	Results []executor.Result
	// Invoked lists the distinct categories actually dispatched.
	Invoked   []executor.Category
	Calls     int
	Rounds    int
	Halted    bool
	Cancelled bool
}

// Dispatched returns the results of tasks that reached an executor.
func (r Report) Dispatched() []executor.Result {
	out := make([]executor.Result, 0, len(r.Results))
	for _, res := range r.Results {
		if !res.Skipped {
			out = append(out, res)
		}
	}
	return out
}

func (r *Report) add(results ...executor.Result) {
	for _, res := range results {
		r.Results = append(r.Results, res)
		if res.Skipped {
			continue
		}
		r.Calls++
		seen := false
		for _, c := range r.Invoked {
			if c == res.Category {
				seen = true
				break
			}
		}
		if !seen {
			r.Invoked = append(r.Invoked, res.Category)
		}
	}
}

// ApprovalFunc decides whether a collaborative round is good enough to stop.
type ApprovalFunc func(round []executor.Result) bool

// DefaultApproval accepts a round when every dispatched task succeeded and
// none explicitly withheld approval. Skipped tasks have no executor to
// revise them and do not count.
func DefaultApproval(round []executor.Result) bool {
	for _, r := range round {
		if r.Skipped {
			continue
		}
		if !r.Success || r.Disapproved() {
			return false
		}
	}
	return true
}

// ExecutionEngine runs plans against registered executors.
type ExecutionEngine struct {
	registry    *executorport.Registry
	pool        *execpool.Pool
	store       *ContextStore
	hub         broadcast.Broadcaster
	metrics     *cfotel.Metrics
	approve     ApprovalFunc
	maxParallel int
	maxRounds   int
	keepResults int
}

// NewExecutionEngine creates an engine. store may be nil, in which case
// executors see no shared context and results are not folded back.
func NewExecutionEngine(registry *executorport.Registry, pool *execpool.Pool, store *ContextStore, cfg config.Orchestrator) *ExecutionEngine {
	maxParallel := cfg.MaxParallel
	if maxParallel < 1 {
		maxParallel = 1
	}
	maxRounds := cfg.CollaborativeMaxRounds
	if maxRounds < 1 {
		maxRounds = 1
	}
	return &ExecutionEngine{
		registry:    registry,
		pool:        pool,
		store:       store,
		approve:     DefaultApproval,
		maxParallel: maxParallel,
		maxRounds:   maxRounds,
		keepResults: cfg.ResultsWindow,
	}
}

// SetBroadcaster enables progress events.
func (e *ExecutionEngine) SetBroadcaster(b broadcast.Broadcaster) { e.hub = b }

// SetMetrics enables executor metrics.
func (e *ExecutionEngine) SetMetrics(m *cfotel.Metrics) { e.metrics = m }

// SetApproval replaces the collaborative approval predicate.
func (e *ExecutionEngine) SetApproval(fn ApprovalFunc) {
	if fn != nil {
		e.approve = fn
	}
}

// Execute runs p for conversationID according to its pattern.
func (e *ExecutionEngine) Execute(ctx context.Context, p plan.Plan, conversationID string) Report {
	var rep Report
	switch p.Pattern {
	case plan.PatternParallel:
		rep = e.runParallel(ctx, p, conversationID)
	case plan.PatternCollaborative:
		rep = e.runCollaborative(ctx, p, conversationID)
	default:
		rep = e.runSequential(ctx, p, conversationID)
	}
	if ctx.Err() != nil {
		rep.Cancelled = true
	}
	return rep
}

// runSequential dispatches tasks one at a time in priority order. Each task
// sees the results of those before it. A critical failure halts the plan.
func (e *ExecutionEngine) runSequential(ctx context.Context, p plan.Plan, convID string) Report {
	var rep Report
	for _, task := range p.Ordered() {
		if ctx.Err() != nil {
			rep.Cancelled = true
			break
		}
		res := e.dispatch(ctx, task, e.snapshot(convID))
		rep.add(res)
		e.fold(convID, res)

		if task.Critical && !res.Success && !res.Skipped {
			rep.Halted = true
			slog.Warn("critical task failed, halting plan",
				"conversation_id", convID,
				"executor", task.Category,
				"task_id", task.ID,
			)
			break
		}
	}
	rep.Rounds = 1
	return rep
}

// runParallel fans out every task at once, bounded by max_parallel.
func (e *ExecutionEngine) runParallel(ctx context.Context, p plan.Plan, convID string) Report {
	var rep Report
	results := e.fanOut(ctx, p.Tasks, e.snapshot(convID), true)
	rep.add(results...)
	e.fold(convID, results...)
	for i, res := range results {
		if p.Tasks[i].Critical && !res.Success && !res.Skipped {
			rep.Halted = true
			break
		}
	}
	rep.Rounds = 1
	return rep
}

// runCollaborative repeats the fan-out, feeding each round a digest of the
// previous one, until the approval predicate accepts a round or the round
// budget is spent. Every round's results are kept.
func (e *ExecutionEngine) runCollaborative(ctx context.Context, p plan.Plan, convID string) Report {
	var rep Report
	it := newRounds(e.maxRounds)
	for it.Next() {
		if ctx.Err() != nil {
			rep.Cancelled = true
			break
		}
		tasks := make([]executor.Task, len(p.Tasks))
		for i, t := range p.Tasks {
			t.Round = it.Round()
			t.Feedback = it.Feedback()
			tasks[i] = t
		}

		results := e.fanOut(ctx, tasks, e.snapshot(convID), false)
		rep.add(results...)
		rep.Rounds = it.Round()
		e.fold(convID, results...)
		e.recordEvent(ctx, engineActor, engineActor, event.RoundCompleted, map[string]any{
			"conversation_id": convID,
			"round":           it.Round(),
		})

		if e.approve(results) {
			break
		}
		it.Feed(results)
	}
	e.metrics.RecordRounds(ctx, rep.Rounds)
	return rep
}

// fanOut dispatches tasks concurrently and returns results in submission
// order. With cancelOnCritical, a failed critical task cancels the tasks
// still running or waiting.
func (e *ExecutionEngine) fanOut(ctx context.Context, tasks []executor.Task, shared *conversation.Context, cancelOnCritical bool) []executor.Result {
	results := make([]executor.Result, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxParallel)

	for i, task := range tasks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = executor.Failure(task, fmt.Sprintf("not started: %v", context.Cause(gctx)), 0)
				return nil
			}
			res := e.dispatch(gctx, task, shared)
			results[i] = res
			if cancelOnCritical && task.Critical && !res.Success && !res.Skipped {
				return fmt.Errorf("%w: %s", errCriticalFailure, task.Category)
			}
			return nil
		})
	}
	// Only errCriticalFailure is ever returned; results already carry it.
	_ = g.Wait()
	return results
}

// dispatch runs one task, or records a skip when no executor serves its
// category.
func (e *ExecutionEngine) dispatch(ctx context.Context, task executor.Task, shared *conversation.Context) executor.Result {
	exec, err := e.registry.Lookup(task.Category)
	if err != nil {
		slog.Warn("skipping task with no registered executor",
			"conversation_id", task.ConversationID,
			"executor", task.Category,
			"task_id", task.ID,
		)
		res := executor.Skip(task, err.Error())
		e.recordEvent(ctx, engineActor, string(task.Category), event.TaskSkipped, map[string]any{
			"conversation_id": task.ConversationID,
			"task_id":         task.ID,
			"reason":          err.Error(),
		})
		e.progress(ctx, task, event.TaskSkipped, &res)
		return res
	}

	e.progress(ctx, task, event.TaskStarted, nil)
	e.recordEvent(ctx, engineActor, string(task.Category), event.TaskStarted, map[string]any{
		"conversation_id": task.ConversationID,
		"task_id":         task.ID,
		"round":           task.Round,
	})

	spanCtx, span := cfotel.StartTaskSpan(ctx, task)
	res := e.pool.Dispatch(spanCtx, exec, task, shared)
	var spanErr error
	if !res.Success {
		spanErr = errors.New(strings.Join(res.Errors, "; "))
	}
	cfotel.EndSpan(span, spanErr)
	e.metrics.RecordExecutor(ctx, string(task.Category), res.Success, res.Elapsed)

	e.recordEvent(ctx, string(task.Category), engineActor, event.TaskCompleted, map[string]any{
		"conversation_id": task.ConversationID,
		"task_id":         task.ID,
		"success":         res.Success,
		"elapsed_ms":      res.Elapsed.Milliseconds(),
	})
	e.progress(ctx, task, event.TaskCompleted, &res)
	return res
}

func (e *ExecutionEngine) snapshot(convID string) *conversation.Context {
	if e.store == nil {
		return nil
	}
	return e.store.Get(convID)
}

// fold appends results to the conversation in a single atomic update,
// dropping the oldest beyond the retained window.
func (e *ExecutionEngine) fold(convID string, results ...executor.Result) {
	if e.store == nil || len(results) == 0 {
		return
	}
	e.store.Update(convID, func(c *conversation.Context) *conversation.Context {
		return c.WithRecentResults(e.keepResults, results...)
	})
}

func (e *ExecutionEngine) recordEvent(ctx context.Context, from, to, message string, data map[string]any) {
	if e.store == nil {
		return
	}
	e.store.RecordEvent(ctx, from, to, message, data)
}

func (e *ExecutionEngine) progress(ctx context.Context, task executor.Task, stage string, res *executor.Result) {
	if e.hub == nil {
		return
	}
	ev := ws.ProgressEvent{
		Stage:    stage,
		TaskID:   task.ID,
		Category: string(task.Category),
		Round:    task.Round,
	}
	if res != nil {
		ok := res.Success
		ev.Success = &ok
		if len(res.Errors) > 0 {
			ev.Detail = res.Errors[0]
		} else if len(res.Warnings) > 0 {
			ev.Detail = res.Warnings[0]
		}
	}
	e.hub.BroadcastEvent(ctx, task.ConversationID, ws.EventProgress, ev)
}

// rounds is the bounded iterator driving collaborative refinement.
type rounds struct {
	max      int
	n        int
	feedback string
}

func newRounds(limit int) *rounds { return &rounds{max: limit} }

// Next advances to the following round and reports whether one remains.
func (r *rounds) Next() bool {
	if r.n >= r.max {
		return false
	}
	r.n++
	return true
}

// Round returns the current 1-based round number.
func (r *rounds) Round() int { return r.n }

// Feedback returns the digest of the previous round, empty in round one.
func (r *rounds) Feedback() string { return r.feedback }

// Feed records the digest of a finished round for the next one.
func (r *rounds) Feed(results []executor.Result) {
	r.feedback = roundDigest(r.n, results)
}

// roundDigest summarizes each executor's pass/fail and approval.
func roundDigest(round int, results []executor.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Round %d review:", round)
	for _, res := range results {
		b.WriteString("\n- ")
		b.WriteString(string(res.Category))
		switch {
		case res.Skipped:
			b.WriteString(": skipped")
		case !res.Success:
			b.WriteString(": failed")
			if len(res.Errors) > 0 {
				b.WriteString(" (" + truncate(res.Errors[0], 200) + ")")
			}
		case res.Disapproved():
			b.WriteString(": succeeded, not approved")
		default:
			b.WriteString(": succeeded, approved")
		}
	}
	return b.String()
}
