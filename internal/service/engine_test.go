package service

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matross-gh/platform-engineering-copilot/internal/config"
	"github.com/matross-gh/platform-engineering-copilot/internal/domain/conversation"
	"github.com/matross-gh/platform-engineering-copilot/internal/domain/event"
	"github.com/matross-gh/platform-engineering-copilot/internal/domain/executor"
	"github.com/matross-gh/platform-engineering-copilot/internal/domain/plan"
	"github.com/matross-gh/platform-engineering-copilot/internal/execpool"
	executorport "github.com/matross-gh/platform-engineering-copilot/internal/port/executor"
)

// stubExecutor is a configurable executor that records what it saw.
type stubExecutor struct {
	cat   executor.Category
	delay time.Duration
	fail  bool
	// respond overrides the default result when set.
	respond func(ctx context.Context, task executor.Task, shared *conversation.Context) executor.Result

	mu          sync.Mutex
	calls       int
	tasks       []executor.Task
	seenResults []int
}

func (s *stubExecutor) Category() executor.Category { return s.cat }

func (s *stubExecutor) Process(ctx context.Context, task executor.Task, shared *conversation.Context) executor.Result {
	s.mu.Lock()
	s.calls++
	s.tasks = append(s.tasks, task)
	if shared != nil {
		s.seenResults = append(s.seenResults, len(shared.Results))
	}
	s.mu.Unlock()

	if s.respond != nil {
		return s.respond(ctx, task, shared)
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return executor.Failure(task, ctx.Err().Error(), 0)
		}
	}
	if s.fail {
		return executor.Failure(task, string(s.cat)+" failed", 0)
	}
	return executor.Result{Content: string(s.cat) + " done", Success: true}
}

func (s *stubExecutor) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestEngine(t *testing.T, cfg config.Orchestrator, execs ...executorport.Executor) (*ExecutionEngine, *ContextStore) {
	t.Helper()
	reg, err := executorport.NewRegistry(execs...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	store := NewContextStore(config.Defaults().ContextStore)
	return NewExecutionEngine(reg, execpool.New(cfg.MaxConcurrentExecutors), store, cfg), store
}

func newTestTask(cat executor.Category, prio int, critical bool) executor.Task {
	return executor.NewTask(cat, string(cat)+" work", prio, critical, "c1")
}

func TestSequentialRunsInPriorityOrderWithPriorResults(t *testing.T) {
	var order []executor.Category
	var mu sync.Mutex
	record := func(cat executor.Category) *stubExecutor {
		s := &stubExecutor{cat: cat}
		s.respond = func(_ context.Context, _ executor.Task, _ *conversation.Context) executor.Result {
			mu.Lock()
			order = append(order, cat)
			mu.Unlock()
			return executor.Result{Content: "ok", Success: true}
		}
		return s
	}
	infra, deploy, env := record(executor.CategoryInfrastructure), record(executor.CategoryDeployment), record(executor.CategoryEnvironment)
	eng, store := newTestEngine(t, testOrchestratorConfig(), infra, deploy, env)

	p := plan.Plan{Pattern: plan.PatternSequential, Tasks: []executor.Task{
		newTestTask(executor.CategoryEnvironment, 3, false),
		newTestTask(executor.CategoryInfrastructure, 1, true),
		newTestTask(executor.CategoryDeployment, 2, false),
	}}
	rep := eng.Execute(context.Background(), p, "c1")

	want := []executor.Category{executor.CategoryInfrastructure, executor.CategoryDeployment, executor.CategoryEnvironment}
	if len(order) != 3 {
		t.Fatalf("order = %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
	if env.seenResults[0] != 2 {
		t.Fatalf("third task saw %d prior results, want 2", env.seenResults[0])
	}
	if rep.Calls != 3 || len(rep.Invoked) != 3 || rep.Halted {
		t.Fatalf("report = %+v", rep)
	}
	if got := len(store.Get("c1").Results); got != 3 {
		t.Fatalf("stored results = %d, want 3", got)
	}
}

func TestSequentialCriticalFailureHalts(t *testing.T) {
	infra := &stubExecutor{cat: executor.CategoryInfrastructure, fail: true}
	deploy := &stubExecutor{cat: executor.CategoryDeployment}
	eng, _ := newTestEngine(t, testOrchestratorConfig(), infra, deploy)

	p := plan.Plan{Pattern: plan.PatternSequential, Tasks: []executor.Task{
		newTestTask(executor.CategoryInfrastructure, 1, true),
		newTestTask(executor.CategoryDeployment, 2, false),
	}}
	rep := eng.Execute(context.Background(), p, "c1")
	if !rep.Halted || len(rep.Results) != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if deploy.callCount() != 0 {
		t.Fatal("task after critical failure ran")
	}
}

func TestSequentialNonCriticalFailureContinues(t *testing.T) {
	cost := &stubExecutor{cat: executor.CategoryCostManagement, fail: true}
	disc := &stubExecutor{cat: executor.CategoryDiscovery}
	eng, _ := newTestEngine(t, testOrchestratorConfig(), cost, disc)

	p := plan.Plan{Pattern: plan.PatternSequential, Tasks: []executor.Task{
		newTestTask(executor.CategoryCostManagement, 1, false),
		newTestTask(executor.CategoryDiscovery, 2, false),
	}}
	rep := eng.Execute(context.Background(), p, "c1")
	if rep.Halted || len(rep.Results) != 2 || !rep.Results[1].Success {
		t.Fatalf("report = %+v", rep)
	}
}

func TestSequentialCancellationStopsBeforeNextTask(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	first := &stubExecutor{cat: executor.CategoryDiscovery}
	first.respond = func(context.Context, executor.Task, *conversation.Context) executor.Result {
		cancel()
		return executor.Result{Content: "ok", Success: true}
	}
	second := &stubExecutor{cat: executor.CategoryCostManagement}
	eng, _ := newTestEngine(t, testOrchestratorConfig(), first, second)

	p := plan.Plan{Pattern: plan.PatternSequential, Tasks: []executor.Task{
		newTestTask(executor.CategoryDiscovery, 1, false),
		newTestTask(executor.CategoryCostManagement, 2, false),
	}}
	rep := eng.Execute(ctx, p, "c1")
	if !rep.Cancelled || second.callCount() != 0 || len(rep.Results) != 1 {
		t.Fatalf("report = %+v, second calls = %d", rep, second.callCount())
	}
}

func TestParallelPreservesSubmissionOrder(t *testing.T) {
	slow := &stubExecutor{cat: executor.CategoryDiscovery, delay: 40 * time.Millisecond}
	mid := &stubExecutor{cat: executor.CategoryCostManagement, delay: 20 * time.Millisecond}
	fast := &stubExecutor{cat: executor.CategoryCompliance}
	eng, store := newTestEngine(t, testOrchestratorConfig(), slow, mid, fast)

	p := plan.Plan{Pattern: plan.PatternParallel, Tasks: []executor.Task{
		newTestTask(executor.CategoryDiscovery, 1, false),
		newTestTask(executor.CategoryCostManagement, 2, false),
		newTestTask(executor.CategoryCompliance, 3, false),
	}}
	rep := eng.Execute(context.Background(), p, "c1")
	if len(rep.Results) != 3 {
		t.Fatalf("results = %d", len(rep.Results))
	}
	for i, want := range []executor.Category{executor.CategoryDiscovery, executor.CategoryCostManagement, executor.CategoryCompliance} {
		if rep.Results[i].Category != want || rep.Results[i].TaskID != p.Tasks[i].ID {
			t.Fatalf("result %d = %+v, want %s", i, rep.Results[i], want)
		}
	}
	stored := store.Get("c1").Results
	if len(stored) != 3 || stored[0].Category != executor.CategoryDiscovery {
		t.Fatalf("stored results out of order: %+v", stored)
	}
}

func TestParallelRespectsMaxParallel(t *testing.T) {
	cfg := testOrchestratorConfig()
	cfg.MaxParallel = 2

	var running, maxSeen atomic.Int32
	mk := func(cat executor.Category) *stubExecutor {
		s := &stubExecutor{cat: cat}
		s.respond = func(context.Context, executor.Task, *conversation.Context) executor.Result {
			cur := running.Add(1)
			for {
				old := maxSeen.Load()
				if cur <= old || maxSeen.CompareAndSwap(old, cur) {
					break
				}
			}
			time.Sleep(15 * time.Millisecond)
			running.Add(-1)
			return executor.Result{Success: true, Content: "ok"}
		}
		return s
	}
	cats := []executor.Category{
		executor.CategoryCompliance, executor.CategoryDiscovery, executor.CategoryCostManagement,
		executor.CategoryEnvironment, executor.CategoryKnowledge,
	}
	var execs []executorport.Executor
	var tasks []executor.Task
	for i, c := range cats {
		execs = append(execs, mk(c))
		tasks = append(tasks, newTestTask(c, i+1, false))
	}
	eng, _ := newTestEngine(t, cfg, execs...)
	rep := eng.Execute(context.Background(), plan.Plan{Pattern: plan.PatternParallel, Tasks: tasks}, "c1")
	if rep.Calls != 5 {
		t.Fatalf("calls = %d", rep.Calls)
	}
	if m := maxSeen.Load(); m > 2 {
		t.Fatalf("max concurrent = %d, want <= 2", m)
	}
}

func TestParallelNonCriticalFailureKeepsSiblings(t *testing.T) {
	bad := &stubExecutor{cat: executor.CategoryCostManagement, fail: true}
	slow := &stubExecutor{cat: executor.CategoryDiscovery, delay: 30 * time.Millisecond}
	eng, _ := newTestEngine(t, testOrchestratorConfig(), bad, slow)

	rep := eng.Execute(context.Background(), plan.Plan{Pattern: plan.PatternParallel, Tasks: []executor.Task{
		newTestTask(executor.CategoryCostManagement, 1, false),
		newTestTask(executor.CategoryDiscovery, 2, false),
	}}, "c1")
	if !rep.Results[1].Success {
		t.Fatalf("sibling cancelled by non-critical failure: %+v", rep.Results[1])
	}
	if rep.Halted {
		t.Fatal("non-critical failure halted plan")
	}
}

func TestParallelCriticalFailureCancelsSiblings(t *testing.T) {
	bad := &stubExecutor{cat: executor.CategoryInfrastructure, fail: true}
	slow := &stubExecutor{cat: executor.CategoryDiscovery, delay: 2 * time.Second}
	eng, _ := newTestEngine(t, testOrchestratorConfig(), bad, slow)

	start := time.Now()
	rep := eng.Execute(context.Background(), plan.Plan{Pattern: plan.PatternParallel, Tasks: []executor.Task{
		newTestTask(executor.CategoryInfrastructure, 1, true),
		newTestTask(executor.CategoryDiscovery, 2, false),
	}}, "c1")
	if time.Since(start) > time.Second {
		t.Fatal("sibling was not cancelled")
	}
	if !rep.Halted || rep.Results[1].Success {
		t.Fatalf("report = %+v", rep)
	}
	if rep.Cancelled {
		t.Fatal("caller context was not cancelled; report must not say so")
	}
}

func TestCollaborativeStopsWhenApproved(t *testing.T) {
	approveFrom := func(round int) func(context.Context, executor.Task, *conversation.Context) executor.Result {
		return func(_ context.Context, tk executor.Task, _ *conversation.Context) executor.Result {
			ok := tk.Round >= round
			return executor.Result{Content: "draft", Success: true, Approved: &ok}
		}
	}
	infra := &stubExecutor{cat: executor.CategoryInfrastructure}
	infra.respond = approveFrom(1)
	comp := &stubExecutor{cat: executor.CategoryCompliance}
	comp.respond = approveFrom(2)
	eng, _ := newTestEngine(t, testOrchestratorConfig(), infra, comp)

	rep := eng.Execute(context.Background(), plan.Plan{Pattern: plan.PatternCollaborative, Tasks: []executor.Task{
		newTestTask(executor.CategoryInfrastructure, 1, false),
		newTestTask(executor.CategoryCompliance, 2, false),
	}}, "c1")
	if rep.Rounds != 2 {
		t.Fatalf("rounds = %d, want 2", rep.Rounds)
	}
	if len(rep.Results) != 4 {
		t.Fatalf("results = %d, want all rounds retained", len(rep.Results))
	}
	if comp.tasks[0].Feedback != "" {
		t.Fatal("round one carried feedback")
	}
	fb := comp.tasks[1].Feedback
	if !strings.Contains(fb, "Round 1 review") || !strings.Contains(fb, "compliance: succeeded, not approved") {
		t.Fatalf("feedback = %q", fb)
	}
	latest := executor.LatestByCategory(rep.Results)
	if len(latest) != 2 || latest[0].Round != 2 || latest[1].Round != 2 {
		t.Fatalf("latest = %+v", latest)
	}
}

func TestCollaborativeBoundedByMaxRounds(t *testing.T) {
	cfg := testOrchestratorConfig()
	cfg.CollaborativeMaxRounds = 3
	never := &stubExecutor{cat: executor.CategoryCompliance, fail: true}
	eng, _ := newTestEngine(t, cfg, never)

	rep := eng.Execute(context.Background(), plan.Plan{Pattern: plan.PatternCollaborative, Tasks: []executor.Task{
		newTestTask(executor.CategoryCompliance, 1, true),
	}}, "c1")
	if rep.Rounds != 3 || never.callCount() != 3 {
		t.Fatalf("rounds = %d calls = %d", rep.Rounds, never.callCount())
	}
}

func TestFoldedResultsAreBounded(t *testing.T) {
	cfg := testOrchestratorConfig()
	cfg.CollaborativeMaxRounds = 3
	cfg.ResultsWindow = 2
	never := &stubExecutor{cat: executor.CategoryCompliance, fail: true}
	eng, store := newTestEngine(t, cfg, never)

	rep := eng.Execute(context.Background(), plan.Plan{Pattern: plan.PatternCollaborative, Tasks: []executor.Task{
		newTestTask(executor.CategoryCompliance, 1, false),
		newTestTask(executor.CategoryCompliance, 2, false),
	}}, "c1")
	if len(rep.Results) != 6 {
		t.Fatalf("report results = %d, want every round", len(rep.Results))
	}
	if got := len(store.Get("c1").Results); got != 2 {
		t.Fatalf("stored results = %d, want 2", got)
	}
	never.mu.Lock()
	defer never.mu.Unlock()
	for _, n := range never.seenResults {
		if n > 2 {
			t.Fatalf("executor saw %d results, want at most 2", n)
		}
	}
}

func TestCollaborativeCustomApproval(t *testing.T) {
	exec := &stubExecutor{cat: executor.CategoryKnowledge, fail: true}
	eng, _ := newTestEngine(t, testOrchestratorConfig(), exec)
	eng.SetApproval(func([]executor.Result) bool { return true })

	rep := eng.Execute(context.Background(), plan.Plan{Pattern: plan.PatternCollaborative, Tasks: []executor.Task{
		newTestTask(executor.CategoryKnowledge, 1, false),
	}}, "c1")
	if rep.Rounds != 1 {
		t.Fatalf("rounds = %d, want 1", rep.Rounds)
	}
}

func TestCollaborativeIgnoresSkippedTasksForApproval(t *testing.T) {
	cfg := testOrchestratorConfig()
	cfg.CollaborativeMaxRounds = 3
	infra := &stubExecutor{cat: executor.CategoryInfrastructure}
	eng, _ := newTestEngine(t, cfg, infra)

	rep := eng.Execute(context.Background(), plan.Plan{Pattern: plan.PatternCollaborative, Tasks: []executor.Task{
		newTestTask(executor.CategoryInfrastructure, 1, false),
		newTestTask(executor.CategoryCompliance, 2, false),
	}}, "c1")
	if rep.Rounds != 1 || infra.callCount() != 1 {
		t.Fatalf("rounds = %d infra calls = %d, want 1 and 1", rep.Rounds, infra.callCount())
	}
	if len(rep.Results) != 2 || !rep.Results[1].Skipped {
		t.Fatalf("results = %+v", rep.Results)
	}
}

func TestDefaultApproval(t *testing.T) {
	no := false
	tests := []struct {
		name  string
		round []executor.Result
		want  bool
	}{
		{"all succeeded", []executor.Result{{Success: true}, {Success: true}}, true},
		{"one failed", []executor.Result{{Success: true}, {Success: false}}, false},
		{"withheld", []executor.Result{{Success: true, Approved: &no}}, false},
		{"skipped ignored", []executor.Result{{Success: true}, {Skipped: true}}, true},
		{"only skipped", []executor.Result{{Skipped: true}}, true},
	}
	for _, tt := range tests {
		if got := DefaultApproval(tt.round); got != tt.want {
			t.Errorf("%s: DefaultApproval = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestUnregisteredCategoryIsSkipped(t *testing.T) {
	disc := &stubExecutor{cat: executor.CategoryDiscovery}
	eng, store := newTestEngine(t, testOrchestratorConfig(), disc)

	rep := eng.Execute(context.Background(), plan.Plan{Pattern: plan.PatternSequential, Tasks: []executor.Task{
		newTestTask(executor.CategoryCompliance, 1, true),
		newTestTask(executor.CategoryDiscovery, 2, false),
	}}, "c1")
	if len(rep.Results) != 2 || !rep.Results[0].Skipped {
		t.Fatalf("results = %+v", rep.Results)
	}
	if rep.Halted || disc.callCount() != 1 {
		t.Fatal("skip must not halt the plan")
	}
	if rep.Calls != 1 || len(rep.Dispatched()) != 1 {
		t.Fatalf("calls = %d", rep.Calls)
	}

	found := false
	for _, ev := range store.EventsFor("c1", 0) {
		if ev.Message == event.TaskSkipped {
			found = true
		}
	}
	if !found {
		t.Fatal("no task.skipped audit event")
	}
}

func TestExecutorPanicBecomesFailedResult(t *testing.T) {
	boom := &stubExecutor{cat: executor.CategoryEnvironment}
	boom.respond = func(context.Context, executor.Task, *conversation.Context) executor.Result {
		panic("kaboom")
	}
	eng, _ := newTestEngine(t, testOrchestratorConfig(), boom)
	rep := eng.Execute(context.Background(), plan.Plan{Pattern: plan.PatternParallel, Tasks: []executor.Task{
		newTestTask(executor.CategoryEnvironment, 1, false),
	}}, "c1")
	if len(rep.Results) != 1 || rep.Results[0].Success {
		t.Fatalf("results = %+v", rep.Results)
	}
}

func TestRoundDigest(t *testing.T) {
	no := false
	got := roundDigest(1, []executor.Result{
		{Category: executor.CategoryCompliance, Success: true},
		{Category: executor.CategoryInfrastructure, Success: true, Approved: &no},
		{Category: executor.CategoryCostManagement, Errors: []string{"quota"}},
		{Category: executor.CategoryDeployment, Skipped: true},
	})
	for _, want := range []string{
		"Round 1 review:",
		"compliance: succeeded, approved",
		"infrastructure: succeeded, not approved",
		"cost_management: failed (quota)",
		"deployment: skipped",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("digest missing %q:\n%s", want, got)
		}
	}
}
