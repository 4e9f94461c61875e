// Package execpool bounds executor calls across all in-flight requests.
package execpool

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/matross-gh/platform-engineering-copilot/internal/domain/conversation"
	"github.com/matross-gh/platform-engineering-copilot/internal/domain/executor"
	executorport "github.com/matross-gh/platform-engineering-copilot/internal/port/executor"
)

// Pool limits concurrent executor calls using a weighted semaphore.
// Every dispatch goes through one shared Pool so a burst of parallel plans
// cannot overwhelm the executors behind it.
type Pool struct {
	sem      *semaphore.Weighted
	limit    int
	inFlight atomic.Int64
}

// New creates a Pool that allows at most limit concurrent executor calls.
func New(limit int) *Pool {
	if limit < 1 {
		limit = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(limit)), limit: limit}
}

// Limit returns the configured concurrency bound.
func (p *Pool) Limit() int {
	if p == nil {
		return 0
	}
	return p.limit
}

// InFlight returns the number of executor calls currently holding a slot.
func (p *Pool) InFlight() int64 {
	if p == nil {
		return 0
	}
	return p.inFlight.Load()
}

// Dispatch acquires a slot, runs the task on exec and releases the slot.
// It blocks while all slots are busy and never returns an error: a
// cancelled wait or an executor panic becomes a failed Result. If the pool
// is nil, exec runs directly without concurrency control.
func (p *Pool) Dispatch(ctx context.Context, exec executorport.Executor, task executor.Task, shared *conversation.Context) executor.Result {
	if p != nil && p.sem != nil {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return executor.Failure(task, fmt.Sprintf("waiting for executor slot: %v", err), 0)
		}
		defer p.sem.Release(1)
		p.inFlight.Add(1)
		defer p.inFlight.Add(-1)
	}
	return run(ctx, exec, task, shared)
}

// run invokes exec with panic recovery and fills in the bookkeeping fields
// executors tend to leave blank.
func run(ctx context.Context, exec executorport.Executor, task executor.Task, shared *conversation.Context) (res executor.Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("executor panicked",
				"executor", task.Category,
				"task_id", task.ID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			res = executor.Failure(task, fmt.Sprintf("executor panicked: %v", r), time.Since(start))
		}
	}()

	res = exec.Process(ctx, task, shared)
	if res.TaskID == "" {
		res.TaskID = task.ID
	}
	if res.Category == "" {
		res.Category = task.Category
	}
	if res.Round == 0 {
		res.Round = task.Round
	}
	if res.Elapsed == 0 {
		res.Elapsed = time.Since(start)
	}
	if !res.Success && len(res.Errors) == 0 && ctx.Err() != nil {
		res.Errors = []string{ctx.Err().Error()}
	}
	return res
}
