// Package executor defines the port for task executors and the registry
// that binds executor categories to implementations at startup.
package executor

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/matross-gh/platform-engineering-copilot/internal/domain"
	"github.com/matross-gh/platform-engineering-copilot/internal/domain/conversation"
	"github.com/matross-gh/platform-engineering-copilot/internal/domain/executor"
)

// Executor performs one category of work. Implementations must be safe for
// concurrent use and must report failure through Result.Success and
// Result.Errors rather than by panicking.
type Executor interface {
	Category() executor.Category
	Process(ctx context.Context, task executor.Task, shared *conversation.Context) executor.Result
}

// Func adapts a function to Executor.
type Func struct {
	Cat executor.Category
	Fn  func(ctx context.Context, task executor.Task, shared *conversation.Context) executor.Result
}

// Category returns the bound category.
func (f Func) Category() executor.Category { return f.Cat }

// Process calls Fn.
func (f Func) Process(ctx context.Context, task executor.Task, shared *conversation.Context) executor.Result {
	return f.Fn(ctx, task, shared)
}

// Registry maps categories to executors. It is built once at startup and
// read concurrently afterwards.
type Registry struct {
	mu    sync.RWMutex
	execs map[executor.Category]Executor
}

// NewRegistry returns a registry holding execs.
func NewRegistry(execs ...Executor) (*Registry, error) {
	r := &Registry{execs: make(map[executor.Category]Executor, len(execs))}
	for _, e := range execs {
		if err := r.Register(e); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register binds e to its category. A category may be bound only once.
func (r *Registry) Register(e Executor) error {
	c := e.Category()
	if !c.Valid() {
		return fmt.Errorf("executor registry: unknown category %q", c)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.execs[c]; exists {
		return fmt.Errorf("executor registry: duplicate registration for %q", c)
	}
	r.execs[c] = e
	return nil
}

// Lookup returns the executor bound to c or an error wrapping
// domain.ErrExecutorNotRegistered.
func (r *Registry) Lookup(c executor.Category) (Executor, error) {
	r.mu.RLock()
	e, ok := r.execs[c]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("category %q: %w", c, domain.ErrExecutorNotRegistered)
	}
	return e, nil
}

// Categories returns the registered categories in catalogue order.
func (r *Registry) Categories() []executor.Category {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]executor.Category, 0, len(r.execs))
	for _, c := range executor.Categories() {
		if _, ok := r.execs[c]; ok {
			out = append(out, c)
		}
	}
	return slices.Clip(out)
}
