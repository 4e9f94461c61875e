// Package oracle defines the port for the external text-completion service
// used to classify requests and merge executor outputs. Its output is
// untrusted and must be validated by callers.
package oracle

import "context"

// Request is a single completion call.
type Request struct {
	Model       string
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
	// JSON asks the service for a JSON object response when supported.
	JSON bool
}

// Oracle produces a completion for a prompt.
type Oracle interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Func adapts a plain function to Oracle.
type Func func(ctx context.Context, req Request) (string, error)

// Complete calls f.
func (f Func) Complete(ctx context.Context, req Request) (string, error) { return f(ctx, req) }
