// Package remoteexec implements executors that forward tasks to remote HTTP
// services. The service receives {"task", "context"} and answers with a
// result document.
package remoteexec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/matross-gh/platform-engineering-copilot/internal/config"
	"github.com/matross-gh/platform-engineering-copilot/internal/domain/conversation"
	"github.com/matross-gh/platform-engineering-copilot/internal/domain/executor"
	"github.com/matross-gh/platform-engineering-copilot/internal/logger"
	executorport "github.com/matross-gh/platform-engineering-copilot/internal/port/executor"
)

const (
	defaultTimeout    = 60 * time.Second
	defaultMaxRetries = 2
	defaultBackoff    = 200 * time.Millisecond
	maxBackoff        = 2 * time.Second
	maxResponseBytes  = 4 << 20
)

// request is the body posted to the remote service.
type request struct {
	Task    executor.Task         `json:"task"`
	Context *conversation.Context `json:"context"`
}

// Executor posts tasks of one category to a remote endpoint.
type Executor struct {
	category   executor.Category
	url        string
	timeout    time.Duration
	maxRetries uint64
	backoff    time.Duration
	httpClient *http.Client
}

// Option customizes an Executor.
type Option func(*Executor)

// WithRetries sets the retry budget for transient failures and the initial
// backoff between attempts.
func WithRetries(maxRetries uint64, backoff time.Duration) Option {
	return func(e *Executor) {
		e.maxRetries = maxRetries
		e.backoff = backoff
	}
}

// WithHTTPClient replaces the instrumented default client.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Executor) { e.httpClient = c }
}

// New builds an executor for one configured endpoint.
func New(ep config.ExecutorEndpoint, opts ...Option) (*Executor, error) {
	cat, ok := executor.ParseCategory(ep.Category)
	if !ok {
		return nil, fmt.Errorf("unknown executor category %q", ep.Category)
	}
	if ep.URL == "" {
		return nil, fmt.Errorf("executor %s: url is required", cat)
	}
	timeout := ep.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	e := &Executor{
		category:   cat,
		url:        ep.URL,
		timeout:    timeout,
		maxRetries: defaultMaxRetries,
		backoff:    defaultBackoff,
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// FromConfig builds one executor per configured endpoint.
func FromConfig(endpoints []config.ExecutorEndpoint, opts ...Option) ([]executorport.Executor, error) {
	out := make([]executorport.Executor, 0, len(endpoints))
	for _, ep := range endpoints {
		e, err := New(ep, opts...)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Category returns the bound category.
func (e *Executor) Category() executor.Category { return e.category }

// Process posts the task and decodes the remote result. Transport errors,
// timeouts, non-2xx answers and undecodable bodies all come back as a
// failed Result.
func (e *Executor) Process(ctx context.Context, task executor.Task, shared *conversation.Context) executor.Result {
	start := time.Now()

	body, err := json.Marshal(request{Task: task, Context: shared})
	if err != nil {
		return executor.Failure(task, fmt.Sprintf("encode request: %v", err), time.Since(start))
	}

	backoff := retry.WithCappedDuration(maxBackoff, retry.NewExponential(e.backoff))
	backoff = retry.WithMaxRetries(e.maxRetries, backoff)

	var res executor.Result
	attempts := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		r, err := e.post(ctx, body)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	elapsed := time.Since(start)
	if err != nil {
		slog.Warn("remote executor failed",
			append([]any{"executor", e.category, "attempts", attempts, "error", err}, logger.Attrs(ctx)...)...)
		return executor.Failure(task, fmt.Sprintf("%s executor: %v", e.category, err), elapsed)
	}

	res.TaskID = task.ID
	res.Category = e.category
	res.Round = task.Round
	res.Elapsed = elapsed
	if !res.Success && len(res.Errors) == 0 && res.Content == "" {
		res.Errors = []string{"executor reported failure without detail"}
	}
	return res
}

// post makes one attempt. Errors worth another attempt are wrapped with
// retry.RetryableError.
func (e *Executor) post(ctx context.Context, body []byte) (executor.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return executor.Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if id := logger.RequestID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}
	if id := logger.ConversationID(ctx); id != "" {
		req.Header.Set("X-Conversation-ID", id)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return executor.Result{}, err
		}
		return executor.Result{}, retry.RetryableError(fmt.Errorf("http request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return executor.Result{}, retry.RetryableError(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := fmt.Errorf("status %d: %s", resp.StatusCode, truncate(strings.TrimSpace(string(data)), 200))
		if transient(resp.StatusCode) {
			return executor.Result{}, retry.RetryableError(statusErr)
		}
		return executor.Result{}, statusErr
	}

	var res executor.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return executor.Result{}, fmt.Errorf("decode result: %w", err)
	}
	return res, nil
}

func transient(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
