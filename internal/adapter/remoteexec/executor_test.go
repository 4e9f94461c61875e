package remoteexec

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matross-gh/platform-engineering-copilot/internal/config"
	"github.com/matross-gh/platform-engineering-copilot/internal/domain/conversation"
	"github.com/matross-gh/platform-engineering-copilot/internal/domain/executor"
	"github.com/matross-gh/platform-engineering-copilot/internal/logger"
)

func newTestExecutor(t *testing.T, url string, timeout time.Duration) *Executor {
	t.Helper()
	e, err := New(config.ExecutorEndpoint{Category: "compliance", URL: url, Timeout: timeout},
		WithRetries(2, time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func testTask() executor.Task {
	return executor.NewTask(executor.CategoryCompliance, "scan subscription", 1, true, "conv-1")
}

func TestProcessSuccess(t *testing.T) {
	var got request
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"content":"3 findings","success":true,"warnings":["stale scan"],"metadata":{"missing_fields":["region"]}}`))
	}))
	defer srv.Close()

	e := newTestExecutor(t, srv.URL, time.Second)
	task := testTask()
	shared := conversation.New("conv-1", time.Now()).WithFact(conversation.FactRegion, "usgovvirginia", time.Now())

	ctx := logger.WithRequestID(context.Background(), "req-1")
	res := e.Process(ctx, task, shared)

	if !res.Success || res.Content != "3 findings" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.TaskID != task.ID || res.Category != executor.CategoryCompliance {
		t.Errorf("task binding not filled in: %+v", res)
	}
	if len(res.Warnings) != 1 || res.Metadata["missing_fields"] == nil {
		t.Errorf("warnings/metadata not decoded: %+v", res)
	}
	if got.Task.ID != task.ID || got.Task.Description != "scan subscription" {
		t.Errorf("remote saw task %+v", got.Task)
	}
	if got.Context == nil || got.Context.Facts[conversation.FactRegion].Value != "usgovvirginia" {
		t.Errorf("remote did not receive the shared context: %+v", got.Context)
	}
	if headers.Get("X-Request-ID") != "req-1" {
		t.Errorf("X-Request-ID = %q, want req-1", headers.Get("X-Request-ID"))
	}
}

func TestProcessRetriesTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"content":"ok","success":true}`))
	}))
	defer srv.Close()

	res := newTestExecutor(t, srv.URL, time.Second).Process(context.Background(), testTask(), nil)

	if !res.Success {
		t.Fatalf("expected success after retries, got %+v", res)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestProcessFailureMapping(t *testing.T) {
	tests := []struct {
		name      string
		handler   http.HandlerFunc
		wantCalls int32
		wantErr   string
	}{
		{
			name: "client error not retried",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte("bad task"))
			},
			wantCalls: 1,
			wantErr:   "status 400: bad task",
		},
		{
			name: "server unavailable exhausts retries",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			wantCalls: 3,
			wantErr:   "status 502",
		},
		{
			name: "undecodable body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("<html>"))
			},
			wantCalls: 1,
			wantErr:   "decode result",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				tt.handler(w, r)
			}))
			defer srv.Close()

			task := testTask()
			res := newTestExecutor(t, srv.URL, time.Second).Process(context.Background(), task, nil)

			if res.Success {
				t.Fatal("expected failure")
			}
			if res.TaskID != task.ID {
				t.Errorf("failure not bound to task")
			}
			if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], tt.wantErr) {
				t.Errorf("errors = %v, want containing %q", res.Errors, tt.wantErr)
			}
			if calls.Load() != tt.wantCalls {
				t.Errorf("attempts = %d, want %d", calls.Load(), tt.wantCalls)
			}
		})
	}
}

func TestProcessTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	start := time.Now()
	res := newTestExecutor(t, srv.URL, 20*time.Millisecond).Process(context.Background(), testTask(), nil)

	if res.Success {
		t.Fatal("expected timeout failure")
	}
	if time.Since(start) > time.Second {
		t.Errorf("timeout not enforced, took %v", time.Since(start))
	}
}

func TestProcessCancelled(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := newTestExecutor(t, srv.URL, time.Second).Process(ctx, testTask(), nil)

	if res.Success {
		t.Fatal("expected failure on cancelled context")
	}
	if calls.Load() > 1 {
		t.Errorf("cancelled request retried %d times", calls.Load())
	}
}

func TestRemoteFailureWithoutDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":false}`))
	}))
	defer srv.Close()

	res := newTestExecutor(t, srv.URL, time.Second).Process(context.Background(), testTask(), nil)
	if res.Success || len(res.Errors) != 1 {
		t.Fatalf("expected a synthesized error, got %+v", res)
	}
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name string
		ep   config.ExecutorEndpoint
		ok   bool
	}{
		{"valid", config.ExecutorEndpoint{Category: "cost_management", URL: "http://x"}, true},
		{"alias", config.ExecutorEndpoint{Category: "CostManagementAgent", URL: "http://x"}, true},
		{"unknown category", config.ExecutorEndpoint{Category: "payroll", URL: "http://x"}, false},
		{"missing url", config.ExecutorEndpoint{Category: "compliance"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.ep)
			if (err == nil) != tt.ok {
				t.Errorf("New(%+v) error = %v, want ok=%v", tt.ep, err, tt.ok)
			}
		})
	}
}

func TestFromConfig(t *testing.T) {
	execs, err := FromConfig([]config.ExecutorEndpoint{
		{Category: "compliance", URL: "http://a"},
		{Category: "discovery", URL: "http://b"},
	})
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	if len(execs) != 2 || execs[1].Category() != executor.CategoryDiscovery {
		t.Fatalf("unexpected executors: %v", execs)
	}
	if e, ok := execs[0].(*Executor); !ok || e.timeout != defaultTimeout {
		t.Errorf("expected default timeout on %v", execs[0])
	}

	if _, err := FromConfig([]config.ExecutorEndpoint{{Category: "nope", URL: "http://a"}}); err == nil {
		t.Error("expected error for unknown category")
	}
}
