package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/matross-gh/platform-engineering-copilot/internal/domain/conversation"
	"github.com/matross-gh/platform-engineering-copilot/internal/domain/executor"
)

func TestKnowledgeExecutorAnswers(t *testing.T) {
	o := &fakeOracle{response: "  Use a Bicep module.  "}
	k := NewKnowledgeExecutor(o, testOrchestratorConfig())

	shared := conversation.New("c1", time.Now()).WithMessage(conversation.RoleUser, "earlier question", time.Now())
	task := executor.NewTask(executor.CategoryKnowledge, "what is bicep?", 1, true, "c1")
	task.Feedback = "be more specific"

	res := k.Process(context.Background(), task, shared)

	if !res.Success || res.Content != "Use a Bicep module." {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.TaskID != task.ID || res.Category != executor.CategoryKnowledge {
		t.Errorf("result not bound to task: %+v", res)
	}
	if o.callCount() != 1 {
		t.Fatalf("expected 1 oracle call, got %d", o.callCount())
	}
	prompt := o.requests[0].Prompt
	for _, want := range []string{"earlier question", "be more specific", "what is bicep?"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestKnowledgeExecutorFailures(t *testing.T) {
	tests := []struct {
		name   string
		oracle *fakeOracle
		want   string
	}{
		{"oracle error", &fakeOracle{err: errors.New("down")}, "knowledge lookup failed"},
		{"empty answer", &fakeOracle{response: "   "}, "no answer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := NewKnowledgeExecutor(tt.oracle, testOrchestratorConfig())
			res := k.Process(context.Background(), executor.NewTask(executor.CategoryKnowledge, "q", 1, false, "c1"), nil)
			if res.Success {
				t.Fatal("expected failure")
			}
			if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], tt.want) {
				t.Errorf("errors = %v, want containing %q", res.Errors, tt.want)
			}
		})
	}
}
