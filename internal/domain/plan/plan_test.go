package plan

import (
	"testing"

	"github.com/matross-gh/platform-engineering-copilot/internal/domain/executor"
)

func TestParsePattern(t *testing.T) {
	tests := []struct {
		in   string
		want Pattern
	}{
		{"sequential", PatternSequential},
		{"Parallel", PatternParallel},
		{" collaborative ", PatternCollaborative},
		{"iterative", PatternCollaborative},
		{"round-robin", PatternSequential},
		{"", PatternSequential},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParsePattern(tt.in); got != tt.want {
				t.Errorf("ParsePattern(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestEnsureTasks_Empty(t *testing.T) {
	p := Plan{Pattern: PatternParallel}.EnsureTasks("hello", "conv-1")
	if len(p.Tasks) != 1 {
		t.Fatalf("expected 1 fallback task, got %d", len(p.Tasks))
	}
	task := p.Tasks[0]
	if task.Category != FallbackCategory {
		t.Errorf("expected fallback category %q, got %q", FallbackCategory, task.Category)
	}
	if task.Description != "hello" || task.ConversationID != "conv-1" {
		t.Errorf("unexpected fallback task %+v", task)
	}
	if p.Pattern != PatternSequential {
		t.Errorf("fallback plan must be sequential, got %q", p.Pattern)
	}
	if p.PrimaryIntent != string(FallbackCategory) {
		t.Errorf("expected intent %q, got %q", FallbackCategory, p.PrimaryIntent)
	}
}

func TestEnsureTasks_NonEmptyUnchanged(t *testing.T) {
	p := Single("compliance", executor.CategoryCompliance, "scan", "c", SourceOracle)
	got := p.EnsureTasks("scan", "c")
	if got.Tasks[0].ID != p.Tasks[0].ID || got.Source != SourceOracle {
		t.Fatalf("expected plan unchanged, got %+v", got)
	}
}

func TestOrdered_StableByPriority(t *testing.T) {
	p := Plan{Tasks: []executor.Task{
		{ID: "a", Priority: 2},
		{ID: "b", Priority: 1},
		{ID: "c", Priority: 2},
		{ID: "d", Priority: 1},
	}}
	got := p.Ordered()
	want := []string{"b", "d", "a", "c"}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, got[i].ID)
		}
	}
	if p.Tasks[0].ID != "a" {
		t.Fatal("Ordered must not reorder the plan in place")
	}
}

func TestCategories_Distinct(t *testing.T) {
	p := Plan{Tasks: []executor.Task{
		{Category: executor.CategoryCompliance},
		{Category: executor.CategoryCostManagement},
		{Category: executor.CategoryCompliance},
	}}
	got := p.Categories()
	if len(got) != 2 || got[0] != executor.CategoryCompliance || got[1] != executor.CategoryCostManagement {
		t.Fatalf("unexpected categories %v", got)
	}
}

func TestRebind_FreshIDs(t *testing.T) {
	p := Single("infrastructure", executor.CategoryInfrastructure, "bicep", "old", SourceOracle)
	got := p.Rebind("new")
	if got.Tasks[0].ID == p.Tasks[0].ID {
		t.Error("expected a fresh task id")
	}
	if got.Tasks[0].ConversationID != "new" {
		t.Errorf("expected conversation new, got %q", got.Tasks[0].ConversationID)
	}
	if p.Tasks[0].ConversationID != "old" {
		t.Error("Rebind must not mutate the source plan")
	}
}
