// Package plan defines the execution plan produced for a request.
package plan

import (
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/matross-gh/platform-engineering-copilot/internal/domain/executor"
)

// Pattern is the scheduling strategy for a plan's tasks.
type Pattern string

const (
	PatternSequential    Pattern = "sequential"
	PatternParallel      Pattern = "parallel"
	PatternCollaborative Pattern = "collaborative"
)

// ParsePattern maps loose pattern names onto the closed set. Anything
// unrecognized is sequential.
func ParsePattern(s string) Pattern {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "parallel", "concurrent":
		return PatternParallel
	case "collaborative", "iterative", "consensus":
		return PatternCollaborative
	default:
		return PatternSequential
	}
}

// Source records where a plan came from.
type Source string

const (
	SourceFastPath  Source = "fast_path"
	SourceCache     Source = "cache"
	SourceOracle    Source = "oracle"
	SourceFallback  Source = "fallback"
	SourceValidator Source = "validator"
)

// FallbackCategory receives requests nothing else claims.
const FallbackCategory = executor.CategoryKnowledge

// Plan is an ordered set of executor tasks plus the pattern used to run them.
type Plan struct {
	PrimaryIntent     string          `json:"primary_intent"`
	Tasks             []executor.Task `json:"tasks"`
	Pattern           Pattern         `json:"pattern"`
	EstimatedDuration time.Duration   `json:"estimated_duration"`
	Source            Source          `json:"source,omitempty"`
}

// Single builds a one-task sequential plan.
func Single(intent string, category executor.Category, description, conversationID string, source Source) Plan {
	return Plan{
		PrimaryIntent: intent,
		Tasks:         []executor.Task{executor.NewTask(category, description, 1, true, conversationID)},
		Pattern:       PatternSequential,
		Source:        source,
	}
}

// EnsureTasks returns p unchanged when it has tasks, otherwise a single
// fallback task carrying the raw message.
func (p Plan) EnsureTasks(message, conversationID string) Plan {
	if len(p.Tasks) > 0 {
		return p
	}
	out := p
	out.Tasks = []executor.Task{executor.NewTask(FallbackCategory, message, 1, true, conversationID)}
	out.Pattern = PatternSequential
	if out.PrimaryIntent == "" {
		out.PrimaryIntent = string(FallbackCategory)
	}
	return out
}

// Ordered returns the tasks sorted by ascending priority. Ties keep
// submission order.
func (p Plan) Ordered() []executor.Task {
	out := slices.Clone(p.Tasks)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// Categories returns the distinct categories in task order.
func (p Plan) Categories() []executor.Category {
	seen := make(map[executor.Category]bool, len(p.Tasks))
	var out []executor.Category
	for _, t := range p.Tasks {
		if !seen[t.Category] {
			seen[t.Category] = true
			out = append(out, t.Category)
		}
	}
	return out
}

// Clone returns a deep copy safe to mutate.
func (p Plan) Clone() Plan {
	out := p
	out.Tasks = slices.Clone(p.Tasks)
	return out
}

// Rebind returns a copy with fresh task ids bound to conversationID, used
// when a cached plan is replayed for a new request.
func (p Plan) Rebind(conversationID string) Plan {
	out := p.Clone()
	for i := range out.Tasks {
		t := executor.NewTask(out.Tasks[i].Category, out.Tasks[i].Description, out.Tasks[i].Priority, out.Tasks[i].Critical, conversationID)
		out.Tasks[i] = t
	}
	return out
}
