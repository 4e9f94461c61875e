// Package executor defines the closed set of executor categories and the
// Task and Result values exchanged with executors.
package executor

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Category tags the kind of work an executor performs.
type Category string

const (
	CategoryCompliance     Category = "compliance"
	CategoryInfrastructure Category = "infrastructure"
	CategoryDeployment     Category = "deployment"
	CategoryEnvironment    Category = "environment"
	CategoryDiscovery      Category = "discovery"
	CategoryCostManagement Category = "cost_management"
	CategoryKnowledge      Category = "knowledge"
)

// Descriptor describes a category for planning prompts.
type Descriptor struct {
	Category Category `json:"category"`
	Summary  string   `json:"summary"`
}

var catalogue = []Descriptor{
	{CategoryCompliance, "Compliance and security assessment: NIST 800-53, STIG and FedRAMP scans, ATO evidence, remediation guidance"},
	{CategoryInfrastructure, "Infrastructure-as-code generation and validation: Bicep, Terraform, ARM templates"},
	{CategoryDeployment, "Provisioning and deployment of generated templates into a subscription"},
	{CategoryEnvironment, "Environment lifecycle: verify, clone, scale and tear down deployed environments"},
	{CategoryDiscovery, "Resource discovery and inventory across subscriptions and resource groups"},
	{CategoryCostManagement, "Cost estimation, spend analysis and optimization recommendations"},
	{CategoryKnowledge, "General platform questions, documentation and guidance"},
}

// aliases maps loose category names produced by planners onto the closed set.
var aliases = map[string]Category{
	"security":       CategoryCompliance,
	"assessment":     CategoryCompliance,
	"template":       CategoryInfrastructure,
	"iac":            CategoryInfrastructure,
	"deploy":         CategoryDeployment,
	"provisioning":   CategoryDeployment,
	"inventory":      CategoryDiscovery,
	"resource":       CategoryDiscovery,
	"cost":           CategoryCostManagement,
	"costmanagement": CategoryCostManagement,
	"general":        CategoryKnowledge,
}

// Catalogue returns descriptors for every category in a fixed order.
func Catalogue() []Descriptor {
	out := make([]Descriptor, len(catalogue))
	copy(out, catalogue)
	return out
}

// Categories returns every known category in catalogue order.
func Categories() []Category {
	out := make([]Category, len(catalogue))
	for i, d := range catalogue {
		out[i] = d.Category
	}
	return out
}

// Valid reports whether c is a member of the closed category set.
func (c Category) Valid() bool {
	for _, d := range catalogue {
		if d.Category == c {
			return true
		}
	}
	return false
}

// ParseCategory normalizes s and maps it onto a known category.
// Case, surrounding space, hyphens and a trailing "agent"/"executor" suffix
// are ignored.
func ParseCategory(s string) (Category, bool) {
	n := strings.ToLower(strings.TrimSpace(s))
	n = strings.NewReplacer("-", "_", " ", "_").Replace(n)
	n = strings.TrimSuffix(strings.TrimSuffix(n, "_agent"), "_executor")
	n = strings.TrimSuffix(strings.TrimSuffix(n, "agent"), "executor")
	n = strings.Trim(n, "_")
	if c := Category(n); c.Valid() {
		return c, true
	}
	if c, ok := aliases[strings.ReplaceAll(n, "_", "")]; ok {
		return c, true
	}
	if c, ok := aliases[n]; ok {
		return c, true
	}
	return "", false
}

// Task is one executor invocation within a plan.
type Task struct {
	ID             string   `json:"id"`
	Category       Category `json:"category"`
	Description    string   `json:"description"`
	Priority       int      `json:"priority"`
	Critical       bool     `json:"critical"`
	ConversationID string   `json:"conversation_id"`

	// Round and Feedback are set only by the collaborative pattern.
	Round    int    `json:"round,omitempty"`
	Feedback string `json:"feedback,omitempty"`
}

// NewTask builds a task with a fresh id.
func NewTask(category Category, description string, priority int, critical bool, conversationID string) Task {
	return Task{
		ID:             uuid.NewString(),
		Category:       category,
		Description:    description,
		Priority:       priority,
		Critical:       critical,
		ConversationID: conversationID,
	}
}

// Result is what an executor reports for a task.
type Result struct {
	TaskID   string         `json:"task_id"`
	Category Category       `json:"category"`
	Content  string         `json:"content"`
	Success  bool           `json:"success"`
	Errors   []string       `json:"errors,omitempty"`
	Warnings []string       `json:"warnings,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Elapsed  time.Duration  `json:"elapsed"`
	Approved *bool          `json:"approved,omitempty"`
	Round    int            `json:"round,omitempty"`
	Skipped  bool           `json:"skipped,omitempty"`
}

// NeedsFollowUp reports whether the result failed or carries warnings.
func (r Result) NeedsFollowUp() bool {
	return !r.Success || len(r.Warnings) > 0
}

// Disapproved reports whether the executor explicitly withheld approval.
func (r Result) Disapproved() bool {
	return r.Approved != nil && !*r.Approved
}

// Failure builds a failed result for task.
func Failure(task Task, msg string, elapsed time.Duration) Result {
	return Result{
		TaskID:   task.ID,
		Category: task.Category,
		Success:  false,
		Errors:   []string{msg},
		Elapsed:  elapsed,
		Round:    task.Round,
	}
}

// Skip builds the result recorded for a task that was never dispatched.
func Skip(task Task, reason string) Result {
	return Result{
		TaskID:   task.ID,
		Category: task.Category,
		Success:  false,
		Warnings: []string{reason},
		Round:    task.Round,
		Skipped:  true,
	}
}

// LatestByCategory keeps the highest-round result for each category,
// preserving first-seen category order.
func LatestByCategory(results []Result) []Result {
	idx := make(map[Category]int, len(results))
	var out []Result
	for _, r := range results {
		if i, ok := idx[r.Category]; ok {
			if r.Round >= out[i].Round {
				out[i] = r
			}
			continue
		}
		idx[r.Category] = len(out)
		out = append(out, r)
	}
	return out
}
