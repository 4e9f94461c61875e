package service

import (
	"log/slog"

	"github.com/matross-gh/platform-engineering-copilot/internal/domain/executor"
	"github.com/matross-gh/platform-engineering-copilot/internal/domain/plan"
)

// Intents assigned by the validator.
const (
	intentCompliance     = "compliance"
	intentDeployment     = "deployment"
	intentInfrastructure = "infrastructure"
)

// validationRule overrides a candidate plan when its pattern matches the raw
// request text.
type validationRule struct {
	name  string
	match func(normalized string) bool
	apply func(p plan.Plan, message, conversationID string) plan.Plan
}

// validationRules is evaluated in order; the first match wins. Template
// requests are only considered once execute-now phrasing has been ruled
// out, so "deploy the bicep template now" deploys.
var validationRules = []validationRule{
	{name: "assessment", match: isAssessmentRequest, apply: forceAssessment},
	{name: "execute_now", match: isExecuteNowRequest, apply: forceExecuteNow},
	{name: "template", match: isTemplateRequest, apply: forceTemplate},
}

// PlanValidator corrects candidate plans for categories where a
// misclassification has real side effects. It looks only at the request
// text, never at the intent the planner claimed.
type PlanValidator struct {
	rules []validationRule
}

// NewPlanValidator returns a validator with the standard rule table.
func NewPlanValidator() *PlanValidator {
	return &PlanValidator{rules: validationRules}
}

// ValidateAndCorrect returns the corrected plan for message. The result
// always has at least one task.
func (v *PlanValidator) ValidateAndCorrect(p plan.Plan, message, conversationID string) plan.Plan {
	p = p.EnsureTasks(message, conversationID)
	normalized := normalizeMessage(message)

	for _, r := range v.rules {
		if !r.match(normalized) {
			continue
		}
		corrected := r.apply(p, message, conversationID)
		if corrected.Source != p.Source {
			slog.Info("plan corrected",
				"rule", r.name,
				"conversation_id", conversationID,
				"from_intent", p.PrimaryIntent,
				"to_intent", corrected.PrimaryIntent,
				"tasks", len(corrected.Tasks),
			)
		}
		return corrected
	}
	return p
}

// MatchedRule names the rule that would fire for message, or "".
func (v *PlanValidator) MatchedRule(message string) string {
	normalized := normalizeMessage(message)
	for _, r := range v.rules {
		if r.match(normalized) {
			return r.name
		}
	}
	return ""
}

// forceSingle routes the whole request to one category. A plan that already
// has exactly that shape keeps its task and source.
func forceSingle(p plan.Plan, intent string, category executor.Category, message, conversationID string) plan.Plan {
	if len(p.Tasks) == 1 && p.Tasks[0].Category == category {
		out := p.Clone()
		out.PrimaryIntent = intent
		out.Pattern = plan.PatternSequential
		out.Tasks[0].Critical = true
		return out
	}
	out := plan.Single(intent, category, message, conversationID, plan.SourceValidator)
	out.EstimatedDuration = p.EstimatedDuration
	return out
}

func forceAssessment(p plan.Plan, message, conversationID string) plan.Plan {
	return forceSingle(p, intentCompliance, executor.CategoryCompliance, message, conversationID)
}

func forceTemplate(p plan.Plan, message, conversationID string) plan.Plan {
	return forceSingle(p, intentInfrastructure, executor.CategoryInfrastructure, message, conversationID)
}

// executeNowSteps is the canonical deployment sequence.
var executeNowSteps = []struct {
	category executor.Category
	prefix   string
}{
	{executor.CategoryInfrastructure, "Generate and validate the infrastructure template for: "},
	{executor.CategoryDeployment, "Deploy the validated template for: "},
	{executor.CategoryEnvironment, "Verify the deployed environment is healthy for: "},
	{executor.CategoryCompliance, "Run a compliance assessment scoped to the newly deployed resources for: "},
	{executor.CategoryCostManagement, "Estimate the monthly cost of the deployed resources for: "},
}

func forceExecuteNow(_ plan.Plan, message, conversationID string) plan.Plan {
	tasks := make([]executor.Task, len(executeNowSteps))
	for i, step := range executeNowSteps {
		tasks[i] = executor.NewTask(step.category, step.prefix+message, i+1, i == 0, conversationID)
	}
	return plan.Plan{
		PrimaryIntent: intentDeployment,
		Tasks:         tasks,
		Pattern:       plan.PatternSequential,
		Source:        plan.SourceValidator,
	}
}
