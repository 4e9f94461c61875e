// Package outcome defines the top-level result of processing one request.
package outcome

import (
	"github.com/matross-gh/platform-engineering-copilot/internal/domain/executor"
	"github.com/matross-gh/platform-engineering-copilot/internal/domain/plan"
)

// Outcome is returned to callers for every request, successful or not.
type Outcome struct {
	ConversationID   string              `json:"conversationId"`
	FinalResponse    string              `json:"finalResponse"`
	PrimaryIntent    string              `json:"primaryIntent"`
	ExecutorsInvoked []executor.Category `json:"executorsInvoked"`
	ExecutionPattern plan.Pattern        `json:"executionPattern"`
	TotalCalls       int                 `json:"totalCalls"`
	ElapsedMS        int64               `json:"elapsedMs"`
	Success          bool                `json:"success"`
	RequiresFollowUp bool                `json:"requiresFollowUp"`
	FollowUpPrompt   string              `json:"followUpPrompt,omitempty"`
	MissingFields    []string            `json:"missingFields"`
	QuickReplies     []string            `json:"quickReplies"`
	Metadata         map[string]any      `json:"metadata"`
	Errors           []string            `json:"errors"`
}

// Failed builds the outcome reported when the pipeline aborts.
func Failed(conversationID string, cause error) *Outcome {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return &Outcome{
		ConversationID:   conversationID,
		FinalResponse:    "Sorry, I couldn't complete that request: " + msg,
		ExecutorsInvoked: []executor.Category{},
		MissingFields:    []string{},
		QuickReplies:     []string{},
		Metadata:         map[string]any{},
		Errors:           []string{msg},
		Success:          false,
		RequiresFollowUp: true,
		FollowUpPrompt:   "Would you like to try again or rephrase the request?",
	}
}
