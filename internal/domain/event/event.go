// Package event defines audit and progress events emitted while a request
// is processed.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Well-known event messages.
const (
	RequestReceived  = "request.received"
	PlanSelected     = "plan.selected"
	TaskStarted      = "task.started"
	TaskCompleted    = "task.completed"
	TaskSkipped      = "task.skipped"
	RoundCompleted   = "round.completed"
	RequestCompleted = "request.completed"
	RequestFailed    = "request.failed"
)

// Audit is one entry in the audit log. It is informational only and never
// consulted by control flow.
type Audit struct {
	ID        string         `json:"id"`
	From      string         `json:"from"`
	To        string         `json:"to,omitempty"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// New builds an audit event with a fresh id.
func New(from, to, message string, data map[string]any, now time.Time) Audit {
	return Audit{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Message:   message,
		Data:      data,
		CreatedAt: now,
	}
}

// ConversationID returns the conversation the event belongs to, if recorded.
func (a Audit) ConversationID() string {
	if v, ok := a.Data["conversation_id"].(string); ok {
		return v
	}
	return ""
}
