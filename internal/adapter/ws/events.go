package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Event type constants for WebSocket messages.
const (
	EventProgress = "progress"
	EventOutcome  = "outcome"
)

// ProgressEvent is broadcast as tasks start and finish.
type ProgressEvent struct {
	Stage    string `json:"stage"`
	TaskID   string `json:"task_id,omitempty"`
	Category string `json:"category,omitempty"`
	Round    int    `json:"round,omitempty"`
	Success  *bool  `json:"success,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// BroadcastEvent marshals payload and broadcasts it to subscribers of
// conversationID. It implements broadcast.Broadcaster.
func (h *Hub) BroadcastEvent(ctx context.Context, conversationID, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:           eventType,
		ConversationID: conversationID,
		Payload:        json.RawMessage(data),
	})
}
