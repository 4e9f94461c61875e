package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/matross-gh/platform-engineering-copilot/internal/domain/event"
	"github.com/matross-gh/platform-engineering-copilot/internal/port/broadcast"
	"github.com/matross-gh/platform-engineering-copilot/internal/port/messagequeue"
)

const auditPublishTimeout = 2 * time.Second

// AuditSink receives every audit event recorded by the ContextStore.
// Emit must not block the request path for long and must not fail it.
type AuditSink interface {
	Emit(ctx context.Context, ev event.Audit)
}

// QueueSink publishes audit events to a message queue under
// <base>.<from>.
type QueueSink struct {
	queue messagequeue.Queue
	base  string
}

// NewQueueSink creates a sink publishing under base.
func NewQueueSink(q messagequeue.Queue, base string) *QueueSink {
	return &QueueSink{queue: q, base: base}
}

// Emit publishes ev. Failures are logged and dropped.
func (s *QueueSink) Emit(ctx context.Context, ev event.Audit) {
	data, err := json.Marshal(messagequeue.AuditPayload{
		ID:        ev.ID,
		From:      ev.From,
		To:        ev.To,
		Message:   ev.Message,
		Data:      ev.Data,
		CreatedAt: ev.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		slog.Warn("audit marshal failed", "message", ev.Message, "error", err)
		return
	}

	// Publishing outlives request cancellation so a cancelled request is
	// still audited.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditPublishTimeout)
	defer cancel()

	subject := messagequeue.AuditSubject(s.base, ev.From)
	if err := s.queue.Publish(pubCtx, subject, data); err != nil {
		slog.Warn("audit publish failed", "subject", subject, "error", err)
	}
}

// BroadcastSink forwards audit events to live clients of the conversation.
type BroadcastSink struct {
	b broadcast.Broadcaster
}

// NewBroadcastSink creates a sink over b.
func NewBroadcastSink(b broadcast.Broadcaster) *BroadcastSink {
	return &BroadcastSink{b: b}
}

// Emit broadcasts ev as an "audit" event.
func (s *BroadcastSink) Emit(ctx context.Context, ev event.Audit) {
	s.b.BroadcastEvent(ctx, ev.ConversationID(), "audit", ev)
}
