package logger

import "context"

type contextKey int

const (
	requestIDKey contextKey = iota
	conversationIDKey
)

// WithRequestID returns a new context with the given request ID stored.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID extracts the request ID from the context.
// Returns an empty string if no request ID is set.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithConversationID returns a new context carrying the conversation ID.
func WithConversationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, conversationIDKey, id)
}

// ConversationID extracts the conversation ID from the context.
func ConversationID(ctx context.Context) string {
	id, _ := ctx.Value(conversationIDKey).(string)
	return id
}

// Attrs returns the request-scoped identifiers as slog key/value pairs,
// omitting empty ones.
func Attrs(ctx context.Context) []any {
	var attrs []any
	if id := RequestID(ctx); id != "" {
		attrs = append(attrs, "request_id", id)
	}
	if id := ConversationID(ctx); id != "" {
		attrs = append(attrs, "conversation_id", id)
	}
	return attrs
}
