// Package broadcast defines the port for pushing request progress to
// connected clients.
package broadcast

import "context"

// Broadcaster fans a typed event out to every subscriber of a conversation.
// Implementations must not block the caller on slow clients.
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, conversationID, eventType string, payload any)
}
