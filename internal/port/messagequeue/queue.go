// Package messagequeue defines the message queue port (interface).
package messagequeue

import (
	"context"
	"strings"
)

// Handler processes a message received from the queue.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Close shuts down the queue connection.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// AuditSubject returns the subject an audit event from the given component
// is published on: <base>.<from>. Characters NATS treats as tokens or
// wildcards are replaced.
func AuditSubject(base, from string) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n':
			return '_'
		}
		return r
	}, from)
	if token == "" {
		token = "unknown"
	}
	return base + "." + token
}
