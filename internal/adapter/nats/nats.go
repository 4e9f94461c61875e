// Package nats implements the message queue port using NATS JetStream.
// The copilot publishes audit events on it; any number of downstream
// consumers (SIEM forwarders, dashboards) subscribe.
package nats

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/matross-gh/platform-engineering-copilot/internal/logger"
	"github.com/matross-gh/platform-engineering-copilot/internal/port/messagequeue"
)

const (
	streamName = "COPILOT_EVENTS"

	headerRequestID = "X-Request-ID"
	dlqSuffix       = ".dlq"
)

// Queue implements messagequeue.Queue using NATS JetStream.
type Queue struct {
	nc   *nats.Conn
	js   jetstream.JetStream
	base string
}

// Connect establishes a connection to NATS and ensures a stream capturing
// every subject under base exists.
func Connect(ctx context.Context, url, base string) (*Queue, error) {
	nc, err := nats.Connect(url, nats.Name("copilot-orchestrator"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{base + ".>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", url, "stream", streamName, "subjects", base+".>")
	return &Queue{nc: nc, js: js, base: base}, nil
}

// Publish sends data to subject. The request id on ctx, if any, travels as
// a message header.
func (q *Queue) Publish(ctx context.Context, subject string, data []byte) error {
	msg := nats.NewMsg(subject)
	msg.Data = data
	if id := logger.RequestID(ctx); id != "" {
		msg.Header.Set(headerRequestID, id)
	}
	if _, err := q.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers a handler for messages on subject. Messages failing
// schema validation are moved to <subject>.dlq without reaching handler;
// handler errors trigger redelivery.
func (q *Queue) Subscribe(ctx context.Context, subject string, handler messagequeue.Handler) (func(), error) {
	consumer, err := q.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer create: %w", err)
	}

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		msgCtx := context.Background()
		if id := msg.Headers().Get(headerRequestID); id != "" {
			msgCtx = logger.WithRequestID(msgCtx, id)
		}

		if err := messagequeue.Validate(q.base, msg.Subject(), msg.Data()); err != nil {
			slog.Warn("invalid message moved to dlq", "subject", msg.Subject(), "error", err)
			if _, pubErr := q.js.Publish(msgCtx, msg.Subject()+dlqSuffix, msg.Data()); pubErr != nil {
				slog.Error("nats dlq publish failed", "subject", msg.Subject(), "error", pubErr)
			}
			if termErr := msg.Term(); termErr != nil {
				slog.Error("nats term failed", "error", termErr)
			}
			return
		}

		if err := handler(msgCtx, msg.Subject(), msg.Data()); err != nil {
			slog.Error("message handler failed", "subject", msg.Subject(), "error", err)
			if nakErr := msg.Nak(); nakErr != nil {
				slog.Error("nats nak failed", "error", nakErr)
			}
			return
		}
		if ackErr := msg.Ack(); ackErr != nil {
			slog.Error("nats ack failed", "error", ackErr)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats consume: %w", err)
	}

	return cons.Stop, nil
}

// JetStream returns the JetStream context, for components such as the
// shared plan cache that need KV buckets on the same connection.
func (q *Queue) JetStream() jetstream.JetStream {
	return q.js
}

// IsConnected reports whether the underlying connection is up.
func (q *Queue) IsConnected() bool {
	return q.nc != nil && q.nc.IsConnected()
}

// Close drains pending publishes and shuts down the connection.
func (q *Queue) Close() error {
	if err := q.nc.Drain(); err != nil {
		q.nc.Close()
		return fmt.Errorf("nats drain: %w", err)
	}
	return nil
}
