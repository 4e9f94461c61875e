package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/matross-gh/platform-engineering-copilot/internal/domain/executor"
)

const tracerName = "copilot"

// StartRequestSpan starts the root span for one processed request.
func StartRequestSpan(ctx context.Context, conversationID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "request",
		trace.WithAttributes(attribute.String("conversation.id", conversationID)),
	)
}

// StartPlanSpan starts a span covering plan selection.
func StartPlanSpan(ctx context.Context) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "plan")
}

// StartTaskSpan starts a span for one executor invocation.
func StartTaskSpan(ctx context.Context, task executor.Task) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "task",
		trace.WithAttributes(
			attribute.String("task.id", task.ID),
			attribute.String("task.category", string(task.Category)),
			attribute.Int("task.priority", task.Priority),
			attribute.Bool("task.critical", task.Critical),
			attribute.Int("task.round", task.Round),
		),
	)
}

// StartOracleSpan starts a span for a completion call. purpose is
// "planning" or "synthesis".
func StartOracleSpan(ctx context.Context, purpose, model string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "oracle",
		trace.WithAttributes(
			attribute.String("oracle.purpose", purpose),
			attribute.String("oracle.model", model),
		),
	)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
