package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "copilot"

// Metrics holds the copilot's metric instruments.
type Metrics struct {
	Requests         metric.Int64Counter
	RequestsFailed   metric.Int64Counter
	PlansSelected    metric.Int64Counter
	CacheLookups     metric.Int64Counter
	ExecutorCalls    metric.Int64Counter
	OracleCalls      metric.Int64Counter
	RequestDuration  metric.Float64Histogram
	ExecutorDuration metric.Float64Histogram
	CollabRounds     metric.Int64Histogram
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	if m.Requests, err = meter.Int64Counter("copilot.requests",
		metric.WithDescription("Requests processed")); err != nil {
		return nil, err
	}
	if m.RequestsFailed, err = meter.Int64Counter("copilot.requests.failed",
		metric.WithDescription("Requests that produced a failed outcome")); err != nil {
		return nil, err
	}
	if m.PlansSelected, err = meter.Int64Counter("copilot.plans",
		metric.WithDescription("Plans selected, by source and pattern")); err != nil {
		return nil, err
	}
	if m.CacheLookups, err = meter.Int64Counter("copilot.plan_cache.lookups",
		metric.WithDescription("Plan cache lookups, by result")); err != nil {
		return nil, err
	}
	if m.ExecutorCalls, err = meter.Int64Counter("copilot.executor.calls",
		metric.WithDescription("Executor invocations, by category and outcome")); err != nil {
		return nil, err
	}
	if m.OracleCalls, err = meter.Int64Counter("copilot.oracle.calls",
		metric.WithDescription("Completion service calls, by purpose and outcome")); err != nil {
		return nil, err
	}
	if m.RequestDuration, err = meter.Float64Histogram("copilot.request.duration_seconds",
		metric.WithDescription("Request duration in seconds")); err != nil {
		return nil, err
	}
	if m.ExecutorDuration, err = meter.Float64Histogram("copilot.executor.duration_seconds",
		metric.WithDescription("Executor call duration in seconds")); err != nil {
		return nil, err
	}
	if m.CollabRounds, err = meter.Int64Histogram("copilot.collaborative.rounds",
		metric.WithDescription("Rounds run per collaborative plan")); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordRequest records one finished request.
func (m *Metrics) RecordRequest(ctx context.Context, intent string, success bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("intent", intent))
	m.Requests.Add(ctx, 1, attrs)
	if !success {
		m.RequestsFailed.Add(ctx, 1, attrs)
	}
	m.RequestDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordPlan records where the executed plan came from.
func (m *Metrics) RecordPlan(ctx context.Context, source, pattern string) {
	if m == nil {
		return
	}
	m.PlansSelected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("pattern", pattern),
	))
}

// RecordCacheLookup records a plan cache hit or miss.
func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordExecutor records one executor call.
func (m *Metrics) RecordExecutor(ctx context.Context, category string, success bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("category", category),
		attribute.Bool("success", success),
	)
	m.ExecutorCalls.Add(ctx, 1, attrs)
	m.ExecutorDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordOracle records one completion call.
func (m *Metrics) RecordOracle(ctx context.Context, purpose string, success bool) {
	if m == nil {
		return
	}
	m.OracleCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("purpose", purpose),
		attribute.Bool("success", success),
	))
}

// RecordRounds records how many rounds a collaborative plan used.
func (m *Metrics) RecordRounds(ctx context.Context, rounds int) {
	if m == nil {
		return
	}
	m.CollabRounds.Record(ctx, int64(rounds))
}
