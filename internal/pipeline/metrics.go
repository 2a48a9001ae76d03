package pipeline

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/askdb-ai/askdb/internal/telemetry"
)

// metrics records per-invocation counters and latency. Instruments come
// from the global meter provider, so everything is a no-op until
// telemetry.Init has run with an endpoint configured.
type metrics struct {
	requests metric.Int64Counter
	tokens   metric.Int64Counter
	latency  metric.Float64Histogram
}

func newMetrics() *metrics {
	meter := telemetry.Meter("askdb/pipeline")

	requests, _ := meter.Int64Counter("askdb.requests",
		metric.WithDescription("Tool invocations by outcome"))
	tokens, _ := meter.Int64Counter("askdb.tokens",
		metric.WithDescription("Model tokens consumed"))
	latency, _ := meter.Float64Histogram("askdb.latency",
		metric.WithDescription("End-to-end invocation latency"),
		metric.WithUnit("ms"))

	return &metrics{requests: requests, tokens: tokens, latency: latency}
}

func (m *metrics) record(ctx context.Context, env Envelope) {
	outcome := "ok"
	if env.Error != nil {
		outcome = string(env.Error.Kind)
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))

	m.requests.Add(ctx, 1, attrs)
	m.latency.Record(ctx, float64(env.LatencyMS), attrs)
	if env.TokenUsage != nil {
		m.tokens.Add(ctx, int64(env.TokenUsage.TotalTokens),
			metric.WithAttributes(attribute.String("model", env.Model)))
	}
}
