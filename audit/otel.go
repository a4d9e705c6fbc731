// Package audit provides engine.SpanEmitter implementations: an
// OpenTelemetry-backed emitter for live tracing, an in-memory emitter
// for tests, and a NATS JetStream-backed recorder/reader pair for
// trace reconstruction after the fact.
package audit

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/c360studio/flowengine/engine"
)

// OtelEmitter forwards every audit span to an OpenTelemetry tracer.
// Spans reach Emit already closed (engine.AuditSpan carries both a
// start and end time), so each one is recreated as a completed OTel
// span rather than started live and ended later.
type OtelEmitter struct {
	tracer trace.Tracer
}

// NewOtelEmitter builds an OtelEmitter on top of the global tracer
// provider, under the given instrumentation name.
func NewOtelEmitter(instrumentationName string) *OtelEmitter {
	return &OtelEmitter{tracer: otel.Tracer(instrumentationName)}
}

func (e *OtelEmitter) Emit(ctx context.Context, span engine.AuditSpan) error {
	_, otelSpan := e.tracer.Start(ctx, span.Operation,
		trace.WithTimestamp(span.StartedAt),
		trace.WithAttributes(spanAttributes(span)...),
	)
	otelSpan.End(trace.WithTimestamp(span.EndedAt))
	return nil
}

func spanAttributes(span engine.AuditSpan) []attribute.KeyValue {
	kvs := []attribute.KeyValue{
		attribute.String("flowengine.trace_id", span.TraceID),
		attribute.String("flowengine.span_id", span.ID),
		attribute.String("flowengine.parent_span_id", span.ParentSpanID),
		attribute.String("flowengine.resource_type", span.ResourceType),
		attribute.String("flowengine.resource_id", span.ResourceID),
		attribute.String("flowengine.resource_name", span.ResourceName),
		attribute.String("flowengine.state", span.State),
		attribute.Int("flowengine.depth", span.Depth),
	}
	for k, v := range span.Attributes {
		switch val := v.(type) {
		case string:
			kvs = append(kvs, attribute.String(k, val))
		case int:
			kvs = append(kvs, attribute.Int(k, val))
		case int64:
			kvs = append(kvs, attribute.Int64(k, val))
		case float64:
			kvs = append(kvs, attribute.Float64(k, val))
		case bool:
			kvs = append(kvs, attribute.Bool(k, val))
		}
	}
	return kvs
}
