package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/c360studio/flowengine/engine"
)

func newRecordingEmitter(t *testing.T) (*OtelEmitter, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	return &OtelEmitter{tracer: provider.Tracer("flowengine-test")}, recorder
}

func TestOtelEmitterRecordsSpanWithAttributes(t *testing.T) {
	emitter, recorder := newRecordingEmitter(t)

	started := time.Now().Add(-time.Millisecond)
	ended := time.Now()
	span := engine.AuditSpan{
		ID:           "trace-a#1",
		ParentSpanID: "",
		TraceID:      "trace-a",
		ResourceType: "task",
		ResourceID:   "wf-1",
		ResourceName: "T1",
		Operation:    "complete",
		State:        "completed",
		Depth:        0,
		StartedAt:    started,
		EndedAt:      ended,
		Attributes:   map[string]any{"generation": 2, "ok": true},
	}

	require.NoError(t, emitter.Emit(context.Background(), span))

	recorded := recorder.Ended()
	require.Len(t, recorded, 1)
	got := recorded[0]
	require.Equal(t, "complete", got.Name())

	attrs := got.Attributes()
	found := map[string]bool{}
	for _, kv := range attrs {
		found[string(kv.Key)] = true
	}
	require.True(t, found["flowengine.trace_id"])
	require.True(t, found["flowengine.resource_type"])
	require.True(t, found["generation"])
	require.True(t, found["ok"])
}

func TestSpanAttributesMapsSupportedValueTypes(t *testing.T) {
	span := engine.AuditSpan{
		TraceID: "t1",
		Attributes: map[string]any{
			"str":  "v",
			"i":    7,
			"i64":  int64(8),
			"f":    1.5,
			"b":    true,
			"skip": []string{"unsupported"},
		},
	}
	kvs := spanAttributes(span)
	names := map[string]bool{}
	for _, kv := range kvs {
		names[string(kv.Key)] = true
	}
	require.True(t, names["str"])
	require.True(t, names["i"])
	require.True(t, names["i64"])
	require.True(t, names["f"])
	require.True(t, names["b"])
	require.False(t, names["skip"], "a value type with no mapping must be dropped, not panic")
}
