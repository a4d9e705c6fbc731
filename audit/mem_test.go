package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/c360studio/flowengine/engine"
)

func TestMemEmitterAccumulatesInArrivalOrder(t *testing.T) {
	e := NewMemEmitter()
	ctx := context.Background()

	require.NoError(t, e.Emit(ctx, engine.AuditSpan{ID: "1", TraceID: "trace-a", ResourceType: "task"}))
	require.NoError(t, e.Emit(ctx, engine.AuditSpan{ID: "2", TraceID: "trace-b", ResourceType: "workItem"}))
	require.NoError(t, e.Emit(ctx, engine.AuditSpan{ID: "3", TraceID: "trace-a", ResourceType: "workflow"}))

	spans := e.Spans()
	require.Len(t, spans, 3)
	require.Equal(t, "1", spans[0].ID)
	require.Equal(t, "2", spans[1].ID)
	require.Equal(t, "3", spans[2].ID)
}

func TestMemEmitterByTraceFilters(t *testing.T) {
	e := NewMemEmitter()
	ctx := context.Background()
	require.NoError(t, e.Emit(ctx, engine.AuditSpan{ID: "1", TraceID: "trace-a"}))
	require.NoError(t, e.Emit(ctx, engine.AuditSpan{ID: "2", TraceID: "trace-b"}))
	require.NoError(t, e.Emit(ctx, engine.AuditSpan{ID: "3", TraceID: "trace-a"}))

	got := e.ByTrace("trace-a")
	require.Len(t, got, 2)
	require.Equal(t, "1", got[0].ID)
	require.Equal(t, "3", got[1].ID)

	require.Empty(t, e.ByTrace("trace-missing"))
}

func TestMemEmitterSpansReturnsACopy(t *testing.T) {
	e := NewMemEmitter()
	ctx := context.Background()
	require.NoError(t, e.Emit(ctx, engine.AuditSpan{ID: "1", TraceID: "trace-a"}))

	first := e.Spans()
	first[0].ID = "mutated"

	second := e.Spans()
	require.Equal(t, "1", second[0].ID, "mutating a returned slice must not affect the emitter's own state")
}
