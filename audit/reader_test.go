package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/c360studio/flowengine/engine"
)

func sampleTrace() []engine.AuditSpan {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return []engine.AuditSpan{
		{ID: "1", ParentSpanID: "", ResourceType: "workflow", ResourceID: "wf-1", ResourceName: "order", StartedAt: base, EndedAt: base.Add(5 * time.Second)},
		{ID: "2", ParentSpanID: "1", ResourceType: "task", ResourceID: "wf-1", ResourceName: "T1", StartedAt: base.Add(time.Second), EndedAt: base.Add(2 * time.Second)},
		{ID: "3", ParentSpanID: "1", ResourceType: "task", ResourceID: "wf-1", ResourceName: "T2", StartedAt: base.Add(3 * time.Second), EndedAt: base.Add(4 * time.Second)},
		{ID: "4", ParentSpanID: "2", ResourceType: "workItem", ResourceID: "wi-1", ResourceName: "T1", StartedAt: base.Add(time.Second), EndedAt: base.Add(2 * time.Second)},
	}
}

func TestRootSpansReturnsOnlyUnparented(t *testing.T) {
	roots := RootSpans(sampleTrace())
	require.Len(t, roots, 1)
	require.Equal(t, "1", roots[0].ID)
}

func TestChildSpansReturnsDirectChildrenOnly(t *testing.T) {
	children := ChildSpans(sampleTrace(), "1")
	require.Len(t, children, 2)
	require.Equal(t, "2", children[0].ID)
	require.Equal(t, "3", children[1].ID)

	grandchildren := ChildSpans(sampleTrace(), "2")
	require.Len(t, grandchildren, 1)
	require.Equal(t, "4", grandchildren[0].ID)

	require.Empty(t, ChildSpans(sampleTrace(), "4"))
}

func TestStateAtTimeExcludesSpansEndingAfterCutoff(t *testing.T) {
	spans := sampleTrace()
	cutoff := spans[0].StartedAt.Add(2500 * time.Millisecond)

	state := StateAtTime(spans, cutoff)

	_, hasT1 := state["task/wf-1/T1"]
	require.True(t, hasT1, "T1 ended before the cutoff and must be present")

	_, hasT2 := state["task/wf-1/T2"]
	require.False(t, hasT2, "T2 ends after the cutoff and must be excluded")

	wfSpan, hasWf := state["workflow/wf-1/order"]
	require.False(t, hasWf, "the root workflow span ends after the cutoff too")
	_ = wfSpan
}

func TestStateAtTimeKeepsLatestPerResource(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	spans := []engine.AuditSpan{
		{ID: "1", ResourceType: "task", ResourceID: "wf-1", ResourceName: "T1", State: "started", StartedAt: base, EndedAt: base.Add(time.Second)},
		{ID: "2", ResourceType: "task", ResourceID: "wf-1", ResourceName: "T1", State: "completed", StartedAt: base.Add(2 * time.Second), EndedAt: base.Add(3 * time.Second)},
	}
	state := StateAtTime(spans, base.Add(10*time.Second))
	got, ok := state["task/wf-1/T1"]
	require.True(t, ok)
	require.Equal(t, "completed", got.State, "the later-ending span for the same resource must win")
}
