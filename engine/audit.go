package engine

import (
	"context"
	"strconv"
	"time"
)

// SpanEmitter publishes audit spans once a command's transaction
// commits. Implementations typically both forward spans to a tracing
// backend and persist them for trace reconstruction (see package
// audit).
type SpanEmitter interface {
	Emit(ctx context.Context, span AuditSpan) error
}

// eventLog accumulates audit spans for the duration of one command, in
// strict execution order. It also tracks a parent-span stack so nested
// cascades (task -> work item -> activity) get correct ParentSpanID and
// Depth. Nothing is emitted until the caller's transaction commits;
// eventLog itself performs no I/O.
type eventLog struct {
	traceID string
	spans   []AuditSpan
	stack   []string
	seq     int
}

func newEventLog(traceID string) *eventLog {
	return &eventLog{traceID: traceID}
}

// push opens a new span and returns a close function that must be
// called when the represented operation finishes. The span is
// recorded (with its end time) at close time, in the position it was
// opened, preserving execution order among siblings.
func (l *eventLog) push(resourceType, resourceID, resourceName, operation string, attrs map[string]any) func(state string) *AuditSpan {
	parent := ""
	if len(l.stack) > 0 {
		parent = l.stack[len(l.stack)-1]
	}
	l.seq++
	id := spanID(l.traceID, l.seq)
	depth := len(l.stack)
	started := nowFunc()
	span := AuditSpan{
		ID:           id,
		ParentSpanID: parent,
		TraceID:      l.traceID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		ResourceName: resourceName,
		Operation:    operation,
		Depth:        depth,
		StartedAt:    started,
		Attributes:   attrs,
	}
	idx := len(l.spans)
	l.spans = append(l.spans, span)
	l.stack = append(l.stack, id)
	return func(state string) *AuditSpan {
		l.stack = l.stack[:len(l.stack)-1]
		l.spans[idx].EndedAt = nowFunc()
		l.spans[idx].State = state
		return &l.spans[idx]
	}
}

// record appends a leaf span (start == end) directly, e.g. for a
// single condition marking change with no further nesting.
func (l *eventLog) record(resourceType, resourceID, resourceName, operation, state string, attrs map[string]any) {
	close := l.push(resourceType, resourceID, resourceName, operation, attrs)
	close(state)
}

// ordered returns the recorded spans in execution order.
func (l *eventLog) ordered() []AuditSpan {
	out := make([]AuditSpan, len(l.spans))
	copy(out, l.spans)
	return out
}

// nowFunc is indirected so tests can freeze time if needed.
var nowFunc = time.Now

func spanID(traceID string, seq int) string {
	return traceID + "#" + strconv.Itoa(seq)
}
