package audit

import (
	"context"
	"sync"

	"github.com/c360studio/flowengine/engine"
)

// MemEmitter is a SpanEmitter test double that simply accumulates
// every span it is handed, in arrival order.
type MemEmitter struct {
	mu    sync.Mutex
	spans []engine.AuditSpan
}

// NewMemEmitter builds an empty MemEmitter.
func NewMemEmitter() *MemEmitter {
	return &MemEmitter{}
}

func (e *MemEmitter) Emit(ctx context.Context, span engine.AuditSpan) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.spans = append(e.spans, span)
	return nil
}

// Spans returns a copy of every span emitted so far, in arrival order.
func (e *MemEmitter) Spans() []engine.AuditSpan {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]engine.AuditSpan, len(e.spans))
	copy(out, e.spans)
	return out
}

// ByTrace filters Spans to one trace id.
func (e *MemEmitter) ByTrace(traceID string) []engine.AuditSpan {
	var out []engine.AuditSpan
	for _, s := range e.Spans() {
		if s.TraceID == traceID {
			out = append(out, s)
		}
	}
	return out
}
