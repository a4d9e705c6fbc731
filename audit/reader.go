package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/flowengine/engine"
)

// streamName is the JetStream stream every audit span is published
// to, subject-partitioned by trace id so a single consumer can replay
// one trace without scanning every span ever recorded.
const streamName = "FLOWENGINE_AUDIT"

func subjectFor(traceID string) string {
	return "flowengine.audit." + traceID
}

// NatsRecorder both forwards spans to OpenTelemetry and durably
// persists them to a JetStream stream, so a trace can be reconstructed
// long after the spans were emitted live.
type NatsRecorder struct {
	js     jetstream.JetStream
	otel   *OtelEmitter
	stream jetstream.Stream
}

// NewNatsRecorder creates (or attaches to) the audit stream.
func NewNatsRecorder(ctx context.Context, js jetstream.JetStream, otel *OtelEmitter) (*NatsRecorder, error) {
	stream, err := js.Stream(ctx, streamName)
	if err != nil {
		stream, err = js.CreateStream(ctx, jetstream.StreamConfig{
			Name:     streamName,
			Subjects: []string{"flowengine.audit.>"},
			MaxAge:   30 * 24 * time.Hour,
		})
		if err != nil {
			return nil, fmt.Errorf("create audit stream: %w", err)
		}
	}
	return &NatsRecorder{js: js, otel: otel, stream: stream}, nil
}

func (r *NatsRecorder) Emit(ctx context.Context, span engine.AuditSpan) error {
	if r.otel != nil {
		if err := r.otel.Emit(ctx, span); err != nil {
			return err
		}
	}
	data, err := json.Marshal(span)
	if err != nil {
		return err
	}
	_, err = r.js.Publish(ctx, subjectFor(span.TraceID), data)
	return err
}

// Reader reconstructs traces from the persisted audit stream.
type Reader struct {
	js jetstream.JetStream
}

// NewReader builds a Reader over the same stream NatsRecorder writes to.
func NewReader(js jetstream.JetStream) *Reader {
	return &Reader{js: js}
}

// Trace returns every span recorded for traceID, in execution order
// (StartedAt, then Depth as a tiebreaker for same-instant spans).
func (r *Reader) Trace(ctx context.Context, traceID string) ([]engine.AuditSpan, error) {
	cons, err := r.js.OrderedConsumer(ctx, streamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{subjectFor(traceID)},
	})
	if err != nil {
		return nil, fmt.Errorf("open consumer: %w", err)
	}

	var spans []engine.AuditSpan
	for {
		msgs, err := cons.Fetch(100, jetstream.FetchMaxWait(2*time.Second))
		if err != nil {
			return nil, err
		}
		got := 0
		for msg := range msgs.Messages() {
			got++
			var span engine.AuditSpan
			if err := json.Unmarshal(msg.Data(), &span); err != nil {
				continue
			}
			spans = append(spans, span)
			_ = msg.Ack()
		}
		if got == 0 {
			break
		}
	}

	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].StartedAt.Equal(spans[j].StartedAt) {
			return spans[i].Depth < spans[j].Depth
		}
		return spans[i].StartedAt.Before(spans[j].StartedAt)
	})
	return spans, nil
}

// RootSpans returns the spans in a trace with no parent, i.e. the
// top-level operations the root command ran.
func RootSpans(spans []engine.AuditSpan) []engine.AuditSpan {
	var out []engine.AuditSpan
	for _, s := range spans {
		if s.ParentSpanID == "" {
			out = append(out, s)
		}
	}
	return out
}

// ChildSpans returns the direct children of parentSpanID within spans.
func ChildSpans(spans []engine.AuditSpan, parentSpanID string) []engine.AuditSpan {
	var out []engine.AuditSpan
	for _, s := range spans {
		if s.ParentSpanID == parentSpanID {
			out = append(out, s)
		}
	}
	return out
}

// StateAtTime replays spans up to asOf and reports, for each resource
// id, the last operation/state pair observed -- a snapshot of the
// workflow's marking and task states at a point in its history.
func StateAtTime(spans []engine.AuditSpan, asOf time.Time) map[string]engine.AuditSpan {
	latest := make(map[string]engine.AuditSpan)
	for _, s := range spans {
		if s.EndedAt.After(asOf) {
			continue
		}
		key := s.ResourceType + "/" + s.ResourceID + "/" + s.ResourceName
		if prev, ok := latest[key]; !ok || s.EndedAt.After(prev.EndedAt) {
			latest[key] = s
		}
	}
	return latest
}

// ListRecentTraces is a best-effort listing of recent trace ids
// derived from stream subjects; it requires the stream to still carry
// at least one message per trace within its retention window.
func (r *Reader) ListRecentTraces(ctx context.Context, limit int) ([]string, error) {
	info, err := r.js.Stream(ctx, streamName)
	if err != nil {
		return nil, err
	}
	subjects, err := info.Info(ctx, jetstream.WithSubjectFilter(">"))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(subjects.State.Subjects))
	for subj := range subjects.State.Subjects {
		ids = append(ids, strings.TrimPrefix(subj, "flowengine.audit."))
		if len(ids) >= limit && limit > 0 {
			break
		}
	}
	return ids, nil
}
