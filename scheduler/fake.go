package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/c360studio/flowengine/engine"
)

// FakeScheduler is a deterministic test double: it never fires jobs on
// its own. Tests drive time forward explicitly with Fire or FireAll,
// which makes ordering and activity-dispatch assertions reproducible
// instead of racing a real timer.
type FakeScheduler struct {
	mu   sync.Mutex
	jobs map[engine.JobID]fakeJob
}

type fakeJob struct {
	delay time.Duration
	fn    func(ctx context.Context)
}

// NewFakeScheduler builds an empty FakeScheduler.
func NewFakeScheduler() *FakeScheduler {
	return &FakeScheduler{jobs: make(map[engine.JobID]fakeJob)}
}

func (s *FakeScheduler) RunAfter(ctx context.Context, id engine.JobID, d time.Duration, fn func(ctx context.Context)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id] = fakeJob{delay: d, fn: fn}
	return nil
}

func (s *FakeScheduler) Cancel(ctx context.Context, id engine.JobID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

// Pending reports the ids currently armed.
func (s *FakeScheduler) Pending() []engine.JobID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]engine.JobID, 0, len(s.jobs))
	for id := range s.jobs {
		out = append(out, id)
	}
	return out
}

// Fire runs the job registered under id, as if its delay had elapsed,
// and removes it. It is a no-op if id is not currently armed (the job
// may already have fired, or been canceled).
func (s *FakeScheduler) Fire(ctx context.Context, id engine.JobID) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if ok {
		delete(s.jobs, id)
	}
	s.mu.Unlock()
	if ok {
		job.fn(ctx)
	}
}

// FireAll fires every currently-armed job, in no particular order.
// Jobs armed by a fired job's own callback are not fired by this call.
func (s *FakeScheduler) FireAll(ctx context.Context) {
	s.mu.Lock()
	ids := make([]engine.JobID, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.Fire(ctx, id)
	}
}
