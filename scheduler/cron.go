// Package scheduler provides engine.Scheduler implementations: a
// robfig/cron/v3-backed scheduler for production use, and a
// deterministic fake for tests.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/c360studio/flowengine/engine"
)

// oneShotSchedule is a cron.Schedule that fires exactly once, at a
// fixed point in time, then never again. robfig/cron has no built-in
// one-shot primitive; every example in the retrieval pack that uses it
// schedules recurring jobs, so this is the minimal addition needed to
// reuse cron.Cron as the deferred-job timer the persistence contract
// calls for.
type oneShotSchedule struct {
	at   time.Time
	done bool
}

func (s *oneShotSchedule) Next(now time.Time) time.Time {
	if s.done || !now.Before(s.at) {
		s.done = true
		return time.Time{}
	}
	return s.at
}

// CronScheduler implements engine.Scheduler on top of a single
// robfig/cron/v3 Cron instance, tracking each job's cron.EntryID so
// Cancel can remove it.
type CronScheduler struct {
	cron *cron.Cron

	mu      sync.Mutex
	entries map[engine.JobID]cron.EntryID
}

// NewCronScheduler starts a CronScheduler. Call Stop to release its
// background goroutine.
func NewCronScheduler() *CronScheduler {
	s := &CronScheduler{
		cron:    cron.New(cron.WithSeconds()),
		entries: make(map[engine.JobID]cron.EntryID),
	}
	s.cron.Start()
	return s
}

// Stop halts the underlying cron.Cron, waiting for any running job to
// finish.
func (s *CronScheduler) Stop() {
	s.cron.Stop()
}

func (s *CronScheduler) RunAfter(ctx context.Context, id engine.JobID, d time.Duration, fn func(ctx context.Context)) error {
	schedule := &oneShotSchedule{at: time.Now().Add(d)}
	entryID := s.cron.Schedule(schedule, cron.FuncJob(func() {
		fn(context.Background())
		s.mu.Lock()
		delete(s.entries, id)
		s.mu.Unlock()
	}))

	s.mu.Lock()
	s.entries[id] = entryID
	s.mu.Unlock()
	return nil
}

func (s *CronScheduler) Cancel(ctx context.Context, id engine.JobID) error {
	s.mu.Lock()
	entryID, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
	}
	s.mu.Unlock()
	if ok {
		s.cron.Remove(entryID)
	}
	return nil
}
