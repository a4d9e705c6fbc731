package engine

import (
	"context"
	"time"
)

// JobID identifies a deferred job registered with a Scheduler. Callers
// generate the id (typically a uuid) before scheduling so it can be
// recorded in the scheduled-job ledger in the same transaction that
// schedules the job.
type JobID string

// Scheduler is the deferred-task scheduler the engine consumes. It
// supports the runAfter/cancel primitives described in the persistence
// contract: "a deferred-job scheduler supporting runAfter(durationMs,
// fn, args) -> jobId and cancel(jobId)". Here the id is supplied by
// the caller rather than returned, so it can be woven into the
// scheduled-job ledger atomically with the command that schedules it.
type Scheduler interface {
	// RunAfter arranges for fn to run after d elapses. fn re-enters the
	// engine as a fresh command; it must tolerate its target element
	// having since gone terminal (a no-op) per the scheduled-job ledger
	// contract.
	RunAfter(ctx context.Context, id JobID, d time.Duration, fn func(ctx context.Context)) error

	// Cancel cancels a previously scheduled job. Canceling an unknown
	// or already-fired id is not an error.
	Cancel(ctx context.Context, id JobID) error
}

// pendingSchedule and pendingCancel record scheduler side effects
// requested during a transaction. They are applied only after the
// transaction commits, so jobs registered (or canceled) by an aborted
// command never take effect — mirroring "scheduled jobs registered in
// a command become visible to other commands only after commit."
type pendingSchedule struct {
	id    JobID
	delay time.Duration
	fn    func(ctx context.Context)
}

type pendingCancel struct {
	id JobID
}
