package engine

import (
	"context"
	"fmt"
	"time"
)

// workflowLedgerKey, taskLedgerKey and workItemLedgerKey are the
// canonical scheduled-job ledger key prefixes named in the data model:
// workflow/<workflowId>, task/<workflowId>/<taskName>/<generation>,
// workItem/<workItemId>.
func workflowLedgerKey(wf WorkflowID) string { return "workflow/" + string(wf) }
func taskLedgerKey(wf WorkflowID, taskName string, generation int) string {
	return fmt.Sprintf("task/%s/%s/%d", wf, taskName, generation)
}
func workItemLedgerKey(id WorkItemID) string { return "workItem/" + string(id) }

// reapLedger cancels and removes every scheduled-job ledger entry whose
// key falls under keyPrefix, arming a pendingCancel for each so the
// real Scheduler is told once the host transaction commits. Ledger
// entries are additive (see ActivityContext.ScheduleAfter), so an
// element may carry more than one on its own terminal transition.
func (e *Engine) reapLedger(ctx context.Context, rc *runCtx, keyPrefix string) error {
	entries, err := rc.tx.ReapScheduledEntries(ctx, keyPrefix)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		rc.pendingCancels = append(rc.pendingCancels, pendingCancel{id: entry.JobID})
	}
	return nil
}

// applyPendingScheduling arms or cancels the real Scheduler for every
// side effect accumulated during a committed transaction. It must only
// be called after Transaction.Commit succeeds: a job armed before
// commit could fire against a ledger entry that was never durably
// written, and a job canceled before commit could be re-armed by a
// rollback-and-retry of the same command.
func (e *Engine) applyPendingScheduling(ctx context.Context, rc *runCtx) error {
	for _, p := range rc.pendingCancels {
		if err := e.scheduler.Cancel(ctx, p.id); err != nil {
			return err
		}
	}
	for _, p := range rc.pendingSchedules {
		if err := e.scheduler.RunAfter(ctx, p.id, p.delay, p.fn); err != nil {
			return err
		}
	}
	return nil
}

// ReapScheduledEntries re-arms the scheduled jobs found in the ledger
// under keyPrefix, used on process restart to recover jobs an
// in-memory-only Scheduler implementation lost. The entries stay in the
// ledger; after commit the Scheduler is armed for every entry for which
// rearm returns a non-nil fn. It does not check whether a job is
// already armed: what RunAfter does with an armed id is up to the
// Scheduler.
func (e *Engine) ReapScheduledEntries(ctx context.Context, rootWorkflowID WorkflowID, keyPrefix string, rearm func(e ScheduledEntry) (delaySeconds float64, fn func(ctx context.Context))) error {
	tx, err := e.store.Begin(ctx, rootWorkflowID)
	if err != nil {
		return err
	}
	entries, err := tx.ReapScheduledEntries(ctx, keyPrefix)
	if err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	for _, entry := range entries {
		if err := tx.RegisterScheduledEntry(ctx, entry); err != nil {
			_ = tx.Rollback(ctx)
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	for _, entry := range entries {
		delay, fn := rearm(entry)
		if fn == nil {
			continue
		}
		if err := e.scheduler.RunAfter(ctx, entry.JobID, time.Duration(delay*float64(time.Second)), fn); err != nil {
			return err
		}
	}
	return nil
}
