package engine

import (
	"context"

	"github.com/google/uuid"
)

// runCtx carries everything a single command dispatch needs to thread
// through the enabling evaluator, firing engine, work-item lifecycle,
// cancellation processor and composite driver: the open transaction,
// the definition graph, the workflow instance being mutated, the audit
// log being assembled, and the scheduler side effects accumulated so
// far. It is created fresh per command and never shared across
// goroutines.
type runCtx struct {
	engine *Engine
	tx     Transaction
	def    *Definition
	wf     *WorkflowInstance
	log    *eventLog

	pendingSchedules []pendingSchedule
	pendingCancels   []pendingCancel

	currentAttrs map[string]any
}

func (r *runCtx) readCondition(ctx context.Context, name string) (*Condition, error) {
	return r.tx.ReadCondition(ctx, r.wf.ID, name)
}

func (r *runCtx) readTask(ctx context.Context, name string) (*Task, error) {
	return r.tx.ReadTask(ctx, r.wf.ID, name)
}

func (r *runCtx) currentAttributes() map[string]any {
	if r.currentAttrs == nil {
		r.currentAttrs = make(map[string]any)
	}
	return r.currentAttrs
}

func (r *runCtx) newActivityContext(ctx context.Context, task *Task, wi *WorkItem) *ActivityContext {
	return &ActivityContext{ctx: ctx, rc: r, task: task, wi: wi}
}

func (r *runCtx) newWorkItemID() string {
	return uuid.NewString()
}
