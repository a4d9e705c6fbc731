package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ActivityContext is the facade handed to every Hooks callback. It
// exposes exactly the operations an activity is allowed to perform
// within the host command's transaction: it cannot commit or roll back,
// and it cannot reach outside the workflow instance it was built for.
type ActivityContext struct {
	ctx  context.Context
	rc   *runCtx
	task *Task // nil for workflow-level hooks
	wi   *WorkItem
}

// Workflow returns the workflow instance the activity is running in.
func (a *ActivityContext) Workflow() *WorkflowInstance { return a.rc.wf }

// Task returns the task the activity is bound to, or nil for a
// workflow-level hook.
func (a *ActivityContext) Task() *Task { return a.task }

// WorkItem returns the work item the activity is bound to, or nil when
// the hook is not work-item-scoped.
func (a *ActivityContext) WorkItem() *WorkItem { return a.wi }

// NewWorkItemID mints a fresh work item id. Activities use this to
// name a work item before calling InitializeWorkItem.
func (a *ActivityContext) NewWorkItemID() WorkItemID {
	return WorkItemID(uuid.NewString())
}

// InitializeWorkItem creates a new work item for the named task at its
// current generation, running it through the standard lifecycle entry
// points (schema validation, offer/claim setup, onInitialized).
func (a *ActivityContext) InitializeWorkItem(taskName, actionName string, payload any, offer *OfferScope) (*WorkItem, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}
	return a.rc.engine.initializeWorkItem(a.ctx, a.rc, taskName, actionName, raw, offer)
}

// CompleteWorkItem transitions a work item to Completed, cascading
// through task completion-policy evaluation.
func (a *ActivityContext) CompleteWorkItem(id WorkItemID, result any) error {
	raw, err := marshalPayload(result)
	if err != nil {
		return err
	}
	return a.rc.engine.completeWorkItem(a.ctx, a.rc, id, raw)
}

// FailWorkItem transitions a work item to Failed.
func (a *ActivityContext) FailWorkItem(id WorkItemID, reason string) error {
	return a.rc.engine.failWorkItem(a.ctx, a.rc, id, reason)
}

// ScheduleAfter records a deferred job in the scheduled-job ledger and
// arms the scheduler, both effective only if the host transaction
// commits. The caller supplies jobID (see engine.JobID) so it can be
// referenced by a later CancelScheduled call.
func (a *ActivityContext) ScheduleAfter(jobID JobID, key string, d time.Duration, fn func(ctx context.Context)) error {
	if err := a.rc.tx.RegisterScheduledEntry(a.ctx, ScheduledEntry{
		Key:          key,
		JobID:        jobID,
		RegisteredAt: nowFunc(),
	}); err != nil {
		return err
	}
	a.rc.pendingSchedules = append(a.rc.pendingSchedules, pendingSchedule{id: jobID, delay: d, fn: fn})
	return nil
}

// CancelScheduled cancels a previously scheduled job, effective only if
// the host transaction commits.
func (a *ActivityContext) CancelScheduled(jobID JobID) {
	a.rc.pendingCancels = append(a.rc.pendingCancels, pendingCancel{id: jobID})
}

// SpawnChildWorkflow initializes a child workflow parented by the
// activity's task, used by the composite task driver and also
// available directly to a custom onEnabled hook.
func (a *ActivityContext) SpawnChildWorkflow(defName, version string, generation int) (*WorkflowInstance, error) {
	if a.task == nil {
		return nil, fmt.Errorf("SpawnChildWorkflow called outside a task-scoped activity")
	}
	return a.rc.engine.spawnChildWorkflow(a.ctx, a.rc, a.task.Name, generation, defName, version)
}

// Attributes lets an activity attach extra key/value pairs to the span
// that will be emitted for the enclosing operation.
func (a *ActivityContext) Attributes() map[string]any {
	return a.rc.currentAttributes()
}

func marshalPayload(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return b, nil
}

func runHook(ctx context.Context, h func(ctx context.Context, actx *ActivityContext) error, actx *ActivityContext) error {
	if h == nil {
		return nil
	}
	if err := h(ctx, actx); err != nil {
		return &ActivityFailureError{Activity: "hook", Err: err}
	}
	return nil
}

func runWorkItemHook(ctx context.Context, h func(ctx context.Context, actx *ActivityContext, wi *WorkItem) error, actx *ActivityContext, wi *WorkItem) error {
	if h == nil {
		return nil
	}
	if err := h(ctx, actx, wi); err != nil {
		return &ActivityFailureError{Activity: "workItemHook", Err: err}
	}
	return nil
}

func runWorkflowHook(ctx context.Context, h func(ctx context.Context, actx *ActivityContext, child *WorkflowInstance) error, actx *ActivityContext, child *WorkflowInstance) error {
	if h == nil {
		return nil
	}
	if err := h(ctx, actx, child); err != nil {
		return &ActivityFailureError{Activity: "workflowHook", Err: err}
	}
	return nil
}
