package engine

import (
	"context"
	"encoding/json"
	"fmt"
)

// initializeWorkItem creates a work item for taskName at its task's
// current generation. It validates the payload against the task's
// ActionSchema (when declared) before anything is written, matching
// the persistence contract's "validate before touching the ledger."
func (e *Engine) initializeWorkItem(ctx context.Context, rc *runCtx, taskName, actionName string, payload json.RawMessage, offer *OfferScope) (*WorkItem, error) {
	spec, ok := rc.def.Task(taskName)
	if !ok {
		return nil, fmt.Errorf("unknown task %q", taskName)
	}
	t, err := rc.tx.ReadTask(ctx, rc.wf.ID, taskName)
	if err != nil {
		return nil, err
	}
	if t == nil || t.State != TaskEnabled {
		return nil, &NotEnabledError{WorkflowID: rc.wf.ID, TaskName: taskName}
	}

	if spec.ActionSchema != nil {
		if _, verr := e.validator.Validate(*spec.ActionSchema, payload); verr != nil {
			return nil, verr
		}
	}

	close := rc.log.push("workItem", "", taskName, "initialize", rc.currentAttributes())
	defer func() { close("initialized") }()

	wi := &WorkItem{
		ID:         WorkItemID(rc.newWorkItemID()),
		WorkflowID: rc.wf.ID,
		TaskName:   taskName,
		Generation: t.Generation,
		ActionName: actionName,
		State:      WorkItemInitialized,
		Payload:    payload,
		Offer:      offer,
		CreatedAt:  nowFunc(),
		UpdatedAt:  nowFunc(),
	}
	if err := rc.tx.InsertWorkItem(ctx, wi); err != nil {
		return nil, err
	}
	if err := e.bumpStats(ctx, rc, taskName, t.Generation, func(s *StatsShard) { s.Initialized++ }); err != nil {
		return nil, err
	}

	actx := rc.newActivityContext(ctx, t, wi)
	if err := runHook(ctx, spec.Hooks.OnInitialized, actx); err != nil {
		return nil, err
	}
	return wi, runWorkItemHook(ctx, spec.Hooks.OnWorkItemStateChanged, actx, wi)
}

// startWorkItem claims and starts a work item on behalf of principal.
// principal == "" means the engine itself is starting the item (e.g. a
// scheduled-job callback), which bypasses offer enforcement.
func (e *Engine) startWorkItem(ctx context.Context, rc *runCtx, id WorkItemID, principal string) error {
	wi, err := rc.tx.ReadWorkItem(ctx, id)
	if err != nil {
		return err
	}
	if wi == nil {
		return ErrNotFound
	}
	if wi.State != WorkItemInitialized {
		return &IllegalStateTransitionError{Resource: "workItem", ID: string(id), From: string(wi.State), To: string(WorkItemStarted)}
	}
	if principal != "" && wi.Offer != nil && !wi.Offer.Allows(principal) {
		return &IllegalStateTransitionError{Resource: "workItem", ID: string(id), From: string(wi.State), To: string(WorkItemStarted), Reason: "principal not in offer scope"}
	}

	t, err := rc.tx.ReadTask(ctx, rc.wf.ID, wi.TaskName)
	if err != nil {
		return err
	}
	spec, _ := rc.def.Task(wi.TaskName)

	close := rc.log.push("workItem", string(id), wi.TaskName, "start", rc.currentAttributes())
	defer func() { close("started") }()

	if principal != "" {
		wi.Claim = &ClaimRecord{Principal: principal, ClaimedAt: nowFunc()}
	}
	wi.State = WorkItemStarted
	wi.UpdatedAt = nowFunc()
	if err := rc.tx.WriteWorkItem(ctx, wi); err != nil {
		return err
	}
	if t != nil && t.State == TaskEnabled {
		t.State = TaskStarted
		t.UpdatedAt = nowFunc()
		if err := rc.tx.WriteTask(ctx, t); err != nil {
			return err
		}
		if spec != nil {
			if err := runHook(ctx, spec.Hooks.OnStarted, rc.newActivityContext(ctx, t, wi)); err != nil {
				return err
			}
		}
	}
	if err := e.bumpStatsTransition(ctx, rc, wi.TaskName, wi.Generation, func(s *StatsShard) { s.Initialized--; s.Started++ }); err != nil {
		return err
	}
	if spec != nil {
		return runWorkItemHook(ctx, spec.Hooks.OnWorkItemStateChanged, rc.newActivityContext(ctx, t, wi), wi)
	}
	return nil
}

func (e *Engine) completeWorkItem(ctx context.Context, rc *runCtx, id WorkItemID, result json.RawMessage) error {
	return e.terminateWorkItem(ctx, rc, id, WorkItemCompleted, result, "")
}

func (e *Engine) failWorkItem(ctx context.Context, rc *runCtx, id WorkItemID, reason string) error {
	return e.terminateWorkItem(ctx, rc, id, WorkItemFailed, nil, reason)
}

func (e *Engine) cancelWorkItem(ctx context.Context, rc *runCtx, id WorkItemID) error {
	return e.terminateWorkItem(ctx, rc, id, WorkItemCanceled, nil, "")
}

func (e *Engine) terminateWorkItem(ctx context.Context, rc *runCtx, id WorkItemID, to WorkItemState, result json.RawMessage, reason string) error {
	wi, err := rc.tx.ReadWorkItem(ctx, id)
	if err != nil {
		return err
	}
	if wi == nil {
		return ErrNotFound
	}
	if wi.State.Terminal() {
		return &IllegalStateTransitionError{Resource: "workItem", ID: string(id), From: string(wi.State), To: string(to), Reason: "already terminal"}
	}

	op := map[WorkItemState]string{WorkItemCompleted: "complete", WorkItemFailed: "fail", WorkItemCanceled: "cancel"}[to]
	close := rc.log.push("workItem", string(id), wi.TaskName, op, rc.currentAttributes())
	defer func() { close(string(to)) }()

	from := wi.State
	wi.State = to
	wi.UpdatedAt = nowFunc()
	if result != nil {
		wi.Payload = result
	}
	if err := rc.tx.WriteWorkItem(ctx, wi); err != nil {
		return err
	}
	if err := e.reapLedger(ctx, rc, workItemLedgerKey(wi.ID)); err != nil {
		return err
	}

	if err := e.bumpStatsTransition(ctx, rc, wi.TaskName, wi.Generation, func(s *StatsShard) {
		switch from {
		case WorkItemInitialized:
			s.Initialized--
		case WorkItemStarted:
			s.Started--
		}
		switch to {
		case WorkItemCompleted:
			s.Completed++
		case WorkItemFailed:
			s.Failed++
		case WorkItemCanceled:
			s.Canceled++
		}
	}); err != nil {
		return err
	}

	spec, ok := rc.def.Task(wi.TaskName)
	if !ok {
		return fmt.Errorf("unknown task %q", wi.TaskName)
	}
	t, err := rc.tx.ReadTask(ctx, rc.wf.ID, wi.TaskName)
	if err != nil {
		return err
	}
	if t != nil {
		if err := runWorkItemHook(ctx, spec.Hooks.OnWorkItemStateChanged, rc.newActivityContext(ctx, t, wi), wi); err != nil {
			return err
		}
	}

	if t == nil || t.State.Terminal() {
		return nil
	}
	return e.evaluateTaskCompletion(ctx, rc, t, spec)
}
