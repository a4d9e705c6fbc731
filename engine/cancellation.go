package engine

import "context"

// cancelWorkflowInstance cancels one workflow instance in isolation:
// every non-terminal task is canceled (which in turn cancels its own
// work items and, for a composite task, cascades into its children
// first), then the workflow itself is marked Canceled. Children are
// always canceled before the task that spawned them reports itself
// canceled, and a task's own work items are canceled before the task
// itself goes terminal -- child-before-parent throughout.
func (e *Engine) cancelWorkflowInstance(ctx context.Context, rc *runCtx) error {
	if rc.wf.State.Terminal() {
		return nil
	}

	tasks, err := rc.tx.ListTasks(ctx, rc.wf.ID)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if t.State.Terminal() {
			continue
		}
		spec, ok := rc.def.Task(t.Name)
		if !ok {
			continue
		}
		if err := e.cancelTaskCascade(ctx, rc, t, spec); err != nil {
			return err
		}
	}

	close := rc.log.push("workflow", string(rc.wf.ID), rc.def.Name(), "cancel", rc.currentAttributes())
	defer func() { close("canceled") }()

	rc.wf.State = WorkflowCanceled
	now := nowFunc()
	rc.wf.CompletedAt = &now
	if err := rc.tx.WriteWorkflow(ctx, rc.wf); err != nil {
		return err
	}
	if err := e.reapLedger(ctx, rc, workflowLedgerKey(rc.wf.ID)); err != nil {
		return err
	}
	return runHook(ctx, rc.def.workflowHooks.OnCanceled, rc.newActivityContext(ctx, nil, nil))
}

// cancelTaskCascade cancels a single task: children first (for a
// composite task), then its own outstanding work items, then the task
// itself.
func (e *Engine) cancelTaskCascade(ctx context.Context, rc *runCtx, t *Task, spec *TaskSpec) error {
	if spec.Composite != nil {
		children, err := rc.tx.ListChildWorkflows(ctx, rc.wf.ID, t.Name, t.Generation)
		if err != nil {
			return err
		}
		for _, child := range children {
			if child.State.Terminal() {
				continue
			}
			childDef, err := e.versions.lookup(child.DefinitionName, child.Version)
			if err != nil {
				return err
			}
			childRC := &runCtx{engine: e, tx: rc.tx, def: childDef, wf: child, log: rc.log}
			if err := e.cancelWorkflowInstance(ctx, childRC); err != nil {
				return err
			}
		}
	}

	items, err := rc.tx.ListWorkItemsByTask(ctx, rc.wf.ID, t.Name, t.Generation)
	if err != nil {
		return err
	}
	for _, wi := range items {
		if wi.State.Terminal() {
			continue
		}
		if err := e.cancelWorkItem(ctx, rc, wi.ID); err != nil {
			return err
		}
	}

	if t.State.Terminal() {
		return nil
	}
	close := rc.log.push("task", string(rc.wf.ID), t.Name, "cancel", rc.currentAttributes())
	defer func() { close("canceled") }()

	t.State = TaskCanceled
	t.UpdatedAt = nowFunc()
	if err := rc.tx.WriteTask(ctx, t); err != nil {
		return err
	}
	if err := e.reapLedger(ctx, rc, taskLedgerKey(rc.wf.ID, t.Name, t.Generation)); err != nil {
		return err
	}
	if err := runHook(ctx, spec.Hooks.OnCanceled, rc.newActivityContext(ctx, t, nil)); err != nil {
		return err
	}

	if t.Region == nil {
		return nil
	}
	return e.cancelRegion(ctx, rc, t.Region)
}

// cancelRegion cancels every task named in a cancellation region and
// zeroes the marking of every condition it names, implementing the
// "cancellation region" concept: firing the owning task sweeps away
// whatever tokens or in-flight work the region covers.
func (e *Engine) cancelRegion(ctx context.Context, rc *runCtx, region *RegionSpec) error {
	for _, taskName := range region.Tasks {
		t, err := rc.tx.ReadTask(ctx, rc.wf.ID, taskName)
		if err != nil {
			return err
		}
		if t == nil || t.State.Terminal() {
			continue
		}
		spec, ok := rc.def.Task(taskName)
		if !ok {
			continue
		}
		if err := e.cancelTaskCascade(ctx, rc, t, spec); err != nil {
			return err
		}
	}
	for _, condName := range region.Conditions {
		c, err := rc.tx.ReadCondition(ctx, rc.wf.ID, condName)
		if err != nil {
			return err
		}
		if c == nil || c.Marking == 0 {
			continue
		}
		if _, err := rc.tx.DecrementCondition(ctx, rc.wf.ID, condName, c.Marking); err != nil {
			return err
		}
	}
	return nil
}
