package engine

import "context"

// evaluateTaskCompletion runs a task's completion policy against the
// current aggregate work-item statistics and, on a Complete or Fail
// decision, transitions the task and produces its outputs (or
// propagates failure without producing any token).
func (e *Engine) evaluateTaskCompletion(ctx context.Context, rc *runCtx, t *Task, spec *TaskSpec) error {
	totals, err := rc.tx.SumStats(ctx, rc.wf.ID, t.Name, t.Generation)
	if err != nil {
		return err
	}
	decision := spec.policy()(PolicyContext{Task: t, Totals: totals})

	switch decision {
	case PolicyComplete:
		return e.completeTask(ctx, rc, t, spec)
	case PolicyFail:
		return e.failTask(ctx, rc, t, spec)
	default:
		return nil
	}
}

func (e *Engine) completeTask(ctx context.Context, rc *runCtx, t *Task, spec *TaskSpec) error {
	close := rc.log.push("task", string(rc.wf.ID), t.Name, "complete", rc.currentAttributes())
	defer func() { close("completed") }()

	priorGeneration := t.Generation
	t.State = TaskCompleted
	t.Generation++
	t.UpdatedAt = nowFunc()
	if err := rc.tx.WriteTask(ctx, t); err != nil {
		return err
	}
	if err := e.reapLedger(ctx, rc, taskLedgerKey(rc.wf.ID, t.Name, priorGeneration)); err != nil {
		return err
	}
	if err := runHook(ctx, spec.Hooks.OnCompleted, rc.newActivityContext(ctx, t, nil)); err != nil {
		return err
	}
	if t.Region != nil {
		if err := e.cancelRegion(ctx, rc, t.Region); err != nil {
			return err
		}
	}
	if err := e.produceOutputs(ctx, rc, t, spec); err != nil {
		return err
	}
	return e.notifyParentIfLast(ctx, rc, t)
}

func (e *Engine) failTask(ctx context.Context, rc *runCtx, t *Task, spec *TaskSpec) error {
	close := rc.log.push("task", string(rc.wf.ID), t.Name, "fail", rc.currentAttributes())
	defer func() { close("failed") }()

	t.State = TaskFailed
	t.UpdatedAt = nowFunc()
	if err := rc.tx.WriteTask(ctx, t); err != nil {
		return err
	}
	if err := e.reapLedger(ctx, rc, taskLedgerKey(rc.wf.ID, t.Name, t.Generation)); err != nil {
		return err
	}
	if err := runHook(ctx, spec.Hooks.OnFailed, rc.newActivityContext(ctx, t, nil)); err != nil {
		return err
	}
	return e.notifyParentIfLast(ctx, rc, t)
}

// notifyParentIfLast fails the enclosing workflow when t has failed, or
// completes it once every one of its end conditions has received a
// token, and, when the workflow itself is a spawned child, notifies the
// parent task's OnWorkflowStateChanged hook so a composite task's own
// completion policy can react.
func (e *Engine) notifyParentIfLast(ctx context.Context, rc *runCtx, t *Task) error {
	if rc.wf.State.Terminal() {
		return nil
	}
	for _, end := range rc.def.EndConditions() {
		if t.State == TaskFailed {
			break
		}
		c, err := rc.tx.ReadCondition(ctx, rc.wf.ID, end)
		if err != nil {
			return err
		}
		if c == nil || c.Marking == 0 {
			return nil
		}
	}

	target, op, hook := WorkflowCompleted, "complete", rc.def.workflowHooks.OnCompleted
	if t.State == TaskFailed {
		target, op, hook = WorkflowFailed, "fail", rc.def.workflowHooks.OnFailed
	}
	close := rc.log.push("workflow", string(rc.wf.ID), rc.def.Name(), op, rc.currentAttributes())
	defer func() { close(string(target)) }()

	now := nowFunc()
	rc.wf.State = target
	rc.wf.CompletedAt = &now
	if err := rc.tx.WriteWorkflow(ctx, rc.wf); err != nil {
		return err
	}
	if err := runHook(ctx, hook, rc.newActivityContext(ctx, nil, nil)); err != nil {
		return err
	}

	if rc.wf.ParentTask == nil {
		return nil
	}
	parentWf, err := rc.tx.ReadWorkflow(ctx, rc.wf.ParentTask.WorkflowID)
	if err != nil {
		return err
	}
	if parentWf == nil {
		return nil
	}
	parentDef, err := e.versions.lookup(parentWf.DefinitionName, parentWf.Version)
	if err != nil {
		return err
	}
	parentSpec, ok := parentDef.Task(rc.wf.ParentTask.TaskName)
	if !ok {
		return nil
	}
	parentRC := &runCtx{engine: e, tx: rc.tx, def: parentDef, wf: parentWf, log: rc.log}
	if err := runWorkflowHook(ctx, parentSpec.Hooks.OnWorkflowStateChanged, parentRC.newActivityContext(ctx, nil, nil), rc.wf); err != nil {
		return err
	}
	return e.evaluateCompositeCompletion(ctx, parentRC, rc.wf.ParentTask.TaskName, rc.wf.ParentTask.Generation)
}

// evaluateCompositeCompletion applies the same completion-policy
// machinery work items use, to the set of child workflows spawned by a
// composite task: each child's terminal state maps onto the same
// Initialized/Started/Completed/Failed/Canceled buckets a work item
// would produce.
func (e *Engine) evaluateCompositeCompletion(ctx context.Context, rc *runCtx, taskName string, generation int) error {
	spec, ok := rc.def.Task(taskName)
	if !ok || spec.Composite == nil {
		return nil
	}
	t, err := rc.tx.ReadTask(ctx, rc.wf.ID, taskName)
	if err != nil || t == nil || t.State.Terminal() {
		return err
	}

	children, err := rc.tx.ListChildWorkflows(ctx, rc.wf.ID, taskName, generation)
	if err != nil {
		return err
	}
	var totals StatsTotals
	for _, child := range children {
		switch child.State {
		case WorkflowCompleted:
			totals.Completed++
		case WorkflowFailed:
			totals.Failed++
		case WorkflowCanceled:
			totals.Canceled++
		default:
			totals.Started++
		}
	}
	decision := spec.policy()(PolicyContext{Task: t, Totals: totals})
	switch decision {
	case PolicyComplete:
		return e.completeTask(ctx, rc, t, spec)
	case PolicyFail:
		return e.failTask(ctx, rc, t, spec)
	default:
		return nil
	}
}
