package engine

import (
	"context"
	"fmt"
)

// recomputeEnabling re-evaluates every task that depends on
// conditionName after its marking has changed, enabling or disabling
// each in declaration order. It produces no tokens itself: outputs are
// produced only when a task completes (see produceOutputs). visited
// skips a task already evaluated through the same map; callers pass a
// fresh map per changed condition, so a task fed by several changed
// conditions is evaluated once for each.
func (e *Engine) recomputeEnabling(ctx context.Context, rc *runCtx, conditionName string, visited map[string]bool) error {
	if visited == nil {
		visited = make(map[string]bool)
	}
	for _, taskName := range rc.def.DependentTasks(conditionName) {
		if visited[taskName] {
			continue
		}
		visited[taskName] = true
		if err := e.evaluateTask(ctx, rc, taskName); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) evaluateTask(ctx context.Context, rc *runCtx, taskName string) error {
	spec, ok := rc.def.Task(taskName)
	if !ok {
		return fmt.Errorf("unknown task %q", taskName)
	}
	t, err := rc.tx.ReadTask(ctx, rc.wf.ID, taskName)
	if err != nil {
		return err
	}
	if t == nil {
		t = &Task{WorkflowID: rc.wf.ID, Name: taskName, State: TaskDisabled, Join: spec.Join, Split: spec.Split, Inputs: spec.Inputs, Outputs: spec.Outputs, Region: spec.Region}
	}
	if t.State.Terminal() {
		return nil
	}

	eval := newEnablingEvaluator(rc.def)
	enabled, err := eval.isEnabled(ctx, rc, spec)
	if err != nil {
		return err
	}

	switch {
	case enabled && t.State == TaskDisabled:
		return e.enableTask(ctx, rc, t, spec)
	case !enabled && t.State == TaskEnabled:
		return e.disableTask(ctx, rc, t, spec)
	default:
		return nil
	}
}

// enableTask consumes one token from each input condition (per the
// join semantics already confirmed by isEnabled), transitions the task
// to Enabled, and runs its onEnabled hook. For a composite task with
// no custom OnEnabled hook, it spawns the configured child workflow.
func (e *Engine) enableTask(ctx context.Context, rc *runCtx, t *Task, spec *TaskSpec) error {
	close := rc.log.push("task", string(rc.wf.ID), t.Name, "enable", rc.currentAttributes())
	defer func() { close("enabled") }()

	for _, in := range spec.Inputs {
		if _, err := rc.tx.DecrementCondition(ctx, rc.wf.ID, in, 1); err != nil {
			return err
		}
	}

	t.State = TaskEnabled
	t.UpdatedAt = nowFunc()
	if err := rc.tx.WriteTask(ctx, t); err != nil {
		return err
	}

	actx := rc.newActivityContext(ctx, t, nil)
	if spec.Hooks.OnEnabled != nil {
		if err := runHook(ctx, spec.Hooks.OnEnabled, actx); err != nil {
			return err
		}
	} else if spec.Composite != nil {
		if err := e.autoSpawnComposite(ctx, rc, t, spec, actx); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) disableTask(ctx context.Context, rc *runCtx, t *Task, spec *TaskSpec) error {
	close := rc.log.push("task", string(rc.wf.ID), t.Name, "disable", rc.currentAttributes())
	defer func() { close("disabled") }()

	t.State = TaskDisabled
	t.UpdatedAt = nowFunc()
	if err := rc.tx.WriteTask(ctx, t); err != nil {
		return err
	}
	return runHook(ctx, spec.Hooks.OnDisabled, rc.newActivityContext(ctx, t, nil))
}

// produceOutputs runs a task's split logic once it completes,
// depositing tokens into the chosen output conditions and cascading
// enabling re-evaluation from each one.
func (e *Engine) produceOutputs(ctx context.Context, rc *runCtx, t *Task, spec *TaskSpec) error {
	outputs, err := e.chooseOutputs(ctx, rc, t, spec)
	if err != nil {
		return err
	}
	for _, out := range outputs {
		if _, err := rc.tx.IncrementCondition(ctx, rc.wf.ID, out, 1); err != nil {
			return err
		}
	}
	for _, out := range outputs {
		if err := e.recomputeEnabling(ctx, rc, out, make(map[string]bool)); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) chooseOutputs(ctx context.Context, rc *runCtx, t *Task, spec *TaskSpec) ([]string, error) {
	switch spec.Split {
	case SplitAnd:
		return spec.Outputs, nil
	case SplitXor:
		chosen, err := e.runRouting(ctx, rc, t, spec)
		if err != nil {
			return nil, err
		}
		if len(chosen) != 1 {
			return nil, &InvariantViolationError{Reason: fmt.Sprintf("xor-split task %q routed to %d outputs, want exactly 1", t.Name, len(chosen))}
		}
		return chosen, nil
	case SplitOr:
		chosen, err := e.runRouting(ctx, rc, t, spec)
		if err != nil {
			return nil, err
		}
		if len(chosen) == 0 {
			return nil, &InvariantViolationError{Reason: fmt.Sprintf("or-split task %q routed to 0 outputs", t.Name)}
		}
		return chosen, nil
	default:
		return spec.Outputs, nil
	}
}

// runRouting evaluates a task's routing predicate. A nil RoutingFunc
// falls back to the first declared output, which only makes sense for
// an XOR-split with no real branching logic. A routing predicate error
// aborts the whole command as an ActivityFailureError, consistent with
// activity failures elsewhere in the engine.
func (e *Engine) runRouting(ctx context.Context, rc *runCtx, t *Task, spec *TaskSpec) ([]string, error) {
	if spec.Routing == nil {
		if len(spec.Outputs) == 0 {
			return nil, &InvariantViolationError{Reason: fmt.Sprintf("task %q has a split but no outputs", t.Name)}
		}
		return spec.Outputs[:1], nil
	}

	markings := make(map[string]int)
	taskStates := make(map[string]TaskState)
	for _, c := range spec.Inputs {
		cond, err := rc.tx.ReadCondition(ctx, rc.wf.ID, c)
		if err == nil && cond != nil {
			markings[c] = cond.Marking
		}
	}
	rc2 := RoutingContext{Workflow: rc.wf, Task: t, Markings: markings, TaskState: taskStates}
	chosen, err := spec.Routing(ctx, rc2)
	if err != nil {
		return nil, &ActivityFailureError{Activity: fmt.Sprintf("routing:%s", t.Name), Err: err}
	}
	return chosen, nil
}
