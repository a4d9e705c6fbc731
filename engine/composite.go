package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// autoSpawnComposite is the default onEnabled behavior for a composite
// task that declares no custom Hooks.OnEnabled: it spawns the
// configured child workflow directly. A static composite always
// spawns the same child definition; a dynamic one asks
// CompositeSpec.DynamicSelect which registered child to spawn.
func (e *Engine) autoSpawnComposite(ctx context.Context, rc *runCtx, t *Task, spec *TaskSpec, actx *ActivityContext) error {
	ref := spec.Composite.StaticChild
	if spec.Composite.Mode == CompositeDynamic {
		if spec.Composite.DynamicSelect == nil {
			return fmt.Errorf("task %q: dynamic composite has no DynamicSelect", t.Name)
		}
		method, err := spec.Composite.DynamicSelect(ctx, actx)
		if err != nil {
			return &ActivityFailureError{Activity: fmt.Sprintf("dynamicSelect:%s", t.Name), Err: err}
		}
		chosen, ok := spec.Composite.DynamicChildren[method]
		if !ok {
			return fmt.Errorf("task %q: dynamic composite has no child registered for method %q", t.Name, method)
		}
		ref = chosen
	}
	_, err := e.spawnChildWorkflow(ctx, rc, t.Name, t.Generation, ref.Name, ref.Version)
	return err
}

// spawnChildWorkflow creates a new workflow instance parented by
// (parentTaskName, generation) in the current workflow, runs its root
// initialization, and records it so the composite task's completion
// policy can later discover it via Transaction.ListChildWorkflows.
func (e *Engine) spawnChildWorkflow(ctx context.Context, rc *runCtx, parentTaskName string, generation int, defName, version string) (*WorkflowInstance, error) {
	def, err := e.versions.lookup(defName, version)
	if err != nil {
		return nil, err
	}

	close := rc.log.push("workflow", "", defName, "spawnChild", rc.currentAttributes())
	defer func() { close("initialized") }()

	child := &WorkflowInstance{
		ID:             WorkflowID(uuid.NewString()),
		DefinitionName: defName,
		Version:        version,
		State:          WorkflowStarted,
		ParentTask: &ParentTaskRef{
			WorkflowID: rc.wf.ID,
			TaskName:   parentTaskName,
			Generation: generation,
		},
		TraceID:   rc.wf.TraceID,
		Flags:     make(map[string]any),
		CreatedAt: nowFunc(),
	}
	if err := rc.tx.WriteWorkflow(ctx, child); err != nil {
		return nil, err
	}

	if parentTask, err := rc.tx.ReadTask(ctx, rc.wf.ID, parentTaskName); err == nil && parentTask != nil {
		if parentTask.Composite == nil {
			parentTask.Composite = &CompositeRuntime{}
		}
		parentTask.Composite.Children = append(parentTask.Composite.Children, child.ID)
		if err := rc.tx.WriteTask(ctx, parentTask); err != nil {
			return nil, err
		}
	}

	childRC := &runCtx{engine: e, tx: rc.tx, def: def, wf: child, log: rc.log}
	if err := e.initializeWorkflowConditions(ctx, childRC, def); err != nil {
		return nil, err
	}
	if err := runHook(ctx, def.workflowHooks.OnInitialized, childRC.newActivityContext(ctx, nil, nil)); err != nil {
		return nil, err
	}

	return child, nil
}

// initializeWorkflowConditions deposits one token in each of the
// definition's start conditions and cascades enabling evaluation from
// there. Non-start conditions need no explicit record: the store
// treats an unread condition as carrying a zero marking.
func (e *Engine) initializeWorkflowConditions(ctx context.Context, rc *runCtx, def *Definition) error {
	for _, start := range def.StartConditions() {
		if _, err := rc.tx.IncrementCondition(ctx, rc.wf.ID, start, 1); err != nil {
			return err
		}
	}
	for _, start := range def.StartConditions() {
		if err := e.recomputeEnabling(ctx, rc, start, make(map[string]bool)); err != nil {
			return err
		}
	}
	return nil
}
