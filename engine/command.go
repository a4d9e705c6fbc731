package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// InitializeRoot creates a new root workflow instance of the named
// definition and runs its start-condition cascade. version == ""
// resolves to the most recently registered version of name.
func (e *Engine) InitializeRoot(ctx context.Context, name, version string) (*WorkflowInstance, error) {
	def, err := e.resolveDefinition(ctx, name, version)
	if err != nil {
		return nil, err
	}

	id := WorkflowID(uuid.NewString())
	var result *WorkflowInstance
	err = e.withTransaction(ctx, id, func(tx Transaction) (*eventLog, []pendingSchedule, []pendingCancel, error) {
		wf := &WorkflowInstance{
			ID:             id,
			DefinitionName: def.Name(),
			Version:        def.Version(),
			State:          WorkflowStarted,
			TraceID:        string(id),
			Flags:          make(map[string]any),
			CreatedAt:      nowFunc(),
		}
		if err := tx.WriteWorkflow(ctx, wf); err != nil {
			return nil, nil, nil, err
		}

		rc := &runCtx{engine: e, tx: tx, def: def, wf: wf, log: newEventLog(string(id))}
		close := rc.log.push("workflow", string(id), def.Name(), "initializeRoot", nil)
		if err := e.initializeWorkflowConditions(ctx, rc, def); err != nil {
			close("failed")
			return nil, nil, nil, err
		}
		if err := runHook(ctx, def.workflowHooks.OnInitialized, rc.newActivityContext(ctx, nil, nil)); err != nil {
			close("failed")
			return nil, nil, nil, err
		}
		if err := runHook(ctx, def.workflowHooks.OnStarted, rc.newActivityContext(ctx, nil, nil)); err != nil {
			close("failed")
			return nil, nil, nil, err
		}
		close("initialized")

		result = wf
		return rc.log, rc.pendingSchedules, rc.pendingCancels, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CancelRoot cancels every workflow in the tree rooted at rootID.
func (e *Engine) CancelRoot(ctx context.Context, rootID WorkflowID) error {
	return e.withTransaction(ctx, rootID, func(tx Transaction) (*eventLog, []pendingSchedule, []pendingCancel, error) {
		wf, err := tx.ReadWorkflow(ctx, rootID)
		if err != nil {
			return nil, nil, nil, err
		}
		if wf == nil {
			return nil, nil, nil, ErrNotFound
		}
		def, err := e.versions.lookup(wf.DefinitionName, wf.Version)
		if err != nil {
			return nil, nil, nil, err
		}
		rc := &runCtx{engine: e, tx: tx, def: def, wf: wf, log: newEventLog(wf.TraceID)}
		if err := e.cancelWorkflowInstance(ctx, rc); err != nil {
			return nil, nil, nil, err
		}
		return rc.log, rc.pendingSchedules, rc.pendingCancels, nil
	})
}

// InitializeWorkflow spawns a child workflow directly, bypassing the
// composite task driver. This serves Non-goal-permitted ad hoc
// composition: callers that want to parent a child workflow under a
// task without declaring that task as CompositeSpec at registration
// time (e.g. an operator-triggered remediation workflow).
func (e *Engine) InitializeWorkflow(ctx context.Context, parentWorkflowID WorkflowID, parentTaskName string, name, version string) (*WorkflowInstance, error) {
	var result *WorkflowInstance
	err := e.withRootTransactionFor(ctx, parentWorkflowID, func(tx Transaction, rootID WorkflowID) (*eventLog, []pendingSchedule, []pendingCancel, error) {
		parentWf, err := tx.ReadWorkflow(ctx, parentWorkflowID)
		if err != nil {
			return nil, nil, nil, err
		}
		if parentWf == nil {
			return nil, nil, nil, ErrNotFound
		}
		parentDef, err := e.versions.lookup(parentWf.DefinitionName, parentWf.Version)
		if err != nil {
			return nil, nil, nil, err
		}
		parentTask, err := tx.ReadTask(ctx, parentWorkflowID, parentTaskName)
		if err != nil {
			return nil, nil, nil, err
		}
		generation := 0
		if parentTask != nil {
			generation = parentTask.Generation
		}

		childDef, err := e.resolveDefinition(ctx, name, version)
		if err != nil {
			return nil, nil, nil, err
		}
		rc := &runCtx{engine: e, tx: tx, def: parentDef, wf: parentWf, log: newEventLog(parentWf.TraceID)}
		child, err := e.spawnChildWorkflow(ctx, rc, parentTaskName, generation, childDef.Name(), childDef.Version())
		if err != nil {
			return nil, nil, nil, err
		}
		result = child
		return rc.log, rc.pendingSchedules, rc.pendingCancels, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CancelWorkflow cancels a single workflow instance (and, transitively,
// its own children), without touching siblings or its parent task.
func (e *Engine) CancelWorkflow(ctx context.Context, workflowID WorkflowID) error {
	return e.withRootTransactionFor(ctx, workflowID, func(tx Transaction, rootID WorkflowID) (*eventLog, []pendingSchedule, []pendingCancel, error) {
		wf, err := tx.ReadWorkflow(ctx, workflowID)
		if err != nil {
			return nil, nil, nil, err
		}
		if wf == nil {
			return nil, nil, nil, ErrNotFound
		}
		def, err := e.versions.lookup(wf.DefinitionName, wf.Version)
		if err != nil {
			return nil, nil, nil, err
		}
		rc := &runCtx{engine: e, tx: tx, def: def, wf: wf, log: newEventLog(wf.TraceID)}
		if err := e.cancelWorkflowInstance(ctx, rc); err != nil {
			return nil, nil, nil, err
		}
		return rc.log, rc.pendingSchedules, rc.pendingCancels, nil
	})
}

// InitializeWorkItem creates an ad hoc work item for an already-enabled
// task, outside of the task's own onEnabled activity. It is the
// command-surface equivalent of ActivityContext.InitializeWorkItem.
func (e *Engine) InitializeWorkItem(ctx context.Context, workflowID WorkflowID, taskName, actionName string, payload json.RawMessage, offer *OfferScope) (*WorkItem, error) {
	var result *WorkItem
	err := e.withRootTransactionFor(ctx, workflowID, func(tx Transaction, rootID WorkflowID) (*eventLog, []pendingSchedule, []pendingCancel, error) {
		rc, err := e.loadRunCtx(ctx, tx, workflowID)
		if err != nil {
			return nil, nil, nil, err
		}
		wi, err := e.initializeWorkItem(ctx, rc, taskName, actionName, payload, offer)
		if err != nil {
			return nil, nil, nil, err
		}
		result = wi
		return rc.log, rc.pendingSchedules, rc.pendingCancels, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// StartWorkItem claims (when principal != "") and starts a work item.
func (e *Engine) StartWorkItem(ctx context.Context, workflowID WorkflowID, id WorkItemID, principal string) error {
	return e.withRootTransactionFor(ctx, workflowID, func(tx Transaction, rootID WorkflowID) (*eventLog, []pendingSchedule, []pendingCancel, error) {
		rc, err := e.loadRunCtx(ctx, tx, workflowID)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := e.startWorkItem(ctx, rc, id, principal); err != nil {
			return nil, nil, nil, err
		}
		return rc.log, rc.pendingSchedules, rc.pendingCancels, nil
	})
}

// CompleteWorkItem completes a work item with result, evaluating its
// task's completion policy.
func (e *Engine) CompleteWorkItem(ctx context.Context, workflowID WorkflowID, id WorkItemID, result json.RawMessage) error {
	return e.withRootTransactionFor(ctx, workflowID, func(tx Transaction, rootID WorkflowID) (*eventLog, []pendingSchedule, []pendingCancel, error) {
		rc, err := e.loadRunCtx(ctx, tx, workflowID)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := e.completeWorkItem(ctx, rc, id, result); err != nil {
			return nil, nil, nil, err
		}
		return rc.log, rc.pendingSchedules, rc.pendingCancels, nil
	})
}

// FailWorkItem fails a work item, evaluating its task's completion policy.
func (e *Engine) FailWorkItem(ctx context.Context, workflowID WorkflowID, id WorkItemID, reason string) error {
	return e.withRootTransactionFor(ctx, workflowID, func(tx Transaction, rootID WorkflowID) (*eventLog, []pendingSchedule, []pendingCancel, error) {
		rc, err := e.loadRunCtx(ctx, tx, workflowID)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := e.failWorkItem(ctx, rc, id, reason); err != nil {
			return nil, nil, nil, err
		}
		return rc.log, rc.pendingSchedules, rc.pendingCancels, nil
	})
}

// CancelWorkItem cancels a single work item without touching its
// sibling work items or forcing its task terminal.
func (e *Engine) CancelWorkItem(ctx context.Context, workflowID WorkflowID, id WorkItemID) error {
	return e.withRootTransactionFor(ctx, workflowID, func(tx Transaction, rootID WorkflowID) (*eventLog, []pendingSchedule, []pendingCancel, error) {
		rc, err := e.loadRunCtx(ctx, tx, workflowID)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := e.cancelWorkItem(ctx, rc, id); err != nil {
			return nil, nil, nil, err
		}
		return rc.log, rc.pendingSchedules, rc.pendingCancels, nil
	})
}

func (e *Engine) resolveDefinition(ctx context.Context, name, version string) (*Definition, error) {
	if version == "" {
		return e.versions.latest(name)
	}
	return e.versions.lookup(name, version)
}

func (e *Engine) loadRunCtx(ctx context.Context, tx Transaction, workflowID WorkflowID) (*runCtx, error) {
	wf, err := tx.ReadWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf == nil {
		return nil, ErrNotFound
	}
	def, err := e.versions.lookup(wf.DefinitionName, wf.Version)
	if err != nil {
		return nil, err
	}
	return &runCtx{engine: e, tx: tx, def: def, wf: wf, log: newEventLog(wf.TraceID)}, nil
}

// withRootTransactionFor opens a transaction against the root of
// workflowID's ancestry. Since a child workflow's own record carries
// its root's id as TraceID, the caller does not need to pre-resolve
// the root itself for anything but the id needed to call Begin; the
// fn callback still reads the actual workflow it was asked to operate
// on by workflowID.
func (e *Engine) withRootTransactionFor(ctx context.Context, workflowID WorkflowID, fn func(tx Transaction, rootID WorkflowID) (*eventLog, []pendingSchedule, []pendingCancel, error)) error {
	rootID, err := e.resolveRootID(ctx, workflowID)
	if err != nil {
		return err
	}
	return e.withTransaction(ctx, rootID, func(tx Transaction) (*eventLog, []pendingSchedule, []pendingCancel, error) {
		return fn(tx, rootID)
	})
}

// resolveRootID performs a lightweight lookup (its own transaction) to
// discover which root id should scope the real command's transaction.
// This mirrors the persistence contract's expectation that lookups
// outside a command's own transaction are cheap, read-only, and do not
// need to be serialized with in-flight commands.
func (e *Engine) resolveRootID(ctx context.Context, workflowID WorkflowID) (WorkflowID, error) {
	// Read the workflow's own record in a short probe transaction (rolled
	// back) and take its RootID; this runs for root and child workflows
	// alike.
	tx, err := e.store.Begin(ctx, workflowID)
	if err != nil {
		return "", err
	}
	wf, err := tx.ReadWorkflow(ctx, workflowID)
	_ = tx.Rollback(ctx)
	if err != nil {
		return "", err
	}
	if wf == nil {
		return "", fmt.Errorf("%w: workflow %s", ErrNotFound, workflowID)
	}
	return wf.RootID(), nil
}
