package engine

// Package engine implements the colored/extended Petri-net workflow
// execution engine at the core of this module: conditions hold tokens,
// tasks consume and produce them under AND/OR/XOR join and split
// semantics, and work items carry the externally visible unit of work
// a task hands out while it waits to complete.
//
// The engine owns no I/O. Every command runs against a MarkingStore
// transaction scoped to one root workflow, driven forward by a
// Scheduler for deferred jobs and a SpanEmitter for audit spans. Every
// activity callback a Definition registers runs synchronously inside
// that same transaction: there are no suspension points, so the
// execution order of hooks is exactly the order in which the firing
// cascade visits them.
import (
	"context"
	"fmt"
)

// Engine is the runtime façade: one Engine serves every registered
// workflow Definition against one MarkingStore, Scheduler, and
// SpanEmitter.
type Engine struct {
	store     MarkingStore
	scheduler Scheduler
	emitter   SpanEmitter
	validator *schemaValidator
	versions  *versionManager
}

// New builds an Engine. Definitions are added afterward with Register.
func New(store MarkingStore, scheduler Scheduler, emitter SpanEmitter) *Engine {
	return &Engine{
		store:     store,
		scheduler: scheduler,
		emitter:   emitter,
		validator: newSchemaValidator(),
		versions:  newVersionManager(),
	}
}

// Register adds a built Definition, making it available to
// InitializeRoot and InitializeWorkflow by (name, version).
func (e *Engine) Register(def *Definition) error {
	return e.versions.register(def)
}

// withTransaction opens a transaction against rootWorkflowID, runs fn,
// and rolls back if fn returns an error, otherwise commits. An error
// returned by Commit itself is surfaced unmodified, with no rollback
// attempted, so callers can detect a *ConflictError. On success it
// emits every span the command accumulated and arms/cancels the scheduler side effects the
// command requested.
func (e *Engine) withTransaction(ctx context.Context, rootWorkflowID WorkflowID, fn func(tx Transaction) (*eventLog, []pendingSchedule, []pendingCancel, error)) error {
	tx, err := e.store.Begin(ctx, rootWorkflowID)
	if err != nil {
		return err
	}

	log, schedules, cancels, err := fn(tx)
	if err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	for _, span := range log.ordered() {
		if emitErr := e.emitter.Emit(ctx, span); emitErr != nil {
			return emitErr
		}
	}
	rc := &runCtx{engine: e, pendingSchedules: schedules, pendingCancels: cancels}
	return e.applyPendingScheduling(ctx, rc)
}
