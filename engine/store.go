package engine

import "context"

// MarkingStore is the transactional document store the engine consumes.
// It performs no I/O of its own: every method operates against a
// Transaction opened by Begin, and the caller decides when to commit.
//
// Implementations live outside this package (see package store); the
// engine only depends on this interface, per the persistence contract
// in the specification's external-interfaces section.
type MarkingStore interface {
	// Begin opens a transaction scoped to the given root workflow id.
	// Implementations are expected to serialize transactions against
	// the same root (single-command-at-a-time per workflow root);
	// concurrent commands against different roots may proceed in
	// parallel.
	Begin(ctx context.Context, rootWorkflowID WorkflowID) (Transaction, error)
}

// Transaction exposes the reads and writes the engine needs to
// evaluate and mutate one workflow's marking, task, work-item, and
// ledger state. All methods must be safe to call multiple times within
// the same transaction; Commit is only called once.
type Transaction interface {
	// Workflow
	ReadWorkflow(ctx context.Context, id WorkflowID) (*WorkflowInstance, error)
	WriteWorkflow(ctx context.Context, wf *WorkflowInstance) error

	// Conditions
	ReadCondition(ctx context.Context, wfID WorkflowID, name string) (*Condition, error)
	ListConditions(ctx context.Context, wfID WorkflowID) ([]*Condition, error)
	IncrementCondition(ctx context.Context, wfID WorkflowID, name string, delta int) (*Condition, error)
	DecrementCondition(ctx context.Context, wfID WorkflowID, name string, delta int) (*Condition, error)

	// Tasks
	ReadTask(ctx context.Context, wfID WorkflowID, name string) (*Task, error)
	ListTasks(ctx context.Context, wfID WorkflowID) ([]*Task, error)
	WriteTask(ctx context.Context, t *Task) error

	// Work items
	InsertWorkItem(ctx context.Context, wi *WorkItem) error
	ReadWorkItem(ctx context.Context, id WorkItemID) (*WorkItem, error)
	WriteWorkItem(ctx context.Context, wi *WorkItem) error
	ListWorkItemsByTask(ctx context.Context, wfID WorkflowID, taskName string, generation int) ([]*WorkItem, error)

	// Scheduled-job ledger
	RegisterScheduledEntry(ctx context.Context, e ScheduledEntry) error
	ReapScheduledEntries(ctx context.Context, keyPrefix string) ([]ScheduledEntry, error)

	// Statistics shards
	ReadStatsShard(ctx context.Context, wfID WorkflowID, taskName string, generation, shard int) (*StatsShard, error)
	WriteStatsShard(ctx context.Context, s *StatsShard) error
	SumStats(ctx context.Context, wfID WorkflowID, taskName string, generation int) (StatsTotals, error)

	// Child workflow registration, used by the composite task driver to
	// find which workflows are parented by a given task.
	ListChildWorkflows(ctx context.Context, parentWfID WorkflowID, parentTaskName string, parentGeneration int) ([]*WorkflowInstance, error)

	// Commit finalizes all writes made through this transaction
	// atomically. When an optimistic-concurrency check on a write fails
	// it returns a *ConflictError.
	Commit(ctx context.Context) error

	// Rollback discards all writes made through this transaction.
	Rollback(ctx context.Context) error
}
