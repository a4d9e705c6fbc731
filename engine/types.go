// Package engine implements the colored/extended Petri-net workflow
// execution engine: marking, enabling, firing, cancellation regions,
// work-item and task lifecycles, composite task driving, activity
// dispatch, scheduled-job bookkeeping, and audit span recording.
//
// The engine owns no I/O. It is driven by a MarkingStore, a Scheduler,
// and a SpanEmitter supplied by the caller, and every mutation happens
// inside one Transaction per command.
package engine

import (
	"encoding/json"
	"time"
)

// WorkflowID identifies a running workflow instance. For a root
// workflow it also serves as the trace id.
type WorkflowID string

// WorkItemID identifies a work item.
type WorkItemID string

// WorkflowState is the lifecycle state of a workflow instance.
type WorkflowState string

const (
	WorkflowInitialized WorkflowState = "initialized"
	WorkflowStarted     WorkflowState = "started"
	WorkflowCompleted   WorkflowState = "completed"
	WorkflowFailed      WorkflowState = "failed"
	WorkflowCanceled    WorkflowState = "canceled"
)

// Terminal reports whether the state is absorbing.
func (s WorkflowState) Terminal() bool {
	switch s {
	case WorkflowCompleted, WorkflowFailed, WorkflowCanceled:
		return true
	default:
		return false
	}
}

// TaskState is the lifecycle state of a task.
type TaskState string

const (
	TaskDisabled  TaskState = "disabled"
	TaskEnabled   TaskState = "enabled"
	TaskStarted   TaskState = "started"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
	TaskCanceled  TaskState = "canceled"
)

// Terminal reports whether the state is absorbing.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCanceled:
		return true
	default:
		return false
	}
}

// Active reports whether a task in this state may still be canceled
// or may still hold live work items.
func (s TaskState) Active() bool {
	return s == TaskEnabled || s == TaskStarted
}

// WorkItemState is the lifecycle state of a work item.
type WorkItemState string

const (
	WorkItemInitialized WorkItemState = "initialized"
	WorkItemStarted     WorkItemState = "started"
	WorkItemCompleted   WorkItemState = "completed"
	WorkItemFailed      WorkItemState = "failed"
	WorkItemCanceled    WorkItemState = "canceled"
)

// Terminal reports whether the state is absorbing.
func (s WorkItemState) Terminal() bool {
	switch s {
	case WorkItemCompleted, WorkItemFailed, WorkItemCanceled:
		return true
	default:
		return false
	}
}

// JoinType governs how a task consumes tokens from its input conditions.
type JoinType string

const (
	JoinAnd JoinType = "and"
	JoinOr  JoinType = "or"
	JoinXor JoinType = "xor"
)

// SplitType governs how a task produces tokens on its output conditions.
type SplitType string

const (
	SplitAnd SplitType = "and"
	SplitOr  SplitType = "or"
	SplitXor SplitType = "xor"
)

// PolicyDecision is the outcome of consulting a task's completion policy.
type PolicyDecision string

const (
	PolicyComplete PolicyDecision = "complete"
	PolicyFail     PolicyDecision = "fail"
	PolicyContinue PolicyDecision = "continue"
)

// OfferKind distinguishes who may claim a human work item.
type OfferKind string

const (
	OfferSystem     OfferKind = "system"
	OfferGroup      OfferKind = "group"
	OfferPrincipals OfferKind = "principals"
)

// OfferScope declares who may claim a work item.
type OfferScope struct {
	Kind       OfferKind
	Group      string
	Principals []string
}

// Allows reports whether principal may claim a work item under this offer.
func (o *OfferScope) Allows(principal string) bool {
	if o == nil || o.Kind == OfferSystem {
		return true
	}
	switch o.Kind {
	case OfferGroup:
		return true // group membership is resolved by the external authz collaborator
	case OfferPrincipals:
		for _, p := range o.Principals {
			if p == principal {
				return true
			}
		}
		return false
	default:
		return true
	}
}

// ClaimRecord records who currently holds a work item.
type ClaimRecord struct {
	Principal string
	ClaimedAt time.Time
}

// ParentTaskRef links a child workflow back to the task that spawned it.
type ParentTaskRef struct {
	WorkflowID WorkflowID
	TaskName   string
	Generation int
}

// WorkflowInstance is a running instantiation of a Definition.
type WorkflowInstance struct {
	ID             WorkflowID
	DefinitionName string
	Version        string
	State          WorkflowState
	ParentTask     *ParentTaskRef
	TraceID        string
	Flags          map[string]any
	CreatedAt      time.Time
	CompletedAt    *time.Time
}

// RootID returns the id of the root workflow in this instance's ancestry.
func (w *WorkflowInstance) RootID() WorkflowID {
	if w.TraceID == "" {
		return w.ID
	}
	return WorkflowID(w.TraceID)
}

// Condition is a named token holder inside a workflow.
type Condition struct {
	WorkflowID  WorkflowID
	Name        string
	Marking     int
	IsStart     bool
	IsEnd       bool
	LastChanged time.Time
}

// RegionSpec declares a cancellation region: tasks and conditions that
// are atomically cleared when the owning task completes or is canceled.
type RegionSpec struct {
	Tasks      []string
	Conditions []string
}

// Task is a transition node: it consumes tokens per Join and produces
// tokens per Split.
type Task struct {
	WorkflowID WorkflowID
	Name       string
	Generation int
	State      TaskState
	Join       JoinType
	Split      SplitType
	Inputs     []string
	Outputs    []string
	Region     *RegionSpec
	Composite  *CompositeRuntime
	UpdatedAt  time.Time
}

// CompositeRuntime tracks the child workflow(s) spawned by a composite
// task's firing.
type CompositeRuntime struct {
	Children []WorkflowID
}

// WorkItem is a unit of work produced when a task fires.
type WorkItem struct {
	ID         WorkItemID
	WorkflowID WorkflowID
	TaskName   string
	Generation int
	ActionName string
	State      WorkItemState
	Payload    json.RawMessage
	Offer      *OfferScope
	Claim      *ClaimRecord
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ScheduledEntry is a deterministic key -> deferred-job-id mapping.
// Multiple entries may share a Key (additive registration).
type ScheduledEntry struct {
	Key          string
	JobID        JobID
	RegisteredAt time.Time
}

// StatsShard is one shard of a task's per-generation counters.
type StatsShard struct {
	WorkflowID WorkflowID
	TaskName   string
	Generation int
	Shard      int
	Total      int
	Initialized int
	Started    int
	Completed  int
	Failed     int
	Canceled   int
}

// StatsTotals is the summed view of all shards for a task generation.
type StatsTotals struct {
	Total       int
	Initialized int
	Started     int
	Completed   int
	Failed      int
	Canceled    int
}

// Add folds a shard's counters into the running totals.
func (t *StatsTotals) Add(s StatsShard) {
	t.Total += s.Total
	t.Initialized += s.Initialized
	t.Started += s.Started
	t.Completed += s.Completed
	t.Failed += s.Failed
	t.Canceled += s.Canceled
}

// AuditSpan records one state change or activity invocation.
type AuditSpan struct {
	ID           string
	ParentSpanID string
	TraceID      string
	ResourceType string // workflow | task | condition | workItem | activity | custom
	ResourceID   string
	ResourceName string
	Operation    string
	State        string
	Depth        int
	StartedAt    time.Time
	EndedAt      time.Time
	Attributes   map[string]any
}

// conditionKey and taskKey build per-workflow keys for a condition and
// a task. Nothing in this package calls them; the scheduled-job ledger
// builds its keys with workflowLedgerKey, taskLedgerKey and
// workItemLedgerKey (schedule.go).
func conditionKey(wf WorkflowID, name string) string { return string(wf) + "/condition/" + name }
func taskKey(wf WorkflowID, name string) string      { return string(wf) + "/task/" + name }
