package engine

import (
	"context"
	"fmt"
	"sort"
)

// RoutingContext is the read-only view handed to a routing predicate:
// a pure function of the current marking and workflow/task context.
type RoutingContext struct {
	Workflow  *WorkflowInstance
	Task      *Task
	Markings  map[string]int
	TaskState map[string]TaskState
}

// RoutingFunc chooses the output edges a split fires into. For
// XOR-split it must return exactly one name (or the engine falls back
// to the first output in declaration order if RoutingFunc is nil); for
// OR-split it must return a non-empty set.
type RoutingFunc func(ctx context.Context, rc RoutingContext) ([]string, error)

// PolicyContext is the read-only view handed to a completion policy.
type PolicyContext struct {
	Task   *Task
	Totals StatsTotals
}

// CompletionPolicyFunc decides whether a task should complete, fail, or
// keep waiting once one of its work items reaches a terminal state.
type CompletionPolicyFunc func(pc PolicyContext) PolicyDecision

// DefaultCompletionPolicy implements spec.md's default: complete once
// every initialized work item is terminal and at least one completed;
// fail if any failed and none completed; continue otherwise.
func DefaultCompletionPolicy(pc PolicyContext) PolicyDecision {
	t := pc.Totals
	liveCount := t.Initialized + t.Started
	if liveCount > 0 {
		return PolicyContinue
	}
	if t.Completed > 0 {
		return PolicyComplete
	}
	if t.Failed > 0 {
		return PolicyFail
	}
	return PolicyContinue
}

// AnyFailureFatalPolicy fails the task the instant any work item
// fails, regardless of other outstanding or completed work items.
func AnyFailureFatalPolicy(pc PolicyContext) PolicyDecision {
	if pc.Totals.Failed > 0 {
		return PolicyFail
	}
	return DefaultCompletionPolicy(pc)
}

// ConditionSpec is the "condition" variant of a definition node.
type ConditionSpec struct {
	Name    string
	IsStart bool
	IsEnd   bool
}

// CompositeMode distinguishes a static composite task (always spawns
// the same child workflow type) from a dynamic one (the onEnabled
// activity chooses from a registered set).
type CompositeMode string

const (
	CompositeStatic  CompositeMode = "static"
	CompositeDynamic CompositeMode = "dynamic"
)

// ChildWorkflowRef names a registered child workflow definition.
type ChildWorkflowRef struct {
	Name    string
	Version string
}

// CompositeSpec is the "composite task" / "dynamic composite task"
// variant of a definition node.
type CompositeSpec struct {
	Mode            CompositeMode
	StaticChild     ChildWorkflowRef
	DynamicChildren map[string]ChildWorkflowRef // method name -> child definition

	// DynamicSelect chooses which entry of DynamicChildren to spawn.
	// Required when Mode is CompositeDynamic; ignored otherwise.
	DynamicSelect func(ctx context.Context, actx *ActivityContext) (method string, err error)
}

// Hooks are the activity callbacks a task or workflow may register.
// Every field is optional; a nil hook is simply skipped.
type Hooks struct {
	OnInitialized          func(ctx context.Context, actx *ActivityContext) error
	OnEnabled              func(ctx context.Context, actx *ActivityContext) error
	OnDisabled             func(ctx context.Context, actx *ActivityContext) error
	OnStarted              func(ctx context.Context, actx *ActivityContext) error
	OnCompleted            func(ctx context.Context, actx *ActivityContext) error
	OnFailed               func(ctx context.Context, actx *ActivityContext) error
	OnCanceled             func(ctx context.Context, actx *ActivityContext) error
	OnWorkflowStateChanged func(ctx context.Context, actx *ActivityContext, child *WorkflowInstance) error
	OnWorkItemStateChanged func(ctx context.Context, actx *ActivityContext, wi *WorkItem) error
}

// TaskSpec is the "task" variant of a definition node.
type TaskSpec struct {
	Name             string
	Join             JoinType
	Split            SplitType
	Inputs           []string
	Outputs          []string
	Region           *RegionSpec
	Routing          RoutingFunc
	CompletionPolicy CompletionPolicyFunc
	ActionSchema     *ActionSchema // payload schema for work items this task produces
	Offer            *OfferScope
	Composite        *CompositeSpec
	Hooks            Hooks
}

func (t *TaskSpec) policy() CompletionPolicyFunc {
	if t.CompletionPolicy != nil {
		return t.CompletionPolicy
	}
	return DefaultCompletionPolicy
}

// Edge is a derived (condition -> task) or (task -> condition) arc,
// kept for introspection and validation; it is not an independently
// configured node (it is implied by TaskSpec.Inputs/Outputs).
type Edge struct {
	From string
	To   string
}

// Definition is the validated, immutable graph produced by Builder.Build.
// It is safe for concurrent use by multiple in-flight commands.
type Definition struct {
	name    string
	version string

	conditions map[string]*ConditionSpec
	tasks      map[string]*TaskSpec
	taskOrder  []string // declaration order, for deterministic dispatch
	edges      []Edge

	startConditions []string
	endConditions   []string

	workflowHooks Hooks
}

// Name returns the definition's registered name.
func (d *Definition) Name() string { return d.name }

// Version returns the definition's version label.
func (d *Definition) Version() string { return d.version }

// Task looks up a task spec by name.
func (d *Definition) Task(name string) (*TaskSpec, bool) {
	t, ok := d.tasks[name]
	return t, ok
}

// Tasks returns task specs in declaration order.
func (d *Definition) Tasks() []*TaskSpec {
	out := make([]*TaskSpec, 0, len(d.taskOrder))
	for _, name := range d.taskOrder {
		out = append(out, d.tasks[name])
	}
	return out
}

// Condition looks up a condition spec by name.
func (d *Definition) Condition(name string) (*ConditionSpec, bool) {
	c, ok := d.conditions[name]
	return c, ok
}

// StartConditions returns the names of the definition's start conditions.
func (d *Definition) StartConditions() []string { return d.startConditions }

// EndConditions returns the names of the definition's end conditions.
func (d *Definition) EndConditions() []string { return d.endConditions }

// DependentTasks returns, in declaration order, the tasks that list
// conditionName as an input -- the set the enabling evaluator
// re-checks after that condition's marking changes.
func (d *Definition) DependentTasks(conditionName string) []string {
	var out []string
	for _, name := range d.taskOrder {
		t := d.tasks[name]
		if containsString(t.Inputs, conditionName) {
			out = append(out, name)
		}
	}
	return out
}

// PredecessorTasks returns the tasks that list conditionName as an
// output -- candidate sources of a future token into that condition,
// used by the OR-join conservative satisfiability check.
func (d *Definition) PredecessorTasks(conditionName string) []string {
	var out []string
	for _, name := range d.taskOrder {
		t := d.tasks[name]
		if containsString(t.Outputs, conditionName) {
			out = append(out, name)
		}
	}
	return out
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// Builder assembles a tagged-variant configuration (condition, task,
// composite task, dynamic composite task, edge) into a validated,
// immutable Definition. It never mutates a Definition once Build
// returns one.
type Builder struct {
	name    string
	version string

	conditions map[string]*ConditionSpec
	tasks      map[string]*TaskSpec
	taskOrder  []string
	hooks      Hooks

	err error
}

// NewBuilder starts a new definition builder for (name, version).
func NewBuilder(name, version string) *Builder {
	return &Builder{
		name:       name,
		version:    version,
		conditions: make(map[string]*ConditionSpec),
		tasks:      make(map[string]*TaskSpec),
	}
}

func (b *Builder) fail(err error) *Builder {
	if b.err == nil {
		b.err = err
	}
	return b
}

// Condition declares a named condition (token holder).
func (b *Builder) Condition(name string, opts ...func(*ConditionSpec)) *Builder {
	if _, exists := b.conditions[name]; exists {
		return b.fail(fmt.Errorf("duplicate condition %q", name))
	}
	c := &ConditionSpec{Name: name}
	for _, opt := range opts {
		opt(c)
	}
	b.conditions[name] = c
	return b
}

// Start marks a ConditionSpec as a start condition.
func Start(c *ConditionSpec) { c.IsStart = true }

// End marks a ConditionSpec as an end condition.
func End(c *ConditionSpec) { c.IsEnd = true }

// Task declares a task (transition) node.
func (b *Builder) Task(spec TaskSpec) *Builder {
	if _, exists := b.tasks[spec.Name]; exists {
		return b.fail(fmt.Errorf("duplicate task %q", spec.Name))
	}
	if spec.Join == "" {
		spec.Join = JoinAnd
	}
	if spec.Split == "" {
		spec.Split = SplitAnd
	}
	t := spec
	b.tasks[t.Name] = &t
	b.taskOrder = append(b.taskOrder, t.Name)
	return b
}

// WithWorkflowHooks sets the workflow-level activity hooks
// (onInitialized/onStarted/onCompleted/onFailed/onCanceled).
func (b *Builder) WithWorkflowHooks(h Hooks) *Builder {
	b.hooks = h
	return b
}

// Build validates the accumulated graph and returns an immutable
// Definition, or a single error: the first one recorded by a builder
// call, else the first structural error found during validation.
func (b *Builder) Build() (*Definition, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.name == "" || b.version == "" {
		return nil, fmt.Errorf("definition requires a name and version")
	}
	if len(b.tasks) == 0 {
		return nil, fmt.Errorf("definition %s@%s declares no tasks", b.name, b.version)
	}

	def := &Definition{
		name:          b.name,
		version:       b.version,
		conditions:    b.conditions,
		tasks:         b.tasks,
		taskOrder:     append([]string(nil), b.taskOrder...),
		workflowHooks: b.hooks,
	}

	for name, c := range b.conditions {
		if c.IsStart {
			def.startConditions = append(def.startConditions, name)
		}
		if c.IsEnd {
			def.endConditions = append(def.endConditions, name)
		}
	}
	sort.Strings(def.startConditions)
	sort.Strings(def.endConditions)
	if len(def.startConditions) == 0 {
		return nil, fmt.Errorf("definition %s@%s declares no start condition", b.name, b.version)
	}

	for _, name := range def.taskOrder {
		t := def.tasks[name]
		for _, in := range t.Inputs {
			if _, ok := def.conditions[in]; !ok {
				return nil, fmt.Errorf("task %q declares unknown input condition %q", name, in)
			}
			def.edges = append(def.edges, Edge{From: in, To: name})
		}
		for _, out := range t.Outputs {
			if _, ok := def.conditions[out]; !ok {
				return nil, fmt.Errorf("task %q declares unknown output condition %q", name, out)
			}
			def.edges = append(def.edges, Edge{From: name, To: out})
		}
		if t.Join == JoinXor && len(t.Inputs) < 2 {
			return nil, fmt.Errorf("task %q: xor-join requires at least two inputs", name)
		}
		if t.Split == SplitXor && len(t.Outputs) < 1 {
			return nil, fmt.Errorf("task %q: xor-split requires at least one output", name)
		}
		if t.Split == SplitOr && len(t.Outputs) < 1 {
			return nil, fmt.Errorf("task %q: or-split requires at least one output", name)
		}
		if t.Region != nil {
			for _, rt := range t.Region.Tasks {
				if _, ok := def.tasks[rt]; !ok {
					return nil, fmt.Errorf("task %q cancellation region references unknown task %q", name, rt)
				}
			}
			for _, rc := range t.Region.Conditions {
				if _, ok := def.conditions[rc]; !ok {
					return nil, fmt.Errorf("task %q cancellation region references unknown condition %q", name, rc)
				}
			}
		}
		if t.Composite != nil && t.Composite.Mode == CompositeDynamic && len(t.Composite.DynamicChildren) == 0 {
			return nil, fmt.Errorf("task %q: dynamic composite declares no child workflows", name)
		}
	}

	return def, nil
}
