package store

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/c360studio/flowengine/engine"
)

// memData holds every map the in-memory store maintains, behind one
// coarse mutex. Per-root serialization is already provided by
// MemStore.rootLock; this mutex only protects the Go maps themselves
// from concurrent access by transactions against different roots.
type memData struct {
	mu sync.Mutex

	workflows map[engine.WorkflowID]*engine.WorkflowInstance
	conditions map[string]*engine.Condition // key: wfID/name
	tasks      map[string]*engine.Task      // key: wfID/name
	workItems  map[engine.WorkItemID]*engine.WorkItem
	scheduled  []engine.ScheduledEntry
	stats      map[string]*engine.StatsShard // key: wfID/task/generation/shard
}

func newMemData() *memData {
	return &memData{
		workflows:  make(map[engine.WorkflowID]*engine.WorkflowInstance),
		conditions: make(map[string]*engine.Condition),
		tasks:      make(map[string]*engine.Task),
		workItems:  make(map[engine.WorkItemID]*engine.WorkItem),
		stats:      make(map[string]*engine.StatsShard),
	}
}

// memTx is a transaction against a MemStore. It records an undo entry
// before every mutation, and Rollback replays them in reverse to
// restore the pre-transaction values; Commit simply drops the undo log, since
// mutations are already applied in place.
type memTx struct {
	store *MemStore
	lock  *sync.Mutex

	undo []func()
}

func (t *memTx) recordUndo(fn func()) {
	t.undo = append(t.undo, fn)
}

func (t *memTx) Commit(ctx context.Context) error {
	t.store.data.mu.Lock()
	t.undo = nil
	t.store.data.mu.Unlock()
	t.lock.Unlock()
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	t.store.data.mu.Lock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
	t.store.data.mu.Unlock()
	t.lock.Unlock()
	return nil
}

func condKey(wf engine.WorkflowID, name string) string { return string(wf) + "/" + name }
func taskKey(wf engine.WorkflowID, name string) string  { return string(wf) + "/" + name }

func (t *memTx) ReadWorkflow(ctx context.Context, id engine.WorkflowID) (*engine.WorkflowInstance, error) {
	d := t.store.data
	d.mu.Lock()
	defer d.mu.Unlock()
	wf, ok := d.workflows[id]
	if !ok {
		return nil, nil
	}
	cp := *wf
	return &cp, nil
}

func (t *memTx) WriteWorkflow(ctx context.Context, wf *engine.WorkflowInstance) error {
	d := t.store.data
	d.mu.Lock()
	defer d.mu.Unlock()
	prev, existed := d.workflows[wf.ID]
	t.recordUndo(func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if existed {
			d.workflows[wf.ID] = prev
		} else {
			delete(d.workflows, wf.ID)
		}
	})
	cp := *wf
	d.workflows[wf.ID] = &cp
	return nil
}

func (t *memTx) ReadCondition(ctx context.Context, wfID engine.WorkflowID, name string) (*engine.Condition, error) {
	d := t.store.data
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.conditions[condKey(wfID, name)]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (t *memTx) ListConditions(ctx context.Context, wfID engine.WorkflowID) ([]*engine.Condition, error) {
	d := t.store.data
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*engine.Condition
	prefix := string(wfID) + "/"
	for k, c := range d.conditions {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (t *memTx) IncrementCondition(ctx context.Context, wfID engine.WorkflowID, name string, delta int) (*engine.Condition, error) {
	return t.adjustCondition(wfID, name, delta)
}

func (t *memTx) DecrementCondition(ctx context.Context, wfID engine.WorkflowID, name string, delta int) (*engine.Condition, error) {
	return t.adjustCondition(wfID, name, -delta)
}

func (t *memTx) adjustCondition(wfID engine.WorkflowID, name string, delta int) (*engine.Condition, error) {
	d := t.store.data
	d.mu.Lock()
	defer d.mu.Unlock()
	key := condKey(wfID, name)
	prev, existed := d.conditions[key]
	t.recordUndo(func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if existed {
			d.conditions[key] = prev
		} else {
			delete(d.conditions, key)
		}
	})
	var c *engine.Condition
	if existed {
		cp := *prev
		c = &cp
	} else {
		c = &engine.Condition{WorkflowID: wfID, Name: name}
	}
	c.Marking += delta
	if c.Marking < 0 {
		c.Marking = 0
	}
	c.LastChanged = time.Now()
	d.conditions[key] = c
	cp := *c
	return &cp, nil
}

func (t *memTx) ReadTask(ctx context.Context, wfID engine.WorkflowID, name string) (*engine.Task, error) {
	d := t.store.data
	d.mu.Lock()
	defer d.mu.Unlock()
	task, ok := d.tasks[taskKey(wfID, name)]
	if !ok {
		return nil, nil
	}
	cp := *task
	return &cp, nil
}

func (t *memTx) ListTasks(ctx context.Context, wfID engine.WorkflowID) ([]*engine.Task, error) {
	d := t.store.data
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*engine.Task
	prefix := string(wfID) + "/"
	for k, task := range d.tasks {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			cp := *task
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (t *memTx) WriteTask(ctx context.Context, task *engine.Task) error {
	d := t.store.data
	d.mu.Lock()
	defer d.mu.Unlock()
	key := taskKey(task.WorkflowID, task.Name)
	prev, existed := d.tasks[key]
	t.recordUndo(func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if existed {
			d.tasks[key] = prev
		} else {
			delete(d.tasks, key)
		}
	})
	cp := *task
	d.tasks[key] = &cp
	return nil
}

func (t *memTx) InsertWorkItem(ctx context.Context, wi *engine.WorkItem) error {
	return t.WriteWorkItem(ctx, wi)
}

func (t *memTx) ReadWorkItem(ctx context.Context, id engine.WorkItemID) (*engine.WorkItem, error) {
	d := t.store.data
	d.mu.Lock()
	defer d.mu.Unlock()
	wi, ok := d.workItems[id]
	if !ok {
		return nil, nil
	}
	cp := *wi
	return &cp, nil
}

func (t *memTx) WriteWorkItem(ctx context.Context, wi *engine.WorkItem) error {
	d := t.store.data
	d.mu.Lock()
	defer d.mu.Unlock()
	prev, existed := d.workItems[wi.ID]
	t.recordUndo(func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if existed {
			d.workItems[wi.ID] = prev
		} else {
			delete(d.workItems, wi.ID)
		}
	})
	cp := *wi
	d.workItems[wi.ID] = &cp
	return nil
}

func (t *memTx) ListWorkItemsByTask(ctx context.Context, wfID engine.WorkflowID, taskName string, generation int) ([]*engine.WorkItem, error) {
	d := t.store.data
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*engine.WorkItem
	for _, wi := range d.workItems {
		if wi.WorkflowID == wfID && wi.TaskName == taskName && wi.Generation == generation {
			cp := *wi
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) RegisterScheduledEntry(ctx context.Context, e engine.ScheduledEntry) error {
	d := t.store.data
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scheduled = append(d.scheduled, e)
	idx := len(d.scheduled) - 1
	t.recordUndo(func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.scheduled = append(d.scheduled[:idx], d.scheduled[idx+1:]...)
	})
	return nil
}

func (t *memTx) ReapScheduledEntries(ctx context.Context, keyPrefix string) ([]engine.ScheduledEntry, error) {
	d := t.store.data
	d.mu.Lock()
	defer d.mu.Unlock()

	prev := d.scheduled
	t.recordUndo(func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.scheduled = prev
	})

	var out []engine.ScheduledEntry
	kept := d.scheduled[:0:0]
	for _, e := range d.scheduled {
		if len(e.Key) >= len(keyPrefix) && e.Key[:len(keyPrefix)] == keyPrefix {
			out = append(out, e)
			continue
		}
		kept = append(kept, e)
	}
	d.scheduled = kept
	return out, nil
}

func statKey(wfID engine.WorkflowID, taskName string, generation, shard int) string {
	return string(wfID) + "/" + taskName + "/" + strconv.Itoa(generation) + "/" + strconv.Itoa(shard)
}

func (t *memTx) ReadStatsShard(ctx context.Context, wfID engine.WorkflowID, taskName string, generation, shard int) (*engine.StatsShard, error) {
	d := t.store.data
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.stats[statKey(wfID, taskName, generation, shard)]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (t *memTx) WriteStatsShard(ctx context.Context, s *engine.StatsShard) error {
	d := t.store.data
	d.mu.Lock()
	defer d.mu.Unlock()
	key := statKey(s.WorkflowID, s.TaskName, s.Generation, s.Shard)
	prev, existed := d.stats[key]
	t.recordUndo(func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if existed {
			d.stats[key] = prev
		} else {
			delete(d.stats, key)
		}
	})
	cp := *s
	d.stats[key] = &cp
	return nil
}

func (t *memTx) SumStats(ctx context.Context, wfID engine.WorkflowID, taskName string, generation int) (engine.StatsTotals, error) {
	d := t.store.data
	d.mu.Lock()
	defer d.mu.Unlock()
	var totals engine.StatsTotals
	prefix := string(wfID) + "/" + taskName + "/" + strconv.Itoa(generation) + "/"
	for k, s := range d.stats {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			totals.Add(*s)
		}
	}
	return totals, nil
}

func (t *memTx) ListChildWorkflows(ctx context.Context, parentWfID engine.WorkflowID, parentTaskName string, parentGeneration int) ([]*engine.WorkflowInstance, error) {
	d := t.store.data
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*engine.WorkflowInstance
	for _, wf := range d.workflows {
		if wf.ParentTask == nil {
			continue
		}
		if wf.ParentTask.WorkflowID == parentWfID && wf.ParentTask.TaskName == parentTaskName && wf.ParentTask.Generation == parentGeneration {
			cp := *wf
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
