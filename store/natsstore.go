package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/flowengine/engine"
)

// Bucket names for each document kind the engine persists, mirroring
// the one-bucket-per-entity-kind layout used throughout the retrieval
// pack's own JetStream KV store.
const (
	bucketWorkflows = "FLOWENGINE_WORKFLOWS"
	bucketConditions = "FLOWENGINE_CONDITIONS"
	bucketTasks      = "FLOWENGINE_TASKS"
	bucketWorkItems  = "FLOWENGINE_WORKITEMS"
	bucketScheduled  = "FLOWENGINE_SCHEDULED"
	bucketStats      = "FLOWENGINE_STATS"
)

// NatsStore is a engine.MarkingStore backed by NATS JetStream
// key-value buckets. Each document kind lives in its own bucket, keyed
// by a NATS-safe encoding of its identifying fields. Optimistic
// concurrency is enforced with jetstream's revision-checked Update:
// a transaction records the revision it read each key at, and replays
// its buffered writes with that expected revision at Commit time,
// surfacing the first mismatch as a *engine.ConflictError.
type NatsStore struct {
	js         jetstream.JetStream
	workflows  jetstream.KeyValue
	conditions jetstream.KeyValue
	tasks      jetstream.KeyValue
	workItems  jetstream.KeyValue
	scheduled  jetstream.KeyValue
	stats      jetstream.KeyValue
}

// NewNatsStore creates (or attaches to) the buckets the engine needs.
func NewNatsStore(ctx context.Context, js jetstream.JetStream) (*NatsStore, error) {
	s := &NatsStore{js: js}
	var err error
	if s.workflows, err = getOrCreateBucket(ctx, js, bucketWorkflows); err != nil {
		return nil, fmt.Errorf("workflows bucket: %w", err)
	}
	if s.conditions, err = getOrCreateBucket(ctx, js, bucketConditions); err != nil {
		return nil, fmt.Errorf("conditions bucket: %w", err)
	}
	if s.tasks, err = getOrCreateBucket(ctx, js, bucketTasks); err != nil {
		return nil, fmt.Errorf("tasks bucket: %w", err)
	}
	if s.workItems, err = getOrCreateBucket(ctx, js, bucketWorkItems); err != nil {
		return nil, fmt.Errorf("work items bucket: %w", err)
	}
	if s.scheduled, err = getOrCreateBucket(ctx, js, bucketScheduled); err != nil {
		return nil, fmt.Errorf("scheduled bucket: %w", err)
	}
	if s.stats, err = getOrCreateBucket(ctx, js, bucketStats); err != nil {
		return nil, fmt.Errorf("stats bucket: %w", err)
	}
	return s, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: "flowengine " + strings.ToLower(name),
		History:     5,
	})
}

func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "key not found")
}

// Begin starts a NatsStore transaction. rootWorkflowID does not scope
// which keys are reachable (every key is addressed by the ids already
// embedded in it); it only identifies which logical root this command
// belongs to, for callers building their own additional serialization
// on top (e.g. a per-root work queue upstream of the engine).
func (s *NatsStore) Begin(ctx context.Context, rootWorkflowID engine.WorkflowID) (engine.Transaction, error) {
	return &natsTx{store: s, revisions: make(map[string]uint64), writes: make(map[string]natsWrite)}, nil
}

type natsWrite struct {
	bucket jetstream.KeyValue
	key    string
	data   []byte
}

// natsTx buffers every write in memory and applies them at Commit
// time, each guarded by the revision observed when this transaction
// first read that key; a key written without being read first is
// created, which fails if it already exists. It has no Go-level
// locking of its own: isolation is provided entirely by per-key
// optimistic concurrency, matching a document store that offers no
// native multi-key transaction.
type natsTx struct {
	store     *NatsStore
	revisions map[string]uint64
	writes    map[string]natsWrite
}

func (t *natsTx) get(ctx context.Context, kv jetstream.KeyValue, key string, out any) (bool, error) {
	if w, buffered := t.writes[bucketKey(kv, key)]; buffered {
		if w.data == nil {
			return false, nil
		}
		return true, json.Unmarshal(w.data, out)
	}
	entry, err := kv.Get(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	t.revisions[bucketKey(kv, key)] = entry.Revision()
	return true, json.Unmarshal(entry.Value(), out)
}

func (t *natsTx) put(kv jetstream.KeyValue, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	t.writes[bucketKey(kv, key)] = natsWrite{bucket: kv, key: key, data: data}
	return nil
}

// delete buffers a tombstone for key: nil data marks the key as gone
// both to this transaction's own reads (see natsTx.get) and, at Commit,
// to the bucket itself.
func (t *natsTx) delete(kv jetstream.KeyValue, key string) {
	t.writes[bucketKey(kv, key)] = natsWrite{bucket: kv, key: key, data: nil}
}

func bucketKey(kv jetstream.KeyValue, key string) string {
	return kv.Bucket() + "/" + key
}

func (t *natsTx) Commit(ctx context.Context) error {
	for wk, w := range t.writes {
		rev, hasRev := t.revisions[wk]
		var err error
		switch {
		case w.data == nil && hasRev:
			err = w.bucket.Delete(ctx, w.key, jetstream.LastRevision(rev))
		case w.data == nil:
			err = w.bucket.Purge(ctx, w.key)
		case hasRev:
			_, err = w.bucket.Update(ctx, w.key, w.data, rev)
		default:
			_, err = w.bucket.Create(ctx, w.key, w.data)
		}
		if err != nil {
			return &engine.ConflictError{Reason: fmt.Sprintf("revision mismatch on %s: %v", wk, err)}
		}
	}
	return nil
}

func (t *natsTx) Rollback(ctx context.Context) error {
	t.writes = nil
	t.revisions = nil
	return nil
}

func workflowKey(id engine.WorkflowID) string { return string(id) }

func (t *natsTx) ReadWorkflow(ctx context.Context, id engine.WorkflowID) (*engine.WorkflowInstance, error) {
	var wf engine.WorkflowInstance
	ok, err := t.get(ctx, t.store.workflows, workflowKey(id), &wf)
	if err != nil || !ok {
		return nil, err
	}
	return &wf, nil
}

func (t *natsTx) WriteWorkflow(ctx context.Context, wf *engine.WorkflowInstance) error {
	return t.put(t.store.workflows, workflowKey(wf.ID), wf)
}

func condKeyNats(wfID engine.WorkflowID, name string) string { return string(wfID) + "." + name }

func (t *natsTx) ReadCondition(ctx context.Context, wfID engine.WorkflowID, name string) (*engine.Condition, error) {
	var c engine.Condition
	ok, err := t.get(ctx, t.store.conditions, condKeyNats(wfID, name), &c)
	if err != nil || !ok {
		return nil, err
	}
	return &c, nil
}

func (t *natsTx) ListConditions(ctx context.Context, wfID engine.WorkflowID) ([]*engine.Condition, error) {
	keys, err := t.store.conditions.Keys(ctx)
	if err != nil {
		if err == jetstream.ErrNoKeysFound {
			return nil, nil
		}
		return nil, err
	}
	prefix := string(wfID) + "."
	var out []*engine.Condition
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		var c engine.Condition
		if ok, err := t.get(ctx, t.store.conditions, k, &c); err == nil && ok {
			out = append(out, &c)
		}
	}
	return out, nil
}

func (t *natsTx) IncrementCondition(ctx context.Context, wfID engine.WorkflowID, name string, delta int) (*engine.Condition, error) {
	return t.adjustCondition(ctx, wfID, name, delta)
}

func (t *natsTx) DecrementCondition(ctx context.Context, wfID engine.WorkflowID, name string, delta int) (*engine.Condition, error) {
	return t.adjustCondition(ctx, wfID, name, -delta)
}

func (t *natsTx) adjustCondition(ctx context.Context, wfID engine.WorkflowID, name string, delta int) (*engine.Condition, error) {
	c, err := t.ReadCondition(ctx, wfID, name)
	if err != nil {
		return nil, err
	}
	if c == nil {
		c = &engine.Condition{WorkflowID: wfID, Name: name}
	}
	c.Marking += delta
	if c.Marking < 0 {
		c.Marking = 0
	}
	if err := t.put(t.store.conditions, condKeyNats(wfID, name), c); err != nil {
		return nil, err
	}
	return c, nil
}

func taskKeyNats(wfID engine.WorkflowID, name string) string { return string(wfID) + "." + name }

func (t *natsTx) ReadTask(ctx context.Context, wfID engine.WorkflowID, name string) (*engine.Task, error) {
	var task engine.Task
	ok, err := t.get(ctx, t.store.tasks, taskKeyNats(wfID, name), &task)
	if err != nil || !ok {
		return nil, err
	}
	return &task, nil
}

func (t *natsTx) ListTasks(ctx context.Context, wfID engine.WorkflowID) ([]*engine.Task, error) {
	keys, err := t.store.tasks.Keys(ctx)
	if err != nil {
		if err == jetstream.ErrNoKeysFound {
			return nil, nil
		}
		return nil, err
	}
	prefix := string(wfID) + "."
	var out []*engine.Task
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		var task engine.Task
		if ok, err := t.get(ctx, t.store.tasks, k, &task); err == nil && ok {
			out = append(out, &task)
		}
	}
	return out, nil
}

func (t *natsTx) WriteTask(ctx context.Context, task *engine.Task) error {
	return t.put(t.store.tasks, taskKeyNats(task.WorkflowID, task.Name), task)
}

func (t *natsTx) InsertWorkItem(ctx context.Context, wi *engine.WorkItem) error {
	return t.WriteWorkItem(ctx, wi)
}

func (t *natsTx) ReadWorkItem(ctx context.Context, id engine.WorkItemID) (*engine.WorkItem, error) {
	var wi engine.WorkItem
	ok, err := t.get(ctx, t.store.workItems, string(id), &wi)
	if err != nil || !ok {
		return nil, err
	}
	return &wi, nil
}

func (t *natsTx) WriteWorkItem(ctx context.Context, wi *engine.WorkItem) error {
	return t.put(t.store.workItems, string(wi.ID), wi)
}

func (t *natsTx) ListWorkItemsByTask(ctx context.Context, wfID engine.WorkflowID, taskName string, generation int) ([]*engine.WorkItem, error) {
	keys, err := t.store.workItems.Keys(ctx)
	if err != nil {
		if err == jetstream.ErrNoKeysFound {
			return nil, nil
		}
		return nil, err
	}
	var out []*engine.WorkItem
	for _, k := range keys {
		var wi engine.WorkItem
		ok, err := t.get(ctx, t.store.workItems, k, &wi)
		if err != nil || !ok {
			continue
		}
		if wi.WorkflowID == wfID && wi.TaskName == taskName && wi.Generation == generation {
			out = append(out, &wi)
		}
	}
	return out, nil
}

func (t *natsTx) RegisterScheduledEntry(ctx context.Context, e engine.ScheduledEntry) error {
	return t.put(t.store.scheduled, string(e.JobID), e)
}

func (t *natsTx) ReapScheduledEntries(ctx context.Context, keyPrefix string) ([]engine.ScheduledEntry, error) {
	keys, err := t.store.scheduled.Keys(ctx)
	if err != nil && err != jetstream.ErrNoKeysFound {
		return nil, err
	}
	// Entries registered earlier in this transaction are only buffered;
	// a key listed twice is skipped by get once it has been reaped.
	for _, w := range t.writes {
		if w.data != nil && w.bucket.Bucket() == bucketScheduled {
			keys = append(keys, w.key)
		}
	}
	var out []engine.ScheduledEntry
	for _, k := range keys {
		var e engine.ScheduledEntry
		ok, err := t.get(ctx, t.store.scheduled, k, &e)
		if err != nil || !ok {
			continue
		}
		if strings.HasPrefix(e.Key, keyPrefix) {
			out = append(out, e)
			t.delete(t.store.scheduled, k)
		}
	}
	return out, nil
}

func statKeyNats(wfID engine.WorkflowID, taskName string, generation, shard int) string {
	return string(wfID) + "." + taskName + "." + strconv.Itoa(generation) + "." + strconv.Itoa(shard)
}

func (t *natsTx) ReadStatsShard(ctx context.Context, wfID engine.WorkflowID, taskName string, generation, shard int) (*engine.StatsShard, error) {
	var s engine.StatsShard
	ok, err := t.get(ctx, t.store.stats, statKeyNats(wfID, taskName, generation, shard), &s)
	if err != nil || !ok {
		return nil, err
	}
	return &s, nil
}

func (t *natsTx) WriteStatsShard(ctx context.Context, s *engine.StatsShard) error {
	return t.put(t.store.stats, statKeyNats(s.WorkflowID, s.TaskName, s.Generation, s.Shard), s)
}

func (t *natsTx) SumStats(ctx context.Context, wfID engine.WorkflowID, taskName string, generation int) (engine.StatsTotals, error) {
	keys, err := t.store.stats.Keys(ctx)
	if err != nil {
		if err == jetstream.ErrNoKeysFound {
			return engine.StatsTotals{}, nil
		}
		return engine.StatsTotals{}, err
	}
	prefix := string(wfID) + "." + taskName + "." + strconv.Itoa(generation) + "."
	var totals engine.StatsTotals
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		var s engine.StatsShard
		if ok, err := t.get(ctx, t.store.stats, k, &s); err == nil && ok {
			totals.Add(s)
		}
	}
	return totals, nil
}

func (t *natsTx) ListChildWorkflows(ctx context.Context, parentWfID engine.WorkflowID, parentTaskName string, parentGeneration int) ([]*engine.WorkflowInstance, error) {
	keys, err := t.store.workflows.Keys(ctx)
	if err != nil {
		if err == jetstream.ErrNoKeysFound {
			return nil, nil
		}
		return nil, err
	}
	var out []*engine.WorkflowInstance
	for _, k := range keys {
		var wf engine.WorkflowInstance
		ok, err := t.get(ctx, t.store.workflows, k, &wf)
		if err != nil || !ok || wf.ParentTask == nil {
			continue
		}
		if wf.ParentTask.WorkflowID == parentWfID && wf.ParentTask.TaskName == parentTaskName && wf.ParentTask.Generation == parentGeneration {
			out = append(out, &wf)
		}
	}
	return out, nil
}
