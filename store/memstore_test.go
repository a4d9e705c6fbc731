package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/c360studio/flowengine/engine"
)

func TestMemStoreWorkflowRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	tx, err := s.Begin(ctx, "wf-1")
	require.NoError(t, err)

	wf := &engine.WorkflowInstance{ID: "wf-1", DefinitionName: "order", Version: "v1", State: engine.WorkflowStarted}
	require.NoError(t, tx.WriteWorkflow(ctx, wf))

	got, err := tx.ReadWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	require.Equal(t, engine.WorkflowStarted, got.State)

	require.NoError(t, tx.Commit(ctx))

	tx2, err := s.Begin(ctx, "wf-1")
	require.NoError(t, err)
	got2, err := tx2.ReadWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	require.Equal(t, "order", got2.DefinitionName)
	require.NoError(t, tx2.Commit(ctx))
}

func TestMemStoreRollbackRestoresPriorValue(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	tx, err := s.Begin(ctx, "wf-1")
	require.NoError(t, err)
	require.NoError(t, tx.WriteWorkflow(ctx, &engine.WorkflowInstance{ID: "wf-1", State: engine.WorkflowStarted}))
	require.NoError(t, tx.Commit(ctx))

	tx2, err := s.Begin(ctx, "wf-1")
	require.NoError(t, err)
	require.NoError(t, tx2.WriteWorkflow(ctx, &engine.WorkflowInstance{ID: "wf-1", State: engine.WorkflowCompleted}))
	require.NoError(t, tx2.Rollback(ctx))

	tx3, err := s.Begin(ctx, "wf-1")
	require.NoError(t, err)
	got, err := tx3.ReadWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	require.Equal(t, engine.WorkflowStarted, got.State, "rollback must restore the pre-transaction state")
	require.NoError(t, tx3.Commit(ctx))
}

func TestMemStoreRollbackUndoesNewKey(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	tx, err := s.Begin(ctx, "wf-1")
	require.NoError(t, err)
	require.NoError(t, tx.WriteWorkflow(ctx, &engine.WorkflowInstance{ID: "wf-1", State: engine.WorkflowStarted}))
	require.NoError(t, tx.Rollback(ctx))

	tx2, err := s.Begin(ctx, "wf-1")
	require.NoError(t, err)
	got, err := tx2.ReadWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	require.Nil(t, got, "a key created and then rolled back must not exist")
	require.NoError(t, tx2.Commit(ctx))
}

func TestMemStoreConditionAdjustClampsAtZero(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	tx, err := s.Begin(ctx, "wf-1")
	require.NoError(t, err)

	c, err := tx.DecrementCondition(ctx, "wf-1", "start", 5)
	require.NoError(t, err)
	require.Equal(t, 0, c.Marking, "marking must never go negative")

	c, err = tx.IncrementCondition(ctx, "wf-1", "start", 2)
	require.NoError(t, err)
	require.Equal(t, 2, c.Marking)

	require.NoError(t, tx.Commit(ctx))
}

func TestMemStoreReapScheduledEntriesRemovesMatchingPrefix(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	tx, err := s.Begin(ctx, "wf-1")
	require.NoError(t, err)

	require.NoError(t, tx.RegisterScheduledEntry(ctx, engine.ScheduledEntry{Key: "task/wf-1/T1/0", JobID: "job-a"}))
	require.NoError(t, tx.RegisterScheduledEntry(ctx, engine.ScheduledEntry{Key: "task/wf-1/T1/0", JobID: "job-b"}))
	require.NoError(t, tx.RegisterScheduledEntry(ctx, engine.ScheduledEntry{Key: "task/wf-1/T2/0", JobID: "job-c"}))
	require.NoError(t, tx.Commit(ctx))

	tx2, err := s.Begin(ctx, "wf-1")
	require.NoError(t, err)
	reaped, err := tx2.ReapScheduledEntries(ctx, "task/wf-1/T1/0")
	require.NoError(t, err)
	require.Len(t, reaped, 2, "both entries sharing the additive key must be reaped together")
	require.NoError(t, tx2.Commit(ctx))

	tx3, err := s.Begin(ctx, "wf-1")
	require.NoError(t, err)
	again, err := tx3.ReapScheduledEntries(ctx, "task/wf-1/T1/0")
	require.NoError(t, err)
	require.Empty(t, again, "reaping is destructive: a second reap of the same prefix finds nothing left")

	stillThere, err := tx3.ReapScheduledEntries(ctx, "task/wf-1/T2/0")
	require.NoError(t, err)
	require.Len(t, stillThere, 1, "an unrelated key must survive an unrelated reap")
	require.NoError(t, tx3.Commit(ctx))
}

func TestMemStoreReapScheduledEntriesRollbackRestoresLedger(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	tx, err := s.Begin(ctx, "wf-1")
	require.NoError(t, err)
	require.NoError(t, tx.RegisterScheduledEntry(ctx, engine.ScheduledEntry{Key: "workItem/wi-1", JobID: "job-a"}))
	require.NoError(t, tx.Commit(ctx))

	tx2, err := s.Begin(ctx, "wf-1")
	require.NoError(t, err)
	reaped, err := tx2.ReapScheduledEntries(ctx, "workItem/wi-1")
	require.NoError(t, err)
	require.Len(t, reaped, 1)
	require.NoError(t, tx2.Rollback(ctx))

	tx3, err := s.Begin(ctx, "wf-1")
	require.NoError(t, err)
	stillThere, err := tx3.ReapScheduledEntries(ctx, "workItem/wi-1")
	require.NoError(t, err)
	require.Len(t, stillThere, 1, "a rolled-back reap must not have removed the ledger entry")
	require.NoError(t, tx3.Commit(ctx))
}

func TestMemStoreStatsSumAcrossShards(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	tx, err := s.Begin(ctx, "wf-1")
	require.NoError(t, err)

	require.NoError(t, tx.WriteStatsShard(ctx, &engine.StatsShard{WorkflowID: "wf-1", TaskName: "T1", Generation: 0, Shard: 0, Completed: 3}))
	require.NoError(t, tx.WriteStatsShard(ctx, &engine.StatsShard{WorkflowID: "wf-1", TaskName: "T1", Generation: 0, Shard: 1, Completed: 2, Failed: 1}))
	require.NoError(t, tx.WriteStatsShard(ctx, &engine.StatsShard{WorkflowID: "wf-1", TaskName: "T1", Generation: 1, Shard: 0, Completed: 99}))

	totals, err := tx.SumStats(ctx, "wf-1", "T1", 0)
	require.NoError(t, err)
	require.Equal(t, 5, totals.Completed, "sum must only include the requested generation")
	require.Equal(t, 1, totals.Failed)

	require.NoError(t, tx.Commit(ctx))
}

func TestMemStoreListChildWorkflowsFiltersByParentRef(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	tx, err := s.Begin(ctx, "root")
	require.NoError(t, err)

	require.NoError(t, tx.WriteWorkflow(ctx, &engine.WorkflowInstance{
		ID: "child-1", State: engine.WorkflowStarted,
		ParentTask: &engine.ParentTaskRef{WorkflowID: "root", TaskName: "composite", Generation: 0},
	}))
	require.NoError(t, tx.WriteWorkflow(ctx, &engine.WorkflowInstance{
		ID: "child-2", State: engine.WorkflowStarted,
		ParentTask: &engine.ParentTaskRef{WorkflowID: "root", TaskName: "composite", Generation: 1},
	}))
	require.NoError(t, tx.WriteWorkflow(ctx, &engine.WorkflowInstance{ID: "root", State: engine.WorkflowStarted}))

	children, err := tx.ListChildWorkflows(ctx, "root", "composite", 0)
	require.NoError(t, err)
	require.Len(t, children, 1)
	require.Equal(t, engine.WorkflowID("child-1"), children[0].ID)

	require.NoError(t, tx.Commit(ctx))
}

func TestMemStoreDifferentRootsDoNotShareLocks(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	txA, err := s.Begin(ctx, "root-a")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		txB, err := s.Begin(ctx, "root-b")
		require.NoError(t, err)
		require.NoError(t, txB.Commit(ctx))
		close(done)
	}()
	<-done

	require.NoError(t, txA.Commit(ctx))
}
