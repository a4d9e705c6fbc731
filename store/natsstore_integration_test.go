//go:build integration

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/c360studio/semstreams/natsclient"

	"github.com/c360studio/flowengine/engine"
)

func newTestNatsStore(t *testing.T) *NatsStore {
	t.Helper()
	tc := natsclient.NewTestClient(t, natsclient.WithJetStream())
	js, err := tc.Client.JetStream()
	require.NoError(t, err)

	s, err := NewNatsStore(context.Background(), js)
	require.NoError(t, err)
	return s
}

func TestNatsStoreWorkflowRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestNatsStore(t)

	tx, err := s.Begin(ctx, "wf-1")
	require.NoError(t, err)
	require.NoError(t, tx.WriteWorkflow(ctx, &engine.WorkflowInstance{ID: "wf-1", DefinitionName: "order", State: engine.WorkflowStarted}))
	require.NoError(t, tx.Commit(ctx))

	tx2, err := s.Begin(ctx, "wf-1")
	require.NoError(t, err)
	got, err := tx2.ReadWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	require.Equal(t, "order", got.DefinitionName)
	require.NoError(t, tx2.Commit(ctx))
}

func TestNatsStoreUpdateWithStaleRevisionConflicts(t *testing.T) {
	ctx := context.Background()
	s := newTestNatsStore(t)

	tx, err := s.Begin(ctx, "wf-1")
	require.NoError(t, err)
	require.NoError(t, tx.WriteWorkflow(ctx, &engine.WorkflowInstance{ID: "wf-1", State: engine.WorkflowStarted}))
	require.NoError(t, tx.Commit(ctx))

	txA, err := s.Begin(ctx, "wf-1")
	require.NoError(t, err)
	_, err = txA.ReadWorkflow(ctx, "wf-1")
	require.NoError(t, err)

	txB, err := s.Begin(ctx, "wf-1")
	require.NoError(t, err)
	_, err = txB.ReadWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	require.NoError(t, txB.WriteWorkflow(ctx, &engine.WorkflowInstance{ID: "wf-1", State: engine.WorkflowCompleted}))
	require.NoError(t, txB.Commit(ctx))

	require.NoError(t, txA.WriteWorkflow(ctx, &engine.WorkflowInstance{ID: "wf-1", State: engine.WorkflowCanceled}))
	err = txA.Commit(ctx)
	require.Error(t, err, "committing against a revision another transaction already advanced must conflict")
	require.True(t, engine.IsConflict(err))
}

func TestNatsStoreReapScheduledEntriesDeletesMatchingKeys(t *testing.T) {
	ctx := context.Background()
	s := newTestNatsStore(t)

	tx, err := s.Begin(ctx, "wf-1")
	require.NoError(t, err)
	require.NoError(t, tx.RegisterScheduledEntry(ctx, engine.ScheduledEntry{Key: "task/wf-1/T1/0", JobID: "job-a"}))
	require.NoError(t, tx.RegisterScheduledEntry(ctx, engine.ScheduledEntry{Key: "task/wf-1/T2/0", JobID: "job-b"}))
	require.NoError(t, tx.Commit(ctx))

	tx2, err := s.Begin(ctx, "wf-1")
	require.NoError(t, err)
	reaped, err := tx2.ReapScheduledEntries(ctx, "task/wf-1/T1/0")
	require.NoError(t, err)
	require.Len(t, reaped, 1)
	require.Equal(t, engine.JobID("job-a"), reaped[0].JobID)
	require.NoError(t, tx2.Commit(ctx))

	tx3, err := s.Begin(ctx, "wf-1")
	require.NoError(t, err)
	again, err := tx3.ReapScheduledEntries(ctx, "task/wf-1/T1/0")
	require.NoError(t, err)
	require.Empty(t, again, "a reaped entry must be durably deleted, not merely returned")

	stillThere, err := tx3.ReapScheduledEntries(ctx, "task/wf-1/T2/0")
	require.NoError(t, err)
	require.Len(t, stillThere, 1, "an unrelated ledger entry must survive an unrelated reap")
	require.NoError(t, tx3.Commit(ctx))
}

func TestNatsStoreReapScheduledEntriesWithinSameTransactionPurges(t *testing.T) {
	ctx := context.Background()
	s := newTestNatsStore(t)

	tx, err := s.Begin(ctx, "wf-1")
	require.NoError(t, err)
	require.NoError(t, tx.RegisterScheduledEntry(ctx, engine.ScheduledEntry{Key: "workItem/wi-1", JobID: "job-a"}))

	reaped, err := tx.ReapScheduledEntries(ctx, "workItem/wi-1")
	require.NoError(t, err)
	require.Len(t, reaped, 1, "an entry created and reaped inside the same transaction must still be returned")

	require.NoError(t, tx.Commit(ctx), "the buffered create-then-delete must resolve to a Purge, not a revision-guarded Delete")
}

func TestNatsStoreConditionAdjustClampsAtZero(t *testing.T) {
	ctx := context.Background()
	s := newTestNatsStore(t)
	tx, err := s.Begin(ctx, "wf-1")
	require.NoError(t, err)

	c, err := tx.DecrementCondition(ctx, "wf-1", "start", 5)
	require.NoError(t, err)
	require.Equal(t, 0, c.Marking)
	require.NoError(t, tx.Commit(ctx))
}
