package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/c360studio/flowengine/engine"
)

func TestFakeSchedulerFireRunsJobOnce(t *testing.T) {
	ctx := context.Background()
	s := NewFakeScheduler()

	var fired int
	require.NoError(t, s.RunAfter(ctx, "job-1", 5*time.Second, func(ctx context.Context) { fired++ }))
	require.ElementsMatch(t, []engine.JobID{"job-1"}, s.Pending())

	s.Fire(ctx, "job-1")
	require.Equal(t, 1, fired)
	require.Empty(t, s.Pending(), "a fired job must be removed")

	s.Fire(ctx, "job-1")
	require.Equal(t, 1, fired, "firing an id that is no longer armed is a no-op")
}

func TestFakeSchedulerCancelPreventsFire(t *testing.T) {
	ctx := context.Background()
	s := NewFakeScheduler()

	var fired bool
	require.NoError(t, s.RunAfter(ctx, "job-1", time.Second, func(ctx context.Context) { fired = true }))
	require.NoError(t, s.Cancel(ctx, "job-1"))
	require.Empty(t, s.Pending())

	s.Fire(ctx, "job-1")
	require.False(t, fired)
}

func TestFakeSchedulerFireAllRunsEverythingOnce(t *testing.T) {
	ctx := context.Background()
	s := NewFakeScheduler()

	var fired []engine.JobID
	require.NoError(t, s.RunAfter(ctx, "a", time.Second, func(ctx context.Context) { fired = append(fired, "a") }))
	require.NoError(t, s.RunAfter(ctx, "b", time.Second, func(ctx context.Context) { fired = append(fired, "b") }))

	s.FireAll(ctx)
	require.ElementsMatch(t, []engine.JobID{"a", "b"}, fired)
	require.Empty(t, s.Pending())
}

func TestFakeSchedulerFireAllDoesNotFireJobsArmedDuringTheRun(t *testing.T) {
	ctx := context.Background()
	s := NewFakeScheduler()

	var secondFired bool
	require.NoError(t, s.RunAfter(ctx, "first", time.Second, func(ctx context.Context) {
		_ = s.RunAfter(ctx, "second", time.Second, func(ctx context.Context) { secondFired = true })
	}))

	s.FireAll(ctx)
	require.False(t, secondFired, "a job armed by another job's callback must wait for the next FireAll")
	require.ElementsMatch(t, []engine.JobID{"second"}, s.Pending())
}

func TestFakeSchedulerRunAfterOverwritesExistingJob(t *testing.T) {
	ctx := context.Background()
	s := NewFakeScheduler()

	var which string
	require.NoError(t, s.RunAfter(ctx, "job-1", time.Second, func(ctx context.Context) { which = "first" }))
	require.NoError(t, s.RunAfter(ctx, "job-1", time.Second, func(ctx context.Context) { which = "second" }))

	s.Fire(ctx, "job-1")
	require.Equal(t, "second", which, "re-registering the same id must replace the armed callback")
}
