package engine

import (
	"context"
	"math/rand"
)

// statShardCount is the number of statistics shards maintained per
// (workflow, task, generation), matching the sharded-counter technique
// the rest of the corpus uses for write-mostly aggregates. Sharding
// lets InitializeWorkItem and work-item terminal transitions land on
// independent keys instead of serializing on a single counter when the
// underlying store is a KV with per-key revision checks.
const statShardCount = 8

func (e *Engine) bumpStats(ctx context.Context, rc *runCtx, taskName string, generation int, mutate func(*StatsShard)) error {
	shard := rand.Intn(statShardCount)
	s, err := rc.tx.ReadStatsShard(ctx, rc.wf.ID, taskName, generation, shard)
	if err != nil {
		return err
	}
	if s == nil {
		s = &StatsShard{WorkflowID: rc.wf.ID, TaskName: taskName, Generation: generation, Shard: shard}
	}
	mutate(s)
	s.Total = s.Initialized + s.Started + s.Completed + s.Failed + s.Canceled
	return rc.tx.WriteStatsShard(ctx, s)
}

// bumpStatsTransition is kept as a distinct name from bumpStats purely
// for readability at call sites that move a count between two buckets
// rather than simply incrementing one; both share the same mechanics.
func (e *Engine) bumpStatsTransition(ctx context.Context, rc *runCtx, taskName string, generation int, mutate func(*StatsShard)) error {
	return e.bumpStats(ctx, rc, taskName, generation, mutate)
}
