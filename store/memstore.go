// Package store provides MarkingStore implementations for the
// workflow engine: an in-memory implementation used as the primary
// test double, and a NATS JetStream KV-backed implementation for
// production use.
package store

import (
	"context"
	"sync"

	"github.com/c360studio/flowengine/engine"
)

// MemStore is an in-memory engine.MarkingStore. It serializes
// transactions per root workflow id with a per-root mutex, mirroring
// the persistence contract's "single-command-at-a-time per workflow
// root" requirement, while allowing different roots to proceed
// concurrently.
type MemStore struct {
	mu    sync.Mutex
	roots map[engine.WorkflowID]*sync.Mutex

	data *memData
}

// NewMemStore builds an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		roots: make(map[engine.WorkflowID]*sync.Mutex),
		data:  newMemData(),
	}
}

func (s *MemStore) rootLock(id engine.WorkflowID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.roots[id]
	if !ok {
		l = &sync.Mutex{}
		s.roots[id] = l
	}
	return l
}

// Begin locks the root's mutex for the duration of the transaction and
// hands back a memTx that mutates the shared maps directly, recording
// an undo entry for every write so Rollback can restore the
// pre-transaction values.
func (s *MemStore) Begin(ctx context.Context, rootWorkflowID engine.WorkflowID) (engine.Transaction, error) {
	lock := s.rootLock(rootWorkflowID)
	lock.Lock()
	return &memTx{store: s, lock: lock}, nil
}
