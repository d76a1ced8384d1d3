// Package orchestrator implements the batch execution core: a coordinator
// that validates and creates batches, a per-batch dispatcher that schedules
// child executions under a concurrency policy, and the pure status
// aggregation that derives the parent state from its children.
package orchestrator

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// ConcurrencyGate bounds the number of concurrently admitted executions
// for one batch. It is safe for concurrent use from completion callbacks.
type ConcurrencyGate struct {
	sem   *semaphore.Weighted
	limit int
}

// NewConcurrencyGate creates a gate admitting up to limit executions
func NewConcurrencyGate(limit int) *ConcurrencyGate {
	if limit < 1 {
		limit = 1
	}
	return &ConcurrencyGate{sem: semaphore.NewWeighted(int64(limit)), limit: limit}
}

// TryAdmit claims a slot without blocking, returning false when full
func (g *ConcurrencyGate) TryAdmit() bool {
	return g.sem.TryAcquire(1)
}

// Admit blocks until a slot is free or ctx is done
func (g *ConcurrencyGate) Admit(ctx context.Context) error {
	return g.sem.Acquire(ctx, 1)
}

// Release frees a slot claimed by TryAdmit or Admit
func (g *ConcurrencyGate) Release() {
	g.sem.Release(1)
}

// Limit returns the gate's capacity
func (g *ConcurrencyGate) Limit() int {
	return g.limit
}
