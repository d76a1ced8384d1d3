package orchestrator

import "github.com/opsforge/fleet-orchestrator/internal/domain"

// Recompute derives the parent batch status from the multiset of child
// statuses. It is the single authoritative aggregation rule, called after
// every child mutation:
//
//  1. any child running or pending  -> running
//  2. all children success          -> success
//  3. all children cancelled       -> cancelled
//  4. otherwise (mixed, >=1 failed or partially cancelled) -> failed
//
// A batch is successful only if every target succeeded; partial success
// reads as failed, with the per-child breakdown carried separately. The
// function is total and idempotent: the same multiset always yields the
// same status.
func Recompute(statuses []domain.Status) domain.Status {
	if len(statuses) == 0 {
		return domain.StatusPending
	}

	var success, cancelled int
	for _, s := range statuses {
		switch s {
		case domain.StatusRunning, domain.StatusPending:
			return domain.StatusRunning
		case domain.StatusSuccess:
			success++
		case domain.StatusCancelled:
			cancelled++
		}
	}

	switch {
	case success == len(statuses):
		return domain.StatusSuccess
	case cancelled == len(statuses):
		return domain.StatusCancelled
	default:
		return domain.StatusFailed
	}
}

func childStatuses(children []*domain.ChildExecution) []domain.Status {
	statuses := make([]domain.Status, len(children))
	for i, c := range children {
		statuses[i] = c.Status
	}
	return statuses
}
