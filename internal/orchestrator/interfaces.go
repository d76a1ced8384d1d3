package orchestrator

import "github.com/opsforge/fleet-orchestrator/internal/domain"

// RunParams carries the runnable parameters resolved by the Catalog.
// The orchestrator passes it through to the Executor unmodified.
type RunParams = any

// Catalog resolves the opaque references carried by a submit request.
// Resolution failures are surfaced to the submitter as invalid requests.
type Catalog interface {
	Resolve(procedureRef string) (RunParams, error)
	ResolveTarget(targetID string) (domain.Target, error)
}

// CompletionFunc is invoked by the Executor exactly once per started
// execution, when it reaches a terminal outcome. err is nil on success.
type CompletionFunc func(handle string, err error)

// RunRef identifies one child execution to the Executor, so it can
// attribute output and results to the right record.
type RunRef struct {
	ChildID  string
	BatchID  string
	TargetID string
}

// Executor performs one target's procedure. Start returns an opaque handle
// used for cancellation; completion is reported asynchronously through the
// callback. RequestCancel is best-effort and fire-and-forget: a running
// execution may still finish with either outcome after it is called.
type Executor interface {
	Start(params RunParams, ref RunRef, done CompletionFunc) (handle string, err error)
	RequestCancel(handle string)
}

// Event is published on batch and child state changes, for SSE fan-out
type Event struct {
	Type  string                 `json:"type"` // "batch_update" or "child_update"
	Batch *domain.BatchExecution `json:"-"`
	Child *domain.ChildExecution `json:"-"`
}

// EventSink receives orchestrator events. It must not block.
type EventSink func(Event)
