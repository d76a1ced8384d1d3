package orchestrator

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opsforge/fleet-orchestrator/internal/domain"
	"github.com/opsforge/fleet-orchestrator/internal/jobstore"
	"github.com/opsforge/fleet-orchestrator/internal/notify"
)

// Coordinator is the public entry point for batch execution. It validates
// submit requests, creates the records, hands the schedule to a per-batch
// dispatcher, and exposes query and cancel operations.
type Coordinator struct {
	store    jobstore.Store
	catalog  Catalog
	exec     Executor
	notifier notify.Notifier
	sink     EventSink

	mu     sync.Mutex
	active map[string]*Dispatcher // batch id -> running dispatcher
}

// NewCoordinator creates a coordinator. notifier may be nil to disable
// terminal notifications.
func NewCoordinator(store jobstore.Store, catalog Catalog, exec Executor, notifier notify.Notifier) *Coordinator {
	if notifier == nil {
		notifier = notify.NoopNotifier{}
	}
	return &Coordinator{
		store:    store,
		catalog:  catalog,
		exec:     exec,
		notifier: notifier,
		active:   make(map[string]*Dispatcher),
	}
}

// SetEventSink registers a non-blocking sink for state-change events
func (c *Coordinator) SetEventSink(sink EventSink) {
	c.sink = sink
}

// Submit validates the request, atomically creates the parent and one
// pending child per target, and starts the dispatcher asynchronously. The
// returned parent still reads pending; the transition to running is
// observed by polling GetBatch. Two identical submits create two
// independent batches.
func (c *Coordinator) Submit(procedureRef string, targets []string, policy domain.Policy) (*domain.BatchExecution, error) {
	if err := domain.ValidateRequest(targets, policy); err != nil {
		return nil, err
	}

	params, err := c.catalog.Resolve(procedureRef)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrUnknownProcedure, procedureRef, err)
	}
	for _, id := range targets {
		if _, err := c.catalog.ResolveTarget(id); err != nil {
			return nil, fmt.Errorf("%w: %s", domain.ErrUnknownTarget, id)
		}
	}

	parent := &domain.BatchExecution{
		ID:           uuid.NewString(),
		ProcedureRef: procedureRef,
		Targets:      targets,
		Policy:       policy,
		Status:       domain.StatusPending,
		CreatedAt:    time.Now(),
	}

	children := make([]*domain.ChildExecution, len(targets))
	for i, target := range targets {
		children[i] = &domain.ChildExecution{
			ID:            uuid.NewString(),
			BatchID:       parent.ID,
			TargetID:      target,
			SequenceIndex: i,
			Status:        domain.StatusPending,
		}
	}

	if err := c.store.CreateBatch(parent, children); err != nil {
		return nil, fmt.Errorf("creating batch: %w", err)
	}

	d := NewDispatcher(cloneBatch(parent), cloneChildren(children), params, c.store, c.exec)
	d.SetEventSink(c.sink)
	d.SetTerminalFunc(c.batchFinished)

	c.mu.Lock()
	c.active[parent.ID] = d
	c.mu.Unlock()

	go func() {
		d.Run()
		c.mu.Lock()
		delete(c.active, parent.ID)
		c.mu.Unlock()
	}()

	log.Printf("batch %s: submitted %s against %d targets (%s)",
		parent.ID, procedureRef, len(targets), policy.Strategy)

	return parent, nil
}

// GetBatch returns the parent record and its children in sequence order
func (c *Coordinator) GetBatch(id string) (*domain.BatchExecution, []*domain.ChildExecution, error) {
	batch, err := c.store.GetBatch(id)
	if err != nil {
		return nil, nil, err
	}
	children, err := c.store.ListChildren(id)
	if err != nil {
		return nil, nil, err
	}
	return batch, children, nil
}

// ListChildren returns a batch's children in sequence order
func (c *Coordinator) ListChildren(batchID string) ([]*domain.ChildExecution, error) {
	if _, err := c.store.GetBatch(batchID); err != nil {
		return nil, err
	}
	return c.store.ListChildren(batchID)
}

// CancelBatch cancels all still-pending children immediately and requests
// cooperative cancellation of running ones. It does not wait for in-flight
// children to stop; their eventual natural outcome stands. Cancelling an
// already-terminal batch is a no-op.
func (c *Coordinator) CancelBatch(id string) error {
	if _, err := c.store.GetBatch(id); err != nil {
		return err
	}

	c.mu.Lock()
	d := c.active[id]
	c.mu.Unlock()

	if d == nil {
		// No running dispatcher: the batch is already terminal
		return nil
	}

	d.Cancel()
	log.Printf("batch %s: cancellation requested", id)
	return nil
}

// ActiveCount returns the number of batches with a running dispatcher
func (c *Coordinator) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// batchFinished runs exactly once per batch, when its dispatcher observes
// the terminal parent state
func (c *Coordinator) batchFinished(batch *domain.BatchExecution, children []*domain.ChildExecution) {
	summary := domain.Summarize(children)
	log.Printf("batch %s: %s (%s)", batch.ID, batch.Status, summary)

	n := notify.Notification{
		Title:   fmt.Sprintf("Batch %s %s", batch.ProcedureRef, batch.Status),
		Message: summary.String(),
		BatchID: batch.ID,
		Type:    notificationType(batch.Status),
	}
	if err := c.notifier.Send(n); err != nil {
		log.Printf("batch %s: notification failed: %v", batch.ID, err)
	}
}

func notificationType(s domain.Status) notify.NotificationType {
	switch s {
	case domain.StatusSuccess:
		return notify.NotifySuccess
	case domain.StatusFailed:
		return notify.NotifyError
	case domain.StatusCancelled:
		return notify.NotifyWarning
	default:
		return notify.NotifyInfo
	}
}

func cloneBatch(b *domain.BatchExecution) *domain.BatchExecution {
	copy := *b
	return &copy
}

func cloneChildren(children []*domain.ChildExecution) []*domain.ChildExecution {
	out := make([]*domain.ChildExecution, len(children))
	for i, c := range children {
		cc := *c
		out[i] = &cc
	}
	return out
}
