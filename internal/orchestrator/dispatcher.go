package orchestrator

import (
	"fmt"
	"log"
	"time"

	"github.com/opsforge/fleet-orchestrator/internal/domain"
	"github.com/opsforge/fleet-orchestrator/internal/jobstore"
)

type completion struct {
	handle string
	err    error
}

// Dispatcher schedules one batch's child executions. A single goroutine
// (Run) owns every record mutation for the batch: executor completions and
// cancel requests arrive over channels, so no two writers ever touch the
// same child or parent record concurrently.
type Dispatcher struct {
	batch    *domain.BatchExecution
	children []*domain.ChildExecution // sequence_index order
	params   RunParams
	store    jobstore.Store
	exec     Executor
	gate     *ConcurrencyGate

	events   chan completion
	cancelCh chan chan struct{}
	done     chan struct{}

	sink       EventSink
	onTerminal func(batch *domain.BatchExecution, children []*domain.ChildExecution)
}

// NewDispatcher creates a dispatcher for one batch. children must be in
// sequence_index order; the dispatcher takes ownership of both records.
func NewDispatcher(
	batch *domain.BatchExecution,
	children []*domain.ChildExecution,
	params RunParams,
	store jobstore.Store,
	exec Executor,
) *Dispatcher {
	return &Dispatcher{
		batch:    batch,
		children: children,
		params:   params,
		store:    store,
		exec:     exec,
		gate:     NewConcurrencyGate(batch.Policy.Window()),
		events:   make(chan completion, len(children)+1),
		cancelCh: make(chan chan struct{}),
		done:     make(chan struct{}),
	}
}

// SetEventSink registers a non-blocking sink for state-change events
func (d *Dispatcher) SetEventSink(sink EventSink) {
	d.sink = sink
}

// SetTerminalFunc registers the hook invoked once when the batch reaches
// a terminal state
func (d *Dispatcher) SetTerminalFunc(fn func(*domain.BatchExecution, []*domain.ChildExecution)) {
	d.onTerminal = fn
}

// Done is closed when the dispatcher's run loop has exited
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Cancel marks all still-pending children cancelled and requests
// cooperative cancellation of running ones. It returns once the pending
// children are marked; it does not wait for in-flight executions to stop.
func (d *Dispatcher) Cancel() {
	reply := make(chan struct{})
	select {
	case d.cancelCh <- reply:
		<-reply
	case <-d.done:
		// Run loop already finished; every child is terminal
	}
}

// Run drives the batch to a terminal state. Admission is strictly in
// sequence_index order; the concurrency gate bounds the in-flight set
// (window 1 under the sequential strategy). Run returns early only on a
// store failure, leaving the records in their last persisted state.
func (d *Dispatcher) Run() {
	defer close(d.done)

	inFlight := make(map[string]*domain.ChildExecution)
	next := 0
	halted := false

	for {
		// Admission phase: fill the window with pending children in order
		for !halted && next < len(d.children) {
			c := d.children[next]
			if c.Status != domain.StatusPending {
				next++
				continue
			}
			if !d.gate.TryAdmit() {
				break
			}
			next++

			if err := d.markRunning(c); err != nil {
				d.abort(err)
				return
			}

			ref := RunRef{ChildID: c.ID, BatchID: d.batch.ID, TargetID: c.TargetID}
			handle, err := d.exec.Start(d.params, ref, d.complete)
			if err != nil {
				// A start failure is a normal failed outcome for the child
				d.gate.Release()
				if ferr := d.finish(c, fmt.Errorf("executor start: %w", err)); ferr != nil {
					d.abort(ferr)
					return
				}
				if d.batch.Policy.StopOnFailure && !halted {
					halted = true
					if herr := d.halt(inFlight); herr != nil {
						d.abort(herr)
						return
					}
				}
				continue
			}

			c.ExecutorHandle = handle
			if err := d.store.UpdateChild(c); err != nil {
				d.abort(err)
				return
			}
			inFlight[handle] = c
		}

		if len(inFlight) == 0 && !d.hasPending() {
			break
		}

		select {
		case ev := <-d.events:
			c, ok := inFlight[ev.handle]
			if !ok {
				// Unknown or duplicate handle; terminal states are sticky
				continue
			}
			delete(inFlight, ev.handle)
			d.gate.Release()

			if err := d.finish(c, ev.err); err != nil {
				d.abort(err)
				return
			}

			if ev.err != nil && d.batch.Policy.StopOnFailure && !halted {
				halted = true
				if err := d.halt(inFlight); err != nil {
					d.abort(err)
					return
				}
			}

		case reply := <-d.cancelCh:
			halted = true
			err := d.halt(inFlight)
			close(reply)
			if err != nil {
				d.abort(err)
				return
			}
		}
	}

	if d.batch.Status.Terminal() && d.onTerminal != nil {
		d.onTerminal(d.batch, d.children)
	}
}

// complete is handed to the Executor as the completion callback. The
// events channel is sized for one completion per child, so the send
// never blocks an executor goroutine.
func (d *Dispatcher) complete(handle string, err error) {
	d.events <- completion{handle: handle, err: err}
}

func (d *Dispatcher) markRunning(c *domain.ChildExecution) error {
	now := time.Now()
	c.Status = domain.StatusRunning
	c.StartedAt = &now
	if err := d.store.UpdateChild(c); err != nil {
		return err
	}
	d.emitChild(c)

	if d.batch.Status == domain.StatusPending {
		d.batch.Status = domain.StatusRunning
		d.batch.StartedAt = &now
		if err := d.store.UpdateParent(d.batch.ID, domain.StatusRunning, &now, nil); err != nil {
			return err
		}
		d.emitBatch()
	}
	return nil
}

// finish records a child's terminal outcome and recomputes the parent.
// Only this path may set a terminal status on an admitted child: a
// cancellation request never overwrites the outcome that actually arrives.
func (d *Dispatcher) finish(c *domain.ChildExecution, runErr error) error {
	now := time.Now()
	if runErr != nil {
		c.Status = domain.StatusFailed
		c.Error = runErr.Error()
	} else {
		c.Status = domain.StatusSuccess
	}
	c.CompletedAt = &now

	if err := d.store.UpdateChild(c); err != nil {
		return err
	}
	d.emitChild(c)

	return d.recompute()
}

// halt cancels every still-pending child so it is never admitted, and
// asks running ones to stop cooperatively
func (d *Dispatcher) halt(inFlight map[string]*domain.ChildExecution) error {
	now := time.Now()
	for _, c := range d.children {
		if c.Status != domain.StatusPending {
			continue
		}
		c.Status = domain.StatusCancelled
		c.CompletedAt = &now
		if err := d.store.UpdateChild(c); err != nil {
			return err
		}
		d.emitChild(c)
	}

	for handle := range inFlight {
		d.exec.RequestCancel(handle)
	}

	return d.recompute()
}

func (d *Dispatcher) recompute() error {
	status := Recompute(childStatuses(d.children))
	if status == d.batch.Status {
		return nil
	}

	d.batch.Status = status
	var completedAt *time.Time
	if status.Terminal() {
		now := time.Now()
		completedAt = &now
		d.batch.CompletedAt = completedAt
	}

	if err := d.store.UpdateParent(d.batch.ID, status, nil, completedAt); err != nil {
		return err
	}
	d.emitBatch()
	return nil
}

func (d *Dispatcher) hasPending() bool {
	for _, c := range d.children {
		if c.Status == domain.StatusPending {
			return true
		}
	}
	return false
}

func (d *Dispatcher) abort(err error) {
	log.Printf("batch %s: dispatch aborted: %v", d.batch.ID, err)
}

func (d *Dispatcher) emitChild(c *domain.ChildExecution) {
	if d.sink != nil {
		cc := *c
		d.sink(Event{Type: "child_update", Child: &cc})
	}
}

func (d *Dispatcher) emitBatch() {
	if d.sink != nil {
		b := *d.batch
		d.sink(Event{Type: "batch_update", Batch: &b})
	}
}
