package runnerpool

import (
	"sync"

	"github.com/opsforge/fleet-orchestrator/internal/runnerprotocol"
)

// PendingRun tracks a run waiting for assignment or completion
type PendingRun struct {
	Run      *runnerprotocol.RunMessage
	ResultCh chan *runnerprotocol.RunResult
	RunnerID string // Assigned runner (empty if queued)
}

// SendFunc sends a run assignment to a runner
type SendFunc func(r *ConnectedRunner, run *runnerprotocol.RunMessage) error

// LocalRunFunc executes a run on the embedded local runner
type LocalRunFunc func(run *runnerprotocol.RunMessage) *runnerprotocol.RunResult

// Queue manages run assignment across the registry
type Queue struct {
	registry *Registry
	local    LocalRunFunc
	sendFunc SendFunc

	queue   []*PendingRun
	pending map[string]*PendingRun // run id -> pending run
	mu      sync.Mutex
}

// NewQueue creates a run assignment queue
func NewQueue(registry *Registry, local LocalRunFunc) *Queue {
	return &Queue{
		registry: registry,
		local:    local,
		pending:  make(map[string]*PendingRun),
	}
}

// SetSendFunc sets the function used to send runs to runners
func (q *Queue) SetSendFunc(fn SendFunc) {
	q.sendFunc = fn
}

// Submit adds a run to the queue and returns a channel for the result
func (q *Queue) Submit(run *runnerprotocol.RunMessage) chan *runnerprotocol.RunResult {
	q.mu.Lock()
	defer q.mu.Unlock()

	resultCh := make(chan *runnerprotocol.RunResult, 1)
	pending := &PendingRun{
		Run:      run,
		ResultCh: resultCh,
	}

	q.queue = append(q.queue, pending)
	q.pending[run.RunID] = pending

	return resultCh
}

// TryAssign attempts to assign queued runs to available runners. Runs fall
// back to the embedded local runner when no runner is connected.
func (q *Queue) TryAssign() {
	q.mu.Lock()
	defer q.mu.Unlock()

	var remaining []*PendingRun

	for _, pr := range q.queue {
		runner := q.registry.FindReady()

		if runner != nil && q.sendFunc != nil {
			runner.DecrementSlots()
			pr.RunnerID = runner.ID

			if err := q.sendFunc(runner, pr.Run); err != nil {
				// Send failed, keep in queue
				pr.RunnerID = ""
				remaining = append(remaining, pr)
				continue
			}
		} else if q.local != nil && q.registry.Count() == 0 {
			go func(pr *PendingRun) {
				result := q.local(pr.Run)
				q.Complete(pr.Run.RunID, result)
			}(pr)
		} else {
			remaining = append(remaining, pr)
		}
	}

	q.queue = remaining
}

// Complete marks a run as complete and delivers the result
func (q *Queue) Complete(runID string, result *runnerprotocol.RunResult) {
	q.mu.Lock()
	pr, ok := q.pending[runID]
	if ok {
		delete(q.pending, runID)
	}
	q.mu.Unlock()

	if ok && pr.ResultCh != nil {
		pr.ResultCh <- result
		close(pr.ResultCh)
	}
}

// AssignedRunner returns the runner currently assigned to a run, or ""
func (q *Queue) AssignedRunner(runID string) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	if pr, ok := q.pending[runID]; ok {
		return pr.RunnerID
	}
	return ""
}

// FailRunnerRuns completes every run assigned to the given runner with an
// error result. Called when a runner disconnects: a playbook must not be
// re-run silently, so the run fails instead of being requeued.
func (q *Queue) FailRunnerRuns(runnerID, reason string) {
	q.mu.Lock()
	var lost []string
	for id, pr := range q.pending {
		if pr.RunnerID == runnerID {
			lost = append(lost, id)
		}
	}
	q.mu.Unlock()

	for _, id := range lost {
		q.Complete(id, &runnerprotocol.RunResult{
			RunID:    id,
			ExitCode: -1,
			Error:    reason,
		})
	}
}

// QueueLength returns the number of runs waiting for assignment
func (q *Queue) QueueLength() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// PendingCount returns the number of pending runs (queued + in-progress)
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
