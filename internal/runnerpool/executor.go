package runnerpool

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/opsforge/fleet-orchestrator/internal/catalog"
	"github.com/opsforge/fleet-orchestrator/internal/jobstore"
	"github.com/opsforge/fleet-orchestrator/internal/orchestrator"
	"github.com/opsforge/fleet-orchestrator/internal/runnerprotocol"
)

// Executor adapts the runner pool to the orchestrator's Executor
// interface. Each child execution maps to one run, identified by the
// child's id, so streamed output lands on the right log record.
type Executor struct {
	queue   *Queue
	pool    *Pool
	local   *LocalRunner
	catalog *catalog.Catalog
	store   jobstore.Store

	mu       sync.Mutex
	nextLine map[string]int // run id -> next log line number
}

// NewExecutor wires the pool, the embedded local runner, and the log
// store together. local may be nil when in-process fallback is disabled.
func NewExecutor(pool *Pool, local *LocalRunner, cat *catalog.Catalog, store jobstore.Store) *Executor {
	e := &Executor{
		queue:    pool.Queue(),
		pool:     pool,
		local:    local,
		catalog:  cat,
		store:    store,
		nextLine: make(map[string]int),
	}
	pool.SetOutputFunc(e.appendOutput)
	if local != nil {
		local.SetOutputFunc(e.appendOutput)
	}
	return e
}

// Start submits one playbook run for one target. The returned handle is
// the child execution id.
func (e *Executor) Start(params orchestrator.RunParams, ref orchestrator.RunRef, done orchestrator.CompletionFunc) (string, error) {
	pb, ok := params.(catalog.Playbook)
	if !ok {
		return "", fmt.Errorf("unexpected run params %T", params)
	}

	target, err := e.catalog.ResolveTarget(ref.TargetID)
	if err != nil {
		return "", fmt.Errorf("resolving target %s: %w", ref.TargetID, err)
	}

	run := &runnerprotocol.RunMessage{
		RunID:     ref.ChildID,
		Playbook:  pb.Ref,
		File:      filepath.Base(pb.Path),
		Host:      target.Host,
		Port:      target.Port,
		SSHUser:   target.SSHUser,
		ExtraVars: pb.Vars,
	}

	resultCh := e.queue.Submit(run)
	e.queue.TryAssign()

	go func() {
		result := <-resultCh
		e.dropLineCounter(run.RunID)

		if result.Failed() {
			msg := result.Error
			if msg == "" {
				msg = fmt.Sprintf("playbook exited with code %d", result.ExitCode)
			}
			done(run.RunID, fmt.Errorf("%s on %s: %s", pb.Ref, target.Host, msg))
			return
		}
		done(run.RunID, nil)
	}()

	return run.RunID, nil
}

// RequestCancel asks whichever runner holds the run to stop it
func (e *Executor) RequestCancel(handle string) {
	if err := e.pool.SendCancel(handle); err != nil {
		log.Printf("run %s: cancel not delivered: %v", handle, err)
	}
	if e.local != nil {
		e.local.Cancel(handle)
	}
}

// appendOutput persists streamed run output as child log lines
func (e *Executor) appendOutput(runID, stream, data string) {
	level := "info"
	if stream == "stderr" {
		level = "error"
	}

	now := time.Now()
	var lines []jobstore.LogLine

	e.mu.Lock()
	for _, content := range strings.Split(strings.TrimRight(data, "\n"), "\n") {
		lines = append(lines, jobstore.LogLine{
			Line:      e.nextLine[runID],
			Content:   content,
			Level:     level,
			Timestamp: now,
		})
		e.nextLine[runID]++
	}
	e.mu.Unlock()

	if err := e.store.AppendChildLogs(runID, lines); err != nil {
		log.Printf("run %s: appending logs: %v", runID, err)
	}
}

func (e *Executor) dropLineCounter(runID string) {
	e.mu.Lock()
	delete(e.nextLine, runID)
	e.mu.Unlock()
}
