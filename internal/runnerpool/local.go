package runnerpool

import (
	"context"
	"sync"

	"github.com/opsforge/fleet-orchestrator/internal/runneragent"
	"github.com/opsforge/fleet-orchestrator/internal/runnerprotocol"
)

// LocalConfig configures the embedded local runner
type LocalConfig struct {
	PlaybookDir   string
	AnsibleBinary string
	MaxRuns       int
}

// LocalRunner executes runs in-process when no runner is connected
type LocalRunner struct {
	ansible *runneragent.Ansible
	pool    *runneragent.Pool

	mu       sync.Mutex
	cancels  map[string]context.CancelFunc
	outputFn OutputFunc
}

// NewLocalRunner creates an embedded runner
func NewLocalRunner(config LocalConfig) *LocalRunner {
	if config.MaxRuns < 1 {
		config.MaxRuns = 2
	}
	return &LocalRunner{
		ansible: runneragent.NewAnsible(runneragent.AnsibleConfig{
			PlaybookDir: config.PlaybookDir,
			Binary:      config.AnsibleBinary,
		}),
		pool:    runneragent.NewPool(config.MaxRuns),
		cancels: make(map[string]context.CancelFunc),
	}
}

// SetOutputFunc registers the sink for streamed run output
func (l *LocalRunner) SetOutputFunc(fn OutputFunc) {
	l.outputFn = fn
}

// Run executes one run and returns the result
func (l *LocalRunner) Run(run *runnerprotocol.RunMessage) *runnerprotocol.RunResult {
	if !l.pool.Acquire() {
		return &runnerprotocol.RunResult{
			RunID:    run.RunID,
			ExitCode: -1,
			Error:    "local runner: no slots available",
		}
	}
	defer l.pool.Release()

	ctx, cancel := context.WithCancel(context.Background())
	l.mu.Lock()
	l.cancels[run.RunID] = cancel
	l.mu.Unlock()
	defer func() {
		cancel()
		l.mu.Lock()
		delete(l.cancels, run.RunID)
		l.mu.Unlock()
	}()

	result, err := l.ansible.RunPlaybook(ctx, runneragent.Run{
		ID:        run.RunID,
		Playbook:  run.Playbook,
		File:      run.File,
		Host:      run.Host,
		Port:      run.Port,
		SSHUser:   run.SSHUser,
		ExtraVars: run.ExtraVars,
	}, func(stream, data string) {
		if l.outputFn != nil {
			l.outputFn(run.RunID, stream, data)
		}
	})

	if err != nil {
		return &runnerprotocol.RunResult{
			RunID:    run.RunID,
			ExitCode: -1,
			Error:    "local runner: " + err.Error(),
		}
	}

	return &runnerprotocol.RunResult{
		RunID:        run.RunID,
		ExitCode:     result.ExitCode,
		DurationSecs: result.DurationSecs,
	}
}

// Cancel stops a local run if it is in flight
func (l *LocalRunner) Cancel(runID string) {
	l.mu.Lock()
	cancel := l.cancels[runID]
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Available returns the number of free run slots
func (l *LocalRunner) Available() int {
	return l.pool.Available()
}
