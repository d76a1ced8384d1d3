package runnerpool

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/opsforge/fleet-orchestrator/internal/catalog"
	"github.com/opsforge/fleet-orchestrator/internal/domain"
	"github.com/opsforge/fleet-orchestrator/internal/jobstore"
	"github.com/opsforge/fleet-orchestrator/internal/orchestrator"
	"github.com/opsforge/fleet-orchestrator/internal/runnerprotocol"
)

func testExecutor(t *testing.T) (*Executor, *Queue, jobstore.Store) {
	t.Helper()

	dir := t.TempDir()
	playbookDir := filepath.Join(dir, "playbooks")
	if err := os.Mkdir(playbookDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(playbookDir, "patch-kernel.yml"), []byte("- name: Patch\n  hosts: all\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	inventory := filepath.Join(dir, "inventory.toml")
	if err := os.WriteFile(inventory, []byte("[[target]]\nid = \"web-01\"\nhost = \"web-01.internal\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cat, err := catalog.Load(playbookDir, inventory)
	if err != nil {
		t.Fatalf("catalog.Load: %v", err)
	}

	store := jobstore.NewMemoryStore()
	reg := NewRegistry()
	queue := NewQueue(reg, nil)
	pool := NewPool(PoolConfig{}, reg, queue)

	return NewExecutor(pool, nil, cat, store), queue, store
}

func resolvePlaybook(t *testing.T, e *Executor) catalog.Playbook {
	t.Helper()
	params, err := e.catalog.Resolve("patch-kernel")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	return params.(catalog.Playbook)
}

func TestExecutor_StartAndComplete(t *testing.T) {
	e, queue, _ := testExecutor(t)
	pb := resolvePlaybook(t, e)

	var mu sync.Mutex
	var gotHandle string
	var gotErr error
	completed := make(chan struct{})

	ref := orchestrator.RunRef{ChildID: "child-1", BatchID: "batch-1", TargetID: "web-01"}
	handle, err := e.Start(pb, ref, func(h string, err error) {
		mu.Lock()
		gotHandle, gotErr = h, err
		mu.Unlock()
		close(completed)
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if handle != "child-1" {
		t.Errorf("handle = %q, want the child id", handle)
	}

	// Simulate a runner finishing the run.
	queue.Complete("child-1", &runnerprotocol.RunResult{RunID: "child-1", ExitCode: 0})

	select {
	case <-completed:
	case <-time.After(2 * time.Second):
		t.Fatal("completion callback never fired")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotHandle != "child-1" {
		t.Errorf("callback handle = %q", gotHandle)
	}
	if gotErr != nil {
		t.Errorf("callback err = %v, want nil", gotErr)
	}
}

func TestExecutor_FailedRun(t *testing.T) {
	e, queue, _ := testExecutor(t)
	pb := resolvePlaybook(t, e)

	completed := make(chan error, 1)
	ref := orchestrator.RunRef{ChildID: "child-1", BatchID: "batch-1", TargetID: "web-01"}
	if _, err := e.Start(pb, ref, func(_ string, err error) {
		completed <- err
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	queue.Complete("child-1", &runnerprotocol.RunResult{RunID: "child-1", ExitCode: 2})

	select {
	case err := <-completed:
		if err == nil {
			t.Fatal("nonzero exit should surface as an error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("completion callback never fired")
	}
}

func TestExecutor_YamlPlaybookRuns(t *testing.T) {
	dir := t.TempDir()
	playbookDir := filepath.Join(dir, "playbooks")
	if err := os.Mkdir(playbookDir, 0o755); err != nil {
		t.Fatal(err)
	}
	// .yaml extension, not .yml
	if err := os.WriteFile(filepath.Join(playbookDir, "deploy.yaml"), []byte("- name: Deploy\n  hosts: all\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	inventory := filepath.Join(dir, "inventory.toml")
	if err := os.WriteFile(inventory, []byte("[[target]]\nid = \"web-01\"\nhost = \"web-01.internal\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	// The stand-in exits 2 unless the playbook path it is handed exists.
	bin := filepath.Join(dir, "fake-ansible")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n[ -f \"$1\" ] || exit 2\nexit 0\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	cat, err := catalog.Load(playbookDir, inventory)
	if err != nil {
		t.Fatalf("catalog.Load: %v", err)
	}
	store := jobstore.NewMemoryStore()
	local := NewLocalRunner(LocalConfig{PlaybookDir: playbookDir, AnsibleBinary: bin, MaxRuns: 1})
	reg := NewRegistry()
	queue := NewQueue(reg, local.Run)
	pool := NewPool(PoolConfig{}, reg, queue)
	e := NewExecutor(pool, local, cat, store)

	params, err := cat.Resolve("deploy")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	completed := make(chan error, 1)
	ref := orchestrator.RunRef{ChildID: "child-1", BatchID: "batch-1", TargetID: "web-01"}
	if _, err := e.Start(params, ref, func(_ string, err error) {
		completed <- err
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case err := <-completed:
		if err != nil {
			t.Errorf("resolved .yaml playbook failed to execute: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("completion callback never fired")
	}
}

func TestExecutor_UnknownTarget(t *testing.T) {
	e, _, _ := testExecutor(t)
	pb := resolvePlaybook(t, e)

	ref := orchestrator.RunRef{ChildID: "child-1", BatchID: "batch-1", TargetID: "mail-99"}
	if _, err := e.Start(pb, ref, func(string, error) {}); err == nil {
		t.Error("expected error for a target missing from the inventory")
	}
}

func TestExecutor_OutputBecomesChildLogs(t *testing.T) {
	e, _, store := testExecutor(t)

	// Seed the child so log appends have a record to attach to.
	seedLogChild(t, store)

	e.appendOutput("child-1", "stdout", "PLAY [Patch]\nTASK [Update apt cache]\n")
	e.appendOutput("child-1", "stderr", "warning: deprecated option\n")

	lines, err := store.GetChildLogs("child-1", 0, 100)
	if err != nil {
		t.Fatalf("GetChildLogs: %v", err)
	}
	if len(lines) != 3 {
		t.Fatalf("got %d log lines, want 3", len(lines))
	}
	for i, line := range lines {
		if line.Line != i {
			t.Errorf("line %d numbered %d", i, line.Line)
		}
	}
	if lines[0].Content != "PLAY [Patch]" {
		t.Errorf("first line = %q", lines[0].Content)
	}
	if lines[2].Level != "error" {
		t.Errorf("stderr line level = %q, want error", lines[2].Level)
	}
}

func seedLogChild(t *testing.T, store jobstore.Store) {
	t.Helper()
	batch := &domain.BatchExecution{
		ID:           "batch-1",
		ProcedureRef: "patch-kernel",
		Targets:      []string{"web-01", "web-02"},
		Policy:       domain.Policy{Strategy: domain.StrategySequential},
		Status:       domain.StatusPending,
		CreatedAt:    time.Now(),
	}
	children := []*domain.ChildExecution{
		{ID: "child-1", BatchID: batch.ID, TargetID: "web-01", SequenceIndex: 0, Status: domain.StatusPending},
		{ID: "child-2", BatchID: batch.ID, TargetID: "web-02", SequenceIndex: 1, Status: domain.StatusPending},
	}
	if err := store.CreateBatch(batch, children); err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
}
