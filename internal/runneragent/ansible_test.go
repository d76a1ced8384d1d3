package runneragent

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// fakeAnsible writes a shell script standing in for ansible-playbook
func fakeAnsible(t *testing.T, script string) *Ansible {
	t.Helper()
	dir := t.TempDir()
	bin := filepath.Join(dir, "fake-ansible")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatal(err)
	}
	return NewAnsible(AnsibleConfig{PlaybookDir: dir, Binary: bin})
}

func TestAnsible_RunPlaybookSuccess(t *testing.T) {
	a := fakeAnsible(t, `echo "PLAY [all]"; echo "ok=1 changed=0" >&2; exit 0`)

	var mu []string
	result, err := a.RunPlaybook(context.Background(), Run{
		ID:       "run-1",
		Playbook: "patch-kernel",
		Host:     "web-01.internal",
		Port:     2222,
		SSHUser:  "deploy",
	}, func(stream, data string) {
		mu = append(mu, stream+":"+strings.TrimSpace(data))
	})
	if err != nil {
		t.Fatalf("RunPlaybook: %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", result.ExitCode)
	}
	if len(mu) != 2 {
		t.Fatalf("got %d output lines, want 2: %v", len(mu), mu)
	}
	if mu[0] != "stdout:PLAY [all]" && mu[1] != "stdout:PLAY [all]" {
		t.Errorf("stdout line missing: %v", mu)
	}
}

func TestAnsible_RunPlaybookNonzeroExit(t *testing.T) {
	a := fakeAnsible(t, `echo "fatal: unreachable"; exit 4`)

	result, err := a.RunPlaybook(context.Background(), Run{
		ID:       "run-1",
		Playbook: "patch-kernel",
		Host:     "web-01.internal",
	}, nil)
	if err != nil {
		t.Fatalf("nonzero exit should not be an error: %v", err)
	}
	if result.ExitCode != 4 {
		t.Errorf("exit code = %d, want 4", result.ExitCode)
	}
}

func TestAnsible_RunPlaybookFile(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "fake-ansible")
	// The stand-in refuses to run a playbook that does not exist on disk,
	// the same way the real ansible-playbook does.
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n[ -f \"$1\" ] || exit 2\nexit 0\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "deploy.yaml"), []byte("- name: Deploy\n  hosts: all\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	a := NewAnsible(AnsibleConfig{PlaybookDir: dir, Binary: bin})

	// A .yaml playbook runs when the run carries its file name.
	result, err := a.RunPlaybook(context.Background(), Run{
		ID:       "run-1",
		Playbook: "deploy",
		File:     "deploy.yaml",
		Host:     "web-01.internal",
	}, nil)
	if err != nil {
		t.Fatalf("RunPlaybook: %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", result.ExitCode)
	}

	// Without a file name the ref falls back to .yml, which is absent.
	result, err = a.RunPlaybook(context.Background(), Run{
		ID:       "run-2",
		Playbook: "deploy",
		Host:     "web-01.internal",
	}, nil)
	if err != nil {
		t.Fatalf("RunPlaybook: %v", err)
	}
	if result.ExitCode != 2 {
		t.Errorf("exit code = %d, want 2", result.ExitCode)
	}
}

func TestAnsible_RunPlaybookCancelled(t *testing.T) {
	a := fakeAnsible(t, `sleep 10`)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := a.RunPlaybook(ctx, Run{
		ID:       "run-1",
		Playbook: "patch-kernel",
		Host:     "web-01.internal",
	}, nil)
	if err == nil {
		t.Fatal("cancelled run should return an error")
	}
}

func TestAnsible_MissingBinary(t *testing.T) {
	a := NewAnsible(AnsibleConfig{PlaybookDir: t.TempDir(), Binary: "/nonexistent/ansible-playbook"})
	_, err := a.RunPlaybook(context.Background(), Run{ID: "r", Playbook: "x", Host: "h"}, nil)
	if err == nil {
		t.Fatal("expected error for missing binary")
	}
}
