// Package runneragent implements the runner side of the fleet execution
// pool: an ansible-playbook executor and a WebSocket client that receives
// run assignments from the coordinator.
package runneragent

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"time"
)

// Run describes one playbook run against one host
type Run struct {
	ID        string
	Playbook  string
	File      string // playbook file name; Playbook + ".yml" when empty
	Host      string
	Port      int
	SSHUser   string
	ExtraVars map[string]string
}

// Result is the terminal outcome of a run
type Result struct {
	ExitCode     int
	DurationSecs float64
}

// OutputCallback is called for each line of playbook output
type OutputCallback func(stream, data string)

// AnsibleConfig configures the playbook executor
type AnsibleConfig struct {
	PlaybookDir string
	Binary      string // defaults to "ansible-playbook"
}

// Ansible runs playbooks against single hosts via ansible-playbook
type Ansible struct {
	config AnsibleConfig
}

// NewAnsible creates a playbook executor
func NewAnsible(config AnsibleConfig) *Ansible {
	if config.Binary == "" {
		config.Binary = "ansible-playbook"
	}
	return &Ansible{config: config}
}

// RunPlaybook executes one run and streams its output. A nonzero exit
// code is a normal result, not an error; errors mean the process could
// not run at all.
func (a *Ansible) RunPlaybook(ctx context.Context, run Run, onOutput OutputCallback) (*Result, error) {
	start := time.Now()

	file := run.File
	if file == "" {
		file = run.Playbook + ".yml"
	}
	playbookPath := filepath.Join(a.config.PlaybookDir, file)
	args := []string{
		playbookPath,
		"-i", run.Host + ",",
	}
	if run.Port != 0 {
		args = append(args, "-e", fmt.Sprintf("ansible_port=%d", run.Port))
	}
	if run.SSHUser != "" {
		args = append(args, "-u", run.SSHUser)
	}
	for k, v := range run.ExtraVars {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, v))
	}

	cmd := exec.CommandContext(ctx, a.config.Binary, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", a.config.Binary, err)
	}

	done := make(chan struct{})
	go func() {
		streamLines(stdout, "stdout", onOutput)
		done <- struct{}{}
	}()
	go func() {
		streamLines(stderr, "stderr", onOutput)
		done <- struct{}{}
	}()
	<-done
	<-done

	err = cmd.Wait()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("%s failed: %w", a.config.Binary, err)
		}
	}

	if ctx.Err() == context.Canceled {
		return nil, fmt.Errorf("run cancelled")
	}

	return &Result{
		ExitCode:     exitCode,
		DurationSecs: time.Since(start).Seconds(),
	}, nil
}

func streamLines(r io.Reader, stream string, onOutput OutputCallback) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if onOutput != nil {
			onOutput(stream, scanner.Text()+"\n")
		}
	}
}
