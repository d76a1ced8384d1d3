package main

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/opsforge/fleet-orchestrator/internal/runneragent"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

var (
	configPath  string
	serverURL   string
	runnerID    string
	maxRuns     int
	playbookDir string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fleet-runner",
		Short: "Playbook runner that connects to a fleet orchestrator",
		RunE:  run,
	}

	rootCmd.Flags().StringVar(&configPath, "config", "", "Path to config file")
	rootCmd.Flags().StringVar(&serverURL, "server", "", "Orchestrator WebSocket URL")
	rootCmd.Flags().StringVar(&runnerID, "id", "", "Runner ID")
	rootCmd.Flags().IntVar(&maxRuns, "runs", 2, "Maximum concurrent playbook runs")
	rootCmd.Flags().StringVar(&playbookDir, "playbooks", "", "Directory containing playbooks")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Config defines the fleet-runner configuration file format
type Config struct {
	Server struct {
		URL string `toml:"url"`
	} `toml:"server"`
	Runner struct {
		ID      string `toml:"id"`
		MaxRuns int    `toml:"max_runs"`
	} `toml:"runner"`
	Ansible struct {
		PlaybookDir string `toml:"playbook_dir"`
		Binary      string `toml:"binary"`
	} `toml:"ansible"`
}

// Default config file locations (checked in order)
var defaultConfigPaths = []string{
	"/etc/fleet-runner/config.toml",
	"/etc/fleet-runner.toml",
}

func run(cmd *cobra.Command, args []string) error {
	var cfg Config

	cfgPath := configPath
	if cfgPath == "" {
		for _, p := range defaultConfigPaths {
			if _, err := os.Stat(p); err == nil {
				cfgPath = p
				break
			}
		}
	}
	if cfgPath != "" {
		data, err := os.ReadFile(cfgPath)
		if err != nil {
			return fmt.Errorf("reading config %s: %w", cfgPath, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("parsing config %s: %w", cfgPath, err)
		}
		fmt.Printf("Loaded config from %s\n", cfgPath)
	}

	// CLI flags override config (only if explicitly set)
	if serverURL != "" {
		cfg.Server.URL = serverURL
	}
	if runnerID != "" {
		cfg.Runner.ID = runnerID
	}
	if cmd.Flags().Changed("runs") {
		cfg.Runner.MaxRuns = maxRuns
	}
	if playbookDir != "" {
		cfg.Ansible.PlaybookDir = playbookDir
	}

	// Defaults
	if cfg.Runner.MaxRuns == 0 {
		cfg.Runner.MaxRuns = 2
	}
	if cfg.Runner.ID == "" {
		hostname, _ := os.Hostname()
		cfg.Runner.ID = hostname
	}
	if cfg.Ansible.Binary == "" {
		cfg.Ansible.Binary = "ansible-playbook"
	}

	if _, err := exec.LookPath(cfg.Ansible.Binary); err != nil {
		return fmt.Errorf("%s not found in PATH; install ansible first", cfg.Ansible.Binary)
	}

	agent, err := runneragent.NewAgent(runneragent.AgentConfig{
		ServerURL:     cfg.Server.URL,
		RunnerID:      cfg.Runner.ID,
		MaxRuns:       cfg.Runner.MaxRuns,
		PlaybookDir:   cfg.Ansible.PlaybookDir,
		AnsibleBinary: cfg.Ansible.Binary,
	})
	if err != nil {
		return fmt.Errorf("creating runner: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nShutting down...")
		agent.Stop()
	}()

	fmt.Printf("Starting runner %s connecting to %s (max_runs=%d)...\n",
		cfg.Runner.ID, cfg.Server.URL, cfg.Runner.MaxRuns)

	return agent.RunWithReconnect()
}
