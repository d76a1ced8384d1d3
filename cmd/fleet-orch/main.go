package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags
var version = "dev"

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "fleet-orch",
		Short: "Fleet Orchestrator - Batch automation across host fleets",
		Long: `Fleet Orchestrator runs Ansible playbooks against groups of hosts.
It dispatches one run per target under a parallel or sequential policy,
tracks per-target outcomes, and serves an HTTP API for submitting and
monitoring batches.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("fleet-orch " + version)
		},
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
