package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagBaseDir string
	flagRunID   string
)

var rootCmd = &cobra.Command{
	Use:   "agent-orchestrator",
	Short: "Autonomous multi-agent software-delivery orchestrator",
	Long: `agent-orchestrator decomposes an operator instruction into independent
sub-tasks, schedules them across a pool of workers, and merges their
results back through an approved pull-request lifecycle.

Available commands:
  submit   Decompose an instruction into sub-tasks and schedule them
  status   Show progress for a run
  pr       Inspect and approve pull requests
  worker   Inspect and manage the worker pool
  version  Show version information

Use "agent-orchestrator [command] --help" for more information about a command.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = Version()
	rootCmd.PersistentFlags().StringVar(&flagBaseDir, "base-dir", "", "workspace base directory (defaults to ./.orchestrator)")
	rootCmd.PersistentFlags().StringVar(&flagRunID, "run", "", "run id to operate against (required by status/pr/worker)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(prCmd)
	rootCmd.AddCommand(workerCmd)
}
