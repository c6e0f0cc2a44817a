package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kawanishi0117/agent-orchestrator/pkg/models"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Inspect and manage the worker pool",
}

var workerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every worker hired for a run",
	Args:  cobra.NoArgs,
	RunE:  runWorkerList,
}

var workerFailuresCmd = &cobra.Command{
	Use:   "failures <worker-id>",
	Short: "Show the failure history recorded for a worker",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkerFailures,
}

func init() {
	workerCmd.AddCommand(workerListCmd, workerFailuresCmd)
}

func runWorkerList(cmd *cobra.Command, args []string) error {
	if flagRunID == "" {
		return fmt.Errorf("--run is required")
	}
	db, err := openDB()
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()

	workers, err := db.ListWorkersByRun(flagRunID)
	if err != nil {
		return fmt.Errorf("list workers: %w", err)
	}
	if len(workers) == 0 {
		fmt.Println("No workers recorded for this run.")
		return nil
	}
	for _, w := range workers {
		symbol, attr := statusGlyph(w.Status)
		printStatus(symbol, fmt.Sprintf("%s  caps=[%s]  health=%d  completed=%d  failed=%d  consecutive_failures=%d  %s",
			w.ID, strings.Join(w.Capabilities, ","), w.HealthScore, w.CompletedCount, w.FailedCount, w.ConsecutiveFailures, w.Status), attr)
	}
	return nil
}

func runWorkerFailures(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()

	failures, err := db.ListFailuresByWorker(args[0])
	if err != nil {
		return fmt.Errorf("list failures: %w", err)
	}
	if len(failures) == 0 {
		fmt.Printf("No failures recorded for worker %s.\n", args[0])
		return nil
	}
	for _, f := range failures {
		symbol, attr := "✗", color.FgRed
		if f.Resolved {
			symbol, attr = "✓", color.FgGreen
		}
		printStatus(symbol, fmt.Sprintf("%s  sub_task=%s  code=%s  %s", f.OccurredAt.Format("15:04:05"), f.SubTaskID, f.ErrorCode, f.ErrorMessage), attr)
	}
	return nil
}

// statusGlyph renders a worker's persisted status string as the same
// symbol/color scheme the status command uses.
func statusGlyph(status string) (string, color.Attribute) {
	switch status {
	case string(models.WorkerError):
		return "✗", color.FgRed
	case string(models.WorkerTerminated):
		return "○", color.FgWhite
	case string(models.WorkerWorking):
		return "●", color.FgYellow
	default:
		return "●", color.FgGreen
	}
}
