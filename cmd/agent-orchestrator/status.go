package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kawanishi0117/agent-orchestrator/internal/merge"
	"github.com/kawanishi0117/agent-orchestrator/internal/workspace"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show progress for a run",
	Long:  `Show a run's status, worker pool, and any pull requests opened against it.`,
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	if flagRunID == "" {
		return fmt.Errorf("--run is required")
	}

	db, err := openDB()
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()

	run, err := db.GetRun(flagRunID)
	if err != nil {
		return fmt.Errorf("run %q not found: %w", flagRunID, err)
	}

	fmt.Printf("Run:         %s\n", run.ID)
	fmt.Printf("Project:     %s\n", run.ProjectID)
	fmt.Printf("Instruction: %s\n", run.Instruction)
	fmt.Printf("Status:      %s\n", run.Status)
	fmt.Printf("Started:     %s\n", run.StartedAt.Format("2006-01-02 15:04:05"))
	if run.CompletedAt != nil {
		fmt.Printf("Completed:   %s\n", run.CompletedAt.Format("2006-01-02 15:04:05"))
	}

	workers, err := db.ListWorkersByRun(run.ID)
	if err != nil {
		return fmt.Errorf("list workers: %w", err)
	}
	fmt.Printf("\nWorkers (%d):\n", len(workers))
	for _, w := range workers {
		symbol, attr := statusGlyph(w.Status)
		printStatus(symbol, fmt.Sprintf("%s  health=%d  completed=%d  failed=%d  %s",
			w.Name, w.HealthScore, w.CompletedCount, w.FailedCount, w.Status), attr)
	}

	ws := workspace.New(resolveBaseDir())
	merger := merge.New(nil, nil, ws.RuntimeDir(), "")
	if err := merger.Hydrate(run.ID); err == nil {
		prs := merger.ListPullRequests()
		fmt.Printf("\nPull requests (%d):\n", len(prs))
		for _, pr := range prs {
			printStatus("→", fmt.Sprintf("%s  %s -> %s  [%s]", pr.ID, pr.SourceBranch, pr.TargetBranch, pr.Status), color.FgCyan)
		}
	}

	return nil
}
