package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kawanishi0117/agent-orchestrator/internal/config"
	"github.com/kawanishi0117/agent-orchestrator/internal/decompose"
	"github.com/kawanishi0117/agent-orchestrator/internal/exec"
	"github.com/kawanishi0117/agent-orchestrator/internal/git"
	"github.com/kawanishi0117/agent-orchestrator/internal/manager"
	"github.com/kawanishi0117/agent-orchestrator/internal/state"
	"github.com/kawanishi0117/agent-orchestrator/internal/structure"
	"github.com/kawanishi0117/agent-orchestrator/internal/workspace"
	"github.com/kawanishi0117/agent-orchestrator/pkg/models"
)

var (
	submitRepoDir           string
	submitIntegrationBranch string
	submitKnownHostsFile    string
)

var submitCmd = &cobra.Command{
	Use:   "submit <project-id> <instruction>",
	Short: "Decompose an instruction into sub-tasks and schedule them",
	Args:  cobra.ExactArgs(2),
	RunE:  runSubmit,
}

func init() {
	submitCmd.Flags().StringVar(&submitRepoDir, "repo-dir", "", "local checkout of the target repository (required)")
	submitCmd.Flags().StringVar(&submitIntegrationBranch, "integration-branch", "", "overrides the configured integration branch")
	submitCmd.Flags().StringVar(&submitKnownHostsFile, "known-hosts-file", "", "overrides the configured SSH known-hosts file")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	projectID, instruction := args[0], args[1]
	if submitRepoDir == "" {
		return fmt.Errorf("--repo-dir is required")
	}
	if _, err := os.Stat(submitRepoDir); err != nil {
		return fmt.Errorf("repo-dir %q is not accessible: %w", submitRepoDir, err)
	}

	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	adapters, err := buildAdapters(ctx, cfg)
	if err != nil {
		return err
	}
	backend, err := adapters.Default()
	if err != nil {
		return err
	}

	runID := flagRunID
	if runID == "" {
		runID = newRunID()
	}

	ws := workspace.New(resolveBaseDir())
	runtimeDir := ws.RuntimeDir()
	backlogDir := ws.BacklogDir(projectID)

	knownHosts := submitKnownHostsFile
	if knownHosts == "" {
		knownHosts = cfg.Git.KnownHostsFile
	}
	gitMgr, err := git.NewManager(exec.NewRunner(), runtimeDir, runID, knownHosts)
	if err != nil {
		return fmt.Errorf("construct git manager: %w", err)
	}
	defer gitMgr.Close()

	integrationBranch := submitIntegrationBranch
	if integrationBranch == "" {
		integrationBranch = cfg.Defaults.IntegrationBranch
	}

	mgr, err := manager.New(manager.Config{
		RunID:             runID,
		ProjectID:         projectID,
		RuntimeDir:        runtimeDir,
		BacklogDir:        backlogDir,
		Decomposer:        decompose.New(backend),
		GitMgr:            gitMgr,
		Adapters:          adapters,
		Pool:              poolConfigFrom(cfg.Pool),
		IntegrationBranch: integrationBranch,
	})
	if err != nil {
		return fmt.Errorf("construct manager: %w", err)
	}
	defer mgr.Close()

	now := time.Now().UTC()
	task := &models.ParentTask{
		ID:          fmt.Sprintf("task-%s", runID),
		ProjectID:   projectID,
		Instruction: instruction,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := mgr.ReceiveTask(task); err != nil {
		return err
	}

	pctx := decompose.ProjectContext{ProjectID: projectID}
	analyzer := structure.NewAnalyzer(submitRepoDir)
	if err := analyzer.Analyze(); err != nil {
		printStatus("⚠", fmt.Sprintf("repository structure scan skipped: %v", err), color.FgYellow)
	} else {
		pctx.TechStack = analyzer.TechStack()
		pctx.Files = analyzer.RelevantFiles(10)
	}

	result, err := mgr.DecomposeTask(ctx, pctx, decompose.DefaultOptions())
	if err != nil {
		return fmt.Errorf("decompose instruction: %w", err)
	}
	printStatus("✓", fmt.Sprintf("decomposed into %d sub-task(s) (%d tokens, %dms)",
		len(result.SubTasks), result.TokenCount, result.DurationMS), color.FgGreen)

	for i := 0; i < cfg.Pool.MinWorkers; i++ {
		if _, err := mgr.HireWorker(models.WorkerSpec{Capabilities: []string{"general"}, Adapter: backend.Name()}); err != nil {
			return fmt.Errorf("hire initial worker: %w", err)
		}
	}

	ready := mgr.ReadyAssignments()
	for _, pair := range ready {
		branch, err := gitMgr.CreateTaskBranch(ctx, submitRepoDir, pair.SubTask.ID, pair.SubTask.Title)
		if err != nil {
			printStatus("⚠", fmt.Sprintf("could not prepare branch for %s: %v", pair.SubTask.ID, err), color.FgYellow)
			continue
		}
		printStatus("✓", fmt.Sprintf("%s -> %s (branch %s)", pair.SubTask.ID, pair.WorkerID, branch), color.FgGreen)
	}

	if err := mgr.AssignTasksInParallel(ctx, ready); err != nil {
		return fmt.Errorf("assign ready sub-tasks: %w", err)
	}

	db, err := openDB()
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()

	if err := db.CreateRun(&state.Run{
		ID:           runID,
		ProjectID:    projectID,
		Instruction:  instruction,
		Status:       string(models.ParentTaskExecuting),
		ParentTaskID: task.ID,
		StartedAt:    now,
	}); err != nil {
		return fmt.Errorf("persist run: %w", err)
	}
	for _, w := range mgr.Pool().List() {
		if err := db.CreateWorker(&state.Worker{
			ID:                  w.ID,
			RunID:               runID,
			Name:                w.Name,
			Capabilities:        w.Capabilities,
			Status:              string(w.Status),
			HealthScore:         int(w.HealthScore),
			CompletedCount:      w.CompletedCount,
			FailedCount:         w.FailedCount,
			ConsecutiveFailures: w.ConsecutiveFailures,
			HiredAt:             w.HiredAt,
		}); err != nil {
			return fmt.Errorf("persist worker %s: %w", w.ID, err)
		}
	}

	fmt.Printf("\nRun %s submitted against project %q. Use \"agent-orchestrator status --run %s\" to check progress.\n", runID, projectID, runID)
	return nil
}

func newRunID() string {
	return fmt.Sprintf("run-%s", time.Now().UTC().Format("20060102T150405.000000000"))
}
