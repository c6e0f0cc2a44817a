package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kawanishi0117/agent-orchestrator/internal/exec"
	"github.com/kawanishi0117/agent-orchestrator/internal/git"
	"github.com/kawanishi0117/agent-orchestrator/internal/merge"
	"github.com/kawanishi0117/agent-orchestrator/internal/workspace"
)

var prCmd = &cobra.Command{
	Use:   "pr",
	Short: "Inspect and approve pull requests",
}

var (
	prRepoDir string
	prTitle   string
	prSource  string
	prTarget  string
	prTicket  string
)

var prListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every pull request opened against a run",
	Args:  cobra.NoArgs,
	RunE:  runPRList,
}

var prCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Open a pull request from an agent branch toward a protected branch",
	Args:  cobra.NoArgs,
	RunE:  runPRCreate,
}

var prApproveCmd = &cobra.Command{
	Use:   "approve <pr-id>",
	Short: "Approve an open pull request",
	Args:  cobra.ExactArgs(1),
	RunE:  runPRApprove,
}

var prMergeCmd = &cobra.Command{
	Use:   "merge <pr-id>",
	Short: "Merge an approved pull request",
	Args:  cobra.ExactArgs(1),
	RunE:  runPRMerge,
}

func init() {
	prCmd.PersistentFlags().StringVar(&prRepoDir, "repo-dir", "", "local checkout of the target repository (required)")
	prCreateCmd.Flags().StringVar(&prTitle, "title", "", "pull request title (required)")
	prCreateCmd.Flags().StringVar(&prSource, "source", "", "source branch (required)")
	prCreateCmd.Flags().StringVar(&prTarget, "target", "", "target branch (required)")
	prCreateCmd.Flags().StringVar(&prTicket, "ticket", "", "originating ticket id")

	prCmd.AddCommand(prListCmd, prCreateCmd, prApproveCmd, prMergeCmd)
}

func newMerger() (*merge.Merger, *git.Manager, error) {
	if flagRunID == "" {
		return nil, nil, fmt.Errorf("--run is required")
	}
	ws := workspace.New(resolveBaseDir())
	runtimeDir := ws.RuntimeDir()

	gitMgr, err := git.NewManager(exec.NewRunner(), runtimeDir, flagRunID, "")
	if err != nil {
		return nil, nil, fmt.Errorf("construct git manager: %w", err)
	}

	merger := merge.New(gitMgr, nil, runtimeDir, "")
	if err := merger.Hydrate(flagRunID); err != nil {
		gitMgr.Close()
		return nil, nil, fmt.Errorf("load pull requests: %w", err)
	}
	return merger, gitMgr, nil
}

func runPRList(cmd *cobra.Command, args []string) error {
	merger, gitMgr, err := newMerger()
	if err != nil {
		return err
	}
	defer gitMgr.Close()

	prs := merger.ListPullRequests()
	if len(prs) == 0 {
		fmt.Println("No pull requests recorded for this run.")
		return nil
	}
	for _, pr := range prs {
		printStatus("→", fmt.Sprintf("%s  [%s]  %s -> %s  %q", pr.ID, pr.Status, pr.SourceBranch, pr.TargetBranch, pr.Title), color.FgCyan)
	}
	return nil
}

func runPRCreate(cmd *cobra.Command, args []string) error {
	if prRepoDir == "" || prTitle == "" || prSource == "" || prTarget == "" {
		return fmt.Errorf("--repo-dir, --title, --source, and --target are all required")
	}
	merger, gitMgr, err := newMerger()
	if err != nil {
		return err
	}
	defer gitMgr.Close()

	pr, err := merger.CreatePullRequest(context.Background(), merge.CreatePullRequestRequest{
		RunID:        flagRunID,
		RepoDir:      prRepoDir,
		Title:        prTitle,
		SourceBranch: prSource,
		TargetBranch: prTarget,
		Ticket:       prTicket,
	})
	if err != nil {
		return err
	}
	printStatus("✓", fmt.Sprintf("opened %s: %s -> %s", pr.ID, pr.SourceBranch, pr.TargetBranch), color.FgGreen)
	return nil
}

func runPRApprove(cmd *cobra.Command, args []string) error {
	merger, gitMgr, err := newMerger()
	if err != nil {
		return err
	}
	defer gitMgr.Close()

	pr, err := merger.ApprovePullRequest(flagRunID, args[0])
	if err != nil {
		return err
	}
	printStatus("✓", fmt.Sprintf("%s approved", pr.ID), color.FgGreen)
	return nil
}

func runPRMerge(cmd *cobra.Command, args []string) error {
	if prRepoDir == "" {
		return fmt.Errorf("--repo-dir is required")
	}
	merger, gitMgr, err := newMerger()
	if err != nil {
		return err
	}
	defer gitMgr.Close()

	outcome, err := merger.MergePullRequest(context.Background(), flagRunID, prRepoDir, args[0])
	if err != nil {
		return err
	}
	printStatus("✓", fmt.Sprintf("%s merged, commit=%s conflicts-auto-resolved=%v", args[0], outcome.CommitHash, outcome.HadConflicts), color.FgGreen)
	return nil
}
