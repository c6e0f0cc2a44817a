// Package merge implements the MergerAgent: merging agent branches into the
// integration branch and managing pull-request lifecycle toward protected
// branches, per §4.5.
package merge

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"

	"github.com/kawanishi0117/agent-orchestrator/internal/adapter"
	"github.com/kawanishi0117/agent-orchestrator/internal/bus"
	"github.com/kawanishi0117/agent-orchestrator/internal/git"
	"github.com/kawanishi0117/agent-orchestrator/internal/obslog"
	"github.com/kawanishi0117/agent-orchestrator/pkg/models"
)

// protectedBranches are never a valid merge target; any change reaching
// them must go through an approved pull request, per invariant 8 of §3.
var protectedBranches = map[string]bool{"main": true, "master": true}

// IsProtected reports whether name (case-insensitive) is a protected branch.
func IsProtected(name string) bool {
	return protectedBranches[strings.ToLower(name)]
}

// MergeRequest describes one merge(...) call, per §4.5.
type MergeRequest struct {
	RunID   string
	RepoDir string
	Source  string
	Target  string // defaults to the configured integration branch when empty
	Ticket  string
	Message string
	Force   bool
}

// MergeOutcome is the result of a merge(...) call.
type MergeOutcome struct {
	Success      bool
	CommitHash   string
	HadConflicts bool
	Error        string
}

// Merger is the MergerAgent. It owns PullRequest records exclusively.
type Merger struct {
	gitMgr            *git.Manager
	adapters          *adapter.Registry
	runtimeDir        string
	integrationBranch string
	bus               *bus.Bus
	agentName         string

	mu  sync.Mutex
	prs map[string]*models.PullRequest
}

// WithBus attaches a MessageBus so a merge that cannot be fully
// auto-resolved escalates to a reviewer instead of failing silently, per
// the data flow in §4.4. Optional; Merge works without it.
func (m *Merger) WithBus(b *bus.Bus, agentName string) *Merger {
	m.bus = b
	m.agentName = agentName
	return m
}

func (m *Merger) escalateConflict(req MergeRequest, report *models.ConflictReport) {
	if m.bus == nil {
		return
	}
	_, _ = m.bus.Send(models.Message{
		Type: models.MessageEscalate,
		From: m.agentName,
		To:   "reviewer",
		Payload: models.Escalation{
			ID:        fmt.Sprintf("esc-conflict-%d", time.Now().UTC().UnixNano()),
			SubTaskID: req.Ticket,
			Issue:     report.Summary,
			Type:      models.EscalationTypeBlocked,
			Timestamp: time.Now().UTC(),
		},
	})
}

// New constructs a Merger. integrationBranch defaults to "develop" when empty.
func New(gitMgr *git.Manager, adapters *adapter.Registry, runtimeDir, integrationBranch string) *Merger {
	if integrationBranch == "" {
		integrationBranch = "develop"
	}
	return &Merger{
		gitMgr:            gitMgr,
		adapters:          adapters,
		runtimeDir:        runtimeDir,
		integrationBranch: integrationBranch,
		prs:               make(map[string]*models.PullRequest),
	}
}

func (m *Merger) mergeLogPath(runID string) string {
	return filepath.Join(m.runtimeDir, "runs", runID, "merge.log")
}

func (m *Merger) appendMergeLog(runID, line string) {
	logger, err := obslog.Open(m.mergeLogPath(runID))
	if err != nil {
		return
	}
	defer logger.Close()
	logger.Line("merge", "%s", line)
}

// Merge implements §4.5's merge operation: rejects protected targets
// outright with no git side effects, otherwise checks out target and merges
// source with conflict auto-resolution, logging every outcome to merge.log.
// This is the direct path (invariant 8 of §3); protected branches can only
// be reached through MergePullRequest's approved-PR gate.
func (m *Merger) Merge(ctx context.Context, req MergeRequest) (*MergeOutcome, error) {
	target := req.Target
	if target == "" {
		target = m.integrationBranch
	}

	if IsProtected(target) {
		outcome := &MergeOutcome{Success: false, Error: "direct merge forbidden: target branch is protected"}
		m.appendMergeLog(req.RunID, fmt.Sprintf("ticket=%s source=%s target=%s REJECTED: direct merge forbidden (protected branch)", req.Ticket, req.Source, target))
		return outcome, models.NewCoreError(models.ErrMergeRejectedProtected, false, "direct merge forbidden: %q is a protected branch", target)
	}

	return m.mergeCore(ctx, req, target)
}

// mergeCore performs the checkout+merge+log sequence without the
// protected-target guard. MergePullRequest is the one caller allowed to
// reach a protected target this way: an approved PR is the sanctioned route
// past branch protection, per invariant 8 of §3 ("such changes must go
// through a PR").
func (m *Merger) mergeCore(ctx context.Context, req MergeRequest, target string) (*MergeOutcome, error) {
	if err := m.gitMgr.Checkout(ctx, req.RepoDir, target); err != nil {
		outcome := &MergeOutcome{Success: false, Error: err.Error()}
		m.appendMergeLog(req.RunID, fmt.Sprintf("ticket=%s checkout %s FAILED: %v", req.Ticket, target, err))
		return outcome, err
	}

	message := req.Message
	if message == "" {
		message = fmt.Sprintf("[%s] Merge %s into %s", req.Ticket, req.Source, target)
	}

	result, err := m.gitMgr.MergeWithAutoResolve(ctx, req.RepoDir, req.Source, message)
	if err != nil {
		outcome := &MergeOutcome{Success: false, HadConflicts: result != nil && result.HadConflicts, Error: err.Error()}
		m.appendMergeLog(req.RunID, fmt.Sprintf("ticket=%s source=%s target=%s FAILED: %v", req.Ticket, req.Source, target, err))
		return outcome, err
	}

	if !result.Success && result.HadConflicts && result.ConflictReport != nil {
		m.escalateConflict(req, result.ConflictReport)
		m.appendMergeLog(req.RunID, fmt.Sprintf("ticket=%s source=%s target=%s UNRESOLVED: escalated to reviewer", req.Ticket, req.Source, target))
	}

	outcome := &MergeOutcome{Success: result.Success, CommitHash: result.CommitHash, HadConflicts: result.HadConflicts}
	status := "SUCCESS"
	if !result.Success {
		status = "FAILED"
	}
	m.appendMergeLog(req.RunID, fmt.Sprintf("ticket=%s source=%s target=%s commit=%s conflicts=%v %s",
		req.Ticket, req.Source, target, result.CommitHash, result.HadConflicts, status))
	return outcome, nil
}

// CreatePullRequestRequest describes one createPullRequest(...) call.
type CreatePullRequestRequest struct {
	RunID        string
	RepoDir      string
	Title        string
	Description  string
	SourceBranch string
	TargetBranch string
	Ticket       string
}

// CreatePullRequest allocates a fresh PR id, populates changed files from
// git status, auto-generates a description via Adapter when absent, and
// persists the PR atomically to runtime/runs/<run-id>/pr-<id>.json.
func (m *Merger) CreatePullRequest(ctx context.Context, req CreatePullRequestRequest) (*models.PullRequest, error) {
	changedFiles, err := m.changedFiles(ctx, req.RepoDir)
	if err != nil {
		return nil, err
	}

	description := req.Description
	if description == "" {
		description = m.generateDescription(ctx, req, changedFiles)
	}

	pr := &models.PullRequest{
		ID:           newPRID(),
		Title:        req.Title,
		Description:  description,
		SourceBranch: req.SourceBranch,
		TargetBranch: req.TargetBranch,
		TicketID:     req.Ticket,
		Status:       models.PRStatusOpen,
		ChangedFiles: changedFiles,
		CreatedAt:    time.Now().UTC(),
	}

	m.mu.Lock()
	m.prs[pr.ID] = pr
	m.mu.Unlock()

	if err := m.persistPR(req.RunID, pr); err != nil {
		return nil, err
	}
	m.appendMergeLog(req.RunID, fmt.Sprintf("pr=%s OPENED %s -> %s", pr.ID, pr.SourceBranch, pr.TargetBranch))
	return pr, nil
}

func (m *Merger) changedFiles(ctx context.Context, repoDir string) ([]string, error) {
	status, err := m.gitMgr.Status(ctx, repoDir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(status, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		files = append(files, fields[len(fields)-1])
	}
	return files, nil
}

func (m *Merger) generateDescription(ctx context.Context, req CreatePullRequestRequest, changedFiles []string) string {
	if m.adapters == nil {
		return fmt.Sprintf("Automated merge for ticket %s.", req.Ticket)
	}
	backend, err := m.adapters.Default()
	if err != nil {
		return fmt.Sprintf("Automated merge for ticket %s.", req.Ticket)
	}
	result, err := backend.Generate(ctx,
		"You write concise, factual pull request descriptions from a list of changed files.",
		fmt.Sprintf("Ticket: %s\nTitle: %s\nChanged files:\n%s", req.Ticket, req.Title, strings.Join(changedFiles, "\n")))
	if err != nil || result.Content == "" {
		return fmt.Sprintf("Automated merge for ticket %s.", req.Ticket)
	}
	return result.Content
}

// ApprovePullRequest moves a PR from open to approved.
func (m *Merger) ApprovePullRequest(runID, prID string) (*models.PullRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pr, ok := m.prs[prID]
	if !ok {
		return nil, models.NewCoreError(models.ErrPRNotFound, false, "pull request %q not found", prID)
	}
	if !pr.Status.CanTransitionTo(models.PRStatusApproved) {
		return nil, models.NewCoreError(models.ErrInvalidInput, false, "pull request %q cannot move from %s to approved", prID, pr.Status)
	}
	pr.Status = models.PRStatusApproved
	m.appendMergeLog(runID, fmt.Sprintf("pr=%s APPROVED", prID))
	return pr, m.persistPR(runID, pr)
}

// MergePullRequest requires the PR to be approved; on success it performs
// the underlying merge and transitions the PR to merged.
func (m *Merger) MergePullRequest(ctx context.Context, runID, repoDir, prID string) (*MergeOutcome, error) {
	m.mu.Lock()
	pr, ok := m.prs[prID]
	m.mu.Unlock()
	if !ok {
		return nil, models.NewCoreError(models.ErrPRNotFound, false, "pull request %q not found", prID)
	}
	if pr.Status != models.PRStatusApproved {
		return nil, models.NewCoreError(models.ErrPRNotApproved, false, "pull request %q is not approved", prID)
	}

	target := pr.TargetBranch
	if target == "" {
		target = m.integrationBranch
	}
	// An approved PR is the sanctioned path past branch protection: go
	// through mergeCore directly rather than Merge, which would otherwise
	// reject pr.TargetBranch == main/master per invariant 8 of §3.
	outcome, err := m.mergeCore(ctx, MergeRequest{
		RunID:   runID,
		RepoDir: repoDir,
		Source:  pr.SourceBranch,
		Target:  target,
		Ticket:  pr.TicketID,
	}, target)
	if err != nil || !outcome.Success {
		return outcome, err
	}

	m.mu.Lock()
	pr.Status = models.PRStatusMerged
	m.mu.Unlock()
	m.appendMergeLog(runID, fmt.Sprintf("pr=%s MERGED commit=%s", prID, outcome.CommitHash))
	return outcome, m.persistPR(runID, pr)
}

// GetPullRequest returns the PR record for id, if any.
func (m *Merger) GetPullRequest(id string) (*models.PullRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pr, ok := m.prs[id]
	return pr, ok
}

// ListPullRequests returns a snapshot of every known PR.
func (m *Merger) ListPullRequests() []*models.PullRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.PullRequest, 0, len(m.prs))
	for _, pr := range m.prs {
		out = append(out, pr)
	}
	return out
}

func (m *Merger) persistPR(runID string, pr *models.PullRequest) error {
	dir := filepath.Join(m.runtimeDir, "runs", runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create run directory: %w", err)
	}
	data, err := json.MarshalIndent(pr, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal pull request: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("pr-%s.json", pr.ID))
	return renameio.WriteFile(path, data, 0o644)
}

// newPRID generates pr-<base36-timestamp>-<random-6>, matching the id
// contract documented on models.PullRequest.ID.
func newPRID() string {
	ts := strconv.FormatInt(time.Now().UTC().UnixNano(), 36)
	return fmt.Sprintf("pr-%s-%06d", ts, rand.Intn(1_000_000))
}

// Hydrate loads every pr-<id>.json record persisted under
// runtime/runs/<runID>/ back into the in-memory PR map, so a freshly
// constructed Merger (e.g. one CLI invocation picking up after another)
// observes PRs created by an earlier run of the process.
func (m *Merger) Hydrate(runID string) error {
	dir := filepath.Join(m.runtimeDir, "runs", runID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read run directory: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "pr-") || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		var pr models.PullRequest
		if err := json.Unmarshal(data, &pr); err != nil {
			continue
		}
		m.prs[pr.ID] = &pr
	}
	return nil
}
