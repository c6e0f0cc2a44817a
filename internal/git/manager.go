package git

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/kawanishi0117/agent-orchestrator/internal/exec"
	"github.com/kawanishi0117/agent-orchestrator/internal/obslog"
	"github.com/kawanishi0117/agent-orchestrator/pkg/models"
)

// Timeouts per the concurrency & resource model, §5.
const (
	cloneTimeout    = 300 * time.Second
	branchOpTimeout = 60 * time.Second
	pushTimeout     = 120 * time.Second
	mergeTimeout    = 120 * time.Second
	hostKeyTimeout  = 30 * time.Second
	statusTimeout   = 30 * time.Second
)

// builtinHostKeys covers the three hosts the spec names; anything else is
// resolved at runtime via ssh-keyscan.
var builtinHostKeys = map[string]bool{
	"github.com":    true,
	"gitlab.com":    true,
	"bitbucket.org": true,
}

// slugPattern matches the characters the branch-name contract keeps; every
// other rune is collapsed to a single hyphen.
var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// AuthMethod enumerates the authentication strategies a GitManager supports.
type AuthMethod string

const (
	AuthNone      AuthMethod = "none"
	AuthToken     AuthMethod = "token"
	AuthDeployKey AuthMethod = "deploy_key"
	AuthSSHAgent  AuthMethod = "ssh_agent"
)

// AuthConfig describes how the GitManager authenticates outbound clone/push
// operations. SSH-agent forwarding is disabled unless explicitly allowed,
// per §4.4.
type AuthConfig struct {
	Method                  AuthMethod
	Token                   string
	DeployKeyPath           string
	AllowSSHAgentForwarding bool
}

// Validate checks that the fields required by Method are present.
func (a AuthConfig) Validate() error {
	switch a.Method {
	case "", AuthNone:
		return nil
	case AuthToken:
		if a.Token == "" {
			return fmt.Errorf("token auth requires a token")
		}
	case AuthDeployKey:
		if a.DeployKeyPath == "" {
			return fmt.Errorf("deploy_key auth requires a key path")
		}
	case AuthSSHAgent:
		if !a.AllowSSHAgentForwarding {
			return fmt.Errorf("ssh_agent forwarding is disabled; set AllowSSHAgentForwarding to enable it")
		}
	default:
		return fmt.Errorf("unknown auth method %q", a.Method)
	}
	return nil
}

// MergeOutcome is the result of MergeWithAutoResolve.
type MergeOutcome struct {
	Success        bool
	CommitHash     string
	HadConflicts   bool
	AutoResolved   bool
	ConflictReport *models.ConflictReport
}

// Manager is the GitManager: it wraps a ProcessRunner (internal/exec) to
// expose clone, branch, checkout, stage, commit, push, merge, status,
// conflict inspection/auto-resolution, and host-key validation, emitting an
// append-only operation log per run.
type Manager struct {
	runner         exec.CommandRunner
	knownHostsFile string
	log            *obslog.Logger
}

// NewManager constructs a GitManager whose operation log is written to
// runtimeDir/runs/<runID>/git.log, and whose SSH host-key store lives at
// knownHostsFile (created if absent).
func NewManager(runner exec.CommandRunner, runtimeDir, runID, knownHostsFile string) (*Manager, error) {
	logger, err := obslog.Open(filepath.Join(runtimeDir, "runs", runID, "git.log"))
	if err != nil {
		return nil, err
	}
	return &Manager{runner: runner, knownHostsFile: knownHostsFile, log: logger}, nil
}

// Close releases the operation log file.
func (m *Manager) Close() error {
	return m.log.Close()
}

// BranchName builds agent/<ticket-id>-<slug> per the branch-name contract:
// slug is the description lower-cased, runs of non-alphanumerics collapsed
// to '-', trimmed of leading/trailing '-', and truncated to 50 characters.
func BranchName(ticketID, description string) string {
	slug := strings.ToLower(strings.TrimSpace(description))
	slug = slugPattern.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > 50 {
		slug = strings.Trim(slug[:50], "-")
	}
	return fmt.Sprintf("agent/%s-%s", ticketID, slug)
}

// CommitMessage builds "[<ticket-id>] <description>" per the commit-message contract.
func CommitMessage(ticketID, description string) string {
	return fmt.Sprintf("[%s] %s", ticketID, description)
}

func (m *Manager) logOp(op, details string, start time.Time, err error) {
	dur := time.Since(start).Milliseconds()
	if err != nil {
		m.log.Line(op, "%s FAILED: %v [%dms]", details, err, dur)
		return
	}
	m.log.Line(op, "%s SUCCESS [%dms]", details, dur)
}

func (m *Manager) run(ctx context.Context, workDir string, timeout time.Duration, env []string, args ...string) (*exec.Result, error) {
	return m.runner.RunWithTimeout(ctx, workDir, timeout, env, "git", args...)
}

func failed(res *exec.Result, err error) error {
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("git exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// ValidateKnownHosts prepares the configured known-hosts file before an SSH
// clone, per §4.4. github.com, gitlab.com, and bitbucket.org are recognized
// without a network round-trip: for them only a "# builtin-trusted" comment
// line is appended and no key is written, so their key is first recorded by
// ssh's accept-new policy on connect. Any other host is resolved via
// ssh-keyscan under a 30s timeout and the returned key lines are appended.
func (m *Manager) ValidateKnownHosts(ctx context.Context, host string) error {
	start := time.Now()
	if builtinHostKeys[host] {
		err := m.appendKnownHost(host, fmt.Sprintf("# builtin-trusted: %s", host))
		m.logOp("host_key_validate", host, start, err)
		return err
	}

	res, err := m.runner.RunWithTimeout(ctx, "", hostKeyTimeout, nil, "ssh-keyscan", host)
	if err == nil && res.ExitCode == 0 && strings.TrimSpace(res.Stdout) != "" {
		err = m.appendKnownHost(host, res.Stdout)
	} else if err == nil {
		err = fmt.Errorf("ssh-keyscan returned no key for %s", host)
	}
	m.logOp("host_key_validate", host, start, err)
	if err != nil {
		return models.NewCoreError(models.ErrKnownHostsInvalid, false, "host key validation failed for %s: %v", host, err)
	}
	return nil
}

func (m *Manager) appendKnownHost(host, line string) error {
	if m.knownHostsFile == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(m.knownHostsFile), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(m.knownHostsFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	_, err = f.WriteString(line)
	return err
}

// sshCommandEnv returns the GIT_SSH_COMMAND env var forcing the configured
// known-hosts file and accept-new host key policy, per §4.4. Empty when no
// known-hosts file is configured.
func (m *Manager) sshCommandEnv() []string {
	if m.knownHostsFile == "" {
		return nil
	}
	cmd := fmt.Sprintf("ssh -o StrictHostKeyChecking=accept-new -o UserKnownHostsFile=%s", m.knownHostsFile)
	return []string{"GIT_SSH_COMMAND=" + cmd}
}

// authEnv translates AuthConfig into the environment + rewritten URL a
// clone/push should use. Token auth is injected into an https URL; deploy-key
// auth points GIT_SSH_COMMAND at the key; ssh-agent forwarding relies on the
// ambient SSH_AUTH_SOCK and is otherwise identical to the default SSH path.
func (m *Manager) authEnv(auth AuthConfig, url string) (string, []string, error) {
	if err := auth.Validate(); err != nil {
		return url, nil, err
	}
	env := m.sshCommandEnv()
	switch auth.Method {
	case AuthToken:
		if strings.HasPrefix(url, "https://") {
			url = "https://x-access-token:" + auth.Token + "@" + strings.TrimPrefix(url, "https://")
		} else {
			env = append(env, "GIT_ASKPASS=", "GIT_TOKEN="+auth.Token)
		}
	case AuthDeployKey:
		cmd := fmt.Sprintf("ssh -i %s -o IdentitiesOnly=yes", auth.DeployKeyPath)
		if m.knownHostsFile != "" {
			cmd += fmt.Sprintf(" -o StrictHostKeyChecking=accept-new -o UserKnownHostsFile=%s", m.knownHostsFile)
		}
		env = append(env, "GIT_SSH_COMMAND="+cmd)
	case AuthSSHAgent:
		// Ambient SSH_AUTH_SOCK is forwarded as-is; nothing further to set.
	}
	return url, env, nil
}

// Clone clones repoURL into dest under the 300s timeout, honoring auth.
func (m *Manager) Clone(ctx context.Context, repoURL, dest string, auth AuthConfig) error {
	start := time.Now()
	url, env, err := m.authEnv(auth, repoURL)
	if err != nil {
		m.logOp("clone", repoURL, start, err)
		return err
	}
	res, err := m.run(ctx, "", cloneTimeout, env, "clone", url, dest)
	err = failed(res, err)
	m.logOp("clone", fmt.Sprintf("%s -> %s", repoURL, dest), start, err)
	return err
}

// CreateTaskBranch creates and checks out agent/<ticket>-<slug> in repoDir.
func (m *Manager) CreateTaskBranch(ctx context.Context, repoDir, ticketID, description string) (string, error) {
	branch := BranchName(ticketID, description)
	start := time.Now()
	res, err := m.run(ctx, repoDir, branchOpTimeout, nil, "checkout", "-b", branch)
	err = failed(res, err)
	m.logOp("create_branch", branch, start, err)
	if err != nil {
		return "", err
	}
	return branch, nil
}

// Checkout switches repoDir to branch.
func (m *Manager) Checkout(ctx context.Context, repoDir, branch string) error {
	start := time.Now()
	res, err := m.run(ctx, repoDir, branchOpTimeout, nil, "checkout", branch)
	err = failed(res, err)
	m.logOp("checkout", branch, start, err)
	return err
}

// Stage runs `git add` over paths ("." when empty).
func (m *Manager) Stage(ctx context.Context, repoDir string, paths ...string) error {
	if len(paths) == 0 {
		paths = []string{"."}
	}
	start := time.Now()
	res, err := m.run(ctx, repoDir, branchOpTimeout, nil, append([]string{"add"}, paths...)...)
	err = failed(res, err)
	m.logOp("stage", strings.Join(paths, " "), start, err)
	return err
}

// Commit creates a commit with message in repoDir.
func (m *Manager) Commit(ctx context.Context, repoDir, message string) error {
	start := time.Now()
	res, err := m.run(ctx, repoDir, branchOpTimeout, nil, "commit", "-m", message)
	err = failed(res, err)
	m.logOp("commit", message, start, err)
	return err
}

// Push pushes branch to remote under the 120s timeout.
func (m *Manager) Push(ctx context.Context, repoDir, remote, branch string, auth AuthConfig) error {
	start := time.Now()
	_, env, err := m.authEnv(auth, "")
	if err != nil {
		m.logOp("push", branch, start, err)
		return err
	}
	res, err := m.run(ctx, repoDir, pushTimeout, env, "push", remote, branch)
	err = failed(res, err)
	m.logOp("push", fmt.Sprintf("%s %s", remote, branch), start, err)
	return err
}

// Status returns porcelain status output for repoDir.
func (m *Manager) Status(ctx context.Context, repoDir string) (string, error) {
	start := time.Now()
	res, err := m.run(ctx, repoDir, statusTimeout, nil, "status", "--porcelain")
	err = failed(res, err)
	m.logOp("status", repoDir, start, err)
	if err != nil {
		return "", err
	}
	return res.Stdout, nil
}

// ConflictedFiles lists files with unmerged stages in repoDir.
func (m *Manager) ConflictedFiles(ctx context.Context, repoDir string) ([]string, error) {
	res, err := m.run(ctx, repoDir, statusTimeout, nil, "diff", "--name-only", "--diff-filter=U")
	if err = failed(res, err); err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// showStage returns the content of path at merge stage (1=base, 2=ours,
// 3=theirs), or ("", false) if that stage does not exist for path (e.g. one
// side deleted the file).
func (m *Manager) showStage(ctx context.Context, repoDir string, stage int, path string) (string, bool) {
	res, err := m.run(ctx, repoDir, statusTimeout, nil, "show", fmt.Sprintf(":%d:%s", stage, path))
	if err != nil || res.ExitCode != 0 {
		return "", false
	}
	return res.Stdout, true
}

// MergeWithAutoResolve merges branch into the currently checked-out branch
// of repoDir. On conflict it applies the six-rule resolution algorithm of
// §4.4 file-by-file; if every file resolves it stages and commits, otherwise
// it returns a ConflictReport describing what could not be settled.
func (m *Manager) MergeWithAutoResolve(ctx context.Context, repoDir, branch, mergeMessage string) (*MergeOutcome, error) {
	start := time.Now()
	res, err := m.run(ctx, repoDir, mergeTimeout, nil, "merge", "--no-ff", "-m", mergeMessage, branch)
	runErr := failed(res, err)

	if runErr == nil {
		hash, _ := m.run(ctx, repoDir, statusTimeout, nil, "rev-parse", "HEAD")
		m.logOp("merge", branch, start, nil)
		return &MergeOutcome{Success: true, CommitHash: strings.TrimSpace(hash.Stdout)}, nil
	}

	if !strings.Contains(strings.ToLower(res.Stderr+res.Stdout), "conflict") {
		m.logOp("merge", branch, start, runErr)
		return &MergeOutcome{Success: false}, runErr
	}

	report, resolvedAll, resolveErr := m.autoResolve(ctx, repoDir, branch)
	if resolveErr != nil {
		m.logOp("merge", branch, start, resolveErr)
		return &MergeOutcome{Success: false, HadConflicts: true, ConflictReport: report}, resolveErr
	}
	if !resolvedAll {
		m.logOp("merge", branch, start, fmt.Errorf("conflicts could not be fully auto-resolved"))
		return &MergeOutcome{Success: false, HadConflicts: true, ConflictReport: report}, nil
	}

	if err := m.Stage(ctx, repoDir); err != nil {
		return &MergeOutcome{Success: false, HadConflicts: true, ConflictReport: report}, err
	}
	commitRes, err := m.run(ctx, repoDir, branchOpTimeout, nil, "commit", "--no-edit")
	if err = failed(commitRes, err); err != nil {
		return &MergeOutcome{Success: false, HadConflicts: true, ConflictReport: report}, err
	}
	hash, _ := m.run(ctx, repoDir, statusTimeout, nil, "rev-parse", "HEAD")
	m.logOp("merge", branch+" (auto-resolved)", start, nil)
	return &MergeOutcome{
		Success:      true,
		CommitHash:   strings.TrimSpace(hash.Stdout),
		HadConflicts: true,
		AutoResolved: true,
	}, nil
}

// autoResolve implements the six-rule comparison of §4.4 for every
// conflicting file, writing resolved content where possible. Returns the
// ConflictReport (populated whenever at least one file is examined) and
// whether every file resolved.
func (m *Manager) autoResolve(ctx context.Context, repoDir, branch string) (*models.ConflictReport, bool, error) {
	files, err := m.ConflictedFiles(ctx, repoDir)
	if err != nil {
		return nil, false, err
	}

	report := &models.ConflictReport{
		Timestamp: time.Now().UTC(),
		Branch:    branch,
		Total:     len(files),
	}

	allResolved := true
	var unresolved []string
	for _, path := range files {
		base, hasBase := m.showStage(ctx, repoDir, 1, path)
		ours, hasOurs := m.showStage(ctx, repoDir, 2, path)
		theirs, hasTheirs := m.showStage(ctx, repoDir, 3, path)

		content, ok := resolveConflict(hasBase, base, hasOurs, ours, hasTheirs, theirs)
		report.FileEntries = append(report.FileEntries, models.ConflictFileEntry{
			Path:           path,
			HasBase:        hasBase,
			HasOurs:        hasOurs,
			HasTheirs:      hasTheirs,
			AutoResolvable: ok,
		})

		if !ok {
			allResolved = false
			unresolved = append(unresolved, path)
			continue
		}
		if err := os.WriteFile(filepath.Join(repoDir, path), []byte(content), 0o644); err != nil {
			return report, false, err
		}
	}

	if allResolved {
		report.Summary = fmt.Sprintf("all %d conflicting file(s) auto-resolved", report.Total)
	} else {
		report.Summary = fmt.Sprintf("%d of %d conflicting file(s) could not be auto-resolved: %s",
			len(unresolved), report.Total, strings.Join(unresolved, ", "))
	}
	return report, allResolved, nil
}

// resolveConflict applies the six ordered rules of §4.4 against one file's
// base/ours/theirs content. ok is false when none of the rules apply and
// the conflict markers must be left in place.
func resolveConflict(hasBase bool, base string, hasOurs bool, ours string, hasTheirs bool, theirs string) (string, bool) {
	switch {
	case hasOurs && hasTheirs && ours == theirs:
		return ours, true
	case (!hasOurs || ours == "") && hasTheirs && theirs != "":
		return theirs, true
	case (!hasTheirs || theirs == "") && hasOurs && ours != "":
		return ours, true
	case hasBase && hasOurs && ours == base && hasTheirs && theirs != base:
		return theirs, true
	case hasBase && hasTheirs && theirs == base && hasOurs && ours != base:
		return ours, true
	default:
		return "", false
	}
}
