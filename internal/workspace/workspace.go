// Package workspace allocates per-project working directories and
// per-task branch names, guaranteeing the isolation invariant: distinct
// project ids map to distinct paths, and the same project id always maps
// to the same path.
package workspace

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/kawanishi0117/agent-orchestrator/internal/git"
)

// Manager is the WorkspaceManager.
type Manager struct {
	baseDir string

	mu    sync.Mutex
	paths map[string]string
}

// New constructs a WorkspaceManager rooted at baseDir.
func New(baseDir string) *Manager {
	return &Manager{baseDir: baseDir, paths: make(map[string]string)}
}

// PathFor returns the working directory for projectID, allocating it
// deterministically on first use. The same project id always yields the
// same path (idempotence); distinct project ids never collide (isolation),
// since the path is derived from a hash of the id rather than a sanitized
// slug that two different ids could collapse onto.
func (m *Manager) PathFor(projectID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if path, ok := m.paths[projectID]; ok {
		return path
	}
	sum := sha256.Sum256([]byte(projectID))
	path := filepath.Join(m.baseDir, "projects", hex.EncodeToString(sum[:])[:16])
	m.paths[projectID] = path
	return path
}

// TaskBranch returns the branch name a sub-task's worker should use,
// delegating to the GitManager's branch-name contract.
func (m *Manager) TaskBranch(ticketID, description string) string {
	return git.BranchName(ticketID, description)
}

// RuntimeDir returns the base directory under which runtime/runs/<run-id>
// artifacts (logs, bus persistence, PR records) are written.
func (m *Manager) RuntimeDir() string {
	return filepath.Join(m.baseDir, "runtime")
}

// BacklogDir returns the workflows/backlog directory the TaskDecomposer
// persists sub-task markdown into, scoped to projectID's workspace.
func (m *Manager) BacklogDir(projectID string) string {
	return filepath.Join(m.PathFor(projectID), "workflows", "backlog")
}

// String renders a human-readable summary, useful in CLI status output.
func (m *Manager) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fmt.Sprintf("workspace.Manager{base=%s, projects=%d}", m.baseDir, len(m.paths))
}
