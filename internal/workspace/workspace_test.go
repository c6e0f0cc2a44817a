package workspace

import (
	"strings"
	"testing"
)

// TestPathFor_IsolationAndIdempotence asserts testable property 5 of §8:
// distinct project ids produce distinct paths, and the same project id
// always produces the same path.
func TestPathFor_IsolationAndIdempotence(t *testing.T) {
	m := New("/base")

	p1 := m.PathFor("project-a")
	p2 := m.PathFor("project-b")
	if p1 == p2 {
		t.Fatalf("expected distinct paths for distinct project ids, got %q for both", p1)
	}

	again := m.PathFor("project-a")
	if again != p1 {
		t.Fatalf("expected idempotent path for the same project id, got %q then %q", p1, again)
	}
}

func TestPathFor_RootedUnderBaseDir(t *testing.T) {
	m := New("/base")
	p := m.PathFor("project-a")
	if !strings.HasPrefix(p, "/base/projects/") {
		t.Fatalf("expected path rooted under base/projects, got %q", p)
	}
}

func TestBacklogDir_ScopedToProject(t *testing.T) {
	m := New("/base")
	a := m.BacklogDir("project-a")
	b := m.BacklogDir("project-b")
	if a == b {
		t.Fatal("expected distinct backlog dirs for distinct projects")
	}
	if !strings.HasSuffix(a, "workflows/backlog") {
		t.Fatalf("expected backlog dir to end in workflows/backlog, got %q", a)
	}
}

func TestRuntimeDir_RootedUnderBaseDir(t *testing.T) {
	m := New("/base")
	if m.RuntimeDir() != "/base/runtime" {
		t.Fatalf("expected /base/runtime, got %q", m.RuntimeDir())
	}
}

func TestTaskBranch_DelegatesToGitContract(t *testing.T) {
	m := New("/base")
	branch := m.TaskBranch("TICKET-1", "Fix the login bug")
	if !strings.HasPrefix(branch, "agent/TICKET-1-") {
		t.Fatalf("expected branch to begin with agent/TICKET-1-, got %q", branch)
	}
}
