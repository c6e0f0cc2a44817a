package decompose

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kawanishi0117/agent-orchestrator/pkg/models"
)

func TestSave_WritesFrontmatterAndSections(t *testing.T) {
	dir := t.TempDir()
	now := time.Now().UTC()
	task := &models.SubTask{
		ID:                 "task-1-001",
		ParentID:           "task-1",
		Title:              "Build the API",
		Description:        "Stand up the REST endpoints",
		AcceptanceCriteria: []string{"returns 200", "covered by tests"},
		Status:             models.SubTaskPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := Save(dir, task); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "task-1-001.md"))
	if err != nil {
		t.Fatalf("read backlog file: %v", err)
	}
	content := string(data)
	for _, want := range []string{"id: task-1-001", "# Build the API", "## DoD", "- [ ] returns 200", "## Work-Log"} {
		if !strings.Contains(content, want) {
			t.Errorf("expected backlog file to contain %q, got:\n%s", want, content)
		}
	}
}

func TestSave_RejectsMissingIDs(t *testing.T) {
	dir := t.TempDir()
	if err := Save(dir, &models.SubTask{}); err == nil {
		t.Fatal("expected an error for an empty id/parent-id")
	}
}

func TestSaveAll_StopsAtFirstFailure(t *testing.T) {
	dir := t.TempDir()
	tasks := []*models.SubTask{
		{ID: "t-1", ParentID: "p", Title: "ok"},
		{ID: "", ParentID: "", Title: "bad"},
	}
	if err := SaveAll(dir, tasks); err == nil {
		t.Fatal("expected SaveAll to surface the second task's error")
	}
	if _, err := os.Stat(filepath.Join(dir, "t-1.md")); err != nil {
		t.Fatalf("expected the first task to have been persisted before the failure: %v", err)
	}
}
