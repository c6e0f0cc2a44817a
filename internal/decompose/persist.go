package decompose

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"

	"github.com/kawanishi0117/agent-orchestrator/pkg/models"
)

// frontmatter is the YAML header persisted at the top of each backlog file.
type frontmatter struct {
	ID       string `yaml:"id"`
	ParentID string `yaml:"parent_id"`
	Status   string `yaml:"status"`
	Assignee string `yaml:"assignee"`
	Created  string `yaml:"created"`
	Updated  string `yaml:"updated"`
}

// Save persists one sub-task to workflows/backlog/<sub-task-id>.md as YAML
// frontmatter followed by the sections named in §4.1 and §6. The backlog
// directory is created recursively; the file is written atomically via
// renameio so a crash mid-write never leaves a half-written entry.
func Save(backlogDir string, task *models.SubTask) error {
	if strings.TrimSpace(task.ID) == "" || strings.TrimSpace(task.ParentID) == "" {
		return models.NewCoreError(models.ErrInvalidInput, false, "sub-task must carry a non-empty id and parent-id")
	}

	if err := os.MkdirAll(backlogDir, 0o755); err != nil {
		return fmt.Errorf("create backlog directory: %w", err)
	}

	fm := frontmatter{
		ID:       task.ID,
		ParentID: task.ParentID,
		Status:   string(task.Status),
		Assignee: task.Assignee,
		Created:  task.CreatedAt.Format(time.RFC3339),
		Updated:  task.UpdatedAt.Format(time.RFC3339),
	}
	fmBytes, err := yaml.Marshal(fm)
	if err != nil {
		return fmt.Errorf("marshal frontmatter: %w", err)
	}

	var b strings.Builder
	b.WriteString("---\n")
	b.Write(fmBytes)
	b.WriteString("---\n\n")
	fmt.Fprintf(&b, "# %s\n\n", task.Title)
	b.WriteString("## Purpose\n\n")
	fmt.Fprintf(&b, "%s\n\n", task.Description)
	b.WriteString("## Scope\n\n_TBD_\n\n")
	b.WriteString("## DoD\n\n")
	if len(task.AcceptanceCriteria) == 0 {
		b.WriteString("- [ ] Work is complete and verified\n")
	} else {
		for _, c := range task.AcceptanceCriteria {
			fmt.Fprintf(&b, "- [ ] %s\n", c)
		}
	}
	b.WriteString("\n## Risk\n\n| Risk | Likelihood | Mitigation |\n|---|---|---|\n| | | |\n\n")
	b.WriteString("## Rollback\n\n_TBD_\n\n")
	fmt.Fprintf(&b, "## Work-Log\n\n- %s: created\n", task.CreatedAt.Format("2006-01-02"))

	path := filepath.Join(backlogDir, task.ID+".md")
	if err := renameio.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write backlog file: %w", err)
	}
	return nil
}

// SaveAll persists every sub-task in order, stopping at the first failure.
func SaveAll(backlogDir string, subTasks []*models.SubTask) error {
	for _, task := range subTasks {
		if err := Save(backlogDir, task); err != nil {
			return err
		}
	}
	return nil
}
