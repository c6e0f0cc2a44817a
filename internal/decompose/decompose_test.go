package decompose

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kawanishi0117/agent-orchestrator/internal/adapter"
)

type fakeAdapter struct {
	content string
	err     error
}

func (f *fakeAdapter) Generate(ctx context.Context, systemPrompt, userPrompt string) (*adapter.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &adapter.Result{Content: f.content, InputTokens: 10, OutputTokens: 20}, nil
}

func (f *fakeAdapter) Chat(ctx context.Context, messages []adapter.ChatMessage) (*adapter.Result, error) {
	return f.Generate(ctx, "", "")
}

func (f *fakeAdapter) ChatWithTools(ctx context.Context, messages []adapter.ChatMessage, tools []adapter.ToolSpec) (*adapter.Result, error) {
	return nil, errors.New("tool calls not supported")
}

func (f *fakeAdapter) Available() bool { return true }
func (f *fakeAdapter) Name() string    { return "fake" }

const validResponse = `{"subTasks":[
	{"title":"Build API","description":"Create the REST endpoints","acceptanceCriteria":["endpoints respond 200"],"estimatedEffort":"medium"},
	{"title":"Write tests","description":"Add tests after Build API lands","acceptanceCriteria":["coverage above 80%"],"estimatedEffort":"small"}
]}`

func TestDecompose_HappyPath(t *testing.T) {
	d := New(&fakeAdapter{content: validResponse})
	result, err := d.Decompose(context.Background(), "ship the widget", ProjectContext{ProjectID: "proj-1"}, DefaultOptions())
	if err != nil {
		t.Fatalf("Decompose failed: %v", err)
	}
	if len(result.SubTasks) != 2 {
		t.Fatalf("expected 2 sub-tasks, got %d", len(result.SubTasks))
	}
	for i, st := range result.SubTasks {
		if st.ParentID != result.ParentID {
			t.Errorf("sub-task %d parent id = %q, want %q", i, st.ParentID, result.ParentID)
		}
		if st.Status != "pending" {
			t.Errorf("sub-task %d status = %q, want pending", i, st.Status)
		}
	}
	if result.SubTasks[1].DependsOn == nil || result.SubTasks[1].DependsOn[0] != result.SubTasks[0].ID {
		t.Errorf("expected the second sub-task to depend on the first via the 'after X' heuristic")
	}
}

func TestDecompose_FencedJSON(t *testing.T) {
	fenced := "Here is the plan:\n```json\n" + validResponse + "\n```\nThanks."
	d := New(&fakeAdapter{content: fenced})
	result, err := d.Decompose(context.Background(), "ship the widget", ProjectContext{ProjectID: "proj-1"}, DefaultOptions())
	if err != nil {
		t.Fatalf("Decompose failed: %v", err)
	}
	if len(result.SubTasks) != 2 {
		t.Fatalf("expected 2 sub-tasks, got %d", len(result.SubTasks))
	}
}

func TestDecompose_RejectsEmptyInstruction(t *testing.T) {
	d := New(&fakeAdapter{content: validResponse})
	if _, err := d.Decompose(context.Background(), "   ", ProjectContext{ProjectID: "proj-1"}, DefaultOptions()); err == nil {
		t.Fatal("expected an error for an empty instruction")
	}
}

func TestDecompose_RejectsMissingProjectID(t *testing.T) {
	d := New(&fakeAdapter{content: validResponse})
	if _, err := d.Decompose(context.Background(), "do it", ProjectContext{}, DefaultOptions()); err == nil {
		t.Fatal("expected an error for a missing project id")
	}
}

func TestDecompose_InsufficientSubtasks(t *testing.T) {
	d := New(&fakeAdapter{content: `{"subTasks":[]}`})
	if _, err := d.Decompose(context.Background(), "do it", ProjectContext{ProjectID: "p"}, DefaultOptions()); err == nil {
		t.Fatal("expected an error for zero sub-tasks")
	}
}

func TestDecompose_TruncatesOverMax(t *testing.T) {
	var b strings.Builder
	b.WriteString(`{"subTasks":[`)
	for i := 0; i < 12; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(`{"title":"t","description":"d"}`)
	}
	b.WriteString(`]}`)

	d := New(&fakeAdapter{content: b.String()})
	opts := DefaultOptions()
	opts.MaxSubtasks = 10
	result, err := d.Decompose(context.Background(), "do it", ProjectContext{ProjectID: "p"}, opts)
	if err != nil {
		t.Fatalf("Decompose failed: %v", err)
	}
	if len(result.SubTasks) != 10 {
		t.Fatalf("expected truncation to 10 sub-tasks, got %d", len(result.SubTasks))
	}
}

func TestDecompose_ParseError(t *testing.T) {
	d := New(&fakeAdapter{content: "not json at all"})
	if _, err := d.Decompose(context.Background(), "do it", ProjectContext{ProjectID: "p"}, DefaultOptions()); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestDecompose_ValidationRejectsMissingFields(t *testing.T) {
	d := New(&fakeAdapter{content: `{"subTasks":[{"title":"","description":""}]}`})
	if _, err := d.Decompose(context.Background(), "do it", ProjectContext{ProjectID: "p"}, DefaultOptions()); err == nil {
		t.Fatal("expected a validation error for missing title/description")
	}
}
