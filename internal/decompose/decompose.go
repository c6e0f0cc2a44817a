// Package decompose turns a free-form operator instruction into a validated,
// acyclic set of independent sub-tasks and persists them as backlog markdown.
package decompose

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/kawanishi0117/agent-orchestrator/internal/adapter"
	"github.com/kawanishi0117/agent-orchestrator/pkg/models"
)

// ProjectContext carries the facts the decomposer embeds into the user prompt.
type ProjectContext struct {
	ProjectID string
	TechStack []string
	Files     []string
	Notes     string
}

// Options governs decomposition limits and feature toggles.
type Options struct {
	MinSubtasks                int
	MaxSubtasks                int
	IncludeEstimates           bool
	GenerateAcceptanceCriteria bool
}

// DefaultOptions returns the spec's documented defaults.
func DefaultOptions() Options {
	return Options{MinSubtasks: 1, MaxSubtasks: 10}
}

// Result is returned by Decompose alongside any error.
type Result struct {
	ParentID   string
	SubTasks   []*models.SubTask
	TokenCount int64
	DurationMS int64
}

// rawSubTask is the JSON shape the Adapter is instructed to emit.
type rawSubTask struct {
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	AcceptanceCriteria []string `json:"acceptanceCriteria"`
	EstimatedEffort    string   `json:"estimatedEffort"`
}

type rawResponse struct {
	SubTasks []rawSubTask `json:"subTasks"`
}

const systemPromptTemplate = `You are a technical planner. Decompose the operator's instruction into
1 to %d independent, parallelizable sub-tasks. Respond with ONLY a JSON object of the shape:
{"subTasks":[{"title":"...","description":"...","acceptanceCriteria":["..."],"estimatedEffort":"small|medium|large"}]}
Do not include any prose outside the JSON object.`

// Decomposer breaks instructions into sub-tasks via an Adapter call.
type Decomposer struct {
	backend adapter.Adapter
}

// New creates a Decomposer calling the given Adapter backend.
func New(backend adapter.Adapter) *Decomposer {
	return &Decomposer{backend: backend}
}

// Decompose implements the contract of §4.1: calls the Adapter, parses and
// validates its response, assigns ids, and returns the accepted sub-tasks.
// It does not persist them; call Save for that.
func (d *Decomposer) Decompose(ctx context.Context, instruction string, pctx ProjectContext, opts Options) (*Result, error) {
	start := time.Now()

	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return nil, models.NewCoreError(models.ErrInvalidInput, false, "instruction must not be empty")
	}
	if pctx.ProjectID == "" {
		return nil, models.NewCoreError(models.ErrInvalidInput, false, "project context must carry a project id")
	}
	if opts.MinSubtasks <= 0 {
		opts.MinSubtasks = 1
	}
	if opts.MaxSubtasks <= 0 {
		opts.MaxSubtasks = 10
	}

	systemPrompt := fmt.Sprintf(systemPromptTemplate, opts.MaxSubtasks)
	userPrompt := buildUserPrompt(instruction, pctx)

	genResult, err := d.backend.Generate(ctx, systemPrompt, userPrompt)
	if err != nil {
		return nil, models.NewCoreError(models.ErrAI, true, "adapter call failed: %v", err)
	}

	raw, err := parseResponse(genResult.Content)
	if err != nil {
		return nil, models.NewCoreError(models.ErrParse, false, "%v", err)
	}

	accepted, err := validateAndNormalize(raw)
	if err != nil {
		return nil, err
	}

	if len(accepted) < opts.MinSubtasks {
		return nil, models.NewCoreError(models.ErrInsufficientSubtasks, false,
			"decomposition produced %d sub-tasks, fewer than the minimum %d", len(accepted), opts.MinSubtasks)
	}
	if len(accepted) > opts.MaxSubtasks {
		accepted = accepted[:opts.MaxSubtasks]
	}

	parentID := newParentID()
	now := time.Now().UTC()
	subTasks := make([]*models.SubTask, 0, len(accepted))
	for i, rt := range accepted {
		subTasks = append(subTasks, &models.SubTask{
			ID:                 fmt.Sprintf("%s-%03d", parentID, i+1),
			ParentID:           parentID,
			Title:              rt.Title,
			Description:        rt.Description,
			AcceptanceCriteria: rt.AcceptanceCriteria,
			EstimatedEffort:    models.NormalizeEffort(rt.EstimatedEffort),
			Status:             models.SubTaskPending,
			CreatedAt:          now,
			UpdatedAt:          now,
		})
	}

	DetectDependencies(subTasks)

	return &Result{
		ParentID:   parentID,
		SubTasks:   subTasks,
		TokenCount: genResult.InputTokens + genResult.OutputTokens,
		DurationMS: time.Since(start).Milliseconds(),
	}, nil
}

func buildUserPrompt(instruction string, pctx ProjectContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Project: %s\n", pctx.ProjectID)
	if len(pctx.TechStack) > 0 {
		fmt.Fprintf(&b, "Tech stack: %s\n", strings.Join(pctx.TechStack, ", "))
	}
	if len(pctx.Files) > 0 {
		fmt.Fprintf(&b, "Relevant files: %s\n", strings.Join(pctx.Files, ", "))
	}
	if pctx.Notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", pctx.Notes)
	}
	fmt.Fprintf(&b, "\nInstruction: %s\n", instruction)
	return b.String()
}

// parseResponse accepts either a fenced ```json block or the longest {...}
// slice in the response, per §4.1's parsing contract.
func parseResponse(content string) (*rawResponse, error) {
	candidate := extractJSONObject(content)
	if candidate == "" {
		return nil, fmt.Errorf("no JSON object found in adapter response")
	}

	var resp rawResponse
	if err := json.Unmarshal([]byte(candidate), &resp); err != nil {
		return nil, fmt.Errorf("unmarshal decomposition JSON: %w", err)
	}
	return &resp, nil
}

func extractJSONObject(content string) string {
	if fenced := extractFencedJSON(content); fenced != "" {
		return fenced
	}
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || end <= start {
		return ""
	}
	return content[start : end+1]
}

func extractFencedJSON(content string) string {
	const fence = "```"
	start := strings.Index(content, fence+"json")
	offset := len(fence) + 4
	if start == -1 {
		start = strings.Index(content, fence)
		offset = len(fence)
		if start == -1 {
			return ""
		}
	}
	rest := content[start+offset:]
	end := strings.Index(rest, fence)
	if end == -1 {
		return ""
	}
	return strings.TrimSpace(rest[:end])
}

func validateAndNormalize(resp *rawResponse) ([]rawSubTask, error) {
	if resp == nil {
		return nil, models.NewCoreError(models.ErrValidation, false, "decomposition returned no sub-tasks")
	}

	accepted := make([]rawSubTask, 0, len(resp.SubTasks))
	for _, st := range resp.SubTasks {
		title := strings.TrimSpace(st.Title)
		description := strings.TrimSpace(st.Description)
		if title == "" || description == "" {
			return nil, models.NewCoreError(models.ErrValidation, false,
				"sub-task entry missing required title or description")
		}

		var criteria []string
		for _, c := range st.AcceptanceCriteria {
			c = strings.TrimSpace(c)
			if c != "" {
				criteria = append(criteria, c)
			}
		}

		accepted = append(accepted, rawSubTask{
			Title:              title,
			Description:        description,
			AcceptanceCriteria: criteria,
			EstimatedEffort:    string(models.NormalizeEffort(st.EstimatedEffort)),
		})
	}
	return accepted, nil
}

// newParentID generates task-<base36-timestamp>-<random-6>.
func newParentID() string {
	ts := strconv.FormatInt(time.Now().UTC().UnixNano(), 36)
	return fmt.Sprintf("task-%s-%06d", ts, rand.Intn(1_000_000))
}
