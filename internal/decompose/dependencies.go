package decompose

import (
	"strings"

	"github.com/kawanishi0117/agent-orchestrator/internal/graph"
	"github.com/kawanishi0117/agent-orchestrator/pkg/models"
)

// DetectDependencies applies the textual "after X" / "depends on X" heuristic
// over a produced sub-task list, populating each sub-task's DependsOn in
// place. Edge direction is from the dependent sub-task to its dependency.
// This heuristic is intentionally conservative and may under-detect;
// it is part of the contract, not a bug to be "improved" silently.
func DetectDependencies(subTasks []*models.SubTask) {
	for _, candidate := range subTasks {
		haystack := strings.ToLower(candidate.Description + " " + strings.Join(candidate.AcceptanceCriteria, " "))
		for _, other := range subTasks {
			if other.ID == candidate.ID {
				continue
			}
			title := strings.ToLower(other.Title)
			if title == "" {
				continue
			}
			if strings.Contains(haystack, "after "+title) || strings.Contains(haystack, "depends on "+title) {
				candidate.DependsOn = append(candidate.DependsOn, other.ID)
			}
		}
	}
}

// BuildGraph builds a DependencyGraph over the given sub-tasks.
func BuildGraph(subTasks []*models.SubTask) (*graph.DependencyGraph, error) {
	g := graph.New()
	if err := g.Build(subTasks); err != nil {
		return g, err
	}
	return g, nil
}

// ParallelLevels groups sub-task ids into Kahn-style parallel execution
// levels (§4.1). The graph must already have been built via BuildGraph.
func ParallelLevels(g *graph.DependencyGraph) [][]string {
	return g.Levels()
}
