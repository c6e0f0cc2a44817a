package graph

import (
	"testing"

	"github.com/kawanishi0117/agent-orchestrator/pkg/models"
)

func TestBuild_RejectsUnknownDependency(t *testing.T) {
	g := New()
	tasks := []*models.SubTask{
		{ID: "task-1-001", DependsOn: []string{"task-1-999"}},
	}
	if err := g.Build(tasks); err == nil {
		t.Fatal("expected an error when an edge references an unknown node")
	}
}

func TestBuild_DetectsCycle(t *testing.T) {
	g := New()
	tasks := []*models.SubTask{
		{ID: "a", DependsOn: []string{"b"}},
		{ID: "b", DependsOn: []string{"c"}},
		{ID: "c", DependsOn: []string{"a"}},
	}
	if err := g.Build(tasks); err != ErrCycleDetected {
		t.Fatalf("expected ErrCycleDetected, got %v", err)
	}
	if !g.HasCycle() {
		t.Fatal("expected HasCycle to latch true after Build")
	}
}

func TestBuild_AcyclicGraph(t *testing.T) {
	g := New()
	tasks := []*models.SubTask{
		{ID: "task-1-001"},
		{ID: "task-1-002"},
		{ID: "task-1-003"},
	}
	if err := g.Build(tasks); err != nil {
		t.Fatalf("unexpected error for independent tasks: %v", err)
	}
	if g.HasCycle() {
		t.Fatal("expected HasCycle to be false for three independent tasks")
	}
	levels := g.Levels()
	if len(levels) != 1 || len(levels[0]) != 3 {
		t.Fatalf("expected a single parallel level of 3, got %v", levels)
	}
}

// TestLevels_DisjointUnionEqualsInput asserts testable property 4 of §8: the
// disjoint union of parallel-level groups equals the input task set.
func TestLevels_DisjointUnionEqualsInput(t *testing.T) {
	g := New()
	tasks := []*models.SubTask{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
		{ID: "c", DependsOn: []string{"a"}},
		{ID: "d", DependsOn: []string{"b", "c"}},
	}
	if err := g.Build(tasks); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	levels := g.Levels()
	if len(levels) != 3 {
		t.Fatalf("expected 3 levels (a) (b,c) (d), got %v", levels)
	}
	seen := make(map[string]bool)
	for _, level := range levels {
		for _, id := range level {
			if seen[id] {
				t.Fatalf("id %s appeared in more than one level", id)
			}
			seen[id] = true
		}
	}
	for _, task := range tasks {
		if !seen[task.ID] {
			t.Fatalf("id %s missing from levels output", task.ID)
		}
	}
}

func TestLevels_CycleEmitsRemainderAsFinalLevel(t *testing.T) {
	g := New()
	tasks := []*models.SubTask{
		{ID: "a", DependsOn: []string{"b"}},
		{ID: "b", DependsOn: []string{"a"}},
	}
	// Build returns ErrCycleDetected but still populates nodes/edges for Levels.
	_ = g.Build(tasks)
	levels := g.Levels()
	if len(levels) != 1 || len(levels[0]) != 2 {
		t.Fatalf("expected the unresolved remainder as one final level, got %v", levels)
	}
}

func TestGetReady_RespectsCompletionState(t *testing.T) {
	g := New()
	tasks := []*models.SubTask{
		{ID: "a", Status: models.SubTaskPending},
		{ID: "b", DependsOn: []string{"a"}, Status: models.SubTaskPending},
	}
	if err := g.Build(tasks); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ready := g.GetReady()
	if len(ready) != 1 || ready[0] != "a" {
		t.Fatalf("expected only 'a' ready before 'a' completes, got %v", ready)
	}
	g.MarkComplete("a")
	ready = g.GetReady()
	if len(ready) != 1 || ready[0] != "b" {
		t.Fatalf("expected 'b' ready once 'a' completes, got %v", ready)
	}
}

func TestGetDependents_IsInverseOfGetDependencies(t *testing.T) {
	g := New()
	tasks := []*models.SubTask{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
	}
	if err := g.Build(tasks); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	deps := g.GetDependencies("b")
	if len(deps) != 1 || deps[0] != "a" {
		t.Fatalf("expected b to depend on a, got %v", deps)
	}
	dependents := g.GetDependents("a")
	if len(dependents) != 1 || dependents[0] != "b" {
		t.Fatalf("expected a's dependents to be [b], got %v", dependents)
	}
}
