// Package graph provides a dependency graph for sub-task scheduling.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/kawanishi0117/agent-orchestrator/pkg/models"
)

// ErrCycleDetected indicates a circular dependency was found in the sub-task graph.
var ErrCycleDetected = errors.New("circular dependency detected")

// DependencyGraph represents a directed graph of sub-task dependencies.
// Sub-tasks are nodes, and edges represent "blocked by" relationships.
// Per the data model, it is derived and immutable once Build succeeds;
// the completed-set and has-cycle flag are the only fields that evolve
// afterwards (completion tracking, not structural changes).
type DependencyGraph struct {
	mu sync.RWMutex
	// nodes maps sub-task ID to the sub-task itself.
	nodes map[string]*models.SubTask
	// edges maps sub-task ID to IDs of sub-tasks it depends on (is blocked by).
	edges map[string][]string
	// completed tracks which sub-tasks have been marked complete.
	completed map[string]bool
	// hasCycle is latched by Build; HasCycle recomputes it by DFS on each call.
	hasCycle bool
	debugLog func(format string, args ...interface{})
}

// New creates a new empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		nodes:     make(map[string]*models.SubTask),
		edges:     make(map[string][]string),
		completed: make(map[string]bool),
		debugLog:  func(format string, args ...interface{}) {},
	}
}

// SetDebugLog sets the debug logging function.
func (g *DependencyGraph) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		g.debugLog = fn
	}
}

// Build constructs the dependency graph from a slice of sub-tasks using
// each sub-task's DependsOn edges. It rejects edges referencing an unknown
// node, since invariant 3 of §8 requires the edge set refer only to nodes
// present in the node set. On a cycle the nodes and edges stay populated,
// hasCycle is latched, and ErrCycleDetected is returned.
func (g *DependencyGraph) Build(tasks []*models.SubTask) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.debugLog("[graph.Build] building graph from %d tasks", len(tasks))

	for _, task := range tasks {
		g.nodes[task.ID] = task
		g.edges[task.ID] = nil
	}

	for _, task := range tasks {
		for _, depID := range task.DependsOn {
			if _, exists := g.nodes[depID]; !exists {
				return fmt.Errorf("task %s depends on unknown task %s", task.ID, depID)
			}
			g.edges[task.ID] = append(g.edges[task.ID], depID)
		}
	}

	g.hasCycle = g.hasCycleLocked()
	if g.hasCycle {
		return ErrCycleDetected
	}

	g.debugLog("[graph.Build] graph built successfully with %d nodes", len(g.nodes))
	return nil
}

// HasCycle returns true if the graph contains a circular dependency.
// Uses depth-first search with gray/white/black coloring to detect back edges.
func (g *DependencyGraph) HasCycle() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.hasCycleLocked()
}

func (g *DependencyGraph) hasCycleLocked() bool {
	const white, gray, black = 0, 1, 2
	colors := make(map[string]int, len(g.nodes))

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = gray
		for _, depID := range g.edges[id] {
			switch colors[depID] {
			case gray:
				return true
			case white:
				if visit(depID) {
					return true
				}
			}
		}
		colors[id] = black
		return false
	}

	// Deterministic iteration order keeps hasCycle's result reproducible
	// for a given node set, which matters for test assertions.
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if colors[id] == white {
			if visit(id) {
				return true
			}
		}
	}
	return false
}

// Levels groups nodes into Kahn-style parallel execution levels: each
// level is the set of nodes whose dependencies are all in a prior level
// (in-degree zero once prior levels are removed). If the graph has a
// cycle, the unresolved remainder is emitted as one final level so the
// disjoint union of levels still equals the input node set (invariant 4
// of §8); callers must separately check HasCycle to know the schedule
// was refused.
func (g *DependencyGraph) Levels() [][]string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	inDegree := make(map[string]int, len(g.nodes))
	for id := range g.nodes {
		inDegree[id] = len(g.edges[id])
	}

	remaining := make(map[string]bool, len(g.nodes))
	for id := range g.nodes {
		remaining[id] = true
	}

	var levels [][]string
	for len(remaining) > 0 {
		var level []string
		for id := range remaining {
			if inDegree[id] == 0 {
				level = append(level, id)
			}
		}
		if len(level) == 0 {
			// Cycle: emit everything left as a single final level.
			var rest []string
			for id := range remaining {
				rest = append(rest, id)
			}
			sort.Strings(rest)
			levels = append(levels, rest)
			break
		}
		sort.Strings(level)
		for _, id := range level {
			delete(remaining, id)
		}
		for id := range remaining {
			for _, depID := range g.edges[id] {
				if depID2set(level, depID) {
					inDegree[id]--
				}
			}
		}
		levels = append(levels, level)
	}
	return levels
}

func depID2set(level []string, id string) bool {
	for _, v := range level {
		if v == id {
			return true
		}
	}
	return false
}

// GetReady returns sub-task IDs that have no unmet dependencies and are
// not yet completed; these can be executed in parallel.
func (g *DependencyGraph) GetReady() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []string
	for id, task := range g.nodes {
		if g.completed[id] {
			continue
		}
		if task.Status == models.SubTaskCompleted || task.Status == models.SubTaskFailed {
			continue
		}

		allDepsComplete := true
		for _, depID := range g.edges[id] {
			if g.completed[depID] {
				continue
			}
			if depTask, exists := g.nodes[depID]; exists && depTask.Status == models.SubTaskCompleted {
				continue
			}
			allDepsComplete = false
			break
		}
		if allDepsComplete {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)
	return ready
}

// MarkComplete marks a sub-task as completed in the graph.
func (g *DependencyGraph) MarkComplete(taskID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.completed[taskID] = true
}

// GetTask returns the sub-task for a given ID, or nil if not found.
func (g *DependencyGraph) GetTask(taskID string) *models.SubTask {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[taskID]
}

// Size returns the number of sub-tasks in the graph.
func (g *DependencyGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// GetDependencies returns the IDs of sub-tasks that the given sub-task depends on.
func (g *DependencyGraph) GetDependencies(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.edges[taskID]
}

// GetDependents returns the IDs of sub-tasks that depend on the given sub-task.
func (g *DependencyGraph) GetDependents(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var dependents []string
	for id, deps := range g.edges {
		for _, depID := range deps {
			if depID == taskID {
				dependents = append(dependents, id)
				break
			}
		}
	}
	sort.Strings(dependents)
	return dependents
}

// GetCompletedIDs returns the IDs of all sub-tasks marked as completed in the graph.
func (g *DependencyGraph) GetCompletedIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ids []string
	for id, done := range g.completed {
		if done {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
