// Package depgraph stores task dependency annotations.
//
// The graph is a plain adjacency list kept in Task.DependsOn. It is never
// validated for cycles and never consulted when dates are computed.
package depgraph

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"bizcal/internal/model"
)

var ErrTaskNotFound = errors.New("task not found")

// Store persists the adjacency list of one task.
type Store interface {
	GetTask(ctx context.Context, id string) (model.Task, bool, error)
	SetDependencies(ctx context.Context, id string, deps []string) error
}

// Edge points from a task to one of its predecessors.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type Graph struct {
	store Store
}

func New(store Store) *Graph {
	return &Graph{store: store}
}

// Add records that taskID depends on predecessor. Adding an existing edge
// is a no-op.
func (g *Graph) Add(ctx context.Context, taskID, predecessor string) ([]string, error) {
	taskID, predecessor = strings.TrimSpace(taskID), strings.TrimSpace(predecessor)
	if taskID == "" || predecessor == "" {
		return nil, errors.New("depgraph: task and predecessor ids are required")
	}
	t, err := g.load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if slices.Contains(t.DependsOn, predecessor) {
		return t.DependsOn, nil
	}
	deps := append(slices.Clone(t.DependsOn), predecessor)
	if err := g.store.SetDependencies(ctx, taskID, deps); err != nil {
		return nil, fmt.Errorf("depgraph: add %s -> %s: %w", taskID, predecessor, err)
	}
	return deps, nil
}

// Remove deletes the edge if present.
func (g *Graph) Remove(ctx context.Context, taskID, predecessor string) ([]string, error) {
	t, err := g.load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	i := slices.Index(t.DependsOn, predecessor)
	if i < 0 {
		return t.DependsOn, nil
	}
	deps := slices.Delete(slices.Clone(t.DependsOn), i, i+1)
	if err := g.store.SetDependencies(ctx, taskID, deps); err != nil {
		return nil, fmt.Errorf("depgraph: remove %s -> %s: %w", taskID, predecessor, err)
	}
	return deps, nil
}

// List returns the predecessors of taskID.
func (g *Graph) List(ctx context.Context, taskID string) ([]string, error) {
	t, err := g.load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return slices.Clone(t.DependsOn), nil
}

func (g *Graph) load(ctx context.Context, id string) (model.Task, error) {
	t, ok, err := g.store.GetTask(ctx, id)
	if err != nil {
		return model.Task{}, fmt.Errorf("depgraph: load %q: %w", id, err)
	}
	if !ok {
		return model.Task{}, fmt.Errorf("depgraph: %q: %w", id, ErrTaskNotFound)
	}
	return t, nil
}

// Edges flattens the adjacency lists of tasks for the graph view. Virtual
// occurrences are skipped; their series parent carries the edges.
func Edges(tasks []model.Task) []Edge {
	out := make([]Edge, 0)
	for _, t := range tasks {
		if t.IsSeriesLinked() {
			continue
		}
		for _, dep := range t.DependsOn {
			out = append(out, Edge{From: t.ID, To: dep})
		}
	}
	return out
}
