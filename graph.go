package restate

import (
	"sync"
)

// InstanceGraph tracks dependency relationships between live instances with
// safe traversal.
type InstanceGraph struct {
	// Adjacency lists keep memory proportional to the edge count.
	downstream map[*Instance][]*Instance
	upstream   map[*Instance][]*Instance
	mu         sync.RWMutex
}

// NewInstanceGraph creates an empty dependency graph.
func NewInstanceGraph() *InstanceGraph {
	return &InstanceGraph{
		downstream: make(map[*Instance][]*Instance),
		upstream:   make(map[*Instance][]*Instance),
	}
}

// AddDependency records that dependent was built on top of dependency.
func (g *InstanceGraph) AddDependency(dependent, dependency *Instance) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.downstream[dependency] = appendUnique(g.downstream[dependency], dependent)
	g.upstream[dependent] = appendUnique(g.upstream[dependent], dependency)
}

// Remove drops every edge touching inst.
func (g *InstanceGraph) Remove(inst *Instance) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, dep := range g.upstream[inst] {
		g.downstream[dep] = removeElement(g.downstream[dep], inst)
		if len(g.downstream[dep]) == 0 {
			delete(g.downstream, dep)
		}
	}
	for _, dependent := range g.downstream[inst] {
		g.upstream[dependent] = removeElement(g.upstream[dependent], inst)
		if len(g.upstream[dependent]) == 0 {
			delete(g.upstream, dependent)
		}
	}
	delete(g.upstream, inst)
	delete(g.downstream, inst)
}

// FindDependents returns every transitive dependent of start. The traversal
// is iterative, so deep graphs cannot overflow the stack.
func (g *InstanceGraph) FindDependents(start *Instance) []*Instance {
	g.mu.RLock()
	defer g.mu.RUnlock()

	stack := make([]*Instance, 0, 32)
	stack = append(stack, start)

	dependents := make([]*Instance, 0, 32)
	visited := make(map[*Instance]bool, 32)

	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if visited[current] {
			continue
		}
		visited[current] = true

		if current != start {
			dependents = append(dependents, current)
		}

		for _, dep := range g.downstream[current] {
			if !visited[dep] {
				stack = append(stack, dep)
			}
		}
	}

	return dependents
}

// GetDirectDependents returns only direct dependents (no recursion).
func (g *InstanceGraph) GetDirectDependents(inst *Instance) []*Instance {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if deps, exists := g.downstream[inst]; exists {
		result := make([]*Instance, len(deps))
		copy(result, deps)
		return result
	}
	return nil
}

// GetDirectDependencies returns what inst was built on top of.
func (g *InstanceGraph) GetDirectDependencies(inst *Instance) []*Instance {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if deps, exists := g.upstream[inst]; exists {
		result := make([]*Instance, len(deps))
		copy(result, deps)
		return result
	}
	return nil
}

func appendUnique[T comparable](slice []T, item T) []T {
	for _, existing := range slice {
		if existing == item {
			return slice
		}
	}
	return append(slice, item)
}

func removeElement[T comparable](slice []T, item T) []T {
	for i, existing := range slice {
		if existing == item {
			return append(slice[:i], slice[i+1:]...)
		}
	}
	return slice
}
