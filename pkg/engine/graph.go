package engine

import (
	"fmt"
	"strings"
)

// Graph is the validated set of units plus their dependency edges, addressed
// by unit ID. It is immutable once built; the scheduler keeps its own
// readiness counters.
type Graph struct {
	// units maps unit IDs to units.
	units map[string]*Unit

	// order preserves insertion order for deterministic reporting.
	order []string

	// dependents maps a unit ID to the units that depend on it.
	dependents map[string][]string

	// indegree is the number of incoming edges per unit.
	indegree map[string]int
}

// NewGraph validates the units (unique IDs, known dependency targets, no
// cycles) and builds the edge tables. Validation failures are configuration
// errors: they surface before any unit executes.
func NewGraph(units []*Unit) (*Graph, error) {
	g := &Graph{
		units:      make(map[string]*Unit, len(units)),
		order:      make([]string, 0, len(units)),
		dependents: make(map[string][]string),
		indegree:   make(map[string]int, len(units)),
	}

	for _, unit := range units {
		if unit.ID == "" {
			return nil, NewConfigurationError("unit has empty ID", nil).WithSystem(unit.System)
		}
		if _, exists := g.units[unit.ID]; exists {
			return nil, NewConfigurationError(fmt.Sprintf("duplicate unit ID %s", unit.ID), nil)
		}
		g.units[unit.ID] = unit
		g.order = append(g.order, unit.ID)
		g.indegree[unit.ID] = 0
	}

	for _, unit := range units {
		for _, dep := range unit.DependsOn {
			if _, exists := g.units[dep]; !exists {
				return nil, NewConfigurationError(
					fmt.Sprintf("unit %s depends on unknown unit %s", unit.ID, dep), nil,
				).WithUnit(unit.ID)
			}
			g.dependents[dep] = append(g.dependents[dep], unit.ID)
			g.indegree[unit.ID]++
		}
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, NewConfigurationError(
			fmt.Sprintf("dependency cycle: %s", strings.Join(cycle, " -> ")), nil)
	}

	return g, nil
}

// Len returns the number of units.
func (g *Graph) Len() int {
	return len(g.order)
}

// Units returns the units in insertion order.
func (g *Graph) Units() []*Unit {
	out := make([]*Unit, len(g.order))
	for i, id := range g.order {
		out[i] = g.units[id]
	}
	return out
}

// Unit returns the unit with the given ID.
func (g *Graph) Unit(id string) (*Unit, bool) {
	u, ok := g.units[id]
	return u, ok
}

// Dependents returns the IDs of units that depend on id.
func (g *Graph) Dependents(id string) []string {
	return g.dependents[id]
}

// Indegree returns a fresh copy of the per-unit incoming edge counts, used by
// the scheduler as its readiness counters.
func (g *Graph) Indegree() map[string]int {
	out := make(map[string]int, len(g.indegree))
	for id, n := range g.indegree {
		out[id] = n
	}
	return out
}

// findCycle runs a depth-first search over the dependency edges and returns
// one cycle path, or nil when the graph is acyclic.
func (g *Graph) findCycle() []string {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(g.units))
	var path []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		state[id] = inStack
		path = append(path, id)

		for _, dep := range g.units[id].DependsOn {
			switch state[dep] {
			case inStack:
				// Close the loop for the error message.
				start := 0
				for i, p := range path {
					if p == dep {
						start = i
						break
					}
				}
				cycle = append(append([]string{}, path[start:]...), dep)
				return true
			case unvisited:
				if visit(dep) {
					return true
				}
			}
		}

		path = path[:len(path)-1]
		state[id] = done
		return false
	}

	for _, id := range g.order {
		if state[id] == unvisited && visit(id) {
			return cycle
		}
	}
	return nil
}
