package submission

import (
	"fmt"
	"sort"

	"github.com/Candlest/seele/pkg/toposort"
)

// Graph wraps the step dependency graph built from a Document, exposing the
// DAG operations the composer needs: readiness checks and skip propagation.
type Graph struct {
	steps map[string]StepSpec
	graph *toposort.Graph
}

// BuildGraph validates doc and returns its dependency graph. It rejects
// malformed documents: a step that needs an undefined step, or a cycle.
func BuildGraph(doc Document) (*Graph, error) {
	g := toposort.NewGraph()

	for name := range doc.Steps {
		g.AddNode(name)
	}

	for name, spec := range doc.Steps {
		if !ValidAction(spec.Action) {
			return nil, fmt.Errorf("%w: step %q has action %q", ErrInvalidAction, name, spec.Action)
		}

		for _, dep := range spec.Needs {
			if _, ok := doc.Steps[dep]; !ok {
				return nil, fmt.Errorf("%w: step %q needs %q", ErrUndefinedStep, name, dep)
			}

			g.AddEdge(dep, name)
		}
	}

	for name := range doc.Steps {
		if cycle := g.FindCycle(name); len(cycle) > 1 {
			return nil, fmt.Errorf("%w: %v", ErrCycle, cycle)
		}
	}

	return &Graph{steps: doc.Steps, graph: g}, nil
}

// Needs returns the prerequisite step names for name.
func (g *Graph) Needs(name string) []string {
	return g.steps[name].Needs
}

// StepNames returns all step names in the graph, sorted for deterministic
// iteration order.
func (g *Graph) StepNames() []string {
	names := make([]string, 0, len(g.steps))
	for name := range g.steps {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Ready returns the steps whose status is Pending and whose every
// prerequisite has Status == Success, given the current status map.
func (g *Graph) Ready(status map[string]StepStatus) []string {
	var ready []string

	for _, name := range g.StepNames() {
		if status[name] != StatusPending {
			continue
		}

		allSatisfied := true

		for _, dep := range g.Needs(name) {
			if status[dep] != StatusSuccess {
				allSatisfied = false

				break
			}
		}

		if allSatisfied {
			ready = append(ready, name)
		}
	}

	return ready
}

// Dependents returns the transitive closure of steps reachable from name by
// following "needs" edges forward — i.e. every step that directly or
// indirectly needs name. Used to compute the Skipped set when name Fails.
func (g *Graph) Dependents(name string) []string {
	return g.graph.Dependents(name)
}
