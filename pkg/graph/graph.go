// Package graph models the declared service dependencies as an explicit DAG
// and turns the descriptor's depends_on conditions into readiness gates.
package graph

import (
	"sort"

	"github.com/go-go-golems/stackctl/pkg/stack"
	"github.com/pkg/errors"
)

// Edge is a single ordering constraint: Service must not start until Target
// satisfies Condition.
type Edge struct {
	Service   string          `json:"service"`
	Target    string          `json:"target"`
	Condition stack.Condition `json:"condition"`
}

type Graph struct {
	// edges keyed by dependent service, targets sorted for determinism.
	edges map[string][]Edge
	nodes []string
}

// Build validates the dependency structure of a stack file and returns its
// DAG. Cycles are a configuration error, detected here so the orchestrator
// can never deadlock on one.
func Build(f *stack.File) (*Graph, error) {
	g := &Graph{edges: map[string][]Edge{}}
	for _, name := range f.ServiceNames() {
		g.nodes = append(g.nodes, name)
		svc := f.Services[name]
		targets := make([]string, 0, len(svc.DependsOn))
		for t := range svc.DependsOn {
			targets = append(targets, t)
		}
		sort.Strings(targets)
		for _, t := range targets {
			g.edges[name] = append(g.edges[name], Edge{
				Service:   name,
				Target:    t,
				Condition: svc.DependsOn[t],
			})
		}
	}
	if cycle := g.findCycle(); len(cycle) > 0 {
		return nil, errors.Errorf("dependency cycle: %v", cycle)
	}
	return g, nil
}

// Nodes returns all service names in sorted order.
func (g *Graph) Nodes() []string {
	return append([]string{}, g.nodes...)
}

// Edges returns the dependency edges of one service.
func (g *Graph) Edges(service string) []Edge {
	return append([]Edge{}, g.edges[service]...)
}

// AllEdges returns every edge, grouped by dependent in sorted order.
func (g *Graph) AllEdges() []Edge {
	var out []Edge
	for _, n := range g.nodes {
		out = append(out, g.edges[n]...)
	}
	return out
}

// Dependents returns the services that declare an edge on target.
func (g *Graph) Dependents(target string) []string {
	var out []string
	for _, n := range g.nodes {
		for _, e := range g.edges[n] {
			if e.Target == target {
				out = append(out, n)
				break
			}
		}
	}
	return out
}

// IsLeaf reports whether a service has no edges in either direction.
func (g *Graph) IsLeaf(service string) bool {
	if len(g.edges[service]) > 0 {
		return false
	}
	return len(g.Dependents(service)) == 0
}

// TopoOrder returns a valid start order: every service appears after all of
// its dependency targets. Ties break lexicographically so the order is
// stable across runs.
func (g *Graph) TopoOrder() []string {
	indegree := map[string]int{}
	dependents := map[string][]string{}
	for _, n := range g.nodes {
		indegree[n] = len(g.edges[n])
		for _, e := range g.edges[n] {
			dependents[e.Target] = append(dependents[e.Target], n)
		}
	}

	var ready []string
	for _, n := range g.nodes {
		if indegree[n] == 0 {
			ready = append(ready, n)
		}
	}
	sort.Strings(ready)

	var order []string
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)
		for _, d := range dependents[n] {
			indegree[d]--
			if indegree[d] == 0 {
				ready = append(ready, d)
			}
		}
		sort.Strings(ready)
	}
	return order
}

// findCycle returns one dependency cycle, or nil. Standard three-color DFS
// over the edge set.
func (g *Graph) findCycle() []string {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := map[string]int{}
	var stack []string
	var cycle []string

	var visit func(n string) bool
	visit = func(n string) bool {
		color[n] = grey
		stack = append(stack, n)
		for _, e := range g.edges[n] {
			switch color[e.Target] {
			case grey:
				for i, s := range stack {
					if s == e.Target {
						cycle = append(append([]string{}, stack[i:]...), e.Target)
						return true
					}
				}
			case white:
				if visit(e.Target) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[n] = black
		return false
	}

	for _, n := range g.nodes {
		if color[n] == white && visit(n) {
			return cycle
		}
	}
	return nil
}
