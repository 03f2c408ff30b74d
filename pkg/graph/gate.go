package graph

import (
	"github.com/go-go-golems/stackctl/pkg/stack"
	"github.com/go-go-golems/stackctl/pkg/state"
)

// Eligible reports whether every dependency edge of service holds against
// the observed states. It is a pure function of its inputs; the orchestrator
// re-invokes it on every state transition.
func (g *Graph) Eligible(service string, states map[string]state.Status) bool {
	for _, e := range g.edges[service] {
		if !states[e.Target].Satisfies(e.Condition) {
			return false
		}
	}
	return true
}

// Blocked returns the edges that can no longer be satisfied without
// intervention: a service_healthy edge whose target is terminally unhealthy
// or exited, or a service_started edge whose target has exited. An empty
// result means the service is either eligible or still waiting.
func (g *Graph) Blocked(service string, states map[string]state.Status) []Edge {
	var out []Edge
	for _, e := range g.edges[service] {
		st := states[e.Target]
		switch e.Condition {
		case stack.ConditionHealthy:
			if st == state.StatusUnhealthy || st == state.StatusExited {
				out = append(out, e)
			}
		case stack.ConditionStarted:
			if st == state.StatusExited {
				out = append(out, e)
			}
		}
	}
	return out
}
