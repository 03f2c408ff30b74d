package state

import (
	"time"

	"github.com/go-go-golems/stackctl/pkg/stack"
)

// Status is the orchestrator's view of a single service. It is mutated only
// by process-lifecycle events and health-probe results.
type Status string

const (
	// StatusNotStarted is the initial state of every declared service.
	StatusNotStarted Status = "not-started"
	// StatusStarted means the process (or container) has launched but its
	// health probe has not yet resolved.
	StatusStarted Status = "started"
	// StatusHealthy means the service's probe passed, or the service has no
	// probe and is treated as healthy on launch.
	StatusHealthy Status = "healthy"
	// StatusUnhealthy means the probe exhausted its retry budget. The state
	// is terminal until the stack is restarted.
	StatusUnhealthy Status = "unhealthy"
	// StatusExited means the process is gone.
	StatusExited Status = "exited"
)

// Satisfies reports whether this status meets a dependency edge condition.
// service_started tolerates an unhealthy-but-alive target; service_healthy
// does not.
func (s Status) Satisfies(cond stack.Condition) bool {
	switch cond {
	case stack.ConditionStarted:
		return s == StatusStarted || s == StatusHealthy || s == StatusUnhealthy
	case stack.ConditionHealthy:
		return s == StatusHealthy
	default:
		return false
	}
}

// Alive reports whether the underlying process is assumed to be running.
func (s Status) Alive() bool {
	return s == StatusStarted || s == StatusHealthy || s == StatusUnhealthy
}

// EventsTopic is the pub/sub topic every status transition is published on.
const EventsTopic = "stack.events"

// ChangeEvent is the JSON payload published on EventsTopic.
type ChangeEvent struct {
	Service string    `json:"service"`
	From    Status    `json:"from"`
	To      Status    `json:"to"`
	Reason  string    `json:"reason,omitempty"`
	At      time.Time `json:"at"`
}
