// Package launch starts and stops the actual service workloads. Two
// launchers exist: exec for local processes and docker for containers; the
// orchestrator picks one per service based on the descriptor.
package launch

import (
	"context"
	"time"
)

// Spec is a fully resolved service ready to launch: env merged, paths
// absolute.
type Spec struct {
	Name    string
	Image   string
	Command []string
	Cwd     string
	Env     map[string]string
	Volumes []string
	Ports   []string
	Restart string
}

// Handle identifies a launched workload. Exactly one of PID or ContainerID
// is set.
type Handle struct {
	Name        string
	PID         int
	ContainerID string
	StdoutLog   string
	StderrLog   string
	ExitInfo    string
	StartedAt   time.Time
}

type Launcher interface {
	Start(ctx context.Context, spec Spec) (Handle, error)
	Stop(ctx context.Context, h Handle) error
	Alive(ctx context.Context, h Handle) bool
}
