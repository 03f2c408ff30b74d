package cmds

import (
	"path/filepath"

	"github.com/go-go-golems/stackctl/pkg/bus"
	"github.com/go-go-golems/stackctl/pkg/orchestrator"
	"github.com/go-go-golems/stackctl/pkg/stack"
	"github.com/go-go-golems/stackctl/pkg/state"
)

// resident bundles what the long-running modes (serve, watch) need: the
// descriptor, the event bus, the authoritative store and the orchestrator.
type resident struct {
	file  *stack.File
	bus   *bus.Bus
	store *state.Store
	orch  *orchestrator.Orchestrator
}

func newResident(opts rootOptions) (*resident, error) {
	f, err := stack.LoadFromFile(opts.StackFile)
	if err != nil {
		return nil, err
	}
	b, err := bus.NewInMemoryBus()
	if err != nil {
		return nil, err
	}
	store := state.NewStore(f.ServiceNames(), b.Publisher)
	launchers, err := makeLaunchers(f, opts)
	if err != nil {
		return nil, err
	}
	orch, err := orchestrator.New(f, store, launchers, orchestrator.Options{
		RootDir:     opts.RootDir,
		BaseDir:     filepath.Dir(opts.StackFile),
		OnUnhealthy: opts.OnUnhealthy,
	})
	if err != nil {
		return nil, err
	}
	return &resident{file: f, bus: b, store: store, orch: orch}, nil
}
