// Package orchestrator drives the readiness-gated startup choreography: it
// walks the dependency graph, launches each service once its gate passes,
// and feeds probe results back into the state store that the gates read.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/go-go-golems/stackctl/pkg/graph"
	"github.com/go-go-golems/stackctl/pkg/launch"
	"github.com/go-go-golems/stackctl/pkg/probe"
	"github.com/go-go-golems/stackctl/pkg/stack"
	"github.com/go-go-golems/stackctl/pkg/state"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Policy decides what happens to a dependent whose service_healthy target
// never recovers: fail the whole up, or block until the context gives up.
type Policy string

const (
	PolicyFail Policy = "fail"
	PolicyWait Policy = "wait"
)

type Options struct {
	RootDir     string
	BaseDir     string // stack file directory, for env_file resolution
	OnUnhealthy Policy
}

// Launchers holds one launcher per workload kind. Docker may be nil when the
// stack is exec-only.
type Launchers struct {
	Exec   launch.Launcher
	Docker launch.Launcher
}

type Orchestrator struct {
	file      *stack.File
	graph     *graph.Graph
	store     *state.Store
	launchers Launchers
	opts      Options

	mu      sync.Mutex
	handles map[string]launch.Handle
}

func New(file *stack.File, store *state.Store, launchers Launchers, opts Options) (*Orchestrator, error) {
	g, err := graph.Build(file)
	if err != nil {
		return nil, err
	}
	if opts.OnUnhealthy == "" {
		opts.OnUnhealthy = PolicyFail
	}
	return &Orchestrator{
		file:      file,
		graph:     g,
		store:     store,
		launchers: launchers,
		opts:      opts,
		handles:   map[string]launch.Handle{},
	}, nil
}

func (o *Orchestrator) Graph() *graph.Graph { return o.graph }

func (o *Orchestrator) Store() *state.Store { return o.store }

// Up starts every service, each gated on its dependency edges, and blocks
// until all of them resolve (healthy, or unhealthy under PolicyWait). On
// error the already-started services are torn down.
func (o *Orchestrator) Up(ctx context.Context) (*state.RunState, error) {
	eg, gctx := errgroup.WithContext(ctx)

	for _, name := range o.graph.TopoOrder() {
		eg.Go(func() error {
			return o.bringUp(gctx, name)
		})
	}

	if err := eg.Wait(); err != nil {
		log.Warn().Err(err).Msg("up failed; tearing down started services")
		downCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = o.Down(downCtx)
		return nil, err
	}

	return o.runState(), nil
}

// bringUp waits for the service's gate, launches it, and resolves its
// readiness.
func (o *Orchestrator) bringUp(ctx context.Context, name string) error {
	svc := o.file.Services[name]

	err := o.store.Await(ctx, func(states map[string]state.Status) (bool, error) {
		if o.graph.Eligible(name, states) {
			return true, nil
		}
		if o.opts.OnUnhealthy == PolicyFail {
			for _, e := range o.graph.Blocked(name, states) {
				// A restart-always target will come back; keep waiting.
				if o.file.Services[e.Target].Restart == "always" {
					continue
				}
				return false, errors.Errorf(
					"service %q blocked: dependency %q is %s but %s is required",
					name, e.Target, states[e.Target], e.Condition)
			}
		}
		return false, nil
	})
	if err != nil {
		return err
	}

	launcher, err := o.launcherFor(svc)
	if err != nil {
		return errors.Wrapf(err, "service %q", name)
	}
	spec, err := o.resolveSpec(name, svc)
	if err != nil {
		return err
	}

	h, err := launcher.Start(ctx, spec)
	if err != nil {
		return errors.Wrapf(err, "launch %q", name)
	}
	o.mu.Lock()
	o.handles[name] = h
	o.mu.Unlock()

	if err := o.store.Set(name, state.StatusStarted, "process launched"); err != nil {
		return err
	}

	if svc.Health == nil {
		// No probe: the service counts as healthy once launched, so healthy
		// edges on it can pass.
		return o.store.Set(name, state.StatusHealthy, "no healthcheck")
	}

	checker, err := probe.NewChecker(name, svc.Health)
	if err != nil {
		return err
	}
	p := &probe.Prober{
		Service: name,
		Checker: checker,
		Params:  probe.ParamsFrom(svc.Health),
		Store:   o.store,
	}
	if err := p.Run(ctx); err != nil {
		return err
	}

	if st, _ := o.store.Get(name); st == state.StatusUnhealthy && o.opts.OnUnhealthy == PolicyFail {
		return errors.Errorf("service %q never became healthy", name)
	}
	return nil
}

// Down stops services in reverse topological order so dependents go away
// before the things they depend on.
func (o *Orchestrator) Down(ctx context.Context) error {
	order := o.graph.TopoOrder()
	var lastErr error
	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		o.mu.Lock()
		h, ok := o.handles[name]
		o.mu.Unlock()
		if !ok {
			continue
		}
		launcher, err := o.launcherFor(o.file.Services[name])
		if err != nil {
			lastErr = err
			continue
		}
		if err := launcher.Stop(ctx, h); err != nil {
			log.Warn().Str("service", name).Err(err).Msg("stop failed")
			lastErr = err
		}
		_ = o.store.Set(name, state.StatusExited, "stopped")
	}
	return lastErr
}

// Monitor watches launched workloads and publishes exit transitions. Exec
// services declared restart:always are relaunched (containers rely on the
// engine's native policy). Blocks until ctx is cancelled.
func (o *Orchestrator) Monitor(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}

		o.mu.Lock()
		snapshot := make(map[string]launch.Handle, len(o.handles))
		for k, v := range o.handles {
			snapshot[k] = v
		}
		o.mu.Unlock()

		for name, h := range snapshot {
			st, _ := o.store.Get(name)
			if !st.Alive() {
				continue
			}
			svc := o.file.Services[name]
			launcher, err := o.launcherFor(svc)
			if err != nil {
				continue
			}
			if launcher.Alive(ctx, h) {
				continue
			}
			if err := o.store.Set(name, state.StatusExited, "process gone"); err != nil {
				log.Warn().Str("service", name).Err(err).Msg("record exit failed")
			}
			if svc.Restart == "always" && svc.Image == "" {
				o.relaunch(ctx, name, svc)
			}
		}
	}
}

func (o *Orchestrator) relaunch(ctx context.Context, name string, svc stack.Service) {
	spec, err := o.resolveSpec(name, svc)
	if err != nil {
		log.Warn().Str("service", name).Err(err).Msg("relaunch resolve failed")
		return
	}
	launcher, err := o.launcherFor(svc)
	if err != nil {
		return
	}
	h, err := launcher.Start(ctx, spec)
	if err != nil {
		log.Warn().Str("service", name).Err(err).Msg("relaunch failed")
		return
	}
	o.mu.Lock()
	o.handles[name] = h
	o.mu.Unlock()
	_ = o.store.Set(name, state.StatusStarted, "relaunched")

	if svc.Health == nil {
		_ = o.store.Set(name, state.StatusHealthy, "no healthcheck")
		return
	}
	checker, err := probe.NewChecker(name, svc.Health)
	if err != nil {
		return
	}
	p := &probe.Prober{Service: name, Checker: checker, Params: probe.ParamsFrom(svc.Health), Store: o.store}
	go func() { _ = p.Run(ctx) }()
}

func (o *Orchestrator) launcherFor(svc stack.Service) (launch.Launcher, error) {
	if svc.Image != "" {
		if o.launchers.Docker == nil {
			return nil, errors.New("stack uses container images but no docker launcher is configured")
		}
		return o.launchers.Docker, nil
	}
	if o.launchers.Exec == nil {
		return nil, errors.New("no exec launcher configured")
	}
	return o.launchers.Exec, nil
}

func (o *Orchestrator) resolveSpec(name string, svc stack.Service) (launch.Spec, error) {
	env, err := stack.ResolveEnv(o.opts.BaseDir, svc)
	if err != nil {
		return launch.Spec{}, errors.Wrapf(err, "service %q", name)
	}
	return launch.Spec{
		Name:    name,
		Image:   svc.Image,
		Command: svc.Command,
		Cwd:     svc.Cwd,
		Env:     env,
		Volumes: svc.Volumes,
		Ports:   svc.Ports,
		Restart: svc.Restart,
	}, nil
}

func (o *Orchestrator) runState() *state.RunState {
	rs := &state.RunState{
		RunID:     uuid.NewString(),
		StackName: o.file.Name,
		RootDir:   o.opts.RootDir,
		CreatedAt: time.Now(),
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, name := range o.graph.TopoOrder() {
		h, ok := o.handles[name]
		if !ok {
			continue
		}
		svc := o.file.Services[name]
		env, _ := stack.ResolveEnv(o.opts.BaseDir, svc)
		st, _ := o.store.Get(name)
		rs.Services = append(rs.Services, state.ServiceRecord{
			Name:        name,
			PID:         h.PID,
			ContainerID: h.ContainerID,
			Image:       svc.Image,
			Command:     svc.Command,
			Cwd:         svc.Cwd,
			Env:         state.SanitizeEnv(env),
			Restart:     svc.Restart,
			StdoutLog:   h.StdoutLog,
			StderrLog:   h.StderrLog,
			ExitInfo:    h.ExitInfo,
			StartedAt:   h.StartedAt,
			LastStatus:  st,
		})
	}
	return rs
}

// Adopt reinstates handles from a persisted run state so Down and Monitor
// can operate from a fresh process.
func (o *Orchestrator) Adopt(rs *state.RunState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, rec := range rs.Services {
		o.handles[rec.Name] = launch.Handle{
			Name:        rec.Name,
			PID:         rec.PID,
			ContainerID: rec.ContainerID,
			StdoutLog:   rec.StdoutLog,
			StderrLog:   rec.StderrLog,
			ExitInfo:    rec.ExitInfo,
			StartedAt:   rec.StartedAt,
		}
		st := rec.LastStatus
		if st == "" {
			st = state.StatusStarted
		}
		_ = o.store.Set(rec.Name, st, "adopted from run state")
	}
}
