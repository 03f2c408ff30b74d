package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-go-golems/stackctl/pkg/launch"
	"github.com/go-go-golems/stackctl/pkg/stack"
	"github.com/go-go-golems/stackctl/pkg/state"
	"github.com/stretchr/testify/require"
)

// fakeLauncher records launches and stops so tests can assert on ordering
// without real processes.
type fakeLauncher struct {
	mu      sync.Mutex
	started []startEvent
	stopped []string
	alive   map[string]bool
}

type startEvent struct {
	name string
	at   time.Time
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{alive: map[string]bool{}}
}

func (f *fakeLauncher) Start(_ context.Context, spec launch.Spec) (launch.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, startEvent{name: spec.Name, at: time.Now()})
	f.alive[spec.Name] = true
	return launch.Handle{Name: spec.Name, StartedAt: time.Now()}, nil
}

func (f *fakeLauncher) Stop(_ context.Context, h launch.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, h.Name)
	f.alive[h.Name] = false
	return nil
}

func (f *fakeLauncher) Alive(_ context.Context, h launch.Handle) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[h.Name]
}

func (f *fakeLauncher) startOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.started))
	for _, ev := range f.started {
		out = append(out, ev.name)
	}
	return out
}

func (f *fakeLauncher) startedAt(name string) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ev := range f.started {
		if ev.name == name {
			return ev.at, true
		}
	}
	return time.Time{}, false
}

func (f *fakeLauncher) setAlive(name string, alive bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive[name] = alive
}

// flagFileHealth is a cmd healthcheck that passes once path exists.
func flagFileHealth(path string, retries int) *stack.HealthCheck {
	return &stack.HealthCheck{
		Type:        "cmd",
		Command:     []string{"test", "-f", path},
		Interval:    stack.Duration(20 * time.Millisecond),
		Timeout:     stack.Duration(time.Second),
		Retries:     retries,
		StartPeriod: 0,
	}
}

func newTestOrchestrator(t *testing.T, f *stack.File, l *fakeLauncher, policy Policy) *Orchestrator {
	t.Helper()
	store := state.NewStore(f.ServiceNames(), nil)
	orch, err := New(f, store, Launchers{Exec: l, Docker: l}, Options{
		RootDir:     t.TempDir(),
		BaseDir:     t.TempDir(),
		OnUnhealthy: policy,
	})
	require.NoError(t, err)
	return orch
}

func TestUp_HealthyEdgeGatesDependent(t *testing.T) {
	flag := filepath.Join(t.TempDir(), "search-ready")
	f := &stack.File{
		Services: map[string]stack.Service{
			"search": {Command: []string{"sleep", "10"}, Health: flagFileHealth(flag, 1000)},
			"api":    {Command: []string{"sleep", "10"}, DependsOn: stack.DependsOn{"search": stack.ConditionHealthy}},
		},
	}
	l := newFakeLauncher()
	orch := newTestOrchestrator(t, f, l, PolicyFail)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := orch.Up(ctx)
		done <- err
	}()

	// While the search probe has never passed, the API must not launch.
	time.Sleep(200 * time.Millisecond)
	require.Equal(t, []string{"search"}, l.startOrder())

	flagCreated := time.Now()
	require.NoError(t, os.WriteFile(flag, nil, 0o644))

	require.NoError(t, <-done)
	require.Equal(t, []string{"search", "api"}, l.startOrder())

	apiStart, ok := l.startedAt("api")
	require.True(t, ok)
	require.True(t, apiStart.After(flagCreated), "api launched before its dependency was healthy")
}

func TestUp_StartedEdgeIgnoresHealth(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "never-created")
	f := &stack.File{
		Services: map[string]stack.Service{
			// The broker never becomes healthy, but storage only needs it
			// started.
			"broker":  {Command: []string{"sleep", "10"}, Health: flagFileHealth(missing, 2)},
			"storage": {Command: []string{"sleep", "10"}, DependsOn: stack.DependsOn{"broker": stack.ConditionStarted}},
		},
	}
	l := newFakeLauncher()
	orch := newTestOrchestrator(t, f, l, PolicyWait)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := orch.Up(ctx)
	require.NoError(t, err)

	require.Equal(t, []string{"broker", "storage"}, l.startOrder())
	st, _ := orch.Store().Get("broker")
	require.Equal(t, state.StatusUnhealthy, st)
	st, _ = orch.Store().Get("storage")
	require.Equal(t, state.StatusHealthy, st)
}

func TestUp_UnhealthyDependencyFailsUnderPolicyFail(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "never-created")
	f := &stack.File{
		Services: map[string]stack.Service{
			"search": {Command: []string{"sleep", "10"}, Health: flagFileHealth(missing, 2)},
			"api":    {Command: []string{"sleep", "10"}, DependsOn: stack.DependsOn{"search": stack.ConditionHealthy}},
		},
	}
	l := newFakeLauncher()
	orch := newTestOrchestrator(t, f, l, PolicyFail)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := orch.Up(ctx)
	require.Error(t, err)

	// The API must never have launched, and whatever did start is torn down.
	require.Equal(t, []string{"search"}, l.startOrder())
	require.Contains(t, l.stopped, "search")
}

func TestUp_UnhealthyDependencyBlocksUnderPolicyWait(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "never-created")
	f := &stack.File{
		Services: map[string]stack.Service{
			"search": {Command: []string{"sleep", "10"}, Health: flagFileHealth(missing, 2)},
			"api":    {Command: []string{"sleep", "10"}, DependsOn: stack.DependsOn{"search": stack.ConditionHealthy}},
		},
	}
	l := newFakeLauncher()
	orch := newTestOrchestrator(t, f, l, PolicyWait)

	// Under the wait policy the dependent stays blocked until the caller
	// gives up.
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_, err := orch.Up(ctx)
	require.Error(t, err)
	require.Equal(t, []string{"search"}, l.startOrder())
}

func TestUp_NoHealthcheckCountsAsHealthy(t *testing.T) {
	f := &stack.File{
		Services: map[string]stack.Service{
			"broker": {Command: []string{"sleep", "10"}},
			"api":    {Command: []string{"sleep", "10"}, DependsOn: stack.DependsOn{"broker": stack.ConditionHealthy}},
		},
	}
	l := newFakeLauncher()
	orch := newTestOrchestrator(t, f, l, PolicyFail)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rs, err := orch.Up(ctx)
	require.NoError(t, err)
	require.Len(t, rs.Services, 2)
	require.Equal(t, []string{"broker", "api"}, l.startOrder())
}

func TestDown_ReverseOrder(t *testing.T) {
	f := &stack.File{
		Services: map[string]stack.Service{
			"a": {Command: []string{"sleep", "10"}},
			"b": {Command: []string{"sleep", "10"}, DependsOn: stack.DependsOn{"a": stack.ConditionStarted}},
			"c": {Command: []string{"sleep", "10"}, DependsOn: stack.DependsOn{"b": stack.ConditionStarted}},
		},
	}
	l := newFakeLauncher()
	orch := newTestOrchestrator(t, f, l, PolicyFail)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := orch.Up(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, l.startOrder())

	require.NoError(t, orch.Down(ctx))
	require.Equal(t, []string{"c", "b", "a"}, l.stopped)

	for _, name := range []string{"a", "b", "c"} {
		st, _ := orch.Store().Get(name)
		require.Equal(t, state.StatusExited, st)
	}
}

func TestNew_CycleIsConfigError(t *testing.T) {
	f := &stack.File{
		Services: map[string]stack.Service{
			"a": {Command: []string{"x"}, DependsOn: stack.DependsOn{"b": stack.ConditionStarted}},
			"b": {Command: []string{"x"}, DependsOn: stack.DependsOn{"a": stack.ConditionStarted}},
		},
	}
	_, err := New(f, state.NewStore([]string{"a", "b"}, nil), Launchers{Exec: newFakeLauncher()}, Options{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "dependency cycle")
}

func TestMonitor_RelaunchesRestartAlways(t *testing.T) {
	f := &stack.File{
		Services: map[string]stack.Service{
			"management": {Command: []string{"sleep", "10"}, Restart: "always"},
		},
	}
	l := newFakeLauncher()
	orch := newTestOrchestrator(t, f, l, PolicyFail)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := orch.Up(ctx)
	require.NoError(t, err)

	monCtx, monCancel := context.WithCancel(ctx)
	defer monCancel()
	go func() { _ = orch.Monitor(monCtx, 20*time.Millisecond) }()

	l.setAlive("management", false)

	// The monitor should observe the exit and relaunch.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(l.startOrder()) >= 2 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.GreaterOrEqual(t, len(l.startOrder()), 2)

	st, _ := orch.Store().Get("management")
	require.Equal(t, state.StatusHealthy, st)
}

func TestMonitor_MarksExitedWithoutRestart(t *testing.T) {
	f := &stack.File{
		Services: map[string]stack.Service{
			"oneshot": {Command: []string{"sleep", "10"}},
		},
	}
	l := newFakeLauncher()
	orch := newTestOrchestrator(t, f, l, PolicyFail)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := orch.Up(ctx)
	require.NoError(t, err)

	monCtx, monCancel := context.WithCancel(ctx)
	defer monCancel()
	go func() { _ = orch.Monitor(monCtx, 20*time.Millisecond) }()

	l.setAlive("oneshot", false)

	require.NoError(t, orch.Store().Await(ctx, func(states map[string]state.Status) (bool, error) {
		return states["oneshot"] == state.StatusExited, nil
	}))
	require.Len(t, l.startOrder(), 1)
}
