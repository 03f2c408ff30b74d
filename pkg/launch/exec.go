package launch

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-go-golems/stackctl/pkg/state"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ExecLauncher runs services as local processes in their own process group,
// with stdout/stderr redirected to per-service log files under the state
// directory.
type ExecLauncher struct {
	RootDir         string
	ShutdownTimeout time.Duration
}

func NewExecLauncher(rootDir string, shutdownTimeout time.Duration) *ExecLauncher {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 3 * time.Second
	}
	return &ExecLauncher{RootDir: rootDir, ShutdownTimeout: shutdownTimeout}
}

func (l *ExecLauncher) Start(ctx context.Context, spec Spec) (Handle, error) {
	if spec.Name == "" {
		return Handle{}, errors.New("service name is required")
	}
	if len(spec.Command) == 0 {
		return Handle{}, errors.Errorf("service %q missing command", spec.Name)
	}
	if err := os.MkdirAll(state.LogsDir(l.RootDir), 0o755); err != nil {
		return Handle{}, errors.Wrap(err, "mkdir logs dir")
	}

	cwd := l.RootDir
	if spec.Cwd != "" {
		if filepath.IsAbs(spec.Cwd) {
			cwd = spec.Cwd
		} else {
			cwd = filepath.Join(l.RootDir, spec.Cwd)
		}
	}

	ts := time.Now().Format("20060102-150405")
	stdoutPath := filepath.Join(state.LogsDir(l.RootDir), spec.Name+"-"+ts+".stdout.log")
	stderrPath := filepath.Join(state.LogsDir(l.RootDir), spec.Name+"-"+ts+".stderr.log")
	exitInfoPath := filepath.Join(state.LogsDir(l.RootDir), spec.Name+"-"+ts+".exit.json")

	stdoutFile, err := os.OpenFile(stdoutPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return Handle{}, errors.Wrap(err, "open stdout log")
	}
	defer func() { _ = stdoutFile.Close() }()

	stderrFile, err := os.OpenFile(stderrPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return Handle{}, errors.Wrap(err, "open stderr log")
	}
	defer func() { _ = stderrFile.Close() }()

	// #nosec G204 -- command comes from the stack descriptor.
	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	cmd.Dir = cwd
	cmd.Env = mergeEnv(os.Environ(), spec.Env)
	cmd.Stdout = stdoutFile
	cmd.Stderr = stderrFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return Handle{}, errors.Wrap(err, "start service")
	}

	pid := cmd.Process.Pid
	startedAt := time.Now()
	log.Info().Str("service", spec.Name).Int("pid", pid).Msg("service started")

	// Reap the child and record how it died. Only useful while this process
	// is resident (serve/watch); a detached `up` leaves exit info to the
	// status command's stderr-tail fallback.
	go func() {
		waitErr := cmd.Wait()
		info := state.ExitInfo{
			Service:   spec.Name,
			PID:       pid,
			StartedAt: startedAt,
			ExitedAt:  time.Now(),
		}
		if waitErr != nil {
			info.Error = waitErr.Error()
		}
		if ps := cmd.ProcessState; ps != nil {
			code := ps.ExitCode()
			info.ExitCode = &code
			if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
				info.Signal = ws.Signal().String()
			}
		}
		if lines, err := state.TailLines(stderrPath, 25, 2<<20); err == nil {
			info.StderrTail = lines
		}
		if err := state.WriteExitInfo(exitInfoPath, info); err != nil {
			log.Warn().Str("service", spec.Name).Err(err).Msg("write exit info failed")
		}
	}()

	return Handle{
		Name:      spec.Name,
		PID:       pid,
		StdoutLog: stdoutPath,
		StderrLog: stderrPath,
		ExitInfo:  exitInfoPath,
		StartedAt: startedAt,
	}, nil
}

func (l *ExecLauncher) Stop(ctx context.Context, h Handle) error {
	return terminatePIDGroup(ctx, h.PID, l.ShutdownTimeout)
}

func (l *ExecLauncher) Alive(_ context.Context, h Handle) bool {
	return state.ProcessAlive(h.PID)
}

func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	out := append([]string{}, base...)
	for k, v := range extra {
		out = append(out, k+"="+v)
	}
	return out
}

// terminatePIDGroup sends SIGTERM to the process group, waits up to timeout,
// then escalates to SIGKILL.
func terminatePIDGroup(ctx context.Context, pid int, timeout time.Duration) error {
	if pid <= 0 {
		return nil
	}
	pgid, err := syscall.Getpgid(pid)
	if err == nil {
		_ = syscall.Kill(-pgid, syscall.SIGTERM)
	} else {
		_ = syscall.Kill(pid, syscall.SIGTERM)
	}

	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	t := time.NewTicker(100 * time.Millisecond)
	defer t.Stop()

	termDeadline := time.Now().Add(timeout)
	for {
		if !state.ProcessAlive(pid) {
			return nil
		}
		if time.Now().After(termDeadline) {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}

	if err == nil {
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
	} else {
		_ = syscall.Kill(pid, syscall.SIGKILL)
	}

	killDeadline := time.Now().Add(2 * time.Second)
	for state.ProcessAlive(pid) && time.Now().Before(killDeadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}

	if state.ProcessAlive(pid) {
		return errors.Errorf("failed to stop pid %d", pid)
	}
	return nil
}
