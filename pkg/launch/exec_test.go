package launch

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-go-golems/stackctl/pkg/state"
	"github.com/stretchr/testify/require"
)

func TestExecLauncher_StartStop(t *testing.T) {
	rootDir := t.TempDir()
	l := NewExecLauncher(rootDir, 2*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := l.Start(ctx, Spec{Name: "sleeper", Command: []string{"bash", "-lc", "sleep 10"}})
	require.NoError(t, err)
	require.Greater(t, h.PID, 0)
	require.True(t, l.Alive(ctx, h))
	require.FileExists(t, h.StdoutLog)
	require.FileExists(t, h.StderrLog)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, l.Stop(stopCtx, h))

	deadline := time.Now().Add(3 * time.Second)
	for l.Alive(ctx, h) && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	require.False(t, l.Alive(ctx, h))
}

func TestExecLauncher_CapturesOutputAndExitInfo(t *testing.T) {
	rootDir := t.TempDir()
	l := NewExecLauncher(rootDir, 2*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := l.Start(ctx, Spec{
		Name:    "crashy",
		Command: []string{"bash", "-lc", "echo out; echo err >&2; exit 3"},
	})
	require.NoError(t, err)

	deadline := time.Now().Add(3 * time.Second)
	for l.Alive(ctx, h) && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	require.False(t, l.Alive(ctx, h))

	// The reaper writes exit info asynchronously.
	var info *state.ExitInfo
	deadline = time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(h.ExitInfo); err == nil {
			info, err = state.ReadExitInfo(h.ExitInfo)
			require.NoError(t, err)
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.NotNil(t, info)
	require.Equal(t, "crashy", info.Service)
	require.NotNil(t, info.ExitCode)
	require.Equal(t, 3, *info.ExitCode)
	require.Contains(t, info.StderrTail, "err")

	lines, err := state.TailLines(h.StdoutLog, 5, 2<<20)
	require.NoError(t, err)
	require.Contains(t, lines, "out")
}

func TestExecLauncher_EnvAndCwd(t *testing.T) {
	rootDir := t.TempDir()
	subDir := rootDir + "/work"
	require.NoError(t, os.MkdirAll(subDir, 0o755))
	l := NewExecLauncher(rootDir, 2*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := l.Start(ctx, Spec{
		Name:    "envy",
		Command: []string{"bash", "-lc", "echo $STACK_TEST_VALUE; pwd"},
		Cwd:     "work",
		Env:     map[string]string{"STACK_TEST_VALUE": "hello"},
	})
	require.NoError(t, err)

	deadline := time.Now().Add(3 * time.Second)
	for l.Alive(ctx, h) && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}

	var lines []string
	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		lines, err = state.TailLines(h.StdoutLog, 5, 2<<20)
		if err == nil && len(lines) >= 2 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.Len(t, lines, 2)
	require.Equal(t, "hello", lines[0])
	require.Equal(t, subDir, lines[1])
}

func TestExecLauncher_MissingCommand(t *testing.T) {
	l := NewExecLauncher(t.TempDir(), time.Second)
	_, err := l.Start(context.Background(), Spec{Name: "empty"})
	require.Error(t, err)

	_, err = l.Start(context.Background(), Spec{Command: []string{"true"}})
	require.Error(t, err)
}
