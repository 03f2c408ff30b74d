package state

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-go-golems/stackctl/pkg/stack"
	"github.com/stretchr/testify/require"
)

func TestStatus_Satisfies(t *testing.T) {
	cases := []struct {
		status  Status
		started bool
		healthy bool
	}{
		{StatusNotStarted, false, false},
		{StatusStarted, true, false},
		{StatusHealthy, true, true},
		{StatusUnhealthy, true, false},
		{StatusExited, false, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.started, tc.status.Satisfies(stack.ConditionStarted), "%s vs started", tc.status)
		require.Equal(t, tc.healthy, tc.status.Satisfies(stack.ConditionHealthy), "%s vs healthy", tc.status)
	}
}

func TestRunState_SaveLoadRemove(t *testing.T) {
	dir := t.TempDir()

	rs := &RunState{
		RunID:     "test-run",
		StackName: "demo",
		RootDir:   dir,
		CreatedAt: time.Now(),
		Services: []ServiceRecord{
			{Name: "search", ContainerID: "abc123", Image: "search:1", LastStatus: StatusHealthy},
			{Name: "management", PID: 4242, Command: []string{"./management"}},
		},
	}
	require.NoError(t, SaveRun(dir, rs))

	loaded, err := LoadRun(dir)
	require.NoError(t, err)
	require.Equal(t, "test-run", loaded.RunID)
	require.Len(t, loaded.Services, 2)
	require.Equal(t, "abc123", loaded.Services[0].ContainerID)
	require.Equal(t, StatusHealthy, loaded.Services[0].LastStatus)

	require.NoError(t, RemoveRun(dir))
	_, err = LoadRun(dir)
	require.Error(t, err)
	// Removing twice is fine.
	require.NoError(t, RemoveRun(dir))
}

func TestSaveRun_Nil(t *testing.T) {
	require.Error(t, SaveRun(t.TempDir(), nil))
}

func TestProcessAlive(t *testing.T) {
	require.True(t, ProcessAlive(os.Getpid()))
	require.False(t, ProcessAlive(0))
	require.False(t, ProcessAlive(-1))
}

func TestSanitizeEnv(t *testing.T) {
	env := map[string]string{
		"MINIO_ROOT_PASSWORD": "hunter2",
		"BROKER_AUTH_TOKEN":   "tok",
		"SEARCH_URL":          "http://localhost:9200",
	}
	out := SanitizeEnv(env)
	require.Equal(t, "[REDACTED]", out["MINIO_ROOT_PASSWORD"])
	require.Equal(t, "[REDACTED]", out["BROKER_AUTH_TOKEN"])
	require.Equal(t, "http://localhost:9200", out["SEARCH_URL"])
	// Original untouched.
	require.Equal(t, "hunter2", env["MINIO_ROOT_PASSWORD"])
	require.Nil(t, SanitizeEnv(nil))
}

func TestTailLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "svc.stderr.log")

	var b strings.Builder
	for i := 0; i < 100; i++ {
		b.WriteString(strings.Repeat("x", 10))
		b.WriteString("\n")
	}
	b.WriteString("last line\n")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))

	lines, err := TailLines(path, 5, 2<<20)
	require.NoError(t, err)
	require.Len(t, lines, 5)
	require.Equal(t, "last line", lines[4])

	_, err = TailLines(filepath.Join(dir, "missing.log"), 5, 0)
	require.Error(t, err)
}

func TestExitInfo_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "svc.exit.json")
	code := 3
	info := ExitInfo{
		Service:  "management",
		PID:      4242,
		ExitCode: &code,
		Error:    "exit status 3",
	}
	require.NoError(t, WriteExitInfo(path, info))

	loaded, err := ReadExitInfo(path)
	require.NoError(t, err)
	require.Equal(t, "management", loaded.Service)
	require.NotNil(t, loaded.ExitCode)
	require.Equal(t, 3, *loaded.ExitCode)
}
