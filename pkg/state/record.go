package state

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

const (
	StateDirName  = ".stackctl"
	StateFilename = "state.json"
	LogsDirName   = "logs"
)

// RunState is what a successful `up` persists so that `status`, `logs` and
// `down` can operate from a later invocation.
type RunState struct {
	RunID     string          `json:"run_id"`
	StackName string          `json:"stack_name,omitempty"`
	RootDir   string          `json:"root_dir"`
	CreatedAt time.Time       `json:"created_at"`
	Services  []ServiceRecord `json:"services"`
}

type ServiceRecord struct {
	Name        string            `json:"name"`
	PID         int               `json:"pid,omitempty"`
	ContainerID string            `json:"container_id,omitempty"`
	Image       string            `json:"image,omitempty"`
	Command     []string          `json:"command,omitempty"`
	Cwd         string            `json:"cwd,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	Restart     string            `json:"restart,omitempty"`
	StdoutLog   string            `json:"stdout_log,omitempty"`
	StderrLog   string            `json:"stderr_log,omitempty"`
	ExitInfo    string            `json:"exit_info,omitempty"`
	StartedAt   time.Time         `json:"started_at,omitempty"`

	// Last observed status, for display only; the authoritative view while
	// an orchestrator is resident is the Store.
	LastStatus Status `json:"last_status,omitempty"`
}

func StatePath(rootDir string) string {
	return filepath.Join(rootDir, StateDirName, StateFilename)
}

func LogsDir(rootDir string) string {
	return filepath.Join(rootDir, StateDirName, LogsDirName)
}

func LoadRun(rootDir string) (*RunState, error) {
	b, err := os.ReadFile(StatePath(rootDir))
	if err != nil {
		return nil, errors.Wrap(err, "read run state")
	}
	var rs RunState
	if err := json.Unmarshal(b, &rs); err != nil {
		return nil, errors.Wrap(err, "parse run state json")
	}
	return &rs, nil
}

func SaveRun(rootDir string, rs *RunState) error {
	if rs == nil {
		return errors.New("nil run state")
	}
	if err := os.MkdirAll(filepath.Dir(StatePath(rootDir)), 0o755); err != nil {
		return errors.Wrap(err, "mkdir state dir")
	}
	b, err := json.MarshalIndent(rs, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal run state")
	}
	if err := os.WriteFile(StatePath(rootDir), b, 0o644); err != nil {
		return errors.Wrap(err, "write run state")
	}
	return nil
}

func RemoveRun(rootDir string) error {
	if err := os.Remove(StatePath(rootDir)); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "remove run state")
	}
	return nil
}

// ProcessAlive reports whether pid refers to a live (non-zombie) process.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if isZombie(pid) {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	if stderrors.Is(err, syscall.EPERM) {
		return true
	}
	return false
}

func isZombie(pid int) bool {
	b, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return false
	}
	// Format: pid (comm) state ...; the state char follows the closing ')'.
	i := bytes.LastIndexByte(b, ')')
	if i < 0 {
		return false
	}
	fields := bytes.Fields(bytes.TrimSpace(b[i+1:]))
	if len(fields) < 1 || len(fields[0]) < 1 {
		return false
	}
	return fields[0][0] == 'Z'
}
