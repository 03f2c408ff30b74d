package cmds

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-go-golems/stackctl/pkg/launch"
	"github.com/go-go-golems/stackctl/pkg/state"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var tailLines int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the recorded stack services and whether they are still alive",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}
			rs, err := state.LoadRun(opts.RootDir)
			if err != nil {
				return err
			}

			var docker *launch.DockerLauncher
			for _, rec := range rs.Services {
				if rec.ContainerID != "" {
					docker, err = launch.NewDockerLauncher(launch.DockerOptions{})
					if err != nil {
						return err
					}
					break
				}
			}

			type svc struct {
				Name        string          `json:"name"`
				PID         int             `json:"pid,omitempty"`
				ContainerID string          `json:"container_id,omitempty"`
				Alive       bool            `json:"alive"`
				LastStatus  state.Status    `json:"last_status,omitempty"`
				Stdout      string          `json:"stdout_log,omitempty"`
				Stderr      string          `json:"stderr_log,omitempty"`
				Exit        *state.ExitInfo `json:"exit,omitempty"`
			}

			var services []svc
			for _, rec := range rs.Services {
				alive := recordAlive(cmd.Context(), rec, docker)

				var exitInfo *state.ExitInfo
				if !alive && rec.ExitInfo != "" {
					if _, err := os.Stat(rec.ExitInfo); err == nil {
						if ei, err := state.ReadExitInfo(rec.ExitInfo); err == nil {
							exitInfo = ei
							trimTails(exitInfo, tailLines)
						}
					}
				}
				if !alive && exitInfo == nil && rec.StderrLog != "" && tailLines > 0 {
					if lines, err := state.TailLines(rec.StderrLog, tailLines, 2<<20); err == nil {
						exitInfo = &state.ExitInfo{
							Service:    rec.Name,
							PID:        rec.PID,
							StartedAt:  rec.StartedAt,
							Error:      "exit info unavailable; stderr tail captured at status time",
							StderrTail: lines,
						}
					}
				}

				services = append(services, svc{
					Name:        rec.Name,
					PID:         rec.PID,
					ContainerID: rec.ContainerID,
					Alive:       alive,
					LastStatus:  rec.LastStatus,
					Stdout:      rec.StdoutLog,
					Stderr:      rec.StderrLog,
					Exit:        exitInfo,
				})
			}

			b, err := json.MarshalIndent(map[string]any{
				"run_id":   rs.RunID,
				"stack":    rs.StackName,
				"services": services,
			}, "", "  ")
			if err != nil {
				return errors.Wrap(err, "marshal status")
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return nil
		},
	}

	cmd.Flags().IntVar(&tailLines, "tail-lines", 25, "How many stderr lines to include for dead services")
	return cmd
}

func recordAlive(ctx context.Context, rec state.ServiceRecord, docker *launch.DockerLauncher) bool {
	if rec.ContainerID != "" {
		if docker == nil {
			return false
		}
		return docker.Alive(ctx, launch.Handle{Name: rec.Name, ContainerID: rec.ContainerID})
	}
	return state.ProcessAlive(rec.PID)
}

func trimTails(info *state.ExitInfo, tailLines int) {
	if tailLines <= 0 {
		return
	}
	if len(info.StderrTail) > tailLines {
		info.StderrTail = append([]string{}, info.StderrTail[len(info.StderrTail)-tailLines:]...)
	}
	if len(info.StdoutTail) > tailLines {
		info.StdoutTail = append([]string{}, info.StdoutTail[len(info.StdoutTail)-tailLines:]...)
	}
}
