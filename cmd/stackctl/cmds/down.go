package cmds

import (
	"context"
	"fmt"

	"github.com/go-go-golems/stackctl/pkg/launch"
	"github.com/go-go-golems/stackctl/pkg/state"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newDownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Stop the stack recorded in the run state, dependents first",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}
			if err := stopFromRunState(cmd.Context(), opts); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

// stopFromRunState tears services down from the persisted record, in reverse
// start order, without needing the stack file. Useful when the descriptor
// changed since the stack came up.
func stopFromRunState(ctx context.Context, opts rootOptions) error {
	rs, err := state.LoadRun(opts.RootDir)
	if err != nil {
		return err
	}

	exec := launch.NewExecLauncher(opts.RootDir, opts.ShutdownTimeout)
	var docker *launch.DockerLauncher
	for _, rec := range rs.Services {
		if rec.ContainerID != "" {
			docker, err = launch.NewDockerLauncher(launch.DockerOptions{StopTimeout: opts.ShutdownTimeout})
			if err != nil {
				return err
			}
			break
		}
	}

	var lastErr error
	// Services were recorded in start order; stop them in reverse.
	for i := len(rs.Services) - 1; i >= 0; i-- {
		rec := rs.Services[i]
		h := launch.Handle{
			Name:        rec.Name,
			PID:         rec.PID,
			ContainerID: rec.ContainerID,
		}
		var stopErr error
		if rec.ContainerID != "" {
			stopErr = docker.Stop(ctx, h)
		} else {
			stopErr = exec.Stop(ctx, h)
		}
		if stopErr != nil {
			log.Warn().Str("service", rec.Name).Err(stopErr).Msg("stop failed")
			lastErr = stopErr
		}
	}
	if lastErr != nil {
		return lastErr
	}
	return state.RemoveRun(opts.RootDir)
}
