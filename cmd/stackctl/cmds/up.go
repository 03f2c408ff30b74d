package cmds

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-go-golems/stackctl/pkg/orchestrator"
	"github.com/go-go-golems/stackctl/pkg/stack"
	"github.com/go-go-golems/stackctl/pkg/state"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newUpCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Start the stack: launch services in dependency order, gated on readiness",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}

			if _, err := os.Stat(state.StatePath(opts.RootDir)); err == nil {
				if !force {
					return errors.New("run state exists; run stackctl down first or use --force")
				}
				log.Info().Msg("existing run state found; stopping first (--force)")
				if err := stopFromRunState(cmd.Context(), opts); err != nil {
					return err
				}
			}

			f, err := stack.LoadFromFile(opts.StackFile)
			if err != nil {
				return err
			}
			launchers, err := makeLaunchers(f, opts)
			if err != nil {
				return err
			}

			store := state.NewStore(f.ServiceNames(), nil)
			orch, err := orchestrator.New(f, store, launchers, orchestrator.Options{
				RootDir:     opts.RootDir,
				BaseDir:     filepath.Dir(opts.StackFile),
				OnUnhealthy: opts.OnUnhealthy,
			})
			if err != nil {
				return err
			}

			upCtx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
			defer cancel()
			rs, err := orch.Up(upCtx)
			if err != nil {
				return err
			}
			if err := state.SaveRun(opts.RootDir, rs); err != nil {
				_ = orch.Down(context.Background())
				return err
			}

			log.Info().Int("services", len(rs.Services)).Str("run_id", rs.RunID).Msg("up complete")
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Stop the existing stack before starting")
	return cmd
}
