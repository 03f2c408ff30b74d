package cmds

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/stackctl/pkg/httpapi"
	"github.com/go-go-golems/stackctl/pkg/state"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	var addr string
	var keep bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the stack in the foreground with the status HTTP API and restart monitoring",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}
			r, err := newResident(opts)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			r.bus.AddHandler("log-transitions", state.EventsTopic, func(msg *message.Message) error {
				var ev state.ChangeEvent
				if err := json.Unmarshal(msg.Payload, &ev); err != nil {
					return errors.Wrap(err, "decode state event")
				}
				log.Info().Str("service", ev.Service).Str("from", string(ev.From)).Str("to", string(ev.To)).Str("reason", ev.Reason).Msg("transition")
				return nil
			})

			api := &httpapi.Server{
				Addr:      addr,
				StackName: r.file.Name,
				Store:     r.store,
				Graph:     r.orch.Graph(),
				Sub:       r.bus.Subscriber,
			}

			eg, gctx := errgroup.WithContext(ctx)
			eg.Go(func() error {
				return r.bus.Run(gctx)
			})
			eg.Go(func() error {
				return api.ListenAndServe(gctx)
			})
			eg.Go(func() error {
				upCtx, cancel := context.WithTimeout(gctx, opts.Timeout)
				defer cancel()
				rs, err := r.orch.Up(upCtx)
				if err != nil {
					return err
				}
				if err := state.SaveRun(opts.RootDir, rs); err != nil {
					return err
				}
				log.Info().Int("services", len(rs.Services)).Msg("stack up; serving")
				return nil
			})
			eg.Go(func() error {
				return r.orch.Monitor(gctx, time.Second)
			})

			err = eg.Wait()

			if !keep {
				downCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if derr := r.orch.Down(downCtx); derr != nil {
					log.Warn().Err(derr).Msg("teardown incomplete")
				}
				_ = state.RemoveRun(opts.RootDir)
			}

			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "localhost:8123", "Address for the status HTTP API")
	cmd.Flags().BoolVar(&keep, "keep", false, "Leave services running on exit instead of tearing down")
	return cmd
}
