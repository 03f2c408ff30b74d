package cmds

import (
	"context"
	"encoding/json"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-go-golems/stackctl/pkg/state"
	"github.com/go-go-golems/stackctl/pkg/tui"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newWatchCmd() *cobra.Command {
	var keep bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the stack in the foreground with a live state dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}
			r, err := newResident(opts)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			// Subscribe before anything can transition so the dashboard sees
			// every event.
			msgs, err := r.bus.Subscriber.Subscribe(ctx, state.EventsTopic)
			if err != nil {
				return errors.Wrap(err, "subscribe to state events")
			}
			events := make(chan state.ChangeEvent, 64)
			go func() {
				defer close(events)
				for msg := range msgs {
					var ev state.ChangeEvent
					if err := json.Unmarshal(msg.Payload, &ev); err == nil {
						events <- ev
					}
					msg.Ack()
				}
			}()

			go func() {
				upCtx, upCancel := context.WithTimeout(ctx, opts.Timeout)
				defer upCancel()
				rs, err := r.orch.Up(upCtx)
				if err != nil {
					log.Warn().Err(err).Msg("up failed")
					return
				}
				if err := state.SaveRun(opts.RootDir, rs); err != nil {
					log.Warn().Err(err).Msg("save run state failed")
				}
			}()
			go func() {
				_ = r.orch.Monitor(ctx, time.Second)
			}()

			model := tui.NewWatchModel(r.file.Name, r.store.Snapshot(), events)
			p := tea.NewProgram(model, tea.WithContext(ctx))
			if _, err := p.Run(); err != nil && !errors.Is(err, context.Canceled) {
				return errors.Wrap(err, "run watch tui")
			}
			cancel()

			if !keep {
				downCtx, downCancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer downCancel()
				if err := r.orch.Down(downCtx); err != nil {
					log.Warn().Err(err).Msg("teardown incomplete")
				}
				_ = state.RemoveRun(opts.RootDir)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&keep, "keep", false, "Leave services running on exit instead of tearing down")
	return cmd
}
