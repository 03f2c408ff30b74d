package cmds

import (
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newEventsCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Stream state transitions from a running `stackctl serve` as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			u := url.URL{Scheme: "ws", Host: addr, Path: "/api/v1/events"}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
			if err != nil {
				return errors.Wrapf(err, "dial %s", u.String())
			}
			if resp != nil && resp.Body != nil {
				_ = resp.Body.Close()
			}
			defer func() { _ = conn.Close() }()

			go func() {
				<-ctx.Done()
				_ = conn.Close()
			}()

			for {
				_, payload, err := conn.ReadMessage()
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return errors.Wrap(err, "read event")
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(payload))
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "localhost:8123", "Address of the status HTTP API")
	return cmd
}
