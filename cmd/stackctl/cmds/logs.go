package cmds

import (
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/go-go-golems/stackctl/pkg/state"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newLogsCmd() *cobra.Command {
	var tailLines int
	var since string
	var stderrOnly bool

	cmd := &cobra.Command{
		Use:   "logs <service>",
		Short: "Print the tail of a service's captured logs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}
			rs, err := state.LoadRun(opts.RootDir)
			if err != nil {
				return err
			}

			var rec *state.ServiceRecord
			for i := range rs.Services {
				if rs.Services[i].Name == args[0] {
					rec = &rs.Services[i]
					break
				}
			}
			if rec == nil {
				return errors.Errorf("unknown service %q", args[0])
			}
			if rec.ContainerID != "" {
				return errors.Errorf("service %q runs as a container; use the container runtime's log facility", args[0])
			}

			var sinceTime time.Time
			if since != "" {
				sinceTime, err = dateparse.ParseLocal(since)
				if err != nil {
					return errors.Wrapf(err, "parse --since %q", since)
				}
			}

			paths := []string{rec.StderrLog}
			if !stderrOnly {
				paths = append([]string{rec.StdoutLog}, paths...)
			}
			for _, path := range paths {
				if path == "" {
					continue
				}
				lines, err := state.TailLines(path, tailLines, 2<<20)
				if err != nil {
					return err
				}
				for _, line := range lines {
					if !sinceTime.IsZero() && lineBefore(line, sinceTime) {
						continue
					}
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), line)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&tailLines, "tail-lines", 100, "How many lines to read from the end of each log")
	cmd.Flags().StringVar(&since, "since", "", "Drop lines whose leading timestamp is older (accepts most timestamp formats)")
	cmd.Flags().BoolVar(&stderrOnly, "stderr", false, "Only print the stderr log")
	return cmd
}

// lineBefore reports whether a log line carries a parseable leading timestamp
// older than t. Lines without one are kept.
func lineBefore(line string, t time.Time) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	// Try the first token, then the first two joined (date + time).
	if ts, err := dateparse.ParseLocal(fields[0]); err == nil {
		return ts.Before(t)
	}
	if len(fields) >= 2 {
		if ts, err := dateparse.ParseLocal(fields[0] + " " + fields[1]); err == nil {
			return ts.Before(t)
		}
	}
	return false
}
