package cmds

import (
	"encoding/json"
	"fmt"

	"github.com/go-go-golems/stackctl/pkg/graph"
	"github.com/go-go-golems/stackctl/pkg/stack"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the stack file: schema, unknown targets, dependency cycles",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}
			f, err := stack.LoadFromFile(opts.StackFile)
			if err != nil {
				return err
			}
			g, err := graph.Build(f)
			if err != nil {
				return err
			}

			out := map[string]any{
				"stack":    f.Name,
				"services": len(f.Services),
				"edges":    len(g.AllEdges()),
				"order":    g.TopoOrder(),
			}
			b, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return errors.Wrap(err, "marshal validation result")
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return nil
		},
	}
}
