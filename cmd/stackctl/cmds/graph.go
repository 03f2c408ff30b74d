package cmds

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-go-golems/stackctl/pkg/graph"
	"github.com/go-go-golems/stackctl/pkg/stack"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newGraphCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print the service dependency graph and its start order",
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

			switch format {
			case "json":
				out := map[string]any{
					"nodes": g.Nodes(),
					"edges": g.AllEdges(),
					"order": g.TopoOrder(),
				}
				b, err := json.MarshalIndent(out, "", "  ")
				if err != nil {
					return errors.Wrap(err, "marshal graph")
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(b))
			case "dot":
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), toDot(f.Name, g))
			default:
				return errors.Errorf("unknown format %q (json|dot)", format)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "json", "Output format: json | dot")
	return cmd
}

func toDot(name string, g *graph.Graph) string {
	var b strings.Builder
	if name == "" {
		name = "stack"
	}
	b.WriteString(fmt.Sprintf("digraph %q {\n", name))
	for _, n := range g.Nodes() {
		b.WriteString(fmt.Sprintf("  %q;\n", n))
	}
	for _, e := range g.AllEdges() {
		style := ""
		if e.Condition == stack.ConditionHealthy {
			style = " [label=\"healthy\"]"
		}
		b.WriteString(fmt.Sprintf("  %q -> %q%s;\n", e.Service, e.Target, style))
	}
	b.WriteString("}")
	return b.String()
}
