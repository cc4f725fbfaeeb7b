package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/validio/validio-go/pkg/engine"
)

func newGraphCommand() *cobra.Command {
	var (
		outFile  string
		withPlan bool
	)

	cmd := &cobra.Command{
		Use:   "graph <manifest>",
		Short: "Render the resource dependency graph in DOT format",
		Long: `Graph prints the dependencies between the resources of a manifest in
Graphviz DOT format, grouped by dependency level. With --plan the nodes
are coloured by the operation the next apply would perform.`,
		Example: `  # Render to PNG
  validio graph manifest.yaml | dot -Tpng > graph.png

  # Colour by planned operation
  validio graph manifest.yaml --plan -o graph.dot`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, desired, err := loadDesired(args[0])
			if err != nil {
				return err
			}

			g, err := engine.BuildDependencyGraph(desired)
			if err != nil {
				return err
			}

			var diff *engine.GraphDiff
			if withPlan {
				ctx, rt, err := newRuntime(cmd.Context())
				if err != nil {
					return err
				}
				defer rt.Close()

				res, err := rt.reconciler(nil).Plan(ctx, rt.namespaceFor(m), desired, engine.RunOptions{Actor: actor()})
				if res == nil || res.Diff == nil {
					return err
				}
				diff = res.Diff
			}

			dot := g.ToDOT(diff)
			if outFile == "" {
				_, err = fmt.Fprint(cmd.OutOrStdout(), dot)
				return err
			}
			if err := os.WriteFile(outFile, []byte(dot), 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", outFile, err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outFile, "out", "o", "", "output file (default stdout)")
	cmd.Flags().BoolVar(&withPlan, "plan", false, "colour nodes by planned operation")

	return cmd
}
