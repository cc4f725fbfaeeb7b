package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/validio/validio-go/pkg/api"
	"github.com/validio/validio-go/pkg/engine"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <manifest>",
		Short: "Validate a manifest without contacting the API",
		Long: `Validate parses the manifest, checks field constraints and name
uniqueness, and verifies that references between resources form no cycle.
Secret references must resolve from the environment.`,
		Example: `  # Validate a YAML manifest
  validio validate manifest.yaml

  # Validate a CUE package
  validio validate ./validio`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Debug().Str("manifest", args[0]).Msg("Validating manifest")

			_, desired, err := loadDesired(args[0])
			if err != nil {
				return err
			}

			g, err := engine.BuildDependencyGraph(desired)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				counts := make(map[api.Kind]int, len(api.Kinds))
				for _, k := range api.Kinds {
					counts[k] = desired.Len(k)
				}
				return printJSON(out, map[string]any{
					"valid":     true,
					"resources": counts,
					"depth":     g.Depth(),
				})
			}

			fmt.Fprintf(out, "✓ %s is valid\n", args[0])
			for _, k := range api.Kinds {
				if n := desired.Len(k); n > 0 {
					fmt.Fprintf(out, "  %-18s %d\n", k, n)
				}
			}
			return nil
		},
	}

	return cmd
}
