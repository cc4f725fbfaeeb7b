package commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/validio/validio-go/pkg/config"
	"github.com/validio/validio-go/pkg/engine"
)

func newExportCommand() *cobra.Command {
	var outFile string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Print the resources of a namespace as a manifest",
		Long: `Export loads every resource of the namespace and prints it as a YAML
manifest. Secret values cannot be read back and are written as UNSET;
replace them (e.g. with ${VAR} references) before applying the export.`,
		Example: `  # Export to stdout
  validio export --namespace analytics

  # Export to a file
  validio export -o manifest.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			ns := rt.namespaceFor(nil)
			log.Info().Str("namespace", ns).Msg("Exporting")

			actual, err := engine.LoadResources(ctx, ns, rt.client, engine.WithLogger(log.Logger))
			if err != nil {
				return err
			}

			m := config.FromDiffContext(ns, actual)
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), m)
			}

			data, err := m.EncodeYAML()
			if err != nil {
				return fmt.Errorf("failed to encode manifest: %w", err)
			}
			if outFile == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(outFile, data, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", outFile, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Exported namespace %q to %s\n", ns, outFile)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outFile, "out", "o", "", "output file (default stdout)")

	return cmd
}
