package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/validio/validio-go/pkg/engine"
)

func newPlanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan <manifest>",
		Short: "Show the changes apply would make",
		Long: `Compare the manifest with the resources of the namespace and show the
resources that would be created, updated and deleted.

The plan loads the server state and infers source schemas where the
credential already exists. It never mutates anything. Policies are
evaluated and a denied plan exits with an error.`,
		Example: `  # Plan a YAML manifest
  validio plan validio/manifest.yaml

  # Plan a CUE package against another namespace
  validio plan ./validio --namespace staging

  # Machine-readable summary
  validio plan manifest.yaml --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, desired, err := loadDesired(args[0])
			if err != nil {
				return err
			}

			ctx, rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()
			rt.protect(ctx, desired)

			ns := rt.namespaceFor(m)
			log.Info().Str("namespace", ns).Str("manifest", args[0]).Msg("Planning")

			res, err := rt.reconciler(nil).Plan(ctx, ns, desired, engine.RunOptions{Actor: actor()})
			out := cmd.OutOrStdout()
			if jsonOutput {
				if perr := printJSON(out, newRunReport(res, err)); perr != nil {
					return perr
				}
				return err
			}
			if res != nil {
				printPlan(out, res)
			}
			return err
		},
	}

	return cmd
}
