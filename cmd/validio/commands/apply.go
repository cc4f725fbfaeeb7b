package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/user"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/validio/validio-go/pkg/config"
	"github.com/validio/validio-go/pkg/engine"
)

func newApplyCommand() *cobra.Command {
	var (
		skipPolicy bool
		watch      bool
	)

	cmd := &cobra.Command{
		Use:   "apply <manifest>",
		Short: "Reconcile the namespace with the manifest",
		Long: `Apply creates, updates and deletes resources until the namespace
matches the manifest.

Deletions run first, then credentials, schema inference for new sources,
sources and channels, validator template expansion, updates and finally
the remaining creations. Only one apply per namespace runs at a time.

Policies are evaluated before anything changes; a denial stops the apply
unless --skip-policy is given. With --watch the manifest is re-applied
whenever it changes.`,
		Example: `  # Apply a manifest
  validio apply manifest.yaml

  # Apply despite a policy denial (recorded in the audit log)
  validio apply manifest.yaml --skip-policy

  # Keep the namespace in sync while editing
  validio apply manifest.yaml --watch`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]

			ctx, rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			out := cmd.OutOrStdout()
			opts := engine.RunOptions{SkipPolicy: skipPolicy, Actor: actor()}
			runOnce := func(ctx context.Context) error {
				return applyManifest(ctx, rt, out, path, opts)
			}

			if err := runOnce(ctx); err != nil {
				if !watch {
					return err
				}
				rt.logger.Error().Err(err).Str("manifest", path).Msg("Initial apply failed")
				fmt.Fprintf(cmd.ErrOrStderr(), "Apply failed: %v\n", err)
			} else if !watch {
				return nil
			}

			w := config.NewWatcher(rt.logger)
			if err := w.Watch(ctx, []string{path}, runOnce); err != nil {
				return err
			}
			defer w.Close()

			fmt.Fprintf(out, "Watching %s for changes. Press Ctrl+C to stop.\n", path)
			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipPolicy, "skip-policy", false, "apply even when policies deny the changes")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "re-apply when the manifest changes")

	return cmd
}

func applyManifest(ctx context.Context, rt *runtime, out io.Writer, path string, opts engine.RunOptions) error {
	m, desired, err := loadDesired(path)
	if err != nil {
		return err
	}

	rt.protect(ctx, desired)

	ns := rt.namespaceFor(m)
	log.Info().Str("namespace", ns).Str("manifest", path).Msg("Applying")

	var obs engine.Observer
	if !jsonOutput {
		obs = progressObserver(out)
	}
	res, err := rt.reconciler(obs).Apply(ctx, ns, desired, opts)

	if jsonOutput {
		if perr := printJSON(out, newRunReport(res, err)); perr != nil {
			return perr
		}
		return err
	}

	if res != nil && res.Diff != nil {
		if len(res.Mutations) == 0 {
			printPlan(out, res)
		} else {
			printPolicy(out, res.Policy)
			s := res.Diff.Summary()
			fmt.Fprintf(out, "\nApply %s! Resources: %d created, %d updated, %d deleted. Run %s\n",
				res.Status, s.Create, s.Update, s.Delete, res.RunID)
		}
	}
	return err
}

// actor names the user recorded in audit entries.
func actor() string {
	if v := os.Getenv("VALIDIO_ACTOR"); v != "" {
		return v
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return "unknown"
}
