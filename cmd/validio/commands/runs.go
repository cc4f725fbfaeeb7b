package commands

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/validio/validio-go/pkg/stores"
)

func newRunsCommand() *cobra.Command {
	var (
		limit int
		all   bool
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded plan and apply runs",
		Long: `Runs lists the reconciliation history kept in the local state
database, newest first. Use 'runs show <id>' to see the mutations of a run.`,
		Example: `  # Last runs of the configured namespace
  validio runs

  # Runs of every namespace
  validio runs --all --limit 50`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			var ns *string
			if !all {
				n := rt.namespaceFor(nil)
				ns = &n
			}
			runs, err := rt.store.ListRuns(ctx, ns, limit, 0)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded.")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAMESPACE\tCOMMAND\tSTATUS\tSTARTED\tDURATION")
			for _, r := range runs {
				dur := "-"
				if r.CompletedAt != nil {
					dur = r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					r.ID, r.Namespace, r.Command, r.Status, r.StartedAt.Format(time.RFC3339), dur)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "maximum number of runs")
	cmd.Flags().BoolVar(&all, "all", false, "list runs of every namespace")

	cmd.AddCommand(newRunsShowCommand())
	cmd.AddCommand(newRunsPruneCommand())

	return cmd
}

func newRunsShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run and its mutations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			run, err := rt.store.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			mutations, err := rt.store.ListMutations(ctx, run.ID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, struct {
					Run       *stores.Run        `json:"run"`
					Mutations []*stores.Mutation `json:"mutations"`
				}{run, mutations})
			}

			fmt.Fprintf(out, "Run %s (%s %s): %s\n", run.ID, run.Command, run.Namespace, run.Status)
			if run.Summary != "" {
				var summary map[string]any
				if err := json.Unmarshal([]byte(run.Summary), &summary); err == nil {
					if diff, ok := summary["diff"].(map[string]any); ok {
						fmt.Fprintf(out, "Plan: %v to create, %v to update, %v to delete\n",
							diff["create"], diff["update"], diff["delete"])
					}
				}
			}
			if run.Error != nil {
				fmt.Fprintf(out, "Error: %s\n", *run.Error)
			}
			if len(mutations) == 0 {
				return nil
			}

			fmt.Fprintln(out)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PHASE\tOPERATION\tRESOURCE\tSTATUS\tDURATION")
			for _, m := range mutations {
				status := string(m.Status)
				if m.Error != nil {
					status += ": " + *m.Error
				}
				fmt.Fprintf(tw, "%s\t%s\t%s/%s\t%s\t%dms\n", m.Phase, m.Operation, m.Kind, m.Name, status, m.DurationMs)
			}
			return tw.Flush()
		},
	}
}

func newRunsPruneCommand() *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old runs of the namespace",
		Long: `Prune deletes the completed runs of the namespace and their mutations,
keeping the newest --keep runs. Runs still in progress are kept.`,
		Example: `  validio runs prune --keep 50 --namespace analytics`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, rt, err := newRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			ns := rt.namespaceFor(nil)
			n, err := rt.store.PruneRuns(ctx, ns, keep)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, map[string]any{"namespace": ns, "pruned": n})
			}
			fmt.Fprintf(out, "Pruned %d run(s) of namespace %q.\n", n, ns)
			return nil
		},
	}

	cmd.Flags().IntVar(&keep, "keep", 20, "number of completed runs to keep")

	return cmd
}
