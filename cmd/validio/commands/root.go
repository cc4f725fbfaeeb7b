package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	namespace  string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	cliVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "validio",
		Short: "Validio - data quality resources as code",
		Long: `validio reconciles the data quality resources of a namespace with a
declarative manifest.

A manifest lists credentials, channels, sources, segmentations, windows,
validators and notification rules. 'plan' shows what would change and
'apply' performs the changes in dependency order.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "settings file path (default validio.yaml)")
	rootCmd.PersistentFlags().StringVarP(&namespace, "namespace", "n", "", "namespace to reconcile (overrides manifest and settings)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newExportCommand())
	rootCmd.AddCommand(newGraphCommand())
	rootCmd.AddCommand(newRunsCommand())

	return rootCmd
}
