package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/validio/validio-go/pkg/config"
)

const defaultSettings = `# validio settings

# API endpoint. The API key is read from VALIDIO_API_KEY.
endpoint: https://app.validio.io

# Namespace reconciled unless the manifest or --namespace names another.
namespace: %s

# Run history.
state_path: %s

# Namespace lease. Set redis_addr to share the lease between machines.
lease:
  ttl: 1m
  # redis_addr: localhost:6379

# Extra guardrails (.rego files or directories).
policy:
  paths: []
  # disable: [large-delete]
  # max_deletes: 10
`

const sampleManifest = `# Desired resources of the namespace. See 'validio plan --help'.
credentials:
  - name: demo
    type: demo

sources:
  - name: demo_source
    type: demo
    credential: demo

windows:
  - name: global
    type: global
    source: demo_source

validators:
  - name: row_count
    type: volume
    source: demo_source
    window: global
    metric: COUNT
    threshold:
      type: dynamic
      sensitivity: 3
`

func newInitCommand() *cobra.Command {
	var (
		dir   string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a validio workspace",
		Long: `Initialize a workspace with a settings file, a sample manifest and the
local run history database.`,
		Example: `  # Initialize the current directory
  validio init

  # Initialize for a namespace in another directory
  validio init --dir infra/validio --namespace analytics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ns := namespace
			if ns == "" {
				ns = "default"
			}
			log.Info().Str("dir", dir).Str("namespace", ns).Msg("Initializing workspace")
			out := cmd.OutOrStdout()

			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", dir, err)
			}

			statePath := filepath.Join(dir, ".validio", "state.db")
			store, err := openStore(cmd.Context(), statePath)
			if err != nil {
				return err
			}
			if err := store.Close(); err != nil {
				return err
			}
			fmt.Fprintf(out, "✓ Initialized run history: %s\n", statePath)

			settingsPath := configPath
			if settingsPath == "" {
				settingsPath = filepath.Join(dir, config.DefaultSettingsFile)
			}
			settings := fmt.Sprintf(defaultSettings, ns, statePath)
			if err := writeIfMissing(settingsPath, settings, force); err != nil {
				return err
			}
			fmt.Fprintf(out, "✓ Created settings: %s\n", settingsPath)

			manifestPath := filepath.Join(dir, "manifest.yaml")
			if err := writeIfMissing(manifestPath, sampleManifest, force); err != nil {
				return err
			}
			fmt.Fprintf(out, "✓ Created manifest: %s\n", manifestPath)

			fmt.Fprintf(out, "\nNext steps:\n")
			fmt.Fprintf(out, "  1. export %s=<your key>\n", config.EnvAPIKey)
			fmt.Fprintf(out, "  2. validio plan %s\n", manifestPath)
			fmt.Fprintf(out, "  3. validio apply %s\n", manifestPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", ".", "workspace directory")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")

	return cmd
}

func writeIfMissing(path, content string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
