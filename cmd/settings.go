package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fulmenhq/agentsync/pkg/settingssync"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Export and import the store's global settings, patterns, and per-target overrides",
}

var settingsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the current settings, patterns, and overrides to sync-settings.json",
	RunE:  runSettingsExport,
}

var settingsImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Apply sync-settings.json to the local database",
	Long: `import reads sync-settings.json and applies its settings and global
patterns unconditionally. Per-target overrides apply immediately for
targets already linked on this machine; overrides for a store_path with
no linked target here are reported as pending rather than discarded, and
take effect the next time that target is linked (see 'agentsync machine
auto-link').`,
	RunE: runSettingsImport,
}

func init() {
	rootCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(settingsExportCmd)
	settingsCmd.AddCommand(settingsImportCmd)
}

func runSettingsExport(cmd *cobra.Command, args []string) error {
	env, err := openEnvironment(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = env.Close() }()

	if err := settingssync.ExportAndSave(env.meta, env.storeRoot); err != nil {
		return fmt.Errorf("export settings: %w", err)
	}

	_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", settingssync.Path(env.storeRoot))
	return err
}

func runSettingsImport(cmd *cobra.Command, args []string) error {
	env, err := openEnvironment(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = env.Close() }()

	doc, err := settingssync.Load(env.storeRoot)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	targets, err := env.meta.ListTargets()
	if err != nil {
		return err
	}
	storePathToTargetID := make(map[string]string, len(targets))
	for _, t := range targets {
		storePathToTargetID[t.StorePath] = t.ID
	}

	deferred, err := settingssync.Import(env.meta, doc, storePathToTargetID)
	if err != nil {
		return fmt.Errorf("import settings: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "settings imported") //nolint:errcheck
	if len(deferred) > 0 {
		fmt.Fprintln(out, "overrides pending a linked target:") //nolint:errcheck
		for storePath := range deferred {
			fmt.Fprintf(out, "  %s\n", storePath) //nolint:errcheck
		}
	}
	return nil
}
