package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fulmenhq/agentsync/pkg/api"
)

var conflictCmd = &cobra.Command{
	Use:   "conflict",
	Short: "Inspect and resolve sync conflicts",
}

var conflictListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending conflicts",
	RunE:  runConflictList,
}

var conflictResolveCmd = &cobra.Command{
	Use:   "resolve <conflict-id> <keep-store|keep-target|manual-content|delete>",
	Short: "Resolve one conflict",
	Args:  cobra.RangeArgs(2, 2),
	RunE:  runConflictResolve,
}

func init() {
	rootCmd.AddCommand(conflictCmd)
	conflictCmd.AddCommand(conflictListCmd)
	conflictCmd.AddCommand(conflictResolveCmd)

	conflictListCmd.Flags().String("target", "", "Restrict to one target id")
	conflictResolveCmd.Flags().String("file", "", "Path to read manual-content's replacement content from (required for manual-content)")
	conflictResolveCmd.Flags().Bool("bulk", false, "Apply the resolution to every pending conflict on the given target id rather than a single conflict id")
}

func runConflictList(cmd *cobra.Command, args []string) error {
	env, err := openEnvironment(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = env.Close() }()

	targetID, _ := cmd.Flags().GetString("target")
	conflicts, err := env.facade.ListConflicts(targetID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTARGET\tPATH\tSTATUS") //nolint:errcheck
	for _, c := range conflicts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.ID, c.TargetID, c.RelativePath, c.Status) //nolint:errcheck
	}
	return tw.Flush()
}

func runConflictResolve(cmd *cobra.Command, args []string) error {
	env, err := openEnvironment(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = env.Close() }()

	id, resolutionArg := args[0], args[1]
	resolution := api.ConflictResolution(resolutionArg)

	bulk, _ := cmd.Flags().GetBool("bulk")
	if bulk {
		return env.facade.ResolveConflictsBulk(id, resolution)
	}

	var manualContent []byte
	if resolution == api.ResolutionManualContent {
		path, _ := cmd.Flags().GetString("file")
		if path == "" {
			return fmt.Errorf("manual-content resolution requires --file")
		}
		manualContent, err = os.ReadFile(path) // #nosec G304 -- operator-supplied path, CLI context
		if err != nil {
			return fmt.Errorf("read manual content file: %w", err)
		}
	}

	return env.facade.ResolveConflict(id, resolution, manualContent)
}
