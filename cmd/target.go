package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fulmenhq/agentsync/pkg/store"
)

var targetCmd = &cobra.Command{
	Use:   "target",
	Short: "Manage sync targets (repos and services)",
}

var targetListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered targets",
	RunE:  runTargetList,
}

var targetAddCmd = &cobra.Command{
	Use:   "add <local-path> <store-path>",
	Short: "Register a new target and run its first reconciliation pass",
	Args:  cobra.ExactArgs(2),
	RunE:  runTargetAdd,
}

var targetRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Unregister a target",
	Args:  cobra.ExactArgs(1),
	RunE:  runTargetRemove,
}

var targetPauseCmd = &cobra.Command{
	Use:   "pause <id>",
	Short: "Pause a target",
	Args:  cobra.ExactArgs(1),
	RunE:  runTargetPause,
}

var targetResumeCmd = &cobra.Command{
	Use:   "resume <id>",
	Short: "Resume a paused target",
	Args:  cobra.ExactArgs(1),
	RunE:  runTargetResume,
}

var targetRescanCmd = &cobra.Command{
	Use:   "rescan <id>",
	Short: "Run one reconciliation pass for a target right now",
	Args:  cobra.ExactArgs(1),
	RunE:  runTargetRescan,
}

func init() {
	rootCmd.AddCommand(targetCmd)
	targetCmd.AddCommand(targetListCmd)
	targetCmd.AddCommand(targetAddCmd)
	targetCmd.AddCommand(targetRemoveCmd)
	targetCmd.AddCommand(targetPauseCmd)
	targetCmd.AddCommand(targetResumeCmd)
	targetCmd.AddCommand(targetRescanCmd)

	targetAddCmd.Flags().String("kind", "repo", "Target kind: repo or service")
	targetAddCmd.Flags().String("name", "", "Display name (defaults to the store path)")
	targetAddCmd.Flags().String("service-type", "", "Service type slug, for --kind=service targets (e.g. claude, cursor)")
}

func runTargetList(cmd *cobra.Command, args []string) error {
	env, err := openEnvironment(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = env.Close() }()

	summaries, err := env.facade.ListTargets()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tNAME\tSTATUS\tFILES\tCONFLICTS\tLOCAL PATH") //nolint:errcheck
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n", //nolint:errcheck
			s.ID, s.Kind, s.DisplayName, s.Status, s.TrackedFileCount, s.PendingConflicts, s.LocalPath)
	}
	return tw.Flush()
}

func runTargetAdd(cmd *cobra.Command, args []string) error {
	env, err := openEnvironment(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = env.Close() }()

	localPath, storePath := args[0], args[1]
	kindFlag, _ := cmd.Flags().GetString("kind")
	name, _ := cmd.Flags().GetString("name")
	serviceType, _ := cmd.Flags().GetString("service-type")

	kind := store.TargetKindRepo
	if kindFlag == "service" {
		kind = store.TargetKindService
	}
	if name == "" {
		name = storePath
	}

	t := store.Target{
		ID:          uuid.NewString(),
		Kind:        kind,
		DisplayName: name,
		LocalPath:   localPath,
		StorePath:   storePath,
		Status:      store.TargetStatusActive,
		ServiceType: serviceType,
	}

	if err := env.facade.RegisterTarget(t); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()
	summary, err := env.facade.Rescan(ctx, t.ID)
	if err != nil {
		return fmt.Errorf("initial reconciliation: %w", err)
	}

	_, err = fmt.Fprintf(cmd.OutOrStdout(), "registered %s (%s): synced=%d conflicts=%d errors=%d\n",
		t.ID, t.DisplayName, summary.Synced, summary.Conflicts, summary.Errors)
	return err
}

func runTargetRemove(cmd *cobra.Command, args []string) error {
	env, err := openEnvironment(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = env.Close() }()
	return env.facade.UnregisterTarget(args[0])
}

func runTargetPause(cmd *cobra.Command, args []string) error {
	env, err := openEnvironment(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = env.Close() }()
	return env.facade.PauseTarget(args[0])
}

func runTargetResume(cmd *cobra.Command, args []string) error {
	env, err := openEnvironment(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = env.Close() }()
	return env.facade.ResumeTarget(args[0])
}

func runTargetRescan(cmd *cobra.Command, args []string) error {
	env, err := openEnvironment(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = env.Close() }()

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()
	summary, err := env.facade.Rescan(ctx, args[0])
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "synced=%d conflicts=%d errors=%d\n", summary.Synced, summary.Conflicts, summary.Errors)
	return err
}
