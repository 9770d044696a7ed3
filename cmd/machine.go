package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fulmenhq/agentsync/pkg/machines"
	"github.com/fulmenhq/agentsync/pkg/store"
)

var machineCmd = &cobra.Command{
	Use:   "machine",
	Short: "Inspect and link repos/services shared across machines via the store",
}

var machineUnlinkedCmd = &cobra.Command{
	Use:   "unlinked",
	Short: "List repos and services present in the store but not yet linked on this machine",
	RunE:  runMachineUnlinked,
}

var machineLinkCmd = &cobra.Command{
	Use:   "auto-link",
	Short: "Link every unlinked entry whose suggested local path exists",
	RunE:  runMachineAutoLink,
}

func init() {
	rootCmd.AddCommand(machineCmd)
	machineCmd.AddCommand(machineUnlinkedCmd)
	machineCmd.AddCommand(machineLinkCmd)
}

func registeredStorePathsAndLocalPaths(env *environment) (map[string]bool, map[string]bool, error) {
	targets, err := env.meta.ListTargets()
	if err != nil {
		return nil, nil, err
	}
	storePaths := make(map[string]bool, len(targets))
	localPaths := make(map[string]bool, len(targets))
	for _, t := range targets {
		storePaths[t.StorePath] = true
		localPaths[t.LocalPath] = true
	}
	return storePaths, localPaths, nil
}

func runMachineUnlinked(cmd *cobra.Command, args []string) error {
	env, err := openEnvironment(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = env.Close() }()

	storePaths, _, err := registeredStorePathsAndLocalPaths(env)
	if err != nil {
		return err
	}

	repos, err := machines.UnlinkedRepos(env.storeRoot, env.cfg.MachineID, storePaths)
	if err != nil {
		return err
	}
	services, err := machines.UnlinkedServices(env.storeRoot, env.cfg.MachineID, storePaths)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STORE PATH\tSUGGESTED PATH\tPATH EXISTS\tOTHER MACHINES") //nolint:errcheck
	for _, e := range append(repos, services...) {
		fmt.Fprintf(tw, "%s\t%s\t%t\t%d\n", e.StorePath, e.SuggestedPath, e.PathExists, len(e.OtherMachines)) //nolint:errcheck
	}
	return tw.Flush()
}

// link is the engine-side half machines.Linker needs: insert the target
// row and run its first reconciliation pass, so auto-link leaves every
// newly linked entry fully populated rather than merely registered.
func link(env *environment) machines.Linker {
	return func(entry machines.UnlinkedEntry) error {
		kind := store.TargetKindRepo
		if isServiceStorePath(entry.StorePath) {
			kind = store.TargetKindService
		}
		t := store.Target{
			ID:          uuid.NewString(),
			Kind:        kind,
			DisplayName: entry.StorePath,
			LocalPath:   entry.SuggestedPath,
			StorePath:   entry.StorePath,
			Status:      store.TargetStatusActive,
		}
		if err := env.facade.RegisterTarget(t); err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		_, err := env.facade.Rescan(ctx, t.ID)
		return err
	}
}

func isServiceStorePath(storePath string) bool {
	return len(storePath) >= len("services/") && storePath[:len("services/")] == "services/"
}

func runMachineAutoLink(cmd *cobra.Command, args []string) error {
	env, err := openEnvironment(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = env.Close() }()

	storePaths, localPaths, err := registeredStorePathsAndLocalPaths(env)
	if err != nil {
		return err
	}

	repos, err := machines.UnlinkedRepos(env.storeRoot, env.cfg.MachineID, storePaths)
	if err != nil {
		return err
	}
	services, err := machines.UnlinkedServices(env.storeRoot, env.cfg.MachineID, storePaths)
	if err != nil {
		return err
	}

	results := machines.AutoLink(append(repos, services...), localPaths, link(env))

	out := cmd.OutOrStdout()
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STORE PATH\tOUTCOME\tERROR") //nolint:errcheck
	for _, r := range results {
		errStr := ""
		if r.Err != nil {
			errStr = r.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.StorePath, r.Outcome, errStr) //nolint:errcheck
	}
	return tw.Flush()
}
