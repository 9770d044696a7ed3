package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	gitctx "github.com/fulmenhq/agentsync/internal/storegit"
	"github.com/fulmenhq/agentsync/pkg/api"
	"github.com/fulmenhq/agentsync/pkg/config"
	"github.com/fulmenhq/agentsync/pkg/engine"
	"github.com/fulmenhq/agentsync/pkg/machines"
	"github.com/fulmenhq/agentsync/pkg/pattern"
	"github.com/fulmenhq/agentsync/pkg/store"
	"github.com/fulmenhq/agentsync/pkg/watcher"
)

// environment is every open handle a subcommand needs, bundled so each
// command only has to call openEnvironment once and defer environment.Close.
type environment struct {
	cfg        *config.Config
	defaults   *config.Defaults
	meta       *store.Store
	git        *gitctx.Store
	eng        *engine.Engine
	facade     *api.Facade
	suppressor *watcher.Suppressor
	storeRoot  string
}

// openEnvironment loads the per-user config, opens the metadata store and
// git adapter, seeds the default pattern registry on first use, and wires
// an Engine and Facade over them. Every CLI subcommand that touches the
// store goes through this one entry point.
func openEnvironment(cmd *cobra.Command) (*environment, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.DataDir = dataDir
	}

	defaults, err := config.LoadDefaults()
	if err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	meta, err := store.Open(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}

	if err := meta.SeedDefaultPatterns(store.PatternKindInclude, store.FromPatternGlobals(pattern.DefaultIncludePatterns())); err != nil {
		_ = meta.Close()
		return nil, fmt.Errorf("seed include patterns: %w", err)
	}
	if err := meta.SeedDefaultPatterns(store.PatternKindIgnore, store.FromPatternGlobals(pattern.DefaultIgnorePatterns())); err != nil {
		_ = meta.Close()
		return nil, fmt.Errorf("seed ignore patterns: %w", err)
	}

	gitStore, err := gitctx.Open(cfg.DataDir)
	if err != nil {
		_ = meta.Close()
		return nil, fmt.Errorf("open store git repo: %w", err)
	}

	suppressor := watcher.NewSuppressor(defaults.SuppressionTTL)
	eng := engine.New(meta, gitStore, suppressor, cfg.DataDir)
	facade := api.New(meta, gitStore, eng, cfg.DataDir)

	if _, err := machines.RegisterCurrentMachine(cfg.DataDir, cfg.MachineID, cfg.MachineName, time.Now()); err != nil {
		_ = meta.Close()
		return nil, fmt.Errorf("register current machine: %w", err)
	}

	return &environment{cfg: cfg, defaults: defaults, meta: meta, git: gitStore, eng: eng, facade: facade, suppressor: suppressor, storeRoot: cfg.DataDir}, nil
}

// Close releases the metadata store. The git adapter has no handle to
// release; its only resource is the commit debounce timer, which QueueCommit
// stops draining once the process exits.
func (e *environment) Close() error {
	return e.meta.Close()
}
