/*
Copyright © 2025 3 Leaps <info@3leaps.com>
*/
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fulmenhq/agentsync/pkg/exitcode"
	"github.com/fulmenhq/agentsync/pkg/logger"
)

// zapLogger returns a component-scoped logger, the same idiom
// pkg/engine/pkg/watcher/pkg/api use via logger.Named, for cmd's own
// daemon-loop logging.
func zapLogger(component string) *zap.Logger {
	return logger.Named(component)
}

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "agentsync",
	Short: "Bidirectional file sync between a versioned store and local targets",
	Long: `agentsync keeps a set of local directories (git repos, AI-assistant
config directories) synchronized against a shared, git-backed store,
reconciling changes on either side and surfacing conflicts it cannot
resolve automatically.

Examples:
   agentsync serve            # run the sync daemon
   agentsync target list      # show registered targets
   agentsync conflict list    # show pending conflicts`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initializeLogger(cmd)
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately. Called once by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.Named("cmd").Sugar().Errorf("command failed: %v", err)
		os.Exit(exitcode.GeneralError)
	}
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Set log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("data-dir", "", "Override the store data directory (defaults to config.json's data_dir)")
}

func initializeLogger(cmd *cobra.Command) error {
	levelStr, _ := cmd.Flags().GetString("log-level")
	jsonLogs, _ := cmd.Flags().GetBool("json-logs")

	var level logger.Level
	switch strings.ToLower(levelStr) {
	case "debug":
		level = logger.DebugLevel
	case "warn":
		level = logger.WarnLevel
	case "error":
		level = logger.ErrorLevel
	default:
		level = logger.InfoLevel
	}

	if err := logger.Initialize(logger.Config{Level: level, JSON: jsonLogs}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err) //nolint:errcheck
		os.Exit(exitcode.ConfigError)
	}
	return nil
}
