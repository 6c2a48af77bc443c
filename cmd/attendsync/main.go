// Command attendsync runs the offline-first attendance sync engine of one
// device: one-shot syncs, the background daemon and local store maintenance.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/kimhsiao/attendsync/internal/config"
	"github.com/kimhsiao/attendsync/internal/logging"
)

const programName = "attendsync"

// Version is set at build time.
var Version = "0.1.0"

var (
	globalFlags = struct {
		debug   bool
		dataDir string
	}{}
	configFile string
)

func commonRun(cfg *config.Config) {
	level := logging.ParseLevel(cfg.LogLevel)
	if globalFlags.debug {
		level = logging.LevelDebug
	}
	logging.InitWithOptions(logging.Options{
		Level:      level,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})
	// Configure max processes with our logger wrapper, toss undo func
	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, v ...interface{}) {
		logging.Debug(fmt.Sprintf(format, v...), map[string]interface{}{"component": programName})
	})); err != nil {
		logging.Warn("Failed to set GOMAXPROCS", map[string]interface{}{"error": err.Error()})
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           programName,
		Short:         "Offline-first attendance sync",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().
		BoolVarP(&globalFlags.debug, "debug", "D", false, "enable debug logging")
	rootCmd.PersistentFlags().
		StringVar(&configFile, "config", "", "path to config file")
	rootCmd.PersistentFlags().
		StringVar(&globalFlags.dataDir, "data-dir", "", "directory of the local database (overrides config)")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if globalFlags.dataDir != "" {
			cfg.DataDir = globalFlags.dataDir
		}
		commonRun(cfg)
		cmd.SetContext(config.WithContext(cmd.Context(), cfg))
		return nil
	}

	rootCmd.AddCommand(syncCommand())
	rootCmd.AddCommand(statusCommand())
	rootCmd.AddCommand(queueCommand())
	rootCmd.AddCommand(daemonCommand())
	rootCmd.AddCommand(heartbeatCommand())
	rootCmd.AddCommand(migrateCommand())
	rootCmd.AddCommand(offlineCommand())
	rootCmd.AddCommand(checkinCommand())
	rootCmd.AddCommand(logoutCommand())
	rootCmd.AddCommand(versionCommand())
	return rootCmd
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		// no config needed
		PersistentPreRun: func(*cobra.Command, []string) {},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s v%s\n", programName, Version)
		},
	}
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
