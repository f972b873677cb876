package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

// rootCmd is the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "fleetctl",
	Short: "Multi-tenant autonomous agent fleet orchestrator",
	Long: `fleetctl runs a fleet of AI coding agents against a portfolio of
repositories: a webhook router turns issue/MR events into queued tasks,
a scheduler creates recurring work on cron, and a per-agent-type runner
claims tasks and spawns a provider CLI subprocess for each one.

Get started:
  fleetctl repo add    Register a repository with the fleet
  fleetctl doctor      Verify storage, forge credentials, and provider CLIs
  fleetctl gateway      Start the webhook + scheduler daemon
  fleetctl runner       Run a single agent-type's supervision loop`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute is the entry point called from main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: ~/.fleetctl/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"enable verbose/debug output")

	rootCmd.Version = Version
	rootCmd.AddCommand(
		gatewayCmd,
		runnerCmd,
		repoCmd,
		configCmd,
		doctorCmd,
	)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
	if verbose {
		slog.SetLogLoggerLevel(slog.LevelDebug)
		slog.Debug("verbose logging enabled")
	}
}
