package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/cadence/pkg/config"
	"github.com/cuemby/cadence/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cadence",
	Short: "Cadence - batch scheduler for precisely timed operations",
	Long: `Cadence plans batches of hack, grow and weaken operations against a
set of targets and dispatches them to a pool of workers so that every
operation finishes inside its planned completion window.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Cadence version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Cadence version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringP("config", "c", "", "Configuration file (defaults are used when empty)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (overrides the config)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Log in JSON")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(historyCmd)
}

// loadConfig reads the configuration named by --config and initializes
// logging from it and the logging flags
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	logCfg := cfg.LogConfig()
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		logCfg.Level = log.Level(level)
	}
	if jsonOut, _ := cmd.Flags().GetBool("log-json"); jsonOut {
		logCfg.JSONOutput = true
	}
	logCfg.Output = os.Stderr
	log.Init(logCfg)

	return cfg, nil
}
