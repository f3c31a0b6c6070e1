package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath string // Optional YAML config file
	logLevel   string // Overrides LOG_LEVEL when set
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "fms",
	Short: "Football match simulator API",
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log verbosity (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd)
}
