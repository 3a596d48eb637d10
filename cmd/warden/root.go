package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "Warden - usage metering and admission control for a study assistant",
	Long: `Warden meters model-provider usage and gates admission for a
study-assistant backend.

It provides:
  - Token accounting across session, weekly, and monthly windows
  - Pre-flight admission checks with post-flight usage commits
  - Concurrency limiting, timeouts, and circuit breaking for upstream calls
  - Guest device throttling for anonymous trial usage
  - Advisory behavioral abuse detection`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "warden.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
