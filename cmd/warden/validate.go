package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"studyhall/warden/pkg/config"
)

var validateFlags struct {
	overrides bool
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Load a configuration file, apply defaults and environment overrides,
and check every section for errors without starting the server.

Examples:
  # Validate the default config path
  warden validate

  # Validate a specific file
  warden validate --config /etc/warden/warden.yaml

  # Also check the limit overrides file it references
  warden validate --overrides`,
	RunE: validateConfig,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateFlags.overrides, "overrides", false, "also validate the referenced limit overrides file")
}

func validateConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	fmt.Printf("✓ %s is valid\n", cfgFile)

	if validateFlags.overrides && cfg.Quota.OverridesPath != "" {
		overrides, err := config.LoadOverrides(cfg.Quota.OverridesPath)
		if err != nil {
			return fmt.Errorf("invalid limit overrides: %w", err)
		}
		fmt.Printf("✓ %s is valid (%d identities)\n", cfg.Quota.OverridesPath, len(overrides))
	}
	return nil
}
