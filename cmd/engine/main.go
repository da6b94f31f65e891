// Package main is the decision engine CLI:
// - serve: long-running engine with market feed, minimum refresher, audit trail and HTTP API
// - evaluate: replays a scenario file through an in-memory engine, printing decisions as JSON
// - validate-config: loads and validates a configuration file
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"multipair-engine/internal/config"
)

var configPath string

func main() {
	// Load .env file if exists
	loadEnvFile()

	rootCmd := &cobra.Command{
		Use:   "engine",
		Short: "Multi-pair trading decision engine",
		Long: `engine gates trading opportunities across several pairs: it sizes trades,
adapts exit targets to market conditions and enforces budget, pacing and risk limits.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/engine.yaml", "Path to the YAML configuration")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(evaluateCmd())
	rootCmd.AddCommand(validateConfigCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the file, applies ENGINE_* overrides and validates.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	cfg = cfg.MergeEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-config",
		Short: "Load and validate the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config OK: %d pairs (%s), sizing %s, pacing %s, storage %s\n",
				len(cfg.Pairs), strings.Join(cfg.PairNames(), ", "), cfg.Sizing.Mode, cfg.Pacing.Strategy, cfg.Storage.Backend)
			return nil
		},
	}
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)

		// Don't override existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, strings.TrimSpace(value))
		}
	}
}
