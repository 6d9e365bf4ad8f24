package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"droneops-console/internal/config"
)

var (
	validateConfigPath string
	validateSchemaPath string
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a configuration file",
	Long:  "validate loads a config file, checks it against the CUE schema and the semantic rules, and prints the effective settings.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(validateConfigPath, validateSchemaPath)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "config OK: backend=%s stream=%q nats=%q snapshot=%s cooldown=%s\n",
			cfg.Backend.BaseURL, cfg.Stream.URL, cfg.Stream.NATSURL, cfg.Snapshot.Interval, cfg.Commands.Cooldown)
		return nil
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateConfigPath, "config", "config/console.yaml", "Path to console configuration YAML")
	validateCmd.Flags().StringVar(&validateSchemaPath, "schema", "schemas/console.cue", "Path to CUE schema file")
}
