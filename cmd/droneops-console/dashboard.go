package main

import (
	"log"

	"github.com/spf13/cobra"

	"droneops-console/internal/config"
	"droneops-console/internal/dashboard"
)

var (
	dashOutDir     string
	dashDatasource string
	dashConfigPath string
	dashSchemaPath string
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Render Grafana dashboards for the GreptimeDB tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		tables := config.Default().Sinks.Greptime.Tables
		if dashConfigPath != "" {
			cfg, err := config.Load(dashConfigPath, dashSchemaPath)
			if err != nil {
				return err
			}
			tables = cfg.Sinks.Greptime.Tables
		}
		if err := dashboard.Render(dashOutDir, dashboard.Params{DatasourceUID: dashDatasource, Tables: tables}); err != nil {
			return err
		}
		log.Printf("[Main] Dashboards written to %s", dashOutDir)
		return nil
	},
}

func init() {
	dashboardCmd.Flags().StringVar(&dashOutDir, "out", "build", "Output directory")
	dashboardCmd.Flags().StringVar(&dashDatasource, "datasource", "", "Grafana GreptimeDB datasource uid (default $GREPTIMEDB_DATASOURCE_UID)")
	dashboardCmd.Flags().StringVar(&dashConfigPath, "config", "", "Optional console configuration YAML for table names")
	dashboardCmd.Flags().StringVar(&dashSchemaPath, "schema", "schemas/console.cue", "Path to CUE schema file")
}
