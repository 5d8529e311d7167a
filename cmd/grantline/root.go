package main

import (
	"github.com/spf13/cobra"

	"github.com/grantline/grantline/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "grantline",
	Short: "RBAC governance control plane for ClickHouse clusters",
	Long: `grantline manages ClickHouse access control through reviewable
change proposals, snapshot-based RBAC exploration, and an isolated
execution service that is the only component allowed to touch clusters.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Initialize(); err != nil {
			return err
		}
		// Flags beat env and file values.
		if cmd.Flags().Changed("db") {
			db, _ := cmd.Flags().GetString("db")
			config.Set("db.path", db)
		}
		if cmd.Flags().Changed("log-level") {
			level, _ := cmd.Flags().GetString("log-level")
			config.Set("log.level", level)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("db", "", "path to the SQLite database")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(executorCmd)
	rootCmd.AddCommand(versionCmd)
}
