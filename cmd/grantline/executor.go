package main

import (
	"net/http"

	"github.com/spf13/cobra"

	"github.com/grantline/grantline/internal/config"
	"github.com/grantline/grantline/internal/executor"
	"github.com/grantline/grantline/internal/secrets"
	"github.com/grantline/grantline/internal/server"
	"github.com/grantline/grantline/internal/storage/sqlite"
)

var executorCmd = &cobra.Command{
	Use:   "executor",
	Short: "Run the execution service",
	Long: `The execution service is the only component that issues DDL to
ClickHouse clusters. It accepts jobs from the governance service over an
internal API protected by a shared key.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Validate(); err != nil {
			return err
		}
		logger := newLogger()
		defer logger.Sync()

		store, err := sqlite.Open(config.GetString("db.path"))
		if err != nil {
			return err
		}
		defer store.Close()

		box, err := secrets.New(config.GetString("encryption-key"))
		if err != nil {
			return err
		}

		es := server.NewExecutor(
			executor.New(store, box, logger),
			store,
			config.GetString("executor.api-key"),
			logger)

		return runHTTP(cmd.Context(), logger, &http.Server{
			Addr:    config.GetString("executor.addr"),
			Handler: es.Router(),
		})
	},
}
