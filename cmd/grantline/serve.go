package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/grantline/grantline/internal/collector"
	"github.com/grantline/grantline/internal/config"
	"github.com/grantline/grantline/internal/proposal"
	"github.com/grantline/grantline/internal/registry"
	"github.com/grantline/grantline/internal/secrets"
	"github.com/grantline/grantline/internal/server"
	"github.com/grantline/grantline/internal/storage/sqlite"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the governance service",
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

		execClient := proposal.NewHTTPExecutorClient(
			config.GetString("executor.url"),
			config.GetString("executor.api-key"),
			config.GetDuration("executor.timeout"))

		s := server.New(store,
			registry.New(store, box, logger),
			proposal.New(store, execClient, logger),
			collector.New(store, logger),
			logger)

		return runHTTP(cmd.Context(), logger, &http.Server{
			Addr:    config.GetString("serve.addr"),
			Handler: s.Router(),
		})
	},
}

// runHTTP serves until the context or an interrupt signal stops it, then
// shuts down within the configured window.
func runHTTP(ctx context.Context, logger *zap.Logger, srv *http.Server) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		config.GetDuration("shutdown-timeout"))
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
