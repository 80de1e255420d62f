package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/linkstash/linkstash/internal/api"
	"github.com/linkstash/linkstash/internal/metadata"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and background sync daemon",
	Long: `Start the local HTTP API and, when a remote endpoint is configured,
the background sync engine. Runs until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		if a.engine != nil {
			if err := a.engine.Start(ctx); err != nil {
				return err
			}
			defer a.engine.Stop()
		} else {
			a.log.Info("no remote endpoint configured, running local-only")
		}

		srv := api.NewServer(a.data, a.engine, metadata.NewFetcher(nil), a.log)
		if err := srv.ListenAndServe(ctx, a.cfg.Server.Addr()); err != nil && ctx.Err() == nil {
			return err
		}

		a.log.Info("shutting down", zap.String("mode", string(a.store.Mode())))
		return nil
	},
}
