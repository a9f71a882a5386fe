package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vigilguard/vigil/internal/logger"
	"github.com/vigilguard/vigil/internal/server"
	"github.com/vigilguard/vigil/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the admin API and the periodic detection sweeps",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv, err := server.New(db, cfg)
		if err != nil {
			return err
		}

		logger.WithFields(map[string]interface{}{
			"version": version.Full(),
			"port":    cfg.HTTPPort,
		}).Info("starting server")

		return srv.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
