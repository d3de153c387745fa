package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/bz888/labchain-ml/internal/api/server"
	"github.com/bz888/labchain-ml/internal/config"
	"github.com/bz888/labchain-ml/internal/logger"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long:  `Starts the ml-server, exposing /health and /predict/standardize over HTTP.`,
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Options{Dev: cfg.Dev, LogPath: cfg.LogPath})
	if err != nil {
		return err
	}
	defer log.Close()

	if cfg.Dev {
		log.Info("Debug mode is enabled")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return server.New(cfg, log).Run(ctx)
}
