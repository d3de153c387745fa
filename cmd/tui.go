package cmd

import (
	"context"

	"github.com/bz888/labchain-ml/internal/api"
	"github.com/bz888/labchain-ml/internal/api/server"
	"github.com/bz888/labchain-ml/internal/config"
	"github.com/bz888/labchain-ml/internal/logger"
	"github.com/bz888/labchain-ml/internal/ui"
	"github.com/spf13/cobra"
)

func newTUICmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Interactive terminal client",
		Long:  `Opens a terminal UI that sends protocol text to an ml-server and shows the standardized steps.`,
		Args:  cobra.NoArgs,
		RunE:  runTUI,
	}
	cmd.Flags().Bool("embedded", false, "Also run the server in this process on --port")
	return cmd
}

func runTUI(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}

	client, err := api.NewClient(cfg.ServerURL, cfg.APIKey)
	if err != nil {
		return err
	}

	view := ui.New(client, cfg.Dev)
	log, err := logger.New(logger.Options{
		Dev:     cfg.Dev,
		LogPath: cfg.LogPath,
		Console: view.DebugConsole(),
		Quiet:   true,
	})
	if err != nil {
		return err
	}
	defer log.Close()
	view.SetLogger(log)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if embedded, _ := cmd.Flags().GetBool("embedded"); embedded {
		go func() {
			if err := server.New(cfg, log).Run(ctx); err != nil {
				log.Error("Embedded server stopped", "error", err)
			}
		}()
	}

	return view.Run()
}
