package cmd

import (
	"context"
	"os"

	"github.com/bz888/labchain-ml/internal/config"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "mlserver",
		Short:         "Protocol standardization ml-server",
		Long:          "Serves /predict/standardize, which splits raw protocol text into ordered steps.",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          runServe,
	}
	config.BindFlags(root.PersistentFlags())

	root.AddCommand(newServeCmd(), newTUICmd(), newStandardizeCmd())
	return root
}

func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
