package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bz888/labchain-ml/internal/api"
	"github.com/bz888/labchain-ml/internal/config"
	"github.com/bz888/labchain-ml/internal/protocol"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newStandardizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "standardize [text]",
		Short: "Split protocol text into steps",
		Long: `Standardizes raw protocol text given as arguments, --file or stdin.
Runs locally unless --remote is set, in which case the text is posted to --server.`,
		RunE: runStandardize,
	}
	cmd.Flags().StringP("file", "f", "", "Read the text from a file")
	cmd.Flags().StringP("experiment", "e", "", "Experiment id copied into the metadata")
	cmd.Flags().StringP("output", "o", "json", "Output format: json or yaml")
	cmd.Flags().Bool("remote", false, "Send the text to the configured server")
	return cmd
}

func runStandardize(cmd *cobra.Command, args []string) error {
	output, _ := cmd.Flags().GetString("output")
	if output != "json" && output != "yaml" {
		return fmt.Errorf("unknown output format %q", output)
	}

	text, err := readText(cmd, args)
	if err != nil {
		return err
	}

	experimentID, _ := cmd.Flags().GetString("experiment")
	remote, _ := cmd.Flags().GetBool("remote")

	var result protocol.Result
	if remote {
		cfg, err := config.Load(cmd.Flags())
		if err != nil {
			return err
		}
		client, err := api.NewClient(cfg.ServerURL, cfg.APIKey)
		if err != nil {
			return err
		}
		if result, err = client.Standardize(cmd.Context(), text, experimentID); err != nil {
			return err
		}
	} else {
		req := protocol.Request{RawText: text}
		if experimentID != "" {
			req.ExperimentID = &experimentID
		}
		if result, err = protocol.NewSplitter().Standardize(req); err != nil {
			return err
		}
	}

	return writeResult(cmd.OutOrStdout(), output, result)
}

func readText(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	if file, _ := cmd.Flags().GetString("file"); file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", file, err)
		}
		return string(data), nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(data), nil
}

func writeResult(w io.Writer, format string, result protocol.Result) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(result); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
