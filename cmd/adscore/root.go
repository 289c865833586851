package main

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"
)

var version = "dev"

type rootOptions struct {
	configPath string
	debug      bool
}

func (o *rootOptions) logger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if o.debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "adscore",
		Short: "Score ad performance against regional benchmarks",
		Long: `adscore scores ads offline with the same engine the server uses.

Ads are read from a JSON file, compared with the benchmark table of the
configuration and written out as JSON or CSV.`,
		Version:      version,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to the YAML configuration (defaults to $CONFIG_PATH or ./config.yaml)")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	cmd.AddCommand(newScoreCommand(opts))
	cmd.AddCommand(newValidateConfigCommand(opts))
	return cmd
}
