package main

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/MrEthical07/authcore/internal/config"
)

type rootOptions struct {
	configFile string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "authcore",
		Short:         "Account, session and token service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (yaml, json, toml or env); AUTHCORE_* variables override it")

	cmd.AddCommand(
		newServeCommand(opts),
		newKeygenCommand(),
		newHashPasswordCommand(),
		newLoadtestCommand(),
	)
	return cmd
}

func (o *rootOptions) load() (*config.Config, error) {
	return config.Load(o.configFile)
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}
