package main

import (
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	logLevel   string
	logConsole bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "mailevents",
		Short:         "Idempotent email webhook receiver and processor",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	flags.StringVar(&opts.logLevel, "log-level", "info", "trace, debug, info, warn or error")
	flags.BoolVar(&opts.logConsole, "log-console", false, "human-readable log output")

	root.AddCommand(
		newServeCmd(opts),
		newProcessCmd(opts),
		newRetryCmd(opts),
		newReclaimCmd(opts),
		newMigrateCmd(opts),
	)
	return root
}
