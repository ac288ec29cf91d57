package main

import (
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	trace      bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "queryloader",
		Short:         "Run and watch content queries",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML configuration file")
	root.PersistentFlags().BoolVar(&opts.trace, "trace", false, "print OpenTelemetry spans to stderr")

	root.AddCommand(newQueryCmd(opts))
	root.AddCommand(newWatchCmd(opts))
	root.AddCommand(newVersionCmd())

	return root
}
