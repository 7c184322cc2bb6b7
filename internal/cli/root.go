// Package cli implements updaterctl, which runs version checks and updates
// against the local host without the HTTP server.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/lissto-dev/updater/pkg/logging"
)

type rootOptions struct {
	logLevel  string
	logFormat string
	output    string
}

// NewRootCmd creates the root command with all subcommands attached
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "updaterctl",
		Short:         "Check container images for new versions and update them in place",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logging.InitLogger(opts.logLevel, opts.logFormat)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	flags.StringVar(&opts.logFormat, "log-format", "console", "Log format (json, console)")
	flags.StringVarP(&opts.output, "output", "o", "json", "Output format (json, yaml)")

	rootCmd.AddCommand(newCheckCmd(opts), newUpdateCmd(opts))
	return rootCmd
}
