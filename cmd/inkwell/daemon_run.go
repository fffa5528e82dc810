package main

import (
	"github.com/spf13/cobra"

	"inkwell/internal/daemonrun"
)

func newDaemonRunCommand(ctx *commandContext) *cobra.Command {
	var stdout bool
	cmd := &cobra.Command{
		Use:    "daemon",
		Short:  "Run the inkwell daemon in the foreground",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel: ctx.resolvedLogLevel(cfg),
				Stdout:   stdout,
			})
		},
	}
	cmd.Flags().BoolVar(&stdout, "stdout", false, "Mirror the daemon log to stdout")
	return cmd
}
