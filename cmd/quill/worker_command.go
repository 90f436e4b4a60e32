package main

import (
	"github.com/spf13/cobra"

	"quill/internal/daemonrun"
)

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	var opts daemonrun.Options

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run job workers and the maintenance schedule in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, opts)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.Queues, "queue", "q", nil, "Only run these queues (default all)")
	cmd.Flags().StringVar(&opts.LogLevel, "log-level", "", "Override the configured log level")
	cmd.Flags().BoolVar(&opts.Development, "dev", false, "Include source locations in logs")
	cmd.Flags().BoolVar(&opts.SkipPreflight, "skip-preflight", false, "Start even when readiness checks fail")
	cmd.Flags().BoolVar(&opts.NoSchedule, "no-schedule", false, "Do not run the reaper schedule in this process")
	return cmd
}
