package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"quill/internal/app"
	"quill/internal/reaper"
)

func newReapCommand(ctx *commandContext) *cobra.Command {
	var sweep bool
	var retention time.Duration

	cmd := &cobra.Command{
		Use:   "reap",
		Short: "Remove expired provisional uploads",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(runCtx context.Context, a *app.App) error {
				out := cmd.OutOrStdout()
				var report reaper.Report
				var err error
				if sweep {
					keep := retention
					if keep <= 0 {
						keep = a.Config.ExpiredRetention()
					}
					report, err = a.Reaper.SweepExpired(runCtx, keep)
				} else {
					report, err = a.Reaper.Run(runCtx, func(p float64) {
						if !ctx.jsonOutput() {
							fmt.Fprintf(out, "progress %3.0f%%\n", p*100)
						}
					})
				}
				if errors.Is(err, reaper.ErrLocked) {
					return fmt.Errorf("another reaper run holds the lock; try again later")
				}
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, report)
				}
				fmt.Fprintf(out, "Scanned %d, removed %d, skipped %d, failed %d (blob failures %d) in %d batch(es), %s\n",
					report.Scanned, report.Removed, report.Skipped, report.Failures, report.BlobFailures,
					report.Batches, report.Elapsed.Round(time.Millisecond))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&sweep, "sweep", false, "Purge already-expired rows past the retention instead")
	cmd.Flags().DurationVar(&retention, "retention", 0, "Retention for --sweep (default from config)")
	return cmd
}
