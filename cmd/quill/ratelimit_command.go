package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"quill/internal/app"
)

func newRateLimitCommand(ctx *commandContext) *cobra.Command {
	rlCmd := &cobra.Command{
		Use:   "ratelimit",
		Short: "Inspect sliding-window quotas",
	}
	rlCmd.AddCommand(&cobra.Command{
		Use:   "check <endpoint> <subject>",
		Short: "Report whether a call would be admitted right now",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(runCtx context.Context, a *app.App) error {
				decision, err := a.Limiter.Check(runCtx, args[0], args[1])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]any{
						"endpoint":            args[0],
						"subject":             args[1],
						"allowed":             decision.Allowed,
						"count":               decision.Count,
						"limit":               decision.Limit,
						"retry_after_seconds": decision.RetryAfter.Seconds(),
					})
				}
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				usage := fmt.Sprintf("%d/%d used", decision.Count, decision.Limit)
				if decision.Allowed {
					fmt.Fprintln(out, renderStatusLine(args[0], statusOK, usage, colorize))
					return nil
				}
				fmt.Fprintln(out, renderStatusLine(args[0], statusWarn,
					fmt.Sprintf("%s, retry in %s", usage, decision.RetryAfter.Round(time.Second)), colorize))
				return nil
			})
		},
	})
	rlCmd.AddCommand(&cobra.Command{
		Use:   "reset <endpoint> <subject>",
		Short: "Clear the recorded calls for a subject",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(runCtx context.Context, a *app.App) error {
				if err := a.Limiter.Reset(runCtx, args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s window for %s\n", args[0], args[1])
				return nil
			})
		},
	})
	return rlCmd
}
