package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"quill/internal/app"
	"quill/internal/publishing"
)

func newPublishCommand(ctx *commandContext) *cobra.Command {
	var inline bool

	cmd := &cobra.Command{
		Use:   "publish <subject>",
		Short: "Post completed monologues for a social subject",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(runCtx context.Context, a *app.App) error {
				if !a.Config.Social.Enabled {
					return fmt.Errorf("social publishing is disabled (set social.enabled)")
				}
				out := cmd.OutOrStdout()
				if !inline {
					if err := publishing.EnqueueSync(runCtx, a.Jobs, args[0], 0); err != nil {
						return err
					}
					fmt.Fprintf(out, "Queued social sync for %s\n", args[0])
					return nil
				}
				result, err := a.Syncer.Sync(runCtx, publishing.Request{SubjectID: args[0]})
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, result)
				}
				fmt.Fprintf(out, "Published %d, reconciled %d, remaining %d\n", result.Published, result.Reconciled, result.Remaining)
				if r := result.Rescheduled; r != nil {
					fmt.Fprintf(out, "Quota for %s exhausted; continuing in %.0fs\n", r.Endpoint, r.RetryAfter)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&inline, "inline", false, "Run the sync in this process instead of queueing it")
	return cmd
}
