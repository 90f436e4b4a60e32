package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"quill/internal/app"
	"quill/internal/notifications"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(runCtx context.Context, a *app.App) error {
				if a.Config.Notifications.NtfyTopic == "" {
					fmt.Fprintln(cmd.OutOrStdout(), "Notifications not configured (set notifications.ntfy_topic)")
					return nil
				}
				if err := a.Notifier.Publish(runCtx, notifications.EventTest, notifications.Payload{"source": "quill test-notify"}); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Test notification sent")
				return nil
			})
		},
	}
}
