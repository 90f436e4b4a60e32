package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"quill/internal/app"
	"quill/internal/preflight"
)

func newPreflightCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "preflight",
		Short: "Check directories, Redis, providers, and media binaries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(runCtx context.Context, a *app.App) error {
				results := preflight.RunAll(runCtx, a.Config, preflight.Options{Redis: a.Redis})
				if ctx.jsonOutput() {
					if err := writeJSON(cmd, results); err != nil {
						return err
					}
					return preflight.Err(results)
				}
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				for _, line := range renderSectionHeader("Preflight", colorize) {
					fmt.Fprintln(out, line)
				}
				for _, line := range preflightLines(results, colorize) {
					fmt.Fprintln(out, line)
				}
				return preflight.Err(results)
			})
		},
	}
}
