package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"quill/internal/app"
	"quill/internal/generation"
	"quill/internal/pipeline"
	"quill/internal/store"
	"quill/internal/textutil"
)

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <artifact-id>",
		Short: "Show an artifact with its pages, derived assets, and pending jobs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(runCtx context.Context, a *app.App) error {
				artifact, err := a.Entities.GetArtifact(runCtx, args[0])
				if err != nil {
					return err
				}
				input, err := a.Entities.GetInput(runCtx, artifact.InputID)
				if err != nil {
					return err
				}
				pages, err := a.Entities.Pages(runCtx, artifact.ID)
				if err != nil {
					return err
				}
				derived, err := a.Entities.ListDerived(runCtx, artifact.ID)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]any{
						"artifact": artifactView(artifact),
						"prompt":   input.Prompt,
						"pages":    len(pages),
						"derived":  derivedViews(derived),
					})
				}

				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				for _, line := range renderSectionHeader("Artifact "+artifact.ID, colorize) {
					fmt.Fprintln(out, line)
				}
				fmt.Fprintln(out, renderStatusLine("Status", artifactStatusKind(artifact.Status), string(artifact.Status), colorize))
				fmt.Fprintf(out, "%s%-*s %s\n", statusIndent, statusLabelWidth, "Family:", artifact.Family)
				fmt.Fprintf(out, "%s%-*s %s\n", statusIndent, statusLabelWidth, "Title:", artifact.Title)
				fmt.Fprintf(out, "%s%-*s %s\n", statusIndent, statusLabelWidth, "Prompt:", textutil.Truncate(input.Prompt, 72))
				fmt.Fprintf(out, "%s%-*s %d\n", statusIndent, statusLabelWidth, "Generations:", artifact.GenerationCount)
				if outcome, err := generation.OutcomeOf(artifact); err == nil && outcome.Payload != nil {
					fmt.Fprintf(out, "%s%-*s $%.4f (%d in / %d out tokens)\n", statusIndent, statusLabelWidth, "Cost:",
						outcome.CostUSD, outcome.PromptTokens, outcome.CompletionTokens)
				}
				if artifact.ErrorMessage != "" {
					fmt.Fprintln(out, renderStatusLine("Error", statusError, artifact.ErrorMessage, colorize))
				}
				if artifact.PublishedAt != nil {
					fmt.Fprintf(out, "%s%-*s %s at %s\n", statusIndent, statusLabelWidth, "Published:",
						artifact.ExternalPostID, formatTimePtr(artifact.PublishedAt))
				}

				if len(pages) > 0 {
					tbl := newTable(right("Page"), left("Body"), right("Cycle"))
					for _, p := range pages {
						tbl.add(strconv.Itoa(p.Number), textutil.Truncate(p.Body, 60), strconv.Itoa(p.GenerationCycle))
					}
					fmt.Fprintln(out, tbl)
				}
				if len(derived) > 0 {
					tbl := newTable(left("Asset"), left("URL"), right("Duration"), right("Cost"), right("Cycle"))
					for _, d := range derived {
						tbl.add(
							string(d.Kind),
							d.URL,
							fmt.Sprintf("%.1fs", d.DurationSeconds),
							fmt.Sprintf("$%.4f", d.CostUSD),
							strconv.Itoa(d.GenerationCycle),
						)
					}
					fmt.Fprintln(out, tbl)
				}
				for _, jobID := range []string{generation.JobID(artifact.ID), pipeline.JobID(artifact.ID)} {
					job, err := a.Jobs.FindPending(runCtx, jobID)
					if err != nil {
						return err
					}
					if job != nil {
						fmt.Fprintln(out, renderStatusLine("Queued", statusInfo, fmt.Sprintf("%s job #%d (%s)", job.Type, job.Seq, job.Status), colorize))
					}
				}
				return nil
			})
		},
	}
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var family string
	var subject string
	var limit int

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := store.ArtifactFilter{SubjectID: strings.TrimSpace(subject), Limit: limit}
			for _, raw := range statuses {
				status, ok := store.ParseStatus(strings.ToLower(strings.TrimSpace(raw)))
				if !ok {
					return fmt.Errorf("unknown status %q", raw)
				}
				filter.Statuses = append(filter.Statuses, status)
			}
			if family != "" {
				fam, ok := store.ParseFamily(strings.ToLower(strings.TrimSpace(family)))
				if !ok {
					return fmt.Errorf("unknown family %q (expected one of %s)", family, familyNames())
				}
				filter.Family = fam
			}
			return ctx.withApp(cmd, func(runCtx context.Context, a *app.App) error {
				artifacts, err := a.Entities.ListArtifacts(runCtx, filter)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					views := make([]artifactJSON, 0, len(artifacts))
					for _, artifact := range artifacts {
						views = append(views, artifactView(artifact))
					}
					return writeJSON(cmd, views)
				}
				out := cmd.OutOrStdout()
				if len(artifacts) == 0 {
					fmt.Fprintln(out, "No artifacts")
					return nil
				}
				tbl := newTable(left("ID"), left("Family"), left("Status"), left("Title"), right("Gen"), left("Published"), left("Created"))
				for _, artifact := range artifacts {
					tbl.add(
						artifact.ID,
						string(artifact.Family),
						string(artifact.Status),
						textutil.Truncate(artifact.Title, 40),
						strconv.Itoa(artifact.GenerationCount),
						yesNo(artifact.PublishedAt != nil),
						formatTime(artifact.CreatedAt),
					)
				}
				fmt.Fprintln(out, tbl.withFooter(fmt.Sprintf("%d artifact(s)", len(artifacts))))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status")
	cmd.Flags().StringVarP(&family, "family", "f", "", "Filter by family")
	cmd.Flags().StringVar(&subject, "subject", "", "Filter by social subject")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum rows")
	return cmd
}

func artifactStatusKind(status store.Status) statusKind {
	switch status {
	case store.StatusCompleted:
		return statusOK
	case store.StatusFailed:
		return statusError
	case store.StatusGenerating, store.StatusPending:
		return statusWarn
	default:
		return statusInfo
	}
}
