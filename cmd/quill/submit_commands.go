package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"quill/internal/app"
	"quill/internal/config"
	"quill/internal/generation"
	"quill/internal/pipeline"
	"quill/internal/queue"
	"quill/internal/store"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var family string
	var language string
	var subject string
	var metadata map[string]string
	var draft bool
	var fromDraft string

	cmd := &cobra.Command{
		Use:   "submit [prompt...]",
		Short: "Create an artifact and queue its first generation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(runCtx context.Context, a *app.App) error {
				if id := strings.TrimSpace(fromDraft); id != "" {
					artifact, err := generation.SubmitDraft(runCtx, a.Entities, a.Jobs, id)
					if err != nil {
						return err
					}
					return printArtifactRef(cmd, ctx, artifact)
				}

				prompt := strings.TrimSpace(strings.Join(args, " "))
				if prompt == "" {
					return fmt.Errorf("a prompt is required")
				}
				fam, ok := store.ParseFamily(strings.ToLower(strings.TrimSpace(family)))
				if !ok {
					return fmt.Errorf("unknown family %q (expected one of %s)", family, familyNames())
				}
				in := store.Input{
					Prompt:    prompt,
					Family:    fam,
					Language:  language,
					SubjectID: strings.TrimSpace(subject),
					Metadata:  metadata,
				}
				if draft {
					_, artifact, err := a.Entities.CreateDraft(runCtx, in)
					if err != nil {
						return err
					}
					return printArtifactRef(cmd, ctx, artifact)
				}
				artifact, err := generation.Submit(runCtx, a.Entities, a.Jobs, in)
				if err != nil {
					return err
				}
				return printArtifactRef(cmd, ctx, artifact)
			})
		},
	}

	cmd.Flags().StringVarP(&family, "family", "f", string(store.FamilyStory), "Content family ("+familyNames()+")")
	cmd.Flags().StringVarP(&language, "language", "l", "", "Output language tag (default en)")
	cmd.Flags().StringVar(&subject, "subject", "", "Social account the artifact is written for")
	cmd.Flags().StringToStringVarP(&metadata, "meta", "m", nil, "Extra prompt context as key=value pairs")
	cmd.Flags().BoolVar(&draft, "draft", false, "Store as a draft without queueing generation")
	cmd.Flags().StringVar(&fromDraft, "from-draft", "", "Queue generation for an existing draft")
	return cmd
}

func newRegenerateCommand(ctx *commandContext) *cobra.Command {
	var req generation.Request

	cmd := &cobra.Command{
		Use:   "regenerate <artifact-id>",
		Short: "Queue a fresh generation cycle for an artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(runCtx context.Context, a *app.App) error {
				artifact, err := a.Entities.GetArtifact(runCtx, args[0])
				if err != nil {
					return err
				}
				req.ArtifactID = artifact.ID
				req.Regenerate = true
				if err := generation.Enqueue(runCtx, a.Jobs, req); err != nil {
					return err
				}
				return printArtifactRef(cmd, ctx, artifact)
			})
		},
	}

	cmd.Flags().BoolVar(&req.SkipText, "skip-text", false, "Do not derive the text asset afterwards")
	cmd.Flags().BoolVar(&req.SkipAudio, "skip-audio", false, "Do not derive narration afterwards")
	cmd.Flags().BoolVar(&req.SkipVideo, "skip-video", false, "Do not derive video afterwards")
	return cmd
}

func newDeriveCommand(ctx *commandContext) *cobra.Command {
	var reset []string
	var skip []string
	var inline bool

	cmd := &cobra.Command{
		Use:   "derive <artifact-id>",
		Short: "Queue (or run) the derived asset pipeline for an artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resetKinds, err := parseKinds(reset)
			if err != nil {
				return err
			}
			skipKinds, err := parseKinds(skip)
			if err != nil {
				return err
			}
			return ctx.withApp(cmd, func(runCtx context.Context, a *app.App) error {
				req := pipeline.Request{ArtifactID: args[0], Reset: resetKinds, Skip: skipKinds}
				if inline {
					report, err := a.Pipeline.Run(runCtx, req)
					if ctx.jsonOutput() {
						if jsonErr := writeJSON(cmd, report); jsonErr != nil {
							return jsonErr
						}
						return err
					}
					printPipelineReport(cmd, report)
					return err
				}
				if _, err := a.Entities.GetArtifact(runCtx, req.ArtifactID); err != nil {
					return err
				}
				job, err := a.Jobs.Enqueue(runCtx, config.QueueDerived, pipeline.JobType, req, queue.EnqueueOptions{
					JobID:    pipeline.JobID(req.ArtifactID),
					Priority: queue.PriorityUser,
				})
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, jobView(job))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued derived pipeline for %s (job #%d)\n", req.ArtifactID, job.Seq)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&reset, "reset", nil, "Asset kinds to discard and rebuild (text,audio,video)")
	cmd.Flags().StringSliceVar(&skip, "skip", nil, "Asset kinds to leave alone")
	cmd.Flags().BoolVar(&inline, "inline", false, "Run the pipeline in this process instead of queueing it")
	return cmd
}

func printArtifactRef(cmd *cobra.Command, ctx *commandContext, artifact *store.Artifact) error {
	if ctx.jsonOutput() {
		return writeJSON(cmd, artifactView(artifact))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Artifact %s (%s, %s)\n", artifact.ID, artifact.Family, artifact.Status)
	return nil
}

func printPipelineReport(cmd *cobra.Command, report pipeline.Report) {
	out := cmd.OutOrStdout()
	if report.Skipped != "" {
		fmt.Fprintf(out, "Pipeline skipped: %s\n", report.Skipped)
		return
	}
	tbl := newTable(left("Kind"), left("Status"), left("URL"), left("Note"))
	for _, stage := range report.Stages {
		note := stage.Error
		if note == "" {
			note = stage.Fallback
		}
		tbl.add(string(stage.Kind), string(stage.Status), stage.URL, note)
	}
	fmt.Fprintln(out, tbl.withFooter(fmt.Sprintf("cycle %d, cost $%.4f", report.Cycle, report.CostUSD)))
}

func parseKinds(values []string) (map[store.AssetKind]bool, error) {
	if len(values) == 0 {
		return nil, nil
	}
	kinds := make(map[store.AssetKind]bool, len(values))
	for _, raw := range values {
		value := store.AssetKind(strings.ToLower(strings.TrimSpace(raw)))
		known := false
		for _, kind := range store.AssetKinds() {
			if kind == value {
				known = true
				break
			}
		}
		if !known {
			return nil, fmt.Errorf("unknown asset kind %q", raw)
		}
		kinds[value] = true
	}
	return kinds, nil
}

func familyNames() string {
	names := make([]string, 0, len(store.Families()))
	for _, f := range store.Families() {
		names = append(names, string(f))
	}
	return strings.Join(names, ", ")
}
