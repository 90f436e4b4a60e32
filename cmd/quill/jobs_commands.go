package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"quill/internal/app"
	"quill/internal/queue"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage queued jobs",
	}
	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsStatsCommand(ctx))
	jobsCmd.AddCommand(newJobsRetryCommand(ctx))
	jobsCmd.AddCommand(newJobsPurgeCommand(ctx))
	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var queueName string
	var statuses []string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := queue.ListFilter{Queue: strings.TrimSpace(queueName), Limit: limit}
			for _, raw := range statuses {
				status, ok := queue.ParseStatus(strings.ToLower(strings.TrimSpace(raw)))
				if !ok {
					return fmt.Errorf("unknown job status %q", raw)
				}
				filter.Statuses = append(filter.Statuses, status)
			}
			return ctx.withApp(cmd, func(runCtx context.Context, a *app.App) error {
				jobs, err := a.Jobs.List(runCtx, filter)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					views := make([]jobJSON, 0, len(jobs))
					for _, job := range jobs {
						views = append(views, jobView(job))
					}
					return writeJSON(cmd, views)
				}
				out := cmd.OutOrStdout()
				if len(jobs) == 0 {
					fmt.Fprintln(out, "No jobs")
					return nil
				}
				tbl := newTable(jobColumns...)
				for _, job := range jobs {
					tbl.add(jobRow(job)...)
				}
				fmt.Fprintln(out, tbl)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&queueName, "queue", "q", "", "Filter by queue")
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (pending, active, completed, failed)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum rows")
	return cmd
}

func newJobsStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count jobs per queue and status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(runCtx context.Context, a *app.App) error {
				stats, err := a.Jobs.Stats(runCtx)
				if err != nil {
					return err
				}
				sort.Slice(stats, func(i, j int) bool { return stats[i].Queue < stats[j].Queue })
				if ctx.jsonOutput() {
					return writeJSON(cmd, stats)
				}
				statuses := queue.AllStatuses()
				columns := []tableColumn{left("Queue")}
				for _, status := range statuses {
					columns = append(columns, right(string(status)))
				}
				tbl := newTable(columns...)
				for _, s := range stats {
					row := []string{s.Queue}
					for _, status := range statuses {
						row = append(row, strconv.Itoa(s.Counts[status]))
					}
					tbl.add(row...)
				}
				fmt.Fprintln(cmd.OutOrStdout(), tbl)
				return nil
			})
		},
	}
}

func newJobsRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [seq...]",
		Short: "Move failed jobs back to pending (all failed jobs when no seq is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			seqs := make([]int64, 0, len(args))
			for _, arg := range args {
				seq, err := strconv.ParseInt(strings.TrimPrefix(arg, "#"), 10, 64)
				if err != nil {
					return fmt.Errorf("invalid job seq %q", arg)
				}
				seqs = append(seqs, seq)
			}
			return ctx.withApp(cmd, func(runCtx context.Context, a *app.App) error {
				count, err := a.Jobs.RetryFailed(runCtx, seqs...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d job(s)\n", count)
				return nil
			})
		},
	}
}

func newJobsPurgeCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete finished jobs older than the retention",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(runCtx context.Context, a *app.App) error {
				count, err := a.Jobs.PurgeFinished(runCtx, olderThan)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Purged %d finished job(s)\n", count)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 7*24*time.Hour, "Keep jobs that finished within this window")
	return cmd
}
