package main

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"stemfuse/internal/dispatch"
	"stemfuse/internal/workflow"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the job queues",
	}

	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueDeadCommand(ctx))

	return queueCmd
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show job counts and per-stage queue depths",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(func(manager *workflow.Manager, _ dispatch.Queue) error {
				counts, err := manager.Counts(cmd.Context())
				if err != nil {
					return err
				}
				depths, err := manager.QueueDepths(cmd.Context())
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				countRows := [][]string{
					{"pending", strconv.Itoa(counts.Pending)},
					{"running", strconv.Itoa(counts.Running)},
					{"succeeded", strconv.Itoa(counts.Succeeded)},
					{"failed", strconv.Itoa(counts.Failed)},
					{"total", strconv.Itoa(counts.Total)},
				}
				fmt.Fprintln(out, renderTable([]string{"State", "Jobs"}, countRows, 1))

				stages := make([]string, 0, len(depths))
				for stage := range depths {
					stages = append(stages, stage)
				}
				sort.Strings(stages)
				depthRows := make([][]string, 0, len(stages))
				for _, stage := range stages {
					depthRows = append(depthRows, []string{stage, strconv.FormatInt(depths[stage], 10)})
				}
				fmt.Fprintln(out, renderTable([]string{"Stage", "Depth"}, depthRows, 1))
				return nil
			})
		},
	}
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(func(manager *workflow.Manager, _ dispatch.Queue) error {
				items, err := manager.List(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if len(items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs recorded")
					return nil
				}

				rows := make([][]string, 0, len(items))
				for _, job := range items {
					stage := job.CurrentStage()
					if stage == "" {
						stage = "-"
					}
					rows = append(rows, []string{
						job.ID,
						string(job.State),
						stage,
						fmt.Sprintf("%d/%d", job.Progress.Current, job.Progress.Total),
						job.CreatedAt.Format(time.RFC3339),
					})
				}
				table := renderTable([]string{"Job", "State", "Stage", "Progress", "Created"}, rows, 3)
				fmt.Fprint(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of jobs to list")
	return cmd
}

func newQueueDeadCommand(ctx *commandContext) *cobra.Command {
	var limit int64

	cmd := &cobra.Command{
		Use:   "dead",
		Short: "List dead-lettered stage tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(func(_ *workflow.Manager, queue dispatch.Queue) error {
				tasks, err := queue.DeadLetters(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if len(tasks) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Dead letter queue is empty")
					return nil
				}

				rows := make([][]string, 0, len(tasks))
				for _, task := range tasks {
					rows = append(rows, []string{
						task.JobID,
						task.Stage,
						task.EnqueuedAt.Format(time.RFC3339),
					})
				}
				table := renderTable([]string{"Job", "Stage", "Enqueued"}, rows)
				fmt.Fprint(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}

	cmd.Flags().Int64VarP(&limit, "limit", "n", 50, "Maximum number of dead letters to list")
	return cmd
}
