package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"stemfuse/internal/dispatch"
	"stemfuse/internal/jobs"
	"stemfuse/internal/workflow"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the status of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(func(manager *workflow.Manager, _ dispatch.Queue) error {
				status, err := manager.Status(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)

				for _, line := range renderSectionHeader("Job "+status.JobID, colorize) {
					fmt.Fprintln(out, line)
				}
				fmt.Fprintln(out, renderStatusLine("State", stateKind(status.State), string(status.State), colorize))
				if status.Stage != "" {
					fmt.Fprintln(out, renderStatusLine("Stage", statusInfo, status.Stage, colorize))
				}
				if status.Progress.Total > 0 {
					progress := fmt.Sprintf("%d/%d %s", status.Progress.Current, status.Progress.Total, status.Progress.Message)
					fmt.Fprintln(out, renderStatusLine("Progress", statusInfo, progress, colorize))
				}
				if status.ResultRef != "" {
					fmt.Fprintln(out, renderStatusLine("Result", statusOK, status.ResultRef, colorize))
				}
				if status.ErrorReason != "" {
					fmt.Fprintln(out, renderStatusLine("Error", statusError, status.ErrorReason, colorize))
				}
				return nil
			})
		},
	}
}

func stateKind(state jobs.State) statusKind {
	switch state {
	case jobs.StateSucceeded:
		return statusOK
	case jobs.StateFailed:
		return statusError
	case jobs.StateRunning:
		return statusInfo
	default:
		return statusWarn
	}
}
