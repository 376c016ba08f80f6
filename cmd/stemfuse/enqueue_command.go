package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"stemfuse/internal/dispatch"
	"stemfuse/internal/jobs"
	"stemfuse/internal/workflow"
)

func newEnqueueCommand(ctx *commandContext) *cobra.Command {
	var projectID int64
	var ownerID int64
	var prompt string
	var duration int
	var temperature float64
	var guidance float64

	cmd := &cobra.Command{
		Use:   "enqueue <track1-ref> <track2-ref>",
		Short: "Submit a fusion job for two source tracks",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(func(manager *workflow.Manager, _ dispatch.Queue) error {
				owners := jobs.Owners{
					ProjectID: projectID,
					OwnerID:   ownerID,
					Track1Ref: args[0],
					Track2Ref: args[1],
				}
				params := jobs.GenerationParams{
					Prompt:          prompt,
					DurationSeconds: duration,
					Temperature:     temperature,
					GuidanceScale:   guidance,
				}

				job, err := manager.Enqueue(cmd.Context(), owners, params)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Enqueued job %s\n", job.ID)
				fmt.Fprintf(out, "First stage: %s\n", job.CurrentStage())
				return nil
			})
		},
	}

	cmd.Flags().Int64Var(&projectID, "project", 0, "Project identifier for the job")
	cmd.Flags().Int64Var(&ownerID, "owner", 0, "Owner identifier for the job")
	cmd.Flags().StringVar(&prompt, "prompt", "", "Custom generation prompt (overrides the derived one)")
	cmd.Flags().IntVar(&duration, "duration", 0, "Fusion duration in seconds (0 uses the default)")
	cmd.Flags().Float64Var(&temperature, "temperature", 0, "Generation temperature (0 uses the default)")
	cmd.Flags().Float64Var(&guidance, "guidance", 0, "Guidance scale (0 uses the default)")
	return cmd
}
