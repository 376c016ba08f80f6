package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"stemfuse/internal/config"
	"stemfuse/internal/dispatch"
	"stemfuse/internal/preflight"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check directories, broker, and processing services",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			queue := dispatch.NewRedis(cfg.Broker, config.StageNames(), cfg.Workflow.MaxDeliveries)
			defer queue.Close()

			results := preflight.RunAll(cmd.Context(), cfg, queue)

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, line := range renderSectionHeader("Preflight", colorize) {
				fmt.Fprintln(out, line)
			}
			for _, result := range results {
				kind := statusError
				if result.Passed {
					kind = statusOK
				}
				fmt.Fprintln(out, renderStatusLine(result.Name, kind, result.Detail, colorize))
			}

			if !preflight.Healthy(results) {
				return errors.New("one or more preflight checks failed")
			}
			return nil
		},
	}
}
