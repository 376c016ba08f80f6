package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"stemfuse/internal/logging"
	"stemfuse/internal/scratch"
)

func newJanitorCommand(ctx *commandContext) *cobra.Command {
	janitorCmd := &cobra.Command{
		Use:   "janitor",
		Short: "Scratch space maintenance",
	}

	janitorCmd.AddCommand(newJanitorSweepCommand(ctx))
	return janitorCmd
}

func newJanitorSweepCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove scratch directories past the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			manager, err := scratch.NewManager(cfg.ScratchRoot)
			if err != nil {
				return err
			}
			retention := time.Duration(cfg.Janitor.RetentionHours) * time.Hour
			janitor := scratch.NewJanitor(manager, retention, logging.NewNop())

			removed, err := janitor.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Swept %d scratch directories\n", removed)
			return nil
		},
	}
}
