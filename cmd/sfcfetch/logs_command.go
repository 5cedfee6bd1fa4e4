package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"sfcfetch/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	var workflowID int64

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the sfcfetch log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := filepath.Join(cfg.Paths.LogDir, "sfcfetch.log")
			opts := logs.TailOptions{Offset: -1, Limit: lines}
			if workflowID > 0 {
				opts.Match = logs.ForWorkflow(workflowID)
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			out := cmd.OutOrStdout()
			for {
				res, err := logs.Tail(runCtx, path, opts)
				for _, line := range res.Lines {
					fmt.Fprintln(out, line)
				}
				if errors.Is(err, context.Canceled) {
					return nil
				}
				if err != nil {
					return err
				}
				if !follow {
					return nil
				}
				opts.Offset = res.Offset
				opts.Follow = true
				opts.Wait = 5 * time.Second
			}
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines")
	cmd.Flags().Int64VarP(&workflowID, "workflow", "w", 0, "Only show lines for this workflow id")
	return cmd
}
