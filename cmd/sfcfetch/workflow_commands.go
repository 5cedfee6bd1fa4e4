package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"sfcfetch/internal/daemonrun"
	"sfcfetch/internal/services"
	"sfcfetch/internal/store"
	"sfcfetch/internal/subworkflow"
)

type createFlags struct {
	workflowType string
	mode         string
	years        []int
	lang         string
	options      []string
}

func (f *createFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.workflowType, "type", "t", subworkflow.TypeCirculars, "Workflow type")
	cmd.Flags().StringVar(&f.mode, "mode", "", "Workflow mode (default full_download)")
	cmd.Flags().IntSliceVar(&f.years, "year", nil, "Year to discover (repeatable)")
	cmd.Flags().StringVar(&f.lang, "lang", "", "Document language")
	cmd.Flags().StringArrayVar(&f.options, "option", nil, "Workflow option as key=value (repeatable)")
}

func (f *createFlags) workflowConfig() (store.WorkflowConfig, error) {
	wcfg := store.WorkflowConfig{
		Mode:  strings.TrimSpace(f.mode),
		Years: f.years,
		Lang:  strings.ToUpper(strings.TrimSpace(f.lang)),
	}
	for _, raw := range f.options {
		key, value, ok := strings.Cut(raw, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return wcfg, services.Wrap(services.ErrValidation, "cli", "parse option",
				fmt.Sprintf("option %q must be key=value", raw), nil)
		}
		if wcfg.Options == nil {
			wcfg.Options = make(map[string]string)
		}
		wcfg.Options[key] = strings.TrimSpace(value)
	}
	return wcfg, nil
}

func newWorkflowCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newCreateCommand(ctx),
		newStartCommand(ctx),
		newPauseCommand(ctx),
		newResumeCommand(ctx),
		newRetryCommand(ctx),
		newRetryAllCommand(ctx),
	}
}

func newCreateCommand(ctx *commandContext) *cobra.Command {
	var flags createFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a pending workflow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			wcfg, err := flags.workflowConfig()
			if err != nil {
				return err
			}
			return ctx.withRuntime(cmd.Context(), func(rt *daemonrun.Runtime) error {
				wf, err := rt.Manager.CreateWorkflow(cmd.Context(), flags.workflowType, wcfg)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, wf)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created workflow %d (%s, %s)\n", wf.ID, wf.Type, wf.Config.Mode)
				return nil
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newStartCommand(ctx *commandContext) *cobra.Command {
	var flags createFlags
	cmd := &cobra.Command{
		Use:   "start [workflow-id]",
		Short: "Run a workflow in the foreground",
		Long: "Run a workflow in the foreground until it completes or is paused.\n" +
			"Without an id a new workflow is created from the flags first.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return ctx.withRuntime(runCtx, func(rt *daemonrun.Runtime) error {
				var id int64
				if len(args) == 1 {
					parsed, err := parseID("workflow", args[0])
					if err != nil {
						return err
					}
					id = parsed
				} else {
					wcfg, err := flags.workflowConfig()
					if err != nil {
						return err
					}
					wf, err := rt.Manager.CreateWorkflow(runCtx, flags.workflowType, wcfg)
					if err != nil {
						return err
					}
					id = wf.ID
					if !ctx.jsonOutput() {
						fmt.Fprintf(cmd.OutOrStdout(), "Created workflow %d\n", id)
					}
				}
				runErr := rt.Manager.StartWorkflow(runCtx, id)
				return ctx.finishRun(cmd, rt, id, runErr)
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newPauseCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "pause <workflow-id>",
		Short: "Pause a running workflow between documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("workflow", args[0])
			if err != nil {
				return err
			}
			return ctx.withRuntime(cmd.Context(), func(rt *daemonrun.Runtime) error {
				snapshot, err := rt.Manager.PauseWorkflow(cmd.Context(), id)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]any{"workflow_id": id, "snapshot": snapshot})
				}
				out := cmd.OutOrStdout()
				if snapshot == nil {
					fmt.Fprintf(out, "Paused workflow %d (no document in flight)\n", id)
					return nil
				}
				fmt.Fprintf(out, "Paused workflow %d at %s (step %s)\n", id, snapshot.Reference, displayStep(snapshot.CurrentStep))
				return nil
			})
		},
	}
}

func newResumeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <workflow-id>",
		Short: "Resume a paused workflow in the foreground",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("workflow", args[0])
			if err != nil {
				return err
			}
			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return ctx.withRuntime(runCtx, func(rt *daemonrun.Runtime) error {
				runErr := rt.Manager.ResumeWorkflow(runCtx, id)
				return ctx.finishRun(cmd, rt, id, runErr)
			})
		},
	}
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "retry <document-id>",
		Short: "Schedule a failed document for another attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("document", args[0])
			if err != nil {
				return err
			}
			return ctx.withRuntime(cmd.Context(), func(rt *daemonrun.Runtime) error {
				if err := rt.Manager.RetryDocument(cmd.Context(), id, reason); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Document %d scheduled for retry; start or resume its workflow to process it\n", id)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded on the document")
	return cmd
}

func newRetryAllCommand(ctx *commandContext) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "retry-all <workflow-id>",
		Short: "Schedule every failed document of a workflow for retry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("workflow", args[0])
			if err != nil {
				return err
			}
			return ctx.withRuntime(cmd.Context(), func(rt *daemonrun.Runtime) error {
				scheduled, err := rt.Manager.RetryAllFailed(cmd.Context(), id, reason)
				if err != nil && scheduled == 0 {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Scheduled %d document(s) of workflow %d for retry\n", scheduled, id)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded on each document")
	return cmd
}

// finishRun prints where a foreground run left the workflow. An interrupted
// run is reported as resumable rather than as an error.
func (c *commandContext) finishRun(cmd *cobra.Command, rt *daemonrun.Runtime, id int64, runErr error) error {
	interrupted := errors.Is(runErr, context.Canceled)
	if runErr != nil && !interrupted {
		return runErr
	}
	progress, err := rt.Manager.Progress(context.WithoutCancel(cmd.Context()), id)
	if err != nil {
		return err
	}
	if c.jsonOutput() {
		return writeJSON(cmd, progress)
	}
	out := cmd.OutOrStdout()
	if interrupted {
		fmt.Fprintf(out, "Interrupted; run `sfcfetch start %d` to continue\n", id)
	}
	for _, line := range progressLines(progress, shouldColorize(out)) {
		fmt.Fprintln(out, line)
	}
	return nil
}

func displayStep(step string) string {
	if step == "" {
		return "-"
	}
	return step
}
