package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"sfcfetch/internal/daemonrun"
	"sfcfetch/internal/preflight"
	"sfcfetch/internal/store"
	"sfcfetch/internal/workflow"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var showDocuments bool
	cmd := &cobra.Command{
		Use:   "status [workflow-id]",
		Short: "Show workflows, or the progress of one workflow",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd.Context(), func(rt *daemonrun.Runtime) error {
				if len(args) == 0 {
					return ctx.printOverview(cmd, rt)
				}
				id, err := parseID("workflow", args[0])
				if err != nil {
					return err
				}
				return ctx.printProgress(cmd, rt, id, showDocuments)
			})
		},
	}
	cmd.Flags().BoolVarP(&showDocuments, "documents", "d", false, "List the workflow's documents")
	return cmd
}

func (c *commandContext) printOverview(cmd *cobra.Command, rt *daemonrun.Runtime) error {
	workflows, err := rt.Manager.ListWorkflows(cmd.Context())
	if err != nil {
		return err
	}
	daemon := preflight.CheckDaemon(cmd.Context(), rt.Config.Paths.APIBind, rt.Config.Paths.APIToken)
	if c.jsonOutput() {
		return writeJSON(cmd, map[string]any{"daemon": daemon, "workflows": workflows})
	}

	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	kind := statusOK
	if !daemon.Passed {
		kind = statusWarn
	}
	fmt.Fprintln(out, renderStatusLine("Daemon", kind, daemon.Detail, colorize))
	fmt.Fprintln(out)

	if len(workflows) == 0 {
		fmt.Fprintln(out, "No workflows")
		return nil
	}
	rows := make([][]string, 0, len(workflows))
	for _, wf := range workflows {
		rows = append(rows, []string{
			strconv.FormatInt(wf.ID, 10),
			wf.Type,
			statusLabel(wf.Status),
			wf.Config.Mode,
			strconv.Itoa(wf.Stats.Total),
			strconv.Itoa(wf.Stats.Completed),
			strconv.Itoa(wf.Stats.Failed),
			formatTime(&wf.CreatedAt),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"ID", "Type", "Status", "Mode", "Docs", "Done", "Failed", "Created"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
	))
	return nil
}

func (c *commandContext) printProgress(cmd *cobra.Command, rt *daemonrun.Runtime, id int64, showDocuments bool) error {
	progress, err := rt.Manager.Progress(cmd.Context(), id)
	if err != nil {
		return err
	}
	var docs []*store.Document
	if showDocuments {
		if docs, err = rt.Manager.Documents(cmd.Context(), id); err != nil {
			return err
		}
	}
	if c.jsonOutput() {
		return writeJSON(cmd, map[string]any{"progress": progress, "documents": docs})
	}

	out := cmd.OutOrStdout()
	for _, line := range progressLines(progress, shouldColorize(out)) {
		fmt.Fprintln(out, line)
	}
	if showDocuments && len(docs) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, renderDocuments(docs))
	}
	return nil
}

func progressLines(p *workflow.Progress, colorize bool) []string {
	lines := renderSectionHeader(fmt.Sprintf("Workflow %d (%s)", p.WorkflowID, p.Type), colorize)
	lines = append(lines,
		renderStatusLine("Status", workflowStatusKind(p.Status), statusLabel(p.Status), colorize),
		renderStatusLine("Progress", statusInfo,
			fmt.Sprintf("%d/%d completed (%.2f%%)", p.Completed, p.Total, p.CompletionPercentage), colorize),
	)
	for _, status := range store.DocumentStatuses {
		n := p.Counts[status]
		if n == 0 {
			continue
		}
		lines = append(lines, renderStatusLine(statusLabel(status), documentStatusKind(status), strconv.Itoa(n), colorize))
	}
	if p.StartedAt != nil {
		lines = append(lines, renderStatusLine("Started", statusInfo, formatTime(p.StartedAt), colorize))
	}
	if p.CompletedAt != nil {
		lines = append(lines, renderStatusLine("Completed", statusInfo, formatTime(p.CompletedAt), colorize))
	}
	if p.Pause != nil && p.Pause.DocumentID != 0 {
		lines = append(lines, renderStatusLine("Paused at", statusWarn,
			fmt.Sprintf("%s step %s", p.Pause.Reference, displayStep(p.Pause.CurrentStep)), colorize))
	}
	return lines
}

func renderDocuments(docs []*store.Document) string {
	rows := make([][]string, 0, len(docs))
	for _, doc := range docs {
		rows = append(rows, []string{
			strconv.FormatInt(doc.ID, 10),
			doc.Reference,
			statusLabel(doc.Status),
			displayStep(doc.CurrentStep),
			strconv.Itoa(doc.RetryCount),
			truncate(doc.LastError, 60),
		})
	}
	return renderTable(
		[]string{"ID", "Reference", "Status", "Step", "Retries", "Last Error"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	)
}

func newFailedCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "failed <workflow-id>",
		Short: "List failed documents and the steps that failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("workflow", args[0])
			if err != nil {
				return err
			}
			return ctx.withRuntime(cmd.Context(), func(rt *daemonrun.Runtime) error {
				failed, err := rt.Manager.FailedDocuments(cmd.Context(), id)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, failed)
				}
				out := cmd.OutOrStdout()
				if len(failed) == 0 {
					fmt.Fprintf(out, "Workflow %d has no failed documents\n", id)
					return nil
				}
				fmt.Fprintln(out, renderFailed(failed))
				return nil
			})
		},
	}
}

func renderFailed(failed []workflow.FailedDocument) string {
	var rows [][]string
	for _, entry := range failed {
		doc := entry.Document
		if len(entry.FailedSteps) == 0 {
			rows = append(rows, []string{strconv.FormatInt(doc.ID, 10), doc.Reference, "-", "", truncate(doc.LastError, 60)})
			continue
		}
		for _, step := range entry.FailedSteps {
			rows = append(rows, []string{
				strconv.FormatInt(doc.ID, 10),
				doc.Reference,
				step.Step,
				strconv.Itoa(step.Attempts),
				truncate(step.Error, 60),
			})
		}
	}
	return renderTable(
		[]string{"Doc", "Reference", "Step", "Attempts", "Error"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft},
	)
}

func newStepsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "steps <document-id>",
		Short: "Show the step records of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("document", args[0])
			if err != nil {
				return err
			}
			return ctx.withRuntime(cmd.Context(), func(rt *daemonrun.Runtime) error {
				records, err := rt.Manager.Steps(cmd.Context(), id)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, records)
				}
				out := cmd.OutOrStdout()
				if len(records) == 0 {
					fmt.Fprintf(out, "Document %d has no step records\n", id)
					return nil
				}
				rows := make([][]string, 0, len(records))
				for _, rec := range records {
					rows = append(rows, []string{
						rec.StepName,
						statusLabel(rec.Status),
						fmt.Sprintf("%d/%d", rec.RetryCount, rec.MaxRetries),
						rec.Duration.Round(time.Millisecond).String(),
						formatTime(rec.CompletedAt),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Step", "Status", "Retries", "Duration", "Finished"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}
