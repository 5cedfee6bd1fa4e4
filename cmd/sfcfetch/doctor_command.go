package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"sfcfetch/internal/daemonrun"
	"sfcfetch/internal/preflight"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check directories, database and step handlers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd.Context(), func(rt *daemonrun.Runtime) error {
				results := preflight.RunAll(cmd.Context(), rt.Config, rt.Store, rt.Registry)
				daemon := preflight.CheckDaemon(cmd.Context(), rt.Config.Paths.APIBind, rt.Config.Paths.APIToken)
				if ctx.jsonOutput() {
					if err := writeJSON(cmd, map[string]any{"checks": results, "daemon": daemon}); err != nil {
						return err
					}
				} else {
					out := cmd.OutOrStdout()
					colorize := shouldColorize(out)
					for _, line := range renderSectionHeader("Configuration", colorize) {
						fmt.Fprintln(out, line)
					}
					fmt.Fprintln(out, renderStatusLine("Config file", statusInfo, ctx.configPath, colorize))
					fmt.Fprintln(out, renderStatusLine("API token", statusInfo, "set: "+yesNo(rt.Config.Paths.APIToken != ""), colorize))
					fmt.Fprintln(out)
					for _, line := range renderSectionHeader("Checks", colorize) {
						fmt.Fprintln(out, line)
					}
					for _, r := range results {
						kind := statusOK
						if !r.Passed {
							kind = statusError
						}
						fmt.Fprintln(out, renderStatusLine(r.Name, kind, r.Detail, colorize))
					}
					daemonKind := statusOK
					if !daemon.Passed {
						daemonKind = statusInfo
					}
					fmt.Fprintln(out, renderStatusLine(daemon.Name, daemonKind, daemon.Detail, colorize))
				}
				if failed := preflight.Failed(results); len(failed) > 0 {
					return fmt.Errorf("%d check(s) failed", len(failed))
				}
				return nil
			})
		},
	}
}
