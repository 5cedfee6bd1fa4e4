package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"sfcfetch/internal/daemonrun"
	"sfcfetch/internal/subworkflow"
)

func newInitCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the data directories and database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd.Context(), func(rt *daemonrun.Runtime) error {
				health, err := rt.Store.CheckHealth(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, health)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Database ready at %s (schema v%d)\n", health.DBPath, health.SchemaVersion)
				for _, def := range subworkflow.Builtin() {
					fmt.Fprintf(out, "Workflow type %s: %d steps\n", def.Type, len(def.Steps))
				}
				return nil
			})
		},
	}
}
