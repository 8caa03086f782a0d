package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"chunkwise/internal/deps"
	"chunkwise/internal/preflight"
)

func newDepsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "deps",
		Short: "Check that the external tools are installed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			statuses := preflight.CheckSystemDeps(cfg)
			out := cmd.OutOrStdout()
			for _, line := range dependencyLines(statuses, shouldColorize(out)) {
				fmt.Fprintln(out, line)
			}
			if missing := deps.Missing(statuses); len(missing) > 0 {
				return fmt.Errorf("%d required tool(s) missing", len(missing))
			}
			return nil
		},
	}
}
