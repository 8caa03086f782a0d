package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"chunkwise/internal/logging"
	"chunkwise/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	var runID string

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the chunkwise log file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := logging.LogFilePath(ctx.configValue())
			if path == "" {
				return fmt.Errorf("file logging is disabled (paths.log_dir is empty)")
			}
			filter := logs.Filter{Contains: strings.TrimSpace(runID)}
			out := cmd.OutOrStdout()

			tail, offset, err := logs.Last(path, lines, filter)
			if err != nil {
				return err
			}
			for _, line := range tail {
				fmt.Fprintln(out, line)
			}
			if !follow {
				return nil
			}
			return logs.Follow(cmd.Context(), path, offset, 0, filter, func(line string) {
				fmt.Fprintln(out, line)
			})
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines until interrupted")
	cmd.Flags().StringVar(&runID, "run", "", "Only show lines mentioning this run id")
	return cmd
}
