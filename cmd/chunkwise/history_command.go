package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"chunkwise/internal/config"
	"chunkwise/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past encode runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(ctx.configValue())
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, runs)
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}
			fmt.Fprintln(out, historyTable(runs, shouldColorize(out)))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to show (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print runs as JSON")
	cmd.AddCommand(newHistoryShowCommand(ctx))
	return cmd
}

func newHistoryShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid run id %q", args[0])
			}
			store, err := openHistory(ctx.configValue())
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := store.Get(cmd.Context(), id)
			if errors.Is(err, history.ErrNotFound) {
				return fmt.Errorf("run %d not found", id)
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, line := range historyDetailLines(*run, shouldColorize(out)) {
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
}

func openHistory(cfg *config.Config) (*history.Store, error) {
	if cfg == nil || cfg.Paths.HistoryDB == "" {
		return nil, fmt.Errorf("run history is disabled (paths.history_db is empty)")
	}
	store, err := history.Open(cfg.Paths.HistoryDB)
	if err != nil {
		return nil, fmt.Errorf("open run history: %w", err)
	}
	return store, nil
}

func historyTable(runs []history.Run, colorize bool) string {
	columns := []tableColumn{
		{Header: "ID", Align: alignRight},
		{Header: "Started"},
		{Header: "Status"},
		{Header: "Input", MaxWidth: 40},
		{Header: "Encoder"},
		{Header: "Chunks", Align: alignRight},
		{Header: "Attempts", Align: alignRight},
		{Header: "Size", Align: alignRight},
		{Header: "Duration", Align: alignRight},
	}
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		label := stateLabel(string(run.Status))
		if colorize {
			label = statusKindColor(runStatusKind(run.Status)) + label + ansiReset
		}
		rows = append(rows, []string{
			strconv.FormatInt(run.ID, 10),
			run.StartedAt.Local().Format("2006-01-02 15:04"),
			label,
			filepath.Base(run.Input),
			run.Encoder,
			fmt.Sprintf("%d/%d", run.Counts.ChunksDone, run.Counts.ChunksTotal),
			strconv.Itoa(run.Counts.Attempts),
			formatBytes(run.OutputSize),
			formatDuration(run),
		})
	}
	return renderTable(columns, rows, "")
}

func historyDetailLines(run history.Run, colorize bool) []string {
	lines := renderSectionHeader(fmt.Sprintf("Run %d", run.ID), colorize)
	lines = append(lines,
		renderField("Run ID", run.RunID),
		renderField("Input", run.Input),
		renderField("Output", run.Output),
		renderField("Encoder", run.Encoder),
		renderField("Resume", stateLabel(run.ResumeDecision)),
		renderField("Workers", strconv.Itoa(run.Workers)),
		renderField("Started", run.StartedAt.Local().Format(time.RFC1123)),
		renderField("Duration", formatDuration(run)),
		renderField("Chunks", fmt.Sprintf("%d done, %d failed, %d total", run.Counts.ChunksDone, run.Counts.ChunksFailed, run.Counts.ChunksTotal)),
		renderField("Frames", humanize.Comma(int64(run.Counts.FramesTotal))),
		renderField("Attempts", strconv.Itoa(run.Counts.Attempts)),
		renderField("Size", formatBytes(run.OutputSize)),
	)
	message := strings.TrimSpace(run.Detail)
	lines = append(lines, renderStatusLine("Status", runStatusKind(run.Status), message, colorize))
	return lines
}

func runStatusKind(status history.Status) statusKind {
	switch status {
	case history.StatusSucceeded:
		return statusOK
	case history.StatusFailed:
		return statusError
	case history.StatusCanceled:
		return statusWarn
	default:
		return statusInfo
	}
}

func formatDuration(run history.Run) string {
	if run.FinishedAt == nil {
		return "-"
	}
	return run.Duration().Round(time.Second).String()
}
