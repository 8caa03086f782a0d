package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"chunkwise/internal/queue"
	"chunkwise/internal/resume"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var target tempDirFlags
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the chunk table of a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := target.resolve(ctx.configValue())
			if err != nil {
				return err
			}
			state, err := resume.NewStore(dir).Load()
			switch {
			case errors.Is(err, resume.ErrNoState):
				return fmt.Errorf("no run state in %s", dir)
			case err != nil:
				return fmt.Errorf("read run state: %w", err)
			}
			if asJSON {
				return writeJSON(cmd, state)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, line := range statusLines(dir, state, lockHeld(dir), colorize) {
				fmt.Fprintln(out, line)
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, chunkTable(dir, state, colorize))
			return nil
		},
	}
	target.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw run state as JSON")
	return cmd
}

func statusLines(dir string, state *resume.RunState, active, colorize bool) []string {
	lines := renderSectionHeader("Run "+state.RunID, colorize)
	lines = append(lines,
		renderField("Input", state.Input),
		renderField("Output", state.Output),
		renderField("Encoder", state.Encoder),
		renderField("Temp dir", dir),
		renderField("Updated", humanize.Time(state.UpdatedAt)),
	)

	var failed, running int
	for _, c := range state.Chunks {
		switch parsed, _ := queue.ParseStatus(c.Status); parsed {
		case queue.StatusFailed:
			failed++
		case queue.StatusRunning:
			running++
		}
	}
	done := state.Done()
	percent := 0.0
	if state.TotalFrames > 0 {
		percent = float64(state.DoneFrames()) / float64(state.TotalFrames) * 100
	}
	message := fmt.Sprintf("%d/%d chunks, %.1f%% of %s frames", done, state.TotalChunks, percent, humanize.Comma(int64(state.TotalFrames)))
	kind := statusWarn
	switch {
	case failed > 0:
		kind = statusError
		message += fmt.Sprintf(", %d failed", failed)
	case done == state.TotalChunks:
		kind = statusOK
	}
	lines = append(lines, renderStatusLine("Progress", kind, message, colorize))

	switch {
	case active:
		lines = append(lines, renderStatusLine("Lock", statusInfo, "held by a running encode", colorize))
	case running > 0:
		lines = append(lines, renderStatusLine("Lock", statusWarn, "free; the last run was interrupted and can be resumed", colorize))
	}
	return lines
}

func chunkTable(dir string, state *resume.RunState, colorize bool) string {
	columns := []tableColumn{
		{Header: "Chunk", Align: alignRight},
		{Header: "Frames"},
		{Header: "Length", Align: alignRight},
		{Header: "Status"},
		{Header: "Attempts", Align: alignRight},
		{Header: "Size", Align: alignRight},
		{Header: "Last Error", MaxWidth: 48},
	}
	rows := make([][]string, 0, len(state.Chunks))
	var total int64
	for _, c := range state.Chunks {
		size, _ := fileSize(artifactPath(dir, c.Output))
		total += size
		label := stateLabel(c.Status)
		if colorize {
			label = statusKindColor(chunkStatusKind(c.Status)) + label + ansiReset
		}
		rows = append(rows, []string{
			fmt.Sprintf("%05d", c.Index),
			fmt.Sprintf("%d-%d", c.Start, c.End),
			strconv.Itoa(c.Frames),
			label,
			strconv.Itoa(c.Attempts),
			formatBytes(size),
			strings.TrimSpace(c.LastError),
		})
	}
	footer := fmt.Sprintf("%d of %d chunks done, %s encoded", state.Done(), state.TotalChunks, formatBytes(total))
	return renderTable(columns, rows, footer)
}

// lockHeld reports whether another process holds the temp directory lock.
func lockHeld(dir string) bool {
	manager := resume.NewManager(resume.Options{Dir: dir})
	if err := manager.Lock(); err != nil {
		return true
	}
	_ = manager.Unlock()
	return false
}
