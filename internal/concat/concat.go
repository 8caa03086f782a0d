// Package concat joins encoded chunk artifacts, in index order, into the
// final container together with the optional audio artifact.
package concat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"chunkwise/internal/config"
	"chunkwise/internal/fileutil"
	"chunkwise/internal/logging"
	"chunkwise/internal/queue"
	"chunkwise/internal/services"
)

// ListFileName is the ffmpeg concat list written to the work directory.
const ListFileName = "concat.txt"

type commandRunner func(ctx context.Context, name string, args ...string) error

// Request describes one concatenation.
type Request struct {
	Queue  *queue.Queue
	Output string
	// Audio is muxed in when non-empty.
	Audio    string
	WorkDir  string
	Method   string
	FFmpeg   string
	Mkvmerge string
}

// Result reports the written container.
type Result struct {
	Output string
	Chunks int
	Size   int64
}

// Concatenator runs the muxer.
type Concatenator struct {
	logger *slog.Logger
	run    commandRunner
}

// New constructs a Concatenator.
func New(logger *slog.Logger) *Concatenator {
	return &Concatenator{
		logger: logging.NewComponentLogger(logger, "concat"),
		run:    defaultCommandRunner,
	}
}

// WithCommandRunner allows injecting a custom command runner for tests.
func (c *Concatenator) WithCommandRunner(r commandRunner) {
	if c != nil && r != nil {
		c.run = r
	}
}

// Concatenate writes req.Output. The queue must be complete. Output is
// written to a temporary sibling and renamed into place, so a failure never
// leaves a truncated container behind; chunk artifacts are never touched.
func (c *Concatenator) Concatenate(ctx context.Context, req Request) (Result, error) {
	if req.Queue == nil {
		return Result{}, services.Wrap(services.ErrValidation, "concat", "validate", "queue is required", nil)
	}
	if strings.TrimSpace(req.Output) == "" {
		return Result{}, services.Wrap(services.ErrValidation, "concat", "validate", "output path is required", nil)
	}
	artifacts, err := Artifacts(req.Queue)
	if err != nil {
		return Result{}, err
	}
	if req.Audio != "" {
		if _, err := fileutil.NonEmptyFile(req.Audio); err != nil {
			return Result{}, services.Wrap(services.ErrValidation, "concat", "validate", "audio artifact missing", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(req.Output), 0o755); err != nil {
		return Result{}, services.Wrap(services.ErrConfiguration, "concat", "prepare", "create output directory", err)
	}

	partial := partialPath(req.Output)
	_ = os.Remove(partial)
	method := strings.ToLower(strings.TrimSpace(req.Method))
	if method == "" {
		method = config.ConcatFFmpeg
	}
	c.logger.Info("concatenating chunks",
		logging.Int("chunks", len(artifacts)),
		logging.String("method", method),
		logging.Bool("audio", req.Audio != ""),
		logging.String("output", req.Output),
	)

	switch method {
	case config.ConcatFFmpeg:
		err = c.runFFmpeg(ctx, req, artifacts, partial)
	case config.ConcatMkvmerge:
		err = c.runMkvmerge(ctx, req, artifacts, partial)
	default:
		return Result{}, services.Wrap(services.ErrConfiguration, "concat", "validate",
			fmt.Sprintf("unknown concat method %q", req.Method), nil)
	}
	if err != nil {
		_ = os.Remove(partial)
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, services.Wrap(services.ErrExternalTool, "concat", method, "mux failed", err)
	}
	size, err := fileutil.NonEmptyFile(partial)
	if err != nil {
		return Result{}, services.Wrap(services.ErrExternalTool, "concat", "verify", "muxer produced no output", err)
	}
	if err := os.Rename(partial, req.Output); err != nil {
		_ = os.Remove(partial)
		return Result{}, services.Wrap(services.ErrConfiguration, "concat", "finalize", "move output into place", err)
	}
	return Result{Output: req.Output, Chunks: len(artifacts), Size: size}, nil
}

// Artifacts returns the chunk outputs in ascending index order. It fails
// unless every chunk is done with a non-empty artifact on disk.
func Artifacts(q *queue.Queue) ([]string, error) {
	if !q.Complete() {
		return nil, services.Wrap(services.ErrValidation, "concat", "validate",
			fmt.Sprintf("queue is not complete (%+v)", q.Counts()), nil)
	}
	snapshot := q.Snapshot()
	paths := make([]string, 0, len(snapshot))
	for _, chunk := range snapshot {
		if _, err := fileutil.NonEmptyFile(chunk.OutputPath); err != nil {
			return nil, services.Wrap(services.ErrValidation, "concat", "validate",
				fmt.Sprintf("chunk %d artifact unusable", chunk.Index), err)
		}
		paths = append(paths, chunk.OutputPath)
	}
	return paths, nil
}

func (c *Concatenator) runFFmpeg(ctx context.Context, req Request, artifacts []string, output string) error {
	list := filepath.Join(req.WorkDir, ListFileName)
	if err := WriteList(list, artifacts); err != nil {
		return err
	}
	args := []string{
		"-y", "-hide_banner", "-loglevel", "error", "-nostdin",
		"-f", "concat", "-safe", "0", "-i", list,
	}
	if req.Audio != "" {
		args = append(args, "-i", req.Audio, "-map", "0:v", "-map", "1")
	} else {
		args = append(args, "-map", "0:v")
	}
	args = append(args, "-c", "copy", output)
	return c.run(ctx, binaryOr(req.FFmpeg, "ffmpeg"), args...)
}

func (c *Concatenator) runMkvmerge(ctx context.Context, req Request, artifacts []string, output string) error {
	args := []string{"--quiet", "-o", output}
	for i, path := range artifacts {
		if i > 0 {
			args = append(args, "+")
		}
		args = append(args, path)
	}
	if req.Audio != "" {
		args = append(args, "--no-video", req.Audio)
	}
	err := c.run(ctx, binaryOr(req.Mkvmerge, "mkvmerge"), args...)
	// mkvmerge exits 1 when it only emitted warnings.
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		logging.WarnWithContext(c.logger, "mkvmerge reported warnings", "concat_warnings",
			logging.Error(err),
			logging.String(logging.FieldImpact, "output was written; review the warnings"),
		)
		return nil
	}
	return err
}

// WriteList writes an ffmpeg concat demuxer list for paths.
func WriteList(path string, paths []string) error {
	var b strings.Builder
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		b.WriteString("file ")
		b.WriteString(quoteListPath(abs))
		b.WriteByte('\n')
	}
	return fileutil.WriteFileAtomic(path, []byte(b.String()), 0o644)
}

// quoteListPath single-quotes a path for the concat demuxer, closing the
// quote around each embedded apostrophe.
func quoteListPath(path string) string {
	return "'" + strings.ReplaceAll(path, "'", `'\''`) + "'"
}

func partialPath(output string) string {
	dir, base := filepath.Split(output)
	ext := filepath.Ext(base)
	if ext == "" {
		ext = ".mkv"
	}
	return filepath.Join(dir, "."+strings.TrimSuffix(base, filepath.Ext(base))+".partial"+ext)
}

func binaryOr(binary, fallback string) string {
	if b := strings.TrimSpace(binary); b != "" {
		return b
	}
	return fallback
}

func defaultCommandRunner(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}
