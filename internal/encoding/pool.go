package encoding

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"

	"chunkwise/internal/fileutil"
	"chunkwise/internal/logging"
	"chunkwise/internal/metrics"
	"chunkwise/internal/progress"
	"chunkwise/internal/queue"
	"chunkwise/internal/services"
	"chunkwise/internal/source"
	"chunkwise/internal/textutil"
)

const (
	stderrTailLimit = 64 * 1024
	waitDelay       = 5 * time.Second
	// startupGrace multiplies the watchdog window until the first frame
	// arrives, because frame selection decodes every earlier frame silently.
	startupGrace = 4
)

var errWatchdog = errors.New("no frames within watchdog window")

// Reporter receives per-chunk progress events.
type Reporter interface {
	Report(progress.Event)
}

// Checkpointer persists the queue after every transition.
type Checkpointer interface {
	Checkpoint(*queue.Queue) error
}

// Options configures a Pool.
type Options struct {
	Queue     *queue.Queue
	Source    source.Source
	Encoder   Encoder
	Params    []string
	EncodeDir string
	// Workers is the number of concurrent encodes; 0 sizes automatically.
	Workers  int
	Affinity bool
	// Watchdog kills an attempt when no frame passes for this long; 0
	// disables it.
	Watchdog     time.Duration
	Reporter     Reporter
	Checkpointer Checkpointer
	Metrics      *metrics.Recorder
	Logger       *slog.Logger
}

// ChunkError is a permanent chunk failure.
type ChunkError struct {
	Index    int
	Attempts int
	Err      error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d failed after %d attempt(s): %v", e.Index, e.Attempts, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// Pool runs a fixed number of workers against a queue.
type Pool struct {
	opts    Options
	logger  *slog.Logger
	workers int
	cpuSets [][]int

	mu       sync.Mutex
	failures []*ChunkError
}

// New validates opts and sizes the pool.
func New(opts Options) (*Pool, error) {
	if opts.Queue == nil {
		return nil, services.Wrap(services.ErrValidation, "encoding", "new pool", "queue is required", nil)
	}
	if opts.EncodeDir == "" {
		return nil, services.Wrap(services.ErrValidation, "encoding", "new pool", "encode directory is required", nil)
	}
	if opts.Encoder.Binary == "" || opts.Encoder.args == nil {
		return nil, services.Wrap(services.ErrConfiguration, "encoding", "new pool", "encoder is not configured", nil)
	}
	logger := logging.NewComponentLogger(opts.Logger, "encoding")
	p := &Pool{
		opts:    opts,
		logger:  logger,
		workers: ResolveWorkers(opts.Workers, opts.Encoder, logger),
	}
	if opts.Affinity {
		if !affinitySupported() {
			logging.WarnWithContext(logger, "cpu affinity unsupported on this platform", "affinity_unsupported",
				logging.String(logging.FieldImpact, "workers run without cpu pinning"),
			)
		} else if cpus, err := cpuCounts(true); err == nil {
			p.cpuSets = CPUSets(p.workers, cpus)
		}
	}
	return p, nil
}

// Workers returns the number of worker goroutines Run starts.
func (p *Pool) Workers() int {
	return p.workers
}

// Run encodes until the queue is complete, a chunk fails permanently, or ctx
// is cancelled. Permanent failures are returned together once in-flight
// chunks have drained. Cancellation rolls running chunks back to pending and
// returns ctx.Err().
func (p *Pool) Run(ctx context.Context) error {
	if err := os.MkdirAll(p.opts.EncodeDir, 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, "encoding", "prepare", "create encode directory", err)
	}
	p.logger.Info("starting workers",
		logging.Int("workers", p.workers),
		logging.String("encoder", p.opts.Encoder.Name),
		logging.Int("chunks", p.opts.Queue.Len()),
		logging.Bool("affinity", p.cpuSets != nil),
	)

	var wg sync.WaitGroup
	for slot := range p.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.work(services.WithWorker(ctx, slot), slot)
		}()
	}
	wg.Wait()
	p.checkpoint()

	var result *multierror.Error
	p.mu.Lock()
	for _, failure := range p.failures {
		result = multierror.Append(result, failure)
	}
	p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		return err
	}
	if !p.opts.Queue.Complete() {
		return services.Wrap(services.ErrValidation, "encoding", "run",
			fmt.Sprintf("queue stopped before completion (%+v)", p.opts.Queue.Counts()), nil)
	}
	return nil
}

// Failures returns the permanent failures recorded so far.
func (p *Pool) Failures() []*ChunkError {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*ChunkError, len(p.failures))
	copy(out, p.failures)
	return out
}

func (p *Pool) work(ctx context.Context, slot int) {
	q := p.opts.Queue
	for {
		if ctx.Err() != nil {
			return
		}
		changed := q.Changed()
		chunk, ok := q.ClaimNext()
		if !ok {
			if q.Aborted() {
				return
			}
			counts := q.Counts()
			if counts.Pending > 0 {
				continue
			}
			if counts.Running == 0 {
				return
			}
			select {
			case <-changed:
				continue
			case <-ctx.Done():
				return
			}
		}
		p.checkpoint()
		p.process(services.WithChunk(ctx, chunk.Index), slot, chunk)
	}
}

func (p *Pool) process(ctx context.Context, slot int, chunk queue.Chunk) {
	q := p.opts.Queue
	logger := logging.WithContext(ctx, p.logger)
	output := p.outputPath(chunk.Index)
	started := time.Now()

	kind := progress.KindStarted
	if chunk.Attempts > 1 {
		kind = progress.KindReset
	}
	p.report(progress.Event{Chunk: chunk.Index, Kind: kind})
	p.opts.Metrics.ChunkStarted()
	defer p.opts.Metrics.ChunkFinished()

	logger.Debug("encoding chunk",
		logging.Int("start", chunk.Start),
		logging.Int("end", chunk.End),
		logging.Int("attempt", chunk.Attempts),
	)
	err := p.encode(ctx, slot, chunk, output)

	if err == nil {
		if markErr := q.MarkDone(chunk.Index, output); markErr != nil {
			logger.Error("mark chunk done failed", logging.Error(markErr))
			return
		}
		elapsed := time.Since(started)
		p.opts.Metrics.ChunkCompleted(elapsed)
		p.report(progress.Event{Chunk: chunk.Index, Kind: progress.KindDone, Frames: chunk.Frames()})
		logger.Info("chunk encoded",
			logging.Int("frames", chunk.Frames()),
			logging.Duration("elapsed", elapsed.Round(time.Millisecond)),
			logging.Int("attempt", chunk.Attempts),
		)
		p.checkpoint()
		return
	}

	_ = os.Remove(output)
	if ctx.Err() != nil {
		if releaseErr := q.Release(chunk.Index); releaseErr != nil {
			logger.Warn("release interrupted chunk failed", logging.Error(releaseErr))
		}
		p.report(progress.Event{Chunk: chunk.Index, Kind: progress.KindReset})
		p.checkpoint()
		return
	}
	retryable := services.Retryable(err)
	p.opts.Metrics.ChunkFailed(retryable)
	updated, markErr := q.MarkFailed(chunk.Index, retryable, err)
	if markErr != nil {
		logger.Error("mark chunk failed failed", logging.Error(markErr))
		return
	}
	p.report(progress.Event{Chunk: chunk.Index, Kind: progress.KindReset})
	if updated.Status == queue.StatusPending {
		logging.WarnWithContext(logger, "chunk attempt failed; retrying", "chunk_retry",
			logging.Int("attempt", updated.Attempts),
			logging.Int("max_attempts", q.MaxAttempts()),
			logging.String("failure_kind", services.FailureKind(err)),
			logging.Error(err),
			logging.String(logging.FieldImpact, "the chunk is encoded again from its first frame"),
		)
	} else {
		logging.ErrorWithContext(logger, "chunk failed permanently", "chunk_failed",
			logging.Int("attempts", updated.Attempts),
			logging.String("failure_kind", services.FailureKind(err)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "inspect the encoder output above and the encoder parameters"),
			logging.String(logging.FieldImpact, "no new chunks are started; the run stops once running chunks finish"),
		)
		p.mu.Lock()
		p.failures = append(p.failures, &ChunkError{Index: chunk.Index, Attempts: updated.Attempts, Err: err})
		p.mu.Unlock()
	}
	p.checkpoint()
}

// encode runs one attempt: the frame source piped through a y4m counter into
// the encoder.
func (p *Pool) encode(ctx context.Context, slot int, chunk queue.Chunk, output string) error {
	if err := os.Remove(output); err != nil && !errors.Is(err, os.ErrNotExist) {
		return services.Wrap(services.ErrConfiguration, "encode", "prepare output", "remove stale artifact", err)
	}
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	// srcCtx lets the attempt stop a frame source that outlives the encoder.
	srcCtx, stopSource := context.WithCancel(runCtx)
	defer stopSource()

	srcCmd := commandContext(srcCtx, p.opts.Source.Binary(), p.opts.Source.Args(chunk.Range())...)
	encCmd := commandContext(runCtx, p.opts.Encoder.Binary, p.opts.Encoder.Args(chunk.Frames(), p.opts.Params, output)...)
	srcTail := textutil.NewTailBuffer(stderrTailLimit)
	encTail := textutil.NewTailBuffer(stderrTailLimit)
	srcCmd.Stderr = srcTail
	encCmd.Stderr = encTail
	srcCmd.WaitDelay = waitDelay
	encCmd.WaitDelay = waitDelay

	stdout, err := srcCmd.StdoutPipe()
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "encode", "frame source", "create pipe", err)
	}
	stdin, err := encCmd.StdinPipe()
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "encode", "encoder", "create pipe", err)
	}
	var lastFrame atomic.Int64
	counter := source.NewCounter(func(frames int) {
		lastFrame.Store(time.Now().UnixNano())
		p.report(progress.Event{Chunk: chunk.Index, Kind: progress.KindFrames, Frames: frames})
	})

	if err := srcCmd.Start(); err != nil {
		return services.Wrap(services.ErrConfiguration, "encode", "start frame source", srcCmd.Path, err)
	}
	if err := encCmd.Start(); err != nil {
		cancel(err)
		_ = stdout.Close()
		_ = srcCmd.Wait()
		return services.Wrap(services.ErrConfiguration, "encode", "start encoder", encCmd.Path, err)
	}
	p.pin(ctx, slot, srcCmd, encCmd)

	copied := make(chan error, 1)
	go func() {
		_, err := io.Copy(stdin, io.TeeReader(stdout, counter))
		_ = stdin.Close()
		copied <- err
	}()

	watchdogDone := make(chan struct{})
	defer close(watchdogDone)
	if p.opts.Watchdog > 0 {
		go p.watch(cancel, &lastFrame, watchdogDone)
	}

	encErr := encCmd.Wait()
	if encErr != nil {
		cancel(encErr)
	} else {
		// The encoder read what it needed; anything the source still
		// decodes is discarded.
		stopSource()
	}
	_ = stdout.Close()
	copyErr := <-copied
	srcErr := srcCmd.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if cause := context.Cause(runCtx); errors.Is(cause, errWatchdog) {
		return services.Wrap(services.ErrTimeout, "encode", "watchdog",
			fmt.Sprintf("no frames for %s after %d frames", p.opts.Watchdog, counter.Frames()), cause)
	}
	if errors.Is(copyErr, source.ErrBadStream) {
		return services.Wrap(services.ErrExternalTool, "encode", "read frame source", tailDetail(srcTail), copyErr)
	}
	if encErr != nil {
		return services.Wrap(services.ErrExternalTool, "encode", "run encoder", tailDetail(encTail), encErr)
	}
	// A source killed by stopSource reports a signal, not an exit status.
	if srcErr != nil && srcCmd.ProcessState != nil && srcCmd.ProcessState.Exited() {
		return services.Wrap(services.ErrExternalTool, "encode", "run frame source", tailDetail(srcTail), srcErr)
	}
	if got, want := counter.Frames(), chunk.Frames(); got != want {
		return services.Wrap(services.ErrExternalTool, "encode", "verify frames",
			fmt.Sprintf("frame source produced %d frames, expected %d", got, want), nil)
	}
	if _, err := fileutil.NonEmptyFile(output); err != nil {
		return services.Wrap(services.ErrExternalTool, "encode", "verify output", "encoder produced no usable artifact", err)
	}
	return nil
}

// watch cancels the attempt once no frame has passed for the watchdog
// window. Before the first frame the window is stretched by startupGrace.
func (p *Pool) watch(cancel context.CancelCauseFunc, lastFrame *atomic.Int64, done <-chan struct{}) {
	window := p.opts.Watchdog
	tick := min(max(window/10, 10*time.Millisecond), time.Second)
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	started := time.Now()
	for {
		select {
		case <-done:
			return
		case now := <-ticker.C:
			last := lastFrame.Load()
			if last == 0 {
				if now.Sub(started) > window*startupGrace {
					cancel(errWatchdog)
					return
				}
				continue
			}
			if now.Sub(time.Unix(0, last)) > window {
				cancel(errWatchdog)
				return
			}
		}
	}
}

func (p *Pool) pin(ctx context.Context, slot int, cmds ...*exec.Cmd) {
	if p.cpuSets == nil || slot >= len(p.cpuSets) {
		return
	}
	set := p.cpuSets[slot]
	for _, cmd := range cmds {
		if cmd.Process == nil {
			continue
		}
		if err := pinProcess(cmd.Process.Pid, set); err != nil {
			logging.WarnWithContext(logging.WithContext(ctx, p.logger), "cpu pinning failed", "affinity_failed",
				logging.Int("pid", cmd.Process.Pid),
				logging.Error(err),
				logging.String(logging.FieldImpact, "the process runs on any cpu"),
			)
		}
	}
}

func (p *Pool) outputPath(index int) string {
	return filepath.Join(p.opts.EncodeDir, fmt.Sprintf("%05d.%s", index, p.opts.Encoder.Extension))
}

func (p *Pool) report(event progress.Event) {
	if p.opts.Reporter != nil {
		p.opts.Reporter.Report(event)
	}
}

func (p *Pool) checkpoint() {
	if p.opts.Checkpointer == nil {
		return
	}
	if err := p.opts.Checkpointer.Checkpoint(p.opts.Queue); err != nil {
		logging.WarnWithContext(p.logger, "checkpoint failed", "checkpoint_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check free space and permissions in the temp directory"),
			logging.String(logging.FieldImpact, "a resumed run may encode some finished chunks again"),
		)
	}
}

func tailDetail(tail *textutil.TailBuffer) string {
	if lines := tail.LastLines(3); lines != "" {
		return lines
	}
	return "no diagnostic output"
}
