package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"chunkwise/internal/concat"
	"chunkwise/internal/config"
	"chunkwise/internal/encoding"
	"chunkwise/internal/history"
	"chunkwise/internal/logging"
	"chunkwise/internal/media/ffprobe"
	"chunkwise/internal/metrics"
	"chunkwise/internal/notifications"
	"chunkwise/internal/preflight"
	"chunkwise/internal/progress"
	"chunkwise/internal/resume"
	"chunkwise/internal/services"
	"chunkwise/internal/services/drapto"
	"chunkwise/internal/source"
	"chunkwise/internal/textutil"
)

// Result summarizes a finished run.
type Result struct {
	RunID    string
	Output   string
	TempDir  string
	Decision resume.Decision
	Chunks   int
	Frames   int
	Attempts int
	Workers  int
	Size     int64
	Audio    bool
	Elapsed  time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithProber replaces ffprobe inspection.
func WithProber(fn func(ctx context.Context, binary, path string) (ffprobe.Result, error)) Option {
	return func(r *Runner) {
		if fn != nil {
			r.probe = fn
		}
	}
}

// WithCropDetector replaces the automatic crop detector.
func WithCropDetector(d drapto.CropDetector) Option {
	return func(r *Runner) {
		if d != nil {
			r.crop = d
		}
	}
}

// WithConcatenator replaces the concatenator.
func WithConcatenator(c *concat.Concatenator) Option {
	return func(r *Runner) {
		if c != nil {
			r.concat = c
		}
	}
}

// WithProgressOutput sets where the progress bar is drawn. Writers that are
// not terminals get periodic log lines instead.
func WithProgressOutput(w io.Writer) Option {
	return func(r *Runner) {
		if w != nil {
			r.progressOut = w
		}
	}
}

// WithMetrics installs a recorder. Without one, a recorder is created only
// when metrics.listen is configured.
func WithMetrics(rec *metrics.Recorder) Option {
	return func(r *Runner) {
		r.metrics = rec
	}
}

// WithNotifier replaces the ntfy service built from the configuration.
func WithNotifier(svc notifications.Service) Option {
	return func(r *Runner) {
		if svc != nil {
			r.notifier = svc
		}
	}
}

// Runner executes jobs with one configuration.
type Runner struct {
	cfg         *config.Config
	logger      *slog.Logger
	probe       func(ctx context.Context, binary, path string) (ffprobe.Result, error)
	countFrames func(ctx context.Context, binary, path string) (int, error)
	crop        drapto.CropDetector
	concat      *concat.Concatenator
	progressOut io.Writer
	metrics     *metrics.Recorder
	notifier    notifications.Service
	now         func() time.Time
}

// NewRunner constructs a Runner for cfg, which must already be finalized.
func NewRunner(cfg *config.Config, logger *slog.Logger, opts ...Option) *Runner {
	logger = logging.NewComponentLogger(logger, "pipeline")
	r := &Runner{
		cfg:         cfg,
		logger:      logger,
		probe:       ffprobe.Inspect,
		countFrames: ffprobe.CountFrames,
		crop:        drapto.NewLibrary(),
		concat:      concat.New(logger),
		progressOut: os.Stderr,
		notifier:    notifications.NewService(cfg),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run encodes job. On cancellation the temp directory and run state are
// kept and ctx.Err() is returned. A permanent chunk failure returns the
// aggregated chunk errors without concatenating.
func (r *Runner) Run(ctx context.Context, job Job) (Result, error) {
	if r.cfg == nil {
		return Result{}, services.Wrap(services.ErrConfiguration, "pipeline", "run", "configuration is required", nil)
	}
	started := r.now()
	job, err := job.Resolve(r.cfg)
	if err != nil {
		return Result{}, err
	}

	if err := preflight.Err(preflight.RunAll(r.cfg, preflight.Targets{
		Input:   job.Input,
		Output:  job.Output,
		TempDir: job.TempDir,
	})); err != nil {
		return Result{}, err
	}

	stageCtx := services.WithStage(ctx, "probe")
	media, total, err := r.inspect(stageCtx, job.Input)
	if err != nil {
		return Result{}, err
	}

	stageCtx = services.WithStage(ctx, "crop")
	filters := r.sourceFilters(stageCtx, job.Input)

	enc, err := encoding.Lookup(r.cfg.Encoder.Name)
	if err != nil {
		return Result{}, err
	}
	enc = enc.WithBinary(r.cfg.EncoderBinary())
	params, err := textutil.SplitArgs(r.cfg.Encoder.Params)
	if err != nil {
		return Result{}, services.Wrap(services.ErrConfiguration, "pipeline", "encoder params", "parse encoder.params", err)
	}

	manager := resume.NewManager(resume.Options{
		Dir:        job.TempDir,
		Enabled:    r.cfg.Resume.Enabled,
		PurgeStale: r.cfg.Resume.PurgeStale,
		Logger:     r.logger,
	})
	if err := manager.Lock(); err != nil {
		return Result{}, err
	}
	cleaned := false
	defer func() {
		if !cleaned {
			_ = manager.Unlock()
		}
	}()

	stageCtx = services.WithStage(ctx, "segment")
	inputs, err := r.fingerprintInputs(job.Input, filters)
	if err != nil {
		return Result{}, err
	}
	ranges, fp, err := r.plan(stageCtx, manager, job.Input, total, media, inputs)
	if err != nil {
		return Result{}, err
	}

	prep, err := manager.Prepare(resume.Meta{
		Input:   job.Input,
		Output:  job.Output,
		Encoder: r.cfg.Encoder.Name,
	}, fp, ranges, r.cfg.Workers.MaxTries)
	if err != nil {
		return Result{}, err
	}
	runID := prep.State.RunID
	ctx = services.WithRequestID(ctx, runID)
	logger := logging.WithContext(ctx, r.logger)
	logger.Info("run prepared",
		logging.String("decision", string(prep.Decision)),
		logging.Int("chunks", len(ranges)),
		logging.Int("frames", total),
		logging.Int("done", prep.State.Done()),
		logging.String("temp_dir", job.TempDir),
	)

	result := Result{
		RunID:    runID,
		Output:   job.Output,
		TempDir:  job.TempDir,
		Decision: prep.Decision,
		Chunks:   len(ranges),
		Frames:   total,
	}

	rec := r.metrics
	if rec == nil && r.cfg.Metrics.Listen != "" {
		rec = metrics.New()
	}
	if r.cfg.Metrics.Listen != "" {
		serveCtx, stopServing := context.WithCancel(ctx)
		defer stopServing()
		if err := rec.Serve(serveCtx, r.cfg.Metrics.Listen, logger); err != nil {
			logging.WarnWithContext(logger, "metrics listener unavailable", "metrics_listen_failed",
				logging.String("listen", r.cfg.Metrics.Listen),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "pick a free address for metrics.listen"),
				logging.String(logging.FieldImpact, "metrics are not exported for this run"),
			)
		}
	}

	tracker := progress.New(progress.Options{
		TotalFrames: total,
		TotalChunks: len(ranges),
		BaseFrames:  prep.State.DoneFrames(),
		BaseChunks:  prep.State.Done(),
		Display:     progress.NewDisplay(r.progressOut, logger, total),
		Metrics:     rec,
	})
	pool, err := encoding.New(encoding.Options{
		Queue: prep.Queue,
		Source: source.Source{
			FFmpeg:  r.cfg.FFmpegBinary(),
			Input:   job.Input,
			PixFmt:  r.cfg.Encoder.PixFmt,
			Filters: filters,
			SeekFPS: r.seekFPS(media),
		},
		Encoder:      enc,
		Params:       params,
		EncodeDir:    manager.EncodeDir(),
		Workers:      r.cfg.Workers.Count,
		Affinity:     r.cfg.Workers.Affinity,
		Watchdog:     time.Duration(r.cfg.Workers.WatchdogSeconds) * time.Second,
		Reporter:     tracker,
		Checkpointer: manager,
		Metrics:      rec,
		Logger:       r.logger,
	})
	if err != nil {
		tracker.Close()
		return result, err
	}
	result.Workers = pool.Workers()

	ledger := r.openHistory(logger)
	defer ledger.close()
	ledger.begin(ctx, history.Run{
		RunID:          runID,
		Input:          job.Input,
		Output:         job.Output,
		Encoder:        r.cfg.Encoder.Name,
		Fingerprint:    fp,
		ResumeDecision: string(prep.Decision),
		Workers:        pool.Workers(),
		Counts:         history.Counts{ChunksTotal: len(ranges), FramesTotal: total},
		StartedAt:      started,
	})

	audioCtx, cancelAudio := context.WithCancel(services.WithStage(ctx, "audio"))
	defer cancelAudio()
	audioDone := make(chan string, 1)
	go func() {
		audioDone <- r.audio(audioCtx, manager, job.Input, media, logger)
	}()

	runErr := pool.Run(services.WithStage(ctx, "encode"))
	snapshot := tracker.Close()
	if runErr != nil {
		cancelAudio()
	}
	audioPath := <-audioDone
	result.Attempts = attempts(prep.Queue)
	result.Elapsed = r.now().Sub(started)

	if runErr != nil {
		if ctx.Err() != nil {
			logger.Info("run interrupted; state kept for resume",
				logging.String("temp_dir", job.TempDir),
				logging.Int("done", prep.Queue.Counts().Done),
			)
			ledger.finish(ctx, history.StatusCanceled, "interrupted", prep.Queue, total, 0)
			return result, ctx.Err()
		}
		ledger.finish(ctx, history.StatusFailed, runErr.Error(), prep.Queue, total, 0)
		r.notify(ctx, logger, notifications.EventRunFailed, job, result, runErr)
		return result, runErr
	}
	logger.Info("chunks encoded", logging.String("progress", progress.Summary(snapshot)))

	concatenated, err := r.concat.Concatenate(services.WithStage(ctx, "concat"), concat.Request{
		Queue:    prep.Queue,
		Output:   job.Output,
		Audio:    audioPath,
		WorkDir:  job.TempDir,
		Method:   r.cfg.Concat.Method,
		FFmpeg:   r.cfg.FFmpegBinary(),
		Mkvmerge: r.cfg.MkvmergeBinary(),
	})
	if err != nil {
		status := history.StatusFailed
		if ctx.Err() != nil {
			status = history.StatusCanceled
			err = ctx.Err()
		}
		ledger.finish(ctx, status, err.Error(), prep.Queue, total, 0)
		if status == history.StatusFailed {
			r.notify(ctx, logger, notifications.EventRunFailed, job, result, err)
		}
		return result, err
	}
	result.Size = concatenated.Size
	result.Audio = audioPath != ""

	if r.cfg.Resume.KeepTemp {
		logger.Info("keeping temp directory", logging.String("temp_dir", job.TempDir))
	} else {
		cleaned = true
		if err := manager.Cleanup(); err != nil {
			logging.WarnWithContext(logger, "failed to remove temp directory", "cleanup_failed",
				logging.String("temp_dir", job.TempDir),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "remove it with chunkwise clean"),
				logging.String(logging.FieldImpact, "encoded chunks stay on disk"),
			)
		}
	}

	result.Elapsed = r.now().Sub(started)
	ledger.finish(ctx, history.StatusSucceeded, "", prep.Queue, total, result.Size)
	logger.Info("run completed",
		logging.String("output", job.Output),
		logging.Int64("size", result.Size),
		logging.Bool("audio", result.Audio),
		logging.Duration("elapsed", result.Elapsed.Round(time.Second)),
	)
	r.notify(ctx, logger, notifications.EventRunCompleted, job, result, nil)
	return result, nil
}

func (r *Runner) notify(ctx context.Context, logger *slog.Logger, event notifications.Event, job Job, result Result, cause error) {
	if r.notifier == nil || !r.notifier.Enabled() {
		return
	}
	err := r.notifier.Publish(context.WithoutCancel(ctx), event, notifications.Payload{
		Input:    job.Input,
		Output:   job.Output,
		Chunks:   result.Chunks,
		Attempts: result.Attempts,
		Size:     result.Size,
		Elapsed:  result.Elapsed,
		Err:      cause,
	})
	if err != nil {
		logging.WarnWithContext(logger, "failed to send notification", "notification_failed",
			logging.String("event", string(event)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
			logging.String(logging.FieldImpact, "no alert was delivered for this run"),
		)
	}
}

// audio runs the audio pass unless a previous run already produced it, and
// returns the artifact path or "" when the output will have no audio.
func (r *Runner) audio(ctx context.Context, manager *resume.Manager, input string, media ffprobe.Result, logger *slog.Logger) string {
	if existing := manager.AudioPath(); existing != "" {
		logger.Info("reusing audio from previous run", logging.String("path", existing))
		return existing
	}
	res, err := audioExtract(ctx, audioOptions(r.cfg, input, manager.Dir(), media, logger))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return ""
		}
		logging.WarnWithContext(logger, "audio pass failed; output will have no audio", "audio_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check audio.codec and audio.bitrate or set audio.mode = \"copy\""),
			logging.String(logging.FieldImpact, "the output is written without audio tracks"),
		)
		return ""
	}
	if res.Skipped {
		return ""
	}
	if err := manager.RecordAudio(res.Path); err != nil {
		logging.WarnWithContext(logger, "failed to record audio artifact", "checkpoint_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "a resumed run repeats the audio pass"),
		)
	}
	return res.Path
}
