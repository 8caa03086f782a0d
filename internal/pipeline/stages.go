package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"chunkwise/internal/config"
	"chunkwise/internal/detect"
	"chunkwise/internal/logging"
	"chunkwise/internal/media/audio"
	"chunkwise/internal/media/ffprobe"
	"chunkwise/internal/queue"
	"chunkwise/internal/resume"
	"chunkwise/internal/segment"
	"chunkwise/internal/services"
)

var audioExtract = audio.Extract

// inspect probes the input and returns its frame total, counting packets
// when the container does not record one.
func (r *Runner) inspect(ctx context.Context, input string) (ffprobe.Result, int, error) {
	logger := logging.WithContext(ctx, r.logger)
	media, err := r.probe(ctx, r.cfg.FFprobeBinary(), input)
	if err != nil {
		if ctx.Err() != nil {
			return ffprobe.Result{}, 0, ctx.Err()
		}
		return ffprobe.Result{}, 0, services.Wrap(services.ErrExternalTool, "pipeline", "probe", "inspect input", err)
	}
	if media.VideoStreamCount() == 0 {
		return ffprobe.Result{}, 0, services.Wrap(services.ErrValidation, "pipeline", "probe", "input has no video stream", nil)
	}
	total := media.FrameCount()
	if total <= 0 {
		logger.Info("container has no frame count; counting packets")
		total, err = r.countFrames(ctx, r.cfg.FFprobeBinary(), input)
		if err != nil {
			if ctx.Err() != nil {
				return ffprobe.Result{}, 0, ctx.Err()
			}
			return ffprobe.Result{}, 0, services.Wrap(services.ErrValidation, "pipeline", "probe", "unable to determine frame count", err)
		}
	}
	width, height := media.VideoSize()
	logger.Info("input probed",
		logging.Int("frames", total),
		logging.Float64("fps", media.FPS()),
		logging.String("resolution", fmt.Sprintf("%dx%d", width, height)),
		logging.Int("audio_streams", media.AudioStreamCount()),
	)
	return media, total, nil
}

// seekFPS returns the frame rate the frame source may seek with, or 0 to
// decode every chunk from the start of the input.
func (r *Runner) seekFPS(media ffprobe.Result) float64 {
	if !r.cfg.Source.Seek || !media.ConstantFrameRate() {
		return 0
	}
	return media.FPS()
}

// sourceFilters returns the frame-source filters: the crop first, then the
// configured filter chain. Automatic crop detection failures drop the crop.
func (r *Runner) sourceFilters(ctx context.Context, input string) []string {
	var filters []string
	switch crop := r.cfg.Source.Crop; crop {
	case config.CropNone:
	case config.CropAuto:
		if filter := r.detectCrop(ctx, input); filter != "" {
			filters = append(filters, filter)
		}
	default:
		filters = append(filters, crop)
	}
	if extra := strings.TrimSpace(r.cfg.Source.Filters); extra != "" {
		filters = append(filters, extra)
	}
	return filters
}

func (r *Runner) detectCrop(ctx context.Context, input string) string {
	logger := logging.WithContext(ctx, r.logger)
	res, err := r.crop.DetectCrop(ctx, input)
	if err != nil {
		logging.WarnWithContext(logger, "crop detection failed; encoding without crop", "crop_detect_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "set source.crop to an explicit crop=W:H:X:Y filter"),
			logging.String(logging.FieldImpact, "black bars are encoded"),
		)
		return ""
	}
	if !res.Required {
		logger.Info("no crop required", logging.String("detail", res.Message))
		return ""
	}
	if res.MultipleRatios {
		logging.WarnWithContext(logger, "input mixes aspect ratios; using the dominant crop", "crop_multiple_ratios",
			logging.String("filter", res.Filter),
			logging.String(logging.FieldImpact, "some scenes may lose picture at the edges"),
		)
	}
	logger.Info("crop detected", logging.String("filter", res.Filter))
	return res.Filter
}

// fingerprintInputs gathers every setting that shapes encoded chunks except
// the boundaries, which plan fills in.
func (r *Runner) fingerprintInputs(input string, filters []string) (resume.Inputs, error) {
	info, err := os.Stat(input)
	if err != nil {
		return resume.Inputs{}, services.Wrap(services.ErrValidation, "pipeline", "fingerprint", "stat input", err)
	}
	c := r.cfg.Chunking
	return resume.Inputs{
		InputPath:     input,
		InputSize:     info.Size(),
		InputModTime:  info.ModTime(),
		Encoder:       r.cfg.Encoder.Name,
		EncoderBinary: r.cfg.EncoderBinary(),
		EncoderParams: r.cfg.Encoder.Params,
		PixFmt:        r.cfg.Encoder.PixFmt,
		Filters:       filters,
		ChunkMethod:   c.Method,
		ChunkParams: fmt.Sprintf("interval=%d min=%d max=%d threshold=%g height=%d",
			c.Interval, c.MinLength, c.MaxLength, c.SceneThreshold, c.DownscaleHeight),
	}, nil
}

// plan returns the chunk ranges and the run fingerprint. A previous run
// whose fingerprint still matches with its own boundaries supplies the
// layout, which skips boundary detection on resume.
func (r *Runner) plan(ctx context.Context, manager *resume.Manager, input string, total int, media ffprobe.Result, inputs resume.Inputs) ([]segment.Range, string, error) {
	logger := logging.WithContext(ctx, r.logger)
	if ranges, fp, ok := reusableLayout(manager, total, inputs); ok {
		logger.Info("reusing chunk layout from previous run", logging.Int("chunks", len(ranges)))
		return ranges, fp, nil
	}

	segmenter := segment.New(segment.PolicyFromConfig(r.cfg.Chunking),
		segment.WithSceneDetector(&detect.SceneDetector{
			FFmpeg:          r.cfg.FFmpegBinary(),
			Threshold:       r.cfg.Chunking.SceneThreshold,
			DownscaleHeight: r.cfg.Chunking.DownscaleHeight,
			FPS:             media.FPS(),
			Logger:          logger,
		}),
		segment.WithKeyframeDetector(&detect.KeyframeDetector{FFprobe: r.cfg.FFprobeBinary()}),
		segment.WithLogger(logger),
	)
	plan, err := segmenter.Plan(ctx, input, total)
	if err != nil {
		return nil, "", err
	}
	logger.Info("chunks planned",
		logging.String("method", plan.Method),
		logging.Bool("fallback", plan.Fallback),
		logging.Int("chunks", len(plan.Ranges)),
	)
	inputs.Boundaries = segment.Boundaries(plan.Ranges)
	return plan.Ranges, resume.Fingerprint(inputs), nil
}

func reusableLayout(manager *resume.Manager, total int, inputs resume.Inputs) ([]segment.Range, string, bool) {
	prior, err := manager.Peek()
	if err != nil || prior.TotalFrames != total {
		return nil, "", false
	}
	inputs.Boundaries = prior.Boundaries()
	fp := resume.Fingerprint(inputs)
	if fp != prior.Fingerprint {
		return nil, "", false
	}
	ranges := make([]segment.Range, len(prior.Chunks))
	for i, c := range prior.Chunks {
		ranges[i] = segment.Range{Start: c.Start, End: c.End}
	}
	if segment.Validate(ranges, total) != nil {
		return nil, "", false
	}
	return ranges, fp, true
}

func audioOptions(cfg *config.Config, input, dir string, media ffprobe.Result, logger *slog.Logger) audio.Options {
	return audio.Options{
		FFmpeg:  cfg.FFmpegBinary(),
		Input:   input,
		Dir:     dir,
		Mode:    cfg.Audio.Mode,
		Codec:   cfg.Audio.Codec,
		Bitrate: cfg.Audio.Bitrate,
		Streams: media.Streams,
		Logger:  logger,
	}
}

func attempts(q *queue.Queue) int {
	total := 0
	for _, c := range q.Snapshot() {
		total += c.Attempts
	}
	return total
}
