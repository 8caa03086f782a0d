package segment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"chunkwise/internal/config"
	"chunkwise/internal/logging"
	"chunkwise/internal/services"
)

// Detector proposes chunk boundaries for an input, as frame indices.
type Detector interface {
	Boundaries(ctx context.Context, inputPath string) ([]int, error)
}

// Policy selects how boundaries are proposed before Build enforces bounds.
type Policy struct {
	Method   string
	Interval int
	Bounds   Bounds
}

// PolicyFromConfig builds a Policy from the chunking section.
func PolicyFromConfig(c config.Chunking) Policy {
	return Policy{
		Method:   c.Method,
		Interval: c.Interval,
		Bounds:   Bounds{MinLength: c.MinLength, MaxLength: c.MaxLength},
	}
}

// Plan is the outcome of segmentation.
type Plan struct {
	Ranges   []Range
	Method   string // method that produced Ranges, after any fallback
	Fallback bool
	Proposed int // boundaries proposed before bounds were applied
}

// Option configures a Segmenter.
type Option func(*Segmenter)

// WithSceneDetector installs the detector used by the scene method.
func WithSceneDetector(d Detector) Option {
	return func(s *Segmenter) { s.scene = d }
}

// WithKeyframeDetector installs the detector used by the keyframe method.
func WithKeyframeDetector(d Detector) Option {
	return func(s *Segmenter) { s.keyframe = d }
}

// WithLogger sets the logger used for fallback warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Segmenter) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Segmenter decides chunk boundaries for one input.
type Segmenter struct {
	policy   Policy
	scene    Detector
	keyframe Detector
	logger   *slog.Logger
}

// New constructs a Segmenter.
func New(policy Policy, opts ...Option) *Segmenter {
	s := &Segmenter{policy: policy, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.NewComponentLogger(s.logger, "segmenter")
	return s
}

// Plan produces ranges covering [0, total). Detector failures fall back to
// fixed-interval segmentation with a warning; only cancellation and invalid
// totals are returned as errors.
func (s *Segmenter) Plan(ctx context.Context, inputPath string, total int) (Plan, error) {
	switch s.policy.Method {
	case config.ChunkNone:
		return s.build(total, nil, Bounds{}, config.ChunkNone, false)
	case config.ChunkFixed:
		return s.fixed(total, false)
	case config.ChunkScene:
		return s.detect(ctx, inputPath, total, s.scene)
	case config.ChunkKeyframe:
		return s.detect(ctx, inputPath, total, s.keyframe)
	default:
		return Plan{}, services.Wrap(services.ErrConfiguration, "segment", "plan", fmt.Sprintf("unknown chunking method %q", s.policy.Method), nil)
	}
}

func (s *Segmenter) detect(ctx context.Context, inputPath string, total int, detector Detector) (Plan, error) {
	method := s.policy.Method
	if detector == nil {
		logging.WarnWithContext(s.logger, "no boundary detector available; using fixed-interval chunks", "segment_fallback",
			logging.String("method", method),
			logging.String(logging.FieldErrorHint, "install ffmpeg/ffprobe or set chunking.method = \"fixed\""),
			logging.String(logging.FieldImpact, "chunks will not align with scene changes"),
		)
		return s.fixed(total, true)
	}

	boundaries, err := detector.Boundaries(ctx, inputPath)
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return Plan{}, err
		}
		logging.WarnWithContext(s.logger, "boundary detection failed; using fixed-interval chunks", "segment_fallback",
			logging.String("method", method),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "run with --method fixed to skip detection"),
			logging.String(logging.FieldImpact, "chunks will not align with scene changes"),
		)
		return s.fixed(total, true)
	}

	s.logger.Info("boundaries detected",
		logging.String("method", method),
		logging.Int("proposed", len(boundaries)),
	)
	return s.build(total, boundaries, s.policy.Bounds, method, false)
}

func (s *Segmenter) fixed(total int, fallback bool) (Plan, error) {
	return s.build(total, FixedBoundaries(total, s.policy.Interval), s.policy.Bounds, config.ChunkFixed, fallback)
}

func (s *Segmenter) build(total int, boundaries []int, bounds Bounds, method string, fallback bool) (Plan, error) {
	ranges, err := Build(total, boundaries, bounds)
	if err != nil {
		return Plan{}, err
	}
	if err := Validate(ranges, total); err != nil {
		return Plan{}, err
	}
	return Plan{Ranges: ranges, Method: method, Fallback: fallback, Proposed: len(boundaries)}, nil
}
