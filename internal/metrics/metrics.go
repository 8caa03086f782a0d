// Package metrics exports run progress as Prometheus metrics.
//
// A nil *Recorder is valid and records nothing, so callers never need to
// check whether metrics are enabled.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chunkwise/internal/logging"
)

// Recorder owns the chunkwise collectors and the registry they live in.
type Recorder struct {
	registry *prometheus.Registry

	chunksCompleted prometheus.Counter
	chunkFailures   *prometheus.CounterVec
	chunkAttempts   prometheus.Counter
	framesEncoded   prometheus.Gauge
	framesTotal     prometheus.Gauge
	workersBusy     prometheus.Gauge
	encodeSeconds   prometheus.Histogram
}

// New registers the collectors on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		chunksCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "chunkwise_chunks_completed_total",
			Help: "Chunks encoded successfully.",
		}),
		chunkFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chunkwise_chunk_failures_total",
			Help: "Failed chunk encode attempts.",
		}, []string{"retryable"}),
		chunkAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "chunkwise_chunk_attempts_total",
			Help: "Chunk encode attempts started.",
		}),
		framesEncoded: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chunkwise_frames_encoded",
			Help: "Frames encoded so far, including chunks finished by a previous run.",
		}),
		framesTotal: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chunkwise_frames_total",
			Help: "Frames in the input.",
		}),
		workersBusy: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chunkwise_workers_busy",
			Help: "Workers currently encoding a chunk.",
		}),
		encodeSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "chunkwise_chunk_encode_seconds",
			Help:    "Wall time of successful chunk encodes.",
			Buckets: prometheus.ExponentialBuckets(5, 2, 10),
		}),
	}
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ChunkStarted records a new attempt and a busy worker.
func (r *Recorder) ChunkStarted() {
	if r == nil {
		return
	}
	r.chunkAttempts.Inc()
	r.workersBusy.Inc()
}

// ChunkFinished releases the busy worker for an attempt that ended for any
// reason, including cancellation.
func (r *Recorder) ChunkFinished() {
	if r == nil {
		return
	}
	r.workersBusy.Dec()
}

// ChunkCompleted records a successful encode.
func (r *Recorder) ChunkCompleted(elapsed time.Duration) {
	if r == nil {
		return
	}
	r.chunksCompleted.Inc()
	r.encodeSeconds.Observe(elapsed.Seconds())
}

// ChunkFailed records a failed attempt.
func (r *Recorder) ChunkFailed(retryable bool) {
	if r == nil {
		return
	}
	r.chunkFailures.WithLabelValues(strconv.FormatBool(retryable)).Inc()
}

// SetFrames publishes the aggregate frame counters.
func (r *Recorder) SetFrames(encoded, total int) {
	if r == nil {
		return
	}
	r.framesEncoded.Set(float64(encoded))
	r.framesTotal.Set(float64(total))
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Serve exposes /metrics on listen until ctx is cancelled. It returns once
// the listener is bound so bind errors reach the caller.
func (r *Recorder) Serve(ctx context.Context, listen string, logger *slog.Logger) error {
	if r == nil || listen == "" {
		return nil
	}
	logger = logging.NewComponentLogger(logger, "metrics")
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.WarnWithContext(logger, "metrics server stopped", "metrics_server_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "metrics are no longer exported for this run"),
			)
		}
	}()
	logger.Info("serving metrics", logging.String("listen", ln.Addr().String()))
	return nil
}
