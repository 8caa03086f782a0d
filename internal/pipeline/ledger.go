package pipeline

import (
	"context"
	"log/slog"

	"chunkwise/internal/history"
	"chunkwise/internal/logging"
	"chunkwise/internal/queue"
)

// ledger records the run in the history database. Every failure is logged
// and swallowed; a nil store makes each call a no-op.
type ledger struct {
	store  *history.Store
	id     int64
	logger *slog.Logger
}

func (r *Runner) openHistory(logger *slog.Logger) *ledger {
	l := &ledger{logger: logger}
	path := r.cfg.Paths.HistoryDB
	if path == "" {
		return l
	}
	store, err := history.Open(path)
	if err != nil {
		l.warn("failed to open run history", err)
		return l
	}
	l.store = store
	return l
}

func (l *ledger) begin(ctx context.Context, run history.Run) {
	if l.store == nil {
		return
	}
	id, err := l.store.Begin(ctx, run)
	if err != nil {
		l.warn("failed to record run start", err)
		return
	}
	l.id = id
}

func (l *ledger) finish(ctx context.Context, status history.Status, detail string, q *queue.Queue, frames int, size int64) {
	if l.store == nil || l.id == 0 {
		return
	}
	counts := q.Counts()
	err := l.store.Finish(context.WithoutCancel(ctx), l.id, status, detail, history.Counts{
		ChunksTotal:  counts.Total,
		ChunksDone:   counts.Done,
		ChunksFailed: counts.Failed,
		Attempts:     attempts(q),
		FramesTotal:  frames,
	}, size)
	if err != nil {
		l.warn("failed to record run outcome", err)
	}
}

func (l *ledger) close() {
	if l.store != nil {
		_ = l.store.Close()
	}
}

func (l *ledger) warn(msg string, err error) {
	logging.WarnWithContext(l.logger, msg, "history_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check paths.history_db permissions"),
		logging.String(logging.FieldImpact, "this run is missing from chunkwise history"),
	)
}
