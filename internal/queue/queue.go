package queue

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"chunkwise/internal/segment"
	"chunkwise/internal/services"
)

// Queue is the mutex-guarded chunk table for one run.
type Queue struct {
	mu          sync.Mutex
	chunks      []Chunk
	maxAttempts int
	aborted     bool
	changed     chan struct{}
}

// New creates a queue with one pending chunk per range. maxAttempts bounds
// the number of encode attempts per chunk; values below 1 allow one attempt.
func New(ranges []segment.Range, maxAttempts int) *Queue {
	chunks := make([]Chunk, len(ranges))
	for i, r := range ranges {
		chunks[i] = Chunk{Index: i, Start: r.Start, End: r.End, Status: StatusPending}
	}
	return newQueue(chunks, maxAttempts)
}

// Restore rebuilds a queue from persisted chunks. Indices must form the
// contiguous range [0, n) and frame ranges must tile the timeline. Running
// and failed chunks are rolled back to pending. An interrupted attempt is not
// counted and failed chunks start over with a fresh attempt budget.
func Restore(chunks []Chunk, maxAttempts int) (*Queue, error) {
	if len(chunks) == 0 {
		return nil, services.Wrap(services.ErrValidation, "queue", "restore", "no chunks to restore", nil)
	}
	restored := slices.Clone(chunks)
	slices.SortFunc(restored, func(a, b Chunk) int { return a.Index - b.Index })

	ranges := make([]segment.Range, len(restored))
	for i := range restored {
		chunk := &restored[i]
		if chunk.Index != i {
			return nil, services.Wrap(services.ErrValidation, "queue", "restore",
				fmt.Sprintf("chunk indices are not contiguous: expected %d, found %d", i, chunk.Index), nil)
		}
		if _, ok := statusSet[chunk.Status]; !ok {
			return nil, services.Wrap(services.ErrValidation, "queue", "restore",
				fmt.Sprintf("chunk %d has unknown status %q", i, chunk.Status), nil)
		}
		ranges[i] = chunk.Range()
		for _, tr := range restoreTransitions {
			if chunk.Status != tr.from {
				continue
			}
			switch chunk.Status {
			case StatusFailed:
				chunk.Attempts = 0
			case StatusRunning:
				chunk.Attempts = max(chunk.Attempts-1, 0)
			}
			chunk.Status = tr.to
			chunk.Retryable = false
			chunk.OutputPath = ""
			break
		}
		if chunk.Status == StatusDone && strings.TrimSpace(chunk.OutputPath) == "" {
			chunk.Status = StatusPending
		}
	}
	if err := segment.Validate(ranges, ranges[len(ranges)-1].End); err != nil {
		return nil, services.Wrap(services.ErrValidation, "queue", "restore", "persisted ranges are inconsistent", err)
	}
	return newQueue(restored, maxAttempts), nil
}

func newQueue(chunks []Chunk, maxAttempts int) *Queue {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Queue{
		chunks:      chunks,
		maxAttempts: maxAttempts,
		changed:     make(chan struct{}),
	}
}

// MaxAttempts returns the per-chunk attempt budget.
func (q *Queue) MaxAttempts() int {
	return q.maxAttempts
}

// Len returns the number of chunks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.chunks)
}

// ClaimNext moves the lowest-index pending chunk to running and returns a
// copy of it. It returns false when nothing is pending or the queue has been
// aborted.
func (q *Queue) ClaimNext() (Chunk, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.aborted {
		return Chunk{}, false
	}
	for i := range q.chunks {
		chunk := &q.chunks[i]
		if chunk.Status != StatusPending {
			continue
		}
		chunk.Status = StatusRunning
		chunk.Retryable = false
		chunk.Attempts++
		q.notifyLocked()
		return *chunk, true
	}
	return Chunk{}, false
}

// MarkDone records a successful encode for a running chunk.
func (q *Queue) MarkDone(index int, outputPath string) error {
	if strings.TrimSpace(outputPath) == "" {
		return fmt.Errorf("%w: chunk %d completed without an output path", ErrInvalidTransition, index)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	chunk, err := q.runningLocked(index)
	if err != nil {
		return err
	}
	chunk.Status = StatusDone
	chunk.Retryable = false
	chunk.OutputPath = outputPath
	chunk.LastError = ""
	q.notifyLocked()
	return nil
}

// MarkFailed records a failed attempt for a running chunk. A retryable
// failure with attempts remaining returns the chunk to pending; anything else
// fails it permanently and aborts the queue. The updated chunk is returned.
func (q *Queue) MarkFailed(index int, retryable bool, cause error) (Chunk, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	chunk, err := q.runningLocked(index)
	if err != nil {
		return Chunk{}, err
	}
	if cause != nil {
		chunk.LastError = cause.Error()
	}
	if retryable && chunk.Attempts < q.maxAttempts {
		chunk.Status = StatusPending
		chunk.Retryable = true
	} else {
		chunk.Status = StatusFailed
		chunk.Retryable = false
		q.aborted = true
	}
	q.notifyLocked()
	return *chunk, nil
}

// Release returns a running chunk to pending without counting the attempt.
// It is used when an encode is interrupted rather than failed.
func (q *Queue) Release(index int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	chunk, err := q.runningLocked(index)
	if err != nil {
		return err
	}
	chunk.Status = StatusPending
	if chunk.Attempts > 0 {
		chunk.Attempts--
	}
	q.notifyLocked()
	return nil
}

// Abort stops further claims. Running chunks may still be marked.
func (q *Queue) Abort() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.aborted {
		return
	}
	q.aborted = true
	q.notifyLocked()
}

// Aborted reports whether the queue stopped handing out work.
func (q *Queue) Aborted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.aborted
}

// Get returns a copy of the chunk at index.
func (q *Queue) Get(index int) (Chunk, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if index < 0 || index >= len(q.chunks) {
		return Chunk{}, false
	}
	return q.chunks[index], true
}

// Snapshot returns copies of all chunks in index order.
func (q *Queue) Snapshot() []Chunk {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.chunks)
}

// Counts returns per-status totals.
func (q *Queue) Counts() Counts {
	q.mu.Lock()
	defer q.mu.Unlock()
	counts := Counts{Total: len(q.chunks)}
	for _, chunk := range q.chunks {
		switch chunk.Status {
		case StatusPending:
			counts.Pending++
		case StatusRunning:
			counts.Running++
		case StatusDone:
			counts.Done++
		case StatusFailed:
			counts.Failed++
		}
	}
	return counts
}

// Complete reports whether every chunk is done.
func (q *Queue) Complete() bool {
	counts := q.Counts()
	return counts.Total > 0 && counts.Done == counts.Total
}

// Changed returns a channel that is closed on the next state change. Parked
// workers select on it and call ClaimNext again once it fires.
func (q *Queue) Changed() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.changed
}

func (q *Queue) runningLocked(index int) (*Chunk, error) {
	if index < 0 || index >= len(q.chunks) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownChunk, index)
	}
	chunk := &q.chunks[index]
	if chunk.Status != StatusRunning {
		return nil, fmt.Errorf("%w: chunk %d is %s, not running", ErrInvalidTransition, index, chunk.Status)
	}
	return chunk, nil
}

func (q *Queue) notifyLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}
