package queue_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"chunkwise/internal/queue"
	"chunkwise/internal/segment"
)

func evenRanges(chunks, size int) []segment.Range {
	ranges := make([]segment.Range, chunks)
	for i := range ranges {
		ranges[i] = segment.Range{Start: i * size, End: (i + 1) * size}
	}
	return ranges
}

func TestClaimNextReturnsLowestPendingIndex(t *testing.T) {
	q := queue.New(evenRanges(3, 10), 3)

	first, ok := q.ClaimNext()
	if !ok || first.Index != 0 || first.Status != queue.StatusRunning || first.Attempts != 1 {
		t.Fatalf("unexpected first claim: %+v ok=%v", first, ok)
	}
	second, ok := q.ClaimNext()
	if !ok || second.Index != 1 {
		t.Fatalf("unexpected second claim: %+v ok=%v", second, ok)
	}
	if err := q.MarkDone(first.Index, "/tmp/00000.ivf"); err != nil {
		t.Fatalf("MarkDone failed: %v", err)
	}
	third, ok := q.ClaimNext()
	if !ok || third.Index != 2 {
		t.Fatalf("unexpected third claim: %+v ok=%v", third, ok)
	}
	if _, ok := q.ClaimNext(); ok {
		t.Fatal("expected no pending chunks")
	}
}

func TestClaimNextIsExclusiveUnderConcurrency(t *testing.T) {
	const chunks = 500
	q := queue.New(evenRanges(chunks, 2), 1)

	var (
		mu      sync.Mutex
		claimed = make(map[int]int)
		wg      sync.WaitGroup
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				chunk, ok := q.ClaimNext()
				if !ok {
					return
				}
				mu.Lock()
				claimed[chunk.Index]++
				mu.Unlock()
				if err := q.MarkDone(chunk.Index, "out"); err != nil {
					t.Errorf("MarkDone(%d): %v", chunk.Index, err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if len(claimed) != chunks {
		t.Fatalf("claimed %d distinct chunks, want %d", len(claimed), chunks)
	}
	for index, n := range claimed {
		if n != 1 {
			t.Fatalf("chunk %d claimed %d times", index, n)
		}
	}
	if !q.Complete() {
		t.Fatalf("expected queue to be complete, counts %+v", q.Counts())
	}
}

func TestMarkFailedRetriesUntilBudgetExhausted(t *testing.T) {
	q := queue.New(evenRanges(1, 10), 3)
	cause := errors.New("encoder exited 1")

	for attempt := 1; attempt <= 3; attempt++ {
		chunk, ok := q.ClaimNext()
		if !ok {
			t.Fatalf("attempt %d: expected a claim", attempt)
		}
		if chunk.Attempts != attempt {
			t.Fatalf("attempt %d: chunk reports %d attempts", attempt, chunk.Attempts)
		}
		updated, err := q.MarkFailed(chunk.Index, true, cause)
		if err != nil {
			t.Fatalf("MarkFailed: %v", err)
		}
		if attempt < 3 {
			if updated.Status != queue.StatusPending || !updated.Retryable {
				t.Fatalf("attempt %d: expected pending retryable, got %+v", attempt, updated)
			}
			continue
		}
		if updated.Status != queue.StatusFailed || updated.Retryable {
			t.Fatalf("expected permanent failure, got %+v", updated)
		}
		if updated.LastError != cause.Error() {
			t.Fatalf("expected last error to be recorded, got %q", updated.LastError)
		}
	}
	if !q.Aborted() {
		t.Fatal("expected queue to abort after permanent failure")
	}
	if _, ok := q.ClaimNext(); ok {
		t.Fatal("aborted queue must not hand out work")
	}
}

func TestMarkFailedNonRetryableAbortsImmediately(t *testing.T) {
	q := queue.New(evenRanges(2, 10), 5)
	chunk, _ := q.ClaimNext()
	updated, err := q.MarkFailed(chunk.Index, false, errors.New("binary missing"))
	if err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if updated.Status != queue.StatusFailed || updated.Attempts != 1 {
		t.Fatalf("unexpected chunk: %+v", updated)
	}
	if !q.Aborted() {
		t.Fatal("expected abort")
	}
}

func TestAbortAllowsRunningChunksToDrain(t *testing.T) {
	q := queue.New(evenRanges(3, 10), 1)
	running, _ := q.ClaimNext()
	q.Abort()

	if _, ok := q.ClaimNext(); ok {
		t.Fatal("expected no claims after abort")
	}
	if err := q.MarkDone(running.Index, "out"); err != nil {
		t.Fatalf("running chunk should still be markable: %v", err)
	}
	counts := q.Counts()
	if counts.Done != 1 || counts.Pending != 2 || counts.Running != 0 {
		t.Fatalf("unexpected counts %+v", counts)
	}
	if q.Complete() {
		t.Fatal("aborted queue with pending chunks is not complete")
	}
}

func TestTransitionsRequireRunning(t *testing.T) {
	q := queue.New(evenRanges(1, 10), 1)
	if err := q.MarkDone(0, "out"); !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if _, err := q.MarkFailed(0, true, nil); !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if err := q.MarkDone(7, "out"); !errors.Is(err, queue.ErrUnknownChunk) {
		t.Fatalf("expected unknown chunk, got %v", err)
	}
	q.ClaimNext()
	if err := q.MarkDone(0, ""); !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("expected empty output path to be rejected, got %v", err)
	}
}

func TestReleaseDoesNotCountAttempt(t *testing.T) {
	q := queue.New(evenRanges(1, 10), 2)
	chunk, _ := q.ClaimNext()
	if err := q.Release(chunk.Index); err != nil {
		t.Fatalf("Release: %v", err)
	}
	again, ok := q.ClaimNext()
	if !ok || again.Attempts != 1 {
		t.Fatalf("expected released chunk to be reclaimed as first attempt, got %+v", again)
	}
}

func TestSnapshotReturnsCopies(t *testing.T) {
	q := queue.New(evenRanges(2, 10), 1)
	snap := q.Snapshot()
	snap[0].Status = queue.StatusDone
	if chunk, _ := q.Get(0); chunk.Status != queue.StatusPending {
		t.Fatalf("snapshot mutation leaked into queue: %+v", chunk)
	}
}

func TestChangedFiresOnTransition(t *testing.T) {
	q := queue.New(evenRanges(1, 10), 1)
	changed := q.Changed()
	select {
	case <-changed:
		t.Fatal("changed fired before any transition")
	default:
	}
	q.ClaimNext()
	select {
	case <-changed:
	case <-time.After(time.Second):
		t.Fatal("expected change notification after claim")
	}
}

func TestRestoreRollsBackInterruptedWork(t *testing.T) {
	persisted := []queue.Chunk{
		{Index: 2, Start: 20, End: 30, Status: queue.StatusRunning, Attempts: 2},
		{Index: 0, Start: 0, End: 10, Status: queue.StatusDone, Attempts: 1, OutputPath: "encode/00000.ivf"},
		{Index: 1, Start: 10, End: 20, Status: queue.StatusFailed, Attempts: 3, LastError: "boom"},
		{Index: 3, Start: 30, End: 40, Status: queue.StatusDone, Attempts: 1},
	}
	q, err := queue.Restore(persisted, 3)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	snap := q.Snapshot()
	want := []struct {
		status   queue.Status
		attempts int
	}{
		{queue.StatusDone, 1},
		{queue.StatusPending, 0},
		{queue.StatusPending, 1},
		{queue.StatusPending, 1},
	}
	for i, w := range want {
		if snap[i].Index != i || snap[i].Status != w.status || snap[i].Attempts != w.attempts {
			t.Fatalf("chunk %d: got %+v, want status=%s attempts=%d", i, snap[i], w.status, w.attempts)
		}
	}
	if q.Aborted() {
		t.Fatal("restored queue must not start aborted")
	}
}

func TestRestoreClaimsOnlyUnfinishedChunks(t *testing.T) {
	persisted := make([]queue.Chunk, 10)
	for i := range persisted {
		persisted[i] = queue.Chunk{Index: i, Start: i * 10, End: (i + 1) * 10, Status: queue.StatusPending}
		if i < 3 {
			persisted[i].Status = queue.StatusDone
			persisted[i].OutputPath = "done"
			persisted[i].Attempts = 1
		}
	}
	q, err := queue.Restore(persisted, 1)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	claims := 0
	for {
		chunk, ok := q.ClaimNext()
		if !ok {
			break
		}
		if chunk.Index < 3 {
			t.Fatalf("done chunk %d was claimed again", chunk.Index)
		}
		claims++
	}
	if claims != 7 {
		t.Fatalf("claimed %d chunks, want 7", claims)
	}
}

func TestRestoreRejectsInconsistentTables(t *testing.T) {
	tests := []struct {
		name   string
		chunks []queue.Chunk
	}{
		{"empty", nil},
		{"missing index", []queue.Chunk{
			{Index: 0, Start: 0, End: 10, Status: queue.StatusPending},
			{Index: 2, Start: 10, End: 20, Status: queue.StatusPending},
		}},
		{"duplicate index", []queue.Chunk{
			{Index: 0, Start: 0, End: 10, Status: queue.StatusPending},
			{Index: 0, Start: 10, End: 20, Status: queue.StatusPending},
		}},
		{"gap", []queue.Chunk{
			{Index: 0, Start: 0, End: 10, Status: queue.StatusPending},
			{Index: 1, Start: 12, End: 20, Status: queue.StatusPending},
		}},
		{"unknown status", []queue.Chunk{
			{Index: 0, Start: 0, End: 10, Status: "paused"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := queue.Restore(tt.chunks, 1); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestParseStatus(t *testing.T) {
	for _, status := range queue.AllStatuses() {
		parsed, ok := queue.ParseStatus(" " + string(status) + " ")
		if !ok || parsed != status {
			t.Fatalf("ParseStatus(%q) = %q, %v", status, parsed, ok)
		}
	}
	if _, ok := queue.ParseStatus("encoding"); ok {
		t.Fatal("expected unknown status to be rejected")
	}
}
