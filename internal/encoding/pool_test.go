package encoding

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"chunkwise/internal/config"
	"chunkwise/internal/progress"
	"chunkwise/internal/queue"
	"chunkwise/internal/segment"
	"chunkwise/internal/services"
	"chunkwise/internal/source"
)

const (
	helperWidth  = 4
	helperHeight = 2
)

type helperModes struct {
	source    string
	encoder   string
	failChunk int
}

func useHelpers(t *testing.T, modes helperModes) string {
	t.Helper()
	stateDir := t.TempDir()
	restore := SetCommandContextForTests(func(ctx context.Context, name string, args ...string) *exec.Cmd {
		cs := append([]string{"-test.run=TestHelperProcess", "--", name}, args...)
		cmd := exec.CommandContext(ctx, os.Args[0], cs...)
		cmd.Env = append(os.Environ(),
			"GO_WANT_HELPER_PROCESS=1",
			"SOURCE_HELPER_MODE="+modes.source,
			"ENCODER_HELPER_MODE="+modes.encoder,
			"HELPER_STATE_DIR="+stateDir,
			fmt.Sprintf("HELPER_FAIL_CHUNK=%05d", modes.failChunk),
		)
		return cmd
	})
	t.Cleanup(restore)
	return stateDir
}

type recordingReporter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingReporter) Report(e progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingReporter) done() []progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []progress.Event
	for _, e := range r.events {
		if e.Kind == progress.KindDone {
			out = append(out, e)
		}
	}
	return out
}

type countingCheckpointer struct {
	mu    sync.Mutex
	calls int
	last  []queue.Chunk
}

func (c *countingCheckpointer) Checkpoint(q *queue.Queue) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.last = q.Snapshot()
	return nil
}

func evenRanges(chunks, size int) []segment.Range {
	ranges := make([]segment.Range, chunks)
	for i := range ranges {
		ranges[i] = segment.Range{Start: i * size, End: (i + 1) * size}
	}
	return ranges
}

func newTestPool(t *testing.T, q *queue.Queue, workers int, mutate func(*Options)) (*Pool, string) {
	t.Helper()
	enc, err := Lookup(config.EncoderSvtAv1)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	encodeDir := filepath.Join(t.TempDir(), "encode")
	opts := Options{
		Queue:     q,
		Source:    source.Source{FFmpeg: "ffmpeg", Input: "/media/in.mkv"},
		Encoder:   enc.WithBinary("fakeenc"),
		Params:    []string{"--preset", "8"},
		EncodeDir: encodeDir,
		Workers:   workers,
	}
	if mutate != nil {
		mutate(&opts)
	}
	pool, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return pool, encodeDir
}

func TestPoolRetriesFailedChunkOnce(t *testing.T) {
	useHelpers(t, helperModes{source: "ok", encoder: "fail_once", failChunk: 2})
	q := queue.New(evenRanges(4, 25), 3)
	reporter := &recordingReporter{}
	checkpoints := &countingCheckpointer{}
	pool, encodeDir := newTestPool(t, q, 2, func(o *Options) {
		o.Reporter = reporter
		o.Checkpointer = checkpoints
	})

	if err := pool.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !q.Complete() {
		t.Fatalf("expected complete queue, got %+v", q.Counts())
	}
	total := 0
	for _, chunk := range q.Snapshot() {
		wantAttempts := 1
		if chunk.Index == 2 {
			wantAttempts = 2
		}
		if chunk.Attempts != wantAttempts {
			t.Fatalf("chunk %d attempts = %d, want %d", chunk.Index, chunk.Attempts, wantAttempts)
		}
		wantPath := filepath.Join(encodeDir, fmt.Sprintf("%05d.ivf", chunk.Index))
		if chunk.OutputPath != wantPath {
			t.Fatalf("chunk %d output = %q, want %q", chunk.Index, chunk.OutputPath, wantPath)
		}
		data, err := os.ReadFile(chunk.OutputPath)
		if err != nil {
			t.Fatalf("read artifact: %v", err)
		}
		want := "frames=25 limit=25\n"
		if string(data) != want {
			t.Fatalf("chunk %d artifact = %q, want %q", chunk.Index, data, want)
		}
		total += 25
	}
	if total != 100 {
		t.Fatalf("encoded %d frames, want 100", total)
	}

	done := reporter.done()
	if len(done) != 4 {
		t.Fatalf("expected 4 done events, got %d", len(done))
	}
	for _, e := range done {
		if e.Frames != 25 {
			t.Fatalf("done event carries %d frames, want 25", e.Frames)
		}
	}
	checkpoints.mu.Lock()
	defer checkpoints.mu.Unlock()
	if checkpoints.calls < 9 {
		t.Fatalf("expected a checkpoint per transition, got %d", checkpoints.calls)
	}
	for _, chunk := range checkpoints.last {
		if chunk.Status != queue.StatusDone {
			t.Fatalf("final checkpoint shows chunk %d as %s", chunk.Index, chunk.Status)
		}
	}
}

func TestPoolStopsAfterRetryExhaustion(t *testing.T) {
	useHelpers(t, helperModes{source: "ok", encoder: "always_fail"})
	q := queue.New(evenRanges(3, 10), 3)
	pool, _ := newTestPool(t, q, 1, nil)

	err := pool.Run(context.Background())
	if err == nil {
		t.Fatal("expected failure")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
	var chunkErr *ChunkError
	if !errors.As(err, &chunkErr) || chunkErr.Index != 0 || chunkErr.Attempts != 3 {
		t.Fatalf("expected chunk 0 to fail after 3 attempts, got %v", err)
	}
	if !strings.Contains(err.Error(), "invalid preset") {
		t.Fatalf("expected encoder stderr in error, got %v", err)
	}
	chunk, _ := q.Get(0)
	if chunk.Status != queue.StatusFailed || chunk.Attempts != 3 {
		t.Fatalf("unexpected chunk state %+v", chunk)
	}
	if counts := q.Counts(); counts.Pending != 2 || counts.Done != 0 {
		t.Fatalf("no other chunk should start after abort, got %+v", counts)
	}
}

func TestPoolSpawnFailureIsNotRetried(t *testing.T) {
	useHelpers(t, helperModes{source: "ok", encoder: "ok"})
	q := queue.New(evenRanges(2, 10), 5)
	pool, _ := newTestPool(t, q, 1, func(o *Options) {
		o.Encoder = o.Encoder.WithBinary(filepath.Join(t.TempDir(), "missing-encoder"))
	})
	restore := SetCommandContextForTests(func(ctx context.Context, name string, args ...string) *exec.Cmd {
		if strings.HasSuffix(name, "missing-encoder") {
			return exec.CommandContext(ctx, name, args...)
		}
		cmd := exec.CommandContext(ctx, os.Args[0], append([]string{"-test.run=TestHelperProcess", "--", name}, args...)...)
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "SOURCE_HELPER_MODE=ok")
		return cmd
	})
	defer restore()

	err := pool.Run(context.Background())
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	chunk, _ := q.Get(0)
	if chunk.Status != queue.StatusFailed || chunk.Attempts != 1 {
		t.Fatalf("spawn failure should fail after one attempt, got %+v", chunk)
	}
}

func TestPoolRejectsShortFrameSource(t *testing.T) {
	useHelpers(t, helperModes{source: "short", encoder: "ok"})
	q := queue.New(evenRanges(1, 10), 2)
	pool, _ := newTestPool(t, q, 1, nil)

	err := pool.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "produced 9 frames, expected 10") {
		t.Fatalf("expected frame count mismatch, got %v", err)
	}
	if chunk, _ := q.Get(0); chunk.Attempts != 2 {
		t.Fatalf("frame mismatch should be retried, got %+v", chunk)
	}
}

func TestPoolRejectsEmptyArtifact(t *testing.T) {
	useHelpers(t, helperModes{source: "ok", encoder: "empty"})
	q := queue.New(evenRanges(1, 5), 1)
	pool, _ := newTestPool(t, q, 1, nil)

	if err := pool.Run(context.Background()); !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error for empty artifact, got %v", err)
	}
}

func TestPoolStopsSourceAfterEncoderFinishes(t *testing.T) {
	useHelpers(t, helperModes{source: "linger", encoder: "limit"})
	q := queue.New(evenRanges(2, 10), 1)
	pool, encodeDir := newTestPool(t, q, 2, nil)

	start := time.Now()
	if err := pool.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if elapsed := time.Since(start); elapsed >= waitDelay {
		t.Fatalf("Run waited %v for a source the encoder no longer reads", elapsed)
	}
	if counts := q.Counts(); counts.Done != 2 || counts.Failed != 0 {
		t.Fatalf("unexpected counts %+v", counts)
	}
	data, err := os.ReadFile(filepath.Join(encodeDir, "00001.ivf"))
	if err != nil || string(data) != "frames=10 limit=10\n" {
		t.Fatalf("unexpected artifact %q (%v)", data, err)
	}
}

func TestPoolWatchdogKillsStalledAttempt(t *testing.T) {
	useHelpers(t, helperModes{source: "stall", encoder: "ok"})
	q := queue.New(evenRanges(1, 10), 1)
	pool, _ := newTestPool(t, q, 1, func(o *Options) {
		o.Watchdog = 50 * time.Millisecond
	})

	start := time.Now()
	err := pool.Run(context.Background())
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("watchdog took too long: %v", elapsed)
	}
}

func TestPoolCancellationRollsBackRunningChunks(t *testing.T) {
	useHelpers(t, helperModes{source: "stall", encoder: "ok"})
	q := queue.New(evenRanges(4, 10), 3)
	checkpoints := &countingCheckpointer{}
	pool, _ := newTestPool(t, q, 2, func(o *Options) {
		o.Checkpointer = checkpoints
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- pool.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for q.Counts().Running < 2 {
		if time.Now().After(deadline) {
			t.Fatal("workers never claimed chunks")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	for _, chunk := range q.Snapshot() {
		if chunk.Status != queue.StatusPending || chunk.Attempts != 0 {
			t.Fatalf("chunk %d not rolled back: %+v", chunk.Index, chunk)
		}
	}
	checkpoints.mu.Lock()
	defer checkpoints.mu.Unlock()
	for _, chunk := range checkpoints.last {
		if chunk.Status != queue.StatusPending {
			t.Fatalf("final checkpoint shows chunk %d as %s", chunk.Index, chunk.Status)
		}
	}
}

func TestPoolPassesEncoderArguments(t *testing.T) {
	var (
		mu       sync.Mutex
		captured [][]string
	)
	useHelpers(t, helperModes{source: "ok", encoder: "ok"})
	inner := commandContext
	restore := SetCommandContextForTests(func(ctx context.Context, name string, args ...string) *exec.Cmd {
		mu.Lock()
		captured = append(captured, append([]string{name}, args...))
		mu.Unlock()
		return inner(ctx, name, args...)
	})
	defer restore()

	q := queue.New([]segment.Range{{Start: 0, End: 30}, {Start: 30, End: 42}}, 1)
	pool, encodeDir := newTestPool(t, q, 1, func(o *Options) {
		o.Source.Filters = []string{"crop=1920:800:0:140"}
	})
	if err := pool.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	var src, enc []string
	for _, args := range captured {
		if args[0] == "ffmpeg" && strings.Contains(strings.Join(args, " "), `between(n\,30\,41)`) {
			src = args
		}
		if args[0] == "fakeenc" && slices.Contains(args, filepath.Join(encodeDir, "00001.ivf")) {
			enc = args
		}
	}
	if src == nil || enc == nil {
		t.Fatalf("missing captured commands: %q", captured)
	}
	if !slices.Contains(src, `select=between(n\,30\,41),setpts=N/FRAME_RATE/TB,crop=1920:800:0:140`) {
		t.Fatalf("unexpected source filter graph: %q", src)
	}
	wantEnc := []string{"fakeenc", "-i", "stdin", "--frames", "12", "--preset", "8", "-b", filepath.Join(encodeDir, "00001.ivf")}
	if !slices.Equal(enc, wantEnc) {
		t.Fatalf("encoder args = %q, want %q", enc, wantEnc)
	}
}

func TestNewValidatesOptions(t *testing.T) {
	enc, _ := Lookup(config.EncoderX264)
	q := queue.New(evenRanges(1, 10), 1)
	cases := []struct {
		name string
		opts Options
		want error
	}{
		{"no queue", Options{Encoder: enc, EncodeDir: "/tmp/x"}, services.ErrValidation},
		{"no dir", Options{Queue: q, Encoder: enc}, services.ErrValidation},
		{"no encoder", Options{Queue: q, EncodeDir: "/tmp/x"}, services.ErrConfiguration},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.opts); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	if len(args) < 2 {
		os.Exit(2)
	}
	name, args := args[1], args[2:]
	if name == "ffmpeg" {
		os.Exit(runSourceHelper(args))
	}
	os.Exit(runEncoderHelper(args))
}

func runSourceHelper(args []string) int {
	var start, last int
	for i, arg := range args {
		if arg == "-vf" && i+1 < len(args) {
			if _, err := fmt.Sscanf(args[i+1], `select=between(n\,%d\,%d)`, &start, &last); err != nil {
				fmt.Fprintln(os.Stderr, "bad filter graph:", err)
				return 2
			}
		}
	}
	frames := last - start + 1
	out := os.Stdout
	fmt.Fprintf(out, "YUV4MPEG2 W%d H%d F25:1 Ip A1:1 C420jpeg\n", helperWidth, helperHeight)
	switch os.Getenv("SOURCE_HELPER_MODE") {
	case "stall":
		time.Sleep(30 * time.Second)
		return 0
	case "short":
		frames--
	}
	size, _ := source.FrameSize(helperWidth, helperHeight, "420jpeg")
	payload := bytes.Repeat([]byte{0x80}, size)
	for range frames {
		if _, err := out.WriteString("FRAME\n"); err != nil {
			return 1
		}
		if _, err := out.Write(payload); err != nil {
			return 1
		}
	}
	if os.Getenv("SOURCE_HELPER_MODE") == "linger" {
		// Keep decoding the rest of the input without writing.
		time.Sleep(30 * time.Second)
	}
	return 0
}

func runEncoderHelper(args []string) int {
	var output, limit string
	for i, arg := range args {
		switch {
		case arg == "-b" && i+1 < len(args):
			output = args[i+1]
		case arg == "--frames" && i+1 < len(args):
			limit = args[i+1]
		}
	}
	switch os.Getenv("ENCODER_HELPER_MODE") {
	case "always_fail":
		_, _ = io.Copy(io.Discard, os.Stdin)
		fmt.Fprintln(os.Stderr, "Svt[error]: Error: invalid preset")
		return 1
	case "fail_once":
		if filepath.Base(output) == os.Getenv("HELPER_FAIL_CHUNK")+".ivf" {
			marker := filepath.Join(os.Getenv("HELPER_STATE_DIR"), filepath.Base(output)+".failed")
			if _, err := os.Stat(marker); errors.Is(err, os.ErrNotExist) {
				_ = os.WriteFile(marker, nil, 0o644)
				fmt.Fprintln(os.Stderr, "Segmentation fault")
				return 139
			}
		}
	case "empty":
		_, _ = io.Copy(io.Discard, os.Stdin)
		return writeArtifact(output, nil)
	case "limit":
		return encodeLimited(output, limit)
	}
	counter := source.NewCounter(nil)
	if _, err := io.Copy(counter, os.Stdin); err != nil {
		fmt.Fprintln(os.Stderr, "read y4m:", err)
		return 1
	}
	return writeArtifact(output, []byte(fmt.Sprintf("frames=%d limit=%s\n", counter.Frames(), limit)))
}

// encodeLimited reads exactly limit frames and exits without waiting for the
// end of its input.
func encodeLimited(output, limit string) int {
	want, err := strconv.Atoi(limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bad --frames:", limit)
		return 2
	}
	counter := source.NewCounter(nil)
	buf := make([]byte, 64)
	for counter.Frames() < want {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			if _, werr := counter.Write(buf[:n]); werr != nil {
				fmt.Fprintln(os.Stderr, "read y4m:", werr)
				return 1
			}
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, "input ended early:", err)
			return 1
		}
	}
	return writeArtifact(output, []byte(fmt.Sprintf("frames=%d limit=%s\n", counter.Frames(), limit)))
}

func writeArtifact(path string, data []byte) int {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
