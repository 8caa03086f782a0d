package resume_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chunkwise/internal/queue"
	"chunkwise/internal/resume"
	"chunkwise/internal/segment"
	"chunkwise/internal/services"
)

func tenRanges() []segment.Range {
	ranges := make([]segment.Range, 10)
	for i := range ranges {
		ranges[i] = segment.Range{Start: i * 10, End: (i + 1) * 10}
	}
	return ranges
}

func newManager(t *testing.T, dir string, enabled, purge bool) *resume.Manager {
	t.Helper()
	m := resume.NewManager(resume.Options{Dir: dir, Enabled: enabled, PurgeStale: purge})
	if err := m.Lock(); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	t.Cleanup(func() { _ = m.Unlock() })
	return m
}

func baseInputs() resume.Inputs {
	return resume.Inputs{
		InputPath:     "/media/in.mkv",
		InputSize:     1 << 30,
		InputModTime:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Encoder:       "svt-av1",
		EncoderBinary: "SvtAv1EncApp",
		EncoderParams: "--preset 6 --crf 30",
		PixFmt:        "yuv420p10le",
		ChunkMethod:   "fixed",
		ChunkParams:   "interval=10",
		Boundaries:    segment.Boundaries(tenRanges()),
	}
}

// completeChunk claims the next chunk, writes its artifact, and checkpoints.
func completeChunk(t *testing.T, m *resume.Manager, q *queue.Queue) queue.Chunk {
	t.Helper()
	chunk, ok := q.ClaimNext()
	if !ok {
		t.Fatal("expected a chunk to claim")
	}
	out := filepath.Join(m.EncodeDir(), chunkName(chunk.Index))
	if err := os.WriteFile(out, []byte("encoded"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := q.MarkDone(chunk.Index, out); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}
	if err := m.Checkpoint(q); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	return chunk
}

func chunkName(index int) string {
	return fmt.Sprintf("%05d.ivf", index)
}

func TestFingerprintChangesWithEncoderParams(t *testing.T) {
	base := baseInputs()
	fp := resume.Fingerprint(base)
	if fp != resume.Fingerprint(baseInputs()) {
		t.Fatal("fingerprint must be deterministic")
	}
	if len(fp) != 64 {
		t.Fatalf("expected hex sha256, got %q", fp)
	}

	mutations := map[string]func(*resume.Inputs){
		"params":     func(in *resume.Inputs) { in.EncoderParams = "--preset 6 --crf 31" },
		"encoder":    func(in *resume.Inputs) { in.Encoder = "aom" },
		"binary":     func(in *resume.Inputs) { in.EncoderBinary = "/opt/SvtAv1EncApp" },
		"pix_fmt":    func(in *resume.Inputs) { in.PixFmt = "yuv420p" },
		"filters":    func(in *resume.Inputs) { in.Filters = []string{"crop=1920:800:0:140"} },
		"size":       func(in *resume.Inputs) { in.InputSize++ },
		"mtime":      func(in *resume.Inputs) { in.InputModTime = in.InputModTime.Add(time.Second) },
		"method":     func(in *resume.Inputs) { in.ChunkMethod = "scene" },
		"boundaries": func(in *resume.Inputs) { in.Boundaries = []int{10, 20} },
	}
	for name, mutate := range mutations {
		in := baseInputs()
		mutate(&in)
		if resume.Fingerprint(in) == fp {
			t.Fatalf("changing %s did not change the fingerprint", name)
		}
	}
}

func TestFingerprintNormalizesTimezone(t *testing.T) {
	a := baseInputs()
	b := baseInputs()
	b.InputModTime = a.InputModTime.In(time.FixedZone("X", 3600))
	if resume.Fingerprint(a) != resume.Fingerprint(b) {
		t.Fatal("equal instants in different zones must fingerprint equally")
	}
}

func TestPrepareFreshWritesInitialState(t *testing.T) {
	dir := t.TempDir()
	m := newManager(t, dir, true, true)
	fp := resume.Fingerprint(baseInputs())

	prep, err := m.Prepare(resume.Meta{Input: "/media/in.mkv"}, fp, tenRanges(), 3)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if prep.Decision != resume.DecisionFresh {
		t.Fatalf("expected fresh, got %s", prep.Decision)
	}
	state, err := m.Store().Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state.RunID == "" || state.TotalChunks != 10 || state.TotalFrames != 100 || state.Fingerprint != fp {
		t.Fatalf("unexpected state header %+v", state)
	}
	if prep.Queue.Counts().Pending != 10 {
		t.Fatalf("expected 10 pending chunks, got %+v", prep.Queue.Counts())
	}
}

func TestInterruptedRunResumesRemainingChunks(t *testing.T) {
	dir := t.TempDir()
	fp := resume.Fingerprint(baseInputs())

	first := resume.NewManager(resume.Options{Dir: dir, Enabled: true, PurgeStale: true})
	if err := first.Lock(); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	prep, err := first.Prepare(resume.Meta{}, fp, tenRanges(), 3)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	for range 3 {
		completeChunk(t, first, prep.Queue)
	}
	// One chunk is mid-encode when the interrupt lands.
	inflight, _ := prep.Queue.ClaimNext()
	if err := first.Checkpoint(prep.Queue); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if err := prep.Queue.Release(inflight.Index); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := first.Checkpoint(prep.Queue); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	runID := prep.State.RunID
	if err := first.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, resume.StateFileName))
	if err != nil {
		t.Fatalf("read state: %v", err)
	}
	var onDisk resume.RunState
	if err := json.Unmarshal(raw, &onDisk); err != nil {
		t.Fatalf("state file is not valid JSON: %v", err)
	}
	if onDisk.Done() != 3 {
		t.Fatalf("expected exactly 3 done chunks on disk, got %d", onDisk.Done())
	}
	if _, err := os.Stat(filepath.Join(dir, resume.StateFileName+".tmp")); !os.IsNotExist(err) {
		t.Fatalf("expected no leftover temp state file, stat err=%v", err)
	}

	second := newManager(t, dir, true, true)
	again, err := second.Prepare(resume.Meta{}, fp, tenRanges(), 3)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if again.Decision != resume.DecisionResumed {
		t.Fatalf("expected resumed, got %s (%s)", again.Decision, again.Reason)
	}
	if again.State.RunID != runID {
		t.Fatalf("resumed run should keep run id %q, got %q", runID, again.State.RunID)
	}
	claimed := 0
	for {
		chunk, ok := again.Queue.ClaimNext()
		if !ok {
			break
		}
		if chunk.Index < 3 {
			t.Fatalf("done chunk %d was claimed again", chunk.Index)
		}
		claimed++
	}
	if claimed != 7 {
		t.Fatalf("resume claimed %d chunks, want 7", claimed)
	}
}

func TestPrepareRejectsChangedFingerprint(t *testing.T) {
	dir := t.TempDir()
	m := newManager(t, dir, true, true)
	fp := resume.Fingerprint(baseInputs())
	prep, err := m.Prepare(resume.Meta{}, fp, tenRanges(), 3)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	done := completeChunk(t, m, prep.Queue)
	artifact := filepath.Join(m.EncodeDir(), chunkName(done.Index))

	changed := baseInputs()
	changed.EncoderParams = "--preset 4 --crf 30"
	stale, err := m.Prepare(resume.Meta{}, resume.Fingerprint(changed), tenRanges(), 3)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if stale.Decision != resume.DecisionStale {
		t.Fatalf("expected stale, got %s", stale.Decision)
	}
	if stale.Queue.Counts().Pending != 10 {
		t.Fatalf("stale run must start from scratch, got %+v", stale.Queue.Counts())
	}
	if stale.State.RunID == prep.State.RunID {
		t.Fatal("stale run must get a new run id")
	}
	if _, err := os.Stat(artifact); !os.IsNotExist(err) {
		t.Fatalf("expected stale artifact to be purged, stat err=%v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, resume.LockFileName)); err != nil {
		t.Fatalf("lock file must survive purge: %v", err)
	}
}

func TestPrepareRequeuesMissingArtifacts(t *testing.T) {
	dir := t.TempDir()
	m := newManager(t, dir, true, true)
	fp := resume.Fingerprint(baseInputs())
	prep, err := m.Prepare(resume.Meta{}, fp, tenRanges(), 3)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	first := completeChunk(t, m, prep.Queue)
	completeChunk(t, m, prep.Queue)
	if err := os.Remove(filepath.Join(m.EncodeDir(), chunkName(first.Index))); err != nil {
		t.Fatal(err)
	}

	again, err := m.Prepare(resume.Meta{}, fp, tenRanges(), 3)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if again.Decision != resume.DecisionResumed {
		t.Fatalf("expected resumed, got %s", again.Decision)
	}
	if len(again.Missing) != 1 || again.Missing[0] != first.Index {
		t.Fatalf("expected chunk %d reported missing, got %v", first.Index, again.Missing)
	}
	if counts := again.Queue.Counts(); counts.Done != 1 || counts.Pending != 9 {
		t.Fatalf("unexpected counts %+v", counts)
	}
}

func TestPrepareTreatsCorruptStateAsStale(t *testing.T) {
	dir := t.TempDir()
	m := newManager(t, dir, true, false)
	if err := os.WriteFile(filepath.Join(dir, resume.StateFileName), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	prep, err := m.Prepare(resume.Meta{}, "abc", tenRanges(), 1)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if prep.Decision != resume.DecisionStale {
		t.Fatalf("expected stale, got %s", prep.Decision)
	}
}

func TestPrepareWithResumeDisabledStartsFresh(t *testing.T) {
	dir := t.TempDir()
	fp := resume.Fingerprint(baseInputs())
	m := newManager(t, dir, true, true)
	prep, err := m.Prepare(resume.Meta{}, fp, tenRanges(), 3)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	completeChunk(t, m, prep.Queue)
	_ = m.Unlock()

	disabled := newManager(t, dir, false, true)
	again, err := disabled.Prepare(resume.Meta{}, fp, tenRanges(), 3)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if again.Decision != resume.DecisionFresh || again.Queue.Counts().Done != 0 {
		t.Fatalf("expected a fresh run, got %s with %+v", again.Decision, again.Queue.Counts())
	}
	if _, err := disabled.Peek(); !errors.Is(err, resume.ErrNoState) {
		t.Fatalf("Peek with resume disabled should report no state, got %v", err)
	}
}

func TestLockRejectsSecondRun(t *testing.T) {
	dir := t.TempDir()
	newManager(t, dir, true, true)
	other := resume.NewManager(resume.Options{Dir: dir, Enabled: true})
	if err := other.Lock(); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error for locked temp dir, got %v", err)
	}
}

func TestStoreLoadMissingAndCorrupt(t *testing.T) {
	dir := t.TempDir()
	store := resume.NewStore(dir)
	if _, err := store.Load(); !errors.Is(err, resume.ErrNoState) {
		t.Fatalf("expected ErrNoState, got %v", err)
	}
	bad := resume.RunState{Version: 1, Fingerprint: "x", TotalChunks: 2, Chunks: []resume.ChunkState{{Index: 0, Status: "done"}}}
	if err := store.Save(&bad); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := store.Load(); !errors.Is(err, resume.ErrCorruptState) {
		t.Fatalf("expected ErrCorruptState for mismatched chunk count, got %v", err)
	}
}

func TestRecordAudioSurvivesResume(t *testing.T) {
	dir := t.TempDir()
	fp := resume.Fingerprint(baseInputs())
	m := newManager(t, dir, true, true)
	if _, err := m.Prepare(resume.Meta{}, fp, tenRanges(), 3); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	audio := filepath.Join(dir, "audio.mkv")
	if err := os.WriteFile(audio, []byte("audio"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := m.RecordAudio(audio); err != nil {
		t.Fatalf("RecordAudio: %v", err)
	}

	if _, err := m.Prepare(resume.Meta{}, fp, tenRanges(), 3); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if got := m.AudioPath(); got != audio {
		t.Fatalf("expected audio path %q after resume, got %q", audio, got)
	}
	if state, _ := m.Store().Load(); state.Audio != "audio.mkv" {
		t.Fatalf("expected relative audio path in state, got %q", state.Audio)
	}
}

func TestDefaultTempDir(t *testing.T) {
	a := resume.DefaultTempDir("/media/in.mkv", "/out/movie.mkv")
	b := resume.DefaultTempDir("/media/in.mkv", "/out/other.mkv")
	c := resume.DefaultTempDir("/media/other.mkv", "/out/movie.mkv")
	if a != b {
		t.Fatalf("temp dir should depend on input only: %q vs %q", a, b)
	}
	if a == c {
		t.Fatal("different inputs must not share a temp dir")
	}
	if filepath.Dir(a) != "/out" || !strings.HasPrefix(filepath.Base(a), ".chunkwise-") || len(filepath.Base(a)) != len(".chunkwise-")+12 {
		t.Fatalf("unexpected temp dir %q", a)
	}
}
