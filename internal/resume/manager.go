package resume

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"chunkwise/internal/fileutil"
	"chunkwise/internal/logging"
	"chunkwise/internal/queue"
	"chunkwise/internal/segment"
	"chunkwise/internal/services"
)

// Decision records how Prepare treated the temp directory.
type Decision string

const (
	DecisionFresh   Decision = "fresh"
	DecisionResumed Decision = "resumed"
	DecisionStale   Decision = "stale"
)

// Options configures a Manager.
type Options struct {
	Dir        string
	Enabled    bool
	PurgeStale bool
	Logger     *slog.Logger
}

// Meta carries descriptive fields copied into a new Run State.
type Meta struct {
	Input   string
	Output  string
	Encoder string
}

// Preparation is the outcome of Prepare.
type Preparation struct {
	Decision Decision
	Reason   string
	State    *RunState
	Queue    *queue.Queue
	// Missing lists done chunks whose artifact vanished and were requeued.
	Missing []int
}

// Manager owns the temp directory for one run.
type Manager struct {
	dir        string
	enabled    bool
	purgeStale bool
	store      *Store
	lock       *flock.Flock
	logger     *slog.Logger
	now        func() time.Time

	mu    sync.Mutex
	state *RunState
}

// NewManager constructs a Manager. Call Lock before Prepare.
func NewManager(opts Options) *Manager {
	return &Manager{
		dir:        opts.Dir,
		enabled:    opts.Enabled,
		purgeStale: opts.PurgeStale,
		store:      NewStore(opts.Dir),
		lock:       flock.New(filepath.Join(opts.Dir, LockFileName)),
		logger:     logging.NewComponentLogger(opts.Logger, "resume"),
		now:        time.Now,
	}
}

// Dir returns the temp directory.
func (m *Manager) Dir() string {
	return m.dir
}

// EncodeDir returns the directory that holds chunk artifacts.
func (m *Manager) EncodeDir() string {
	return filepath.Join(m.dir, EncodeDirName)
}

// Store exposes the underlying Run State store.
func (m *Manager) Store() *Store {
	return m.store
}

// Lock creates the temp directory and takes its exclusive lock.
func (m *Manager) Lock() error {
	if err := os.MkdirAll(m.EncodeDir(), 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, "resume", "lock", "create temp directory", err)
	}
	ok, err := m.lock.TryLock()
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "resume", "lock", "acquire temp directory lock", err)
	}
	if !ok {
		return services.Wrap(services.ErrConfiguration, "resume", "lock",
			fmt.Sprintf("temp directory %s is in use by another run", m.dir), nil)
	}
	return nil
}

// Unlock releases the temp directory lock.
func (m *Manager) Unlock() error {
	return m.lock.Unlock()
}

// Peek returns the existing Run State without changing anything. It is used
// to skip boundary detection when a compatible state already records the
// chunk layout.
func (m *Manager) Peek() (*RunState, error) {
	if !m.enabled {
		return nil, ErrNoState
	}
	return m.store.Load()
}

// Prepare decides between a fresh start and a resume and returns the queue
// to run. ranges are the current segmentation and fp its fingerprint.
func (m *Manager) Prepare(meta Meta, fp string, ranges []segment.Range, maxAttempts int) (Preparation, error) {
	prior, loadErr := m.store.Load()
	switch {
	case loadErr == nil:
	case errors.Is(loadErr, ErrNoState):
		prior = nil
	case errors.Is(loadErr, ErrCorruptState):
		prior = nil
	default:
		return Preparation{}, services.Wrap(services.ErrConfiguration, "resume", "load", "read run state", loadErr)
	}

	if m.enabled && prior != nil && prior.Fingerprint == fp {
		return m.resume(prior, maxAttempts)
	}

	prep := Preparation{Decision: DecisionFresh}
	switch {
	case loadErr != nil && errors.Is(loadErr, ErrCorruptState):
		prep.Decision = DecisionStale
		prep.Reason = "run state is unreadable"
		m.warnStale(prep.Reason, loadErr)
	case prior != nil && !m.enabled:
		prep.Reason = "resume disabled"
		m.logger.Info("resume disabled; ignoring previous run state", logging.String("run_id", prior.RunID))
	case prior != nil:
		prep.Decision = DecisionStale
		prep.Reason = "configuration fingerprint changed"
		m.warnStale(prep.Reason, nil)
	}
	if prep.Decision == DecisionStale || prior != nil {
		if err := m.purge(); err != nil {
			return Preparation{}, err
		}
	}

	q := queue.New(ranges, maxAttempts)
	now := m.now().UTC()
	state := &RunState{
		Version:     stateVersion,
		RunID:       uuid.NewString(),
		Fingerprint: fp,
		Input:       meta.Input,
		Output:      meta.Output,
		Encoder:     meta.Encoder,
		TotalChunks: len(ranges),
		TotalFrames: totalFrames(ranges),
		CreatedAt:   now,
		UpdatedAt:   now,
		Chunks:      chunkStates(m.dir, q.Snapshot()),
	}
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
	if err := m.store.Save(state); err != nil {
		return Preparation{}, services.Wrap(services.ErrConfiguration, "resume", "save", "write initial run state", err)
	}
	prep.State = cloneState(state)
	prep.Queue = q
	return prep, nil
}

func (m *Manager) resume(prior *RunState, maxAttempts int) (Preparation, error) {
	chunks := queueChunks(m.dir, prior.Chunks)
	var missing []int
	for i := range chunks {
		c := &chunks[i]
		if c.Status != queue.StatusDone {
			continue
		}
		if _, err := fileutil.NonEmptyFile(c.OutputPath); err != nil {
			missing = append(missing, c.Index)
			c.Status = queue.StatusPending
			c.OutputPath = ""
			c.Attempts = 0
		}
	}
	q, err := queue.Restore(chunks, maxAttempts)
	if err != nil {
		return Preparation{}, err
	}
	if prior.Audio != "" {
		if _, err := fileutil.NonEmptyFile(absoluteFrom(m.dir, prior.Audio)); err != nil {
			prior.Audio = ""
		}
	}
	if len(missing) > 0 {
		logging.WarnWithContext(m.logger, "completed chunk artifacts missing; requeueing", "resume_missing_artifact",
			logging.Int("missing", len(missing)),
			logging.Any("chunks", missing),
			logging.String(logging.FieldErrorHint, "avoid editing the temp directory while a run is resumable"),
			logging.String(logging.FieldImpact, "the affected chunks are encoded again"),
		)
	}

	state := cloneState(prior)
	state.Chunks = chunkStates(m.dir, q.Snapshot())
	state.UpdatedAt = m.now().UTC()
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
	if err := m.store.Save(state); err != nil {
		return Preparation{}, services.Wrap(services.ErrConfiguration, "resume", "save", "write resumed run state", err)
	}
	counts := q.Counts()
	m.logger.Info("resuming previous run",
		logging.String(logging.FieldRunID, state.RunID),
		logging.Int("done", counts.Done),
		logging.Int("remaining", counts.Pending),
	)
	return Preparation{
		Decision: DecisionResumed,
		State:    cloneState(state),
		Queue:    q,
		Missing:  missing,
	}, nil
}

// Checkpoint persists the current queue snapshot. Snapshot and write happen
// under one lock so a slower caller cannot overwrite a newer checkpoint.
func (m *Manager) Checkpoint(q *queue.Queue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return errors.New("checkpoint before prepare")
	}
	m.state.Chunks = chunkStates(m.dir, q.Snapshot())
	m.state.UpdatedAt = m.now().UTC()
	return m.store.Save(m.state)
}

// RecordAudio stores the completed audio artifact so a resumed run can
// skip the audio pass.
func (m *Manager) RecordAudio(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return errors.New("record audio before prepare")
	}
	m.state.Audio = relativeTo(m.dir, path)
	m.state.UpdatedAt = m.now().UTC()
	return m.store.Save(m.state)
}

// AudioPath returns the recorded audio artifact, if any.
func (m *Manager) AudioPath() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return ""
	}
	return absoluteFrom(m.dir, m.state.Audio)
}

// State returns a copy of the current Run State.
func (m *Manager) State() *RunState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return nil
	}
	return cloneState(m.state)
}

// Cleanup removes the temp directory. The lock file goes with it, so call
// it only once the run no longer needs the lock.
func (m *Manager) Cleanup() error {
	_ = m.lock.Unlock()
	if err := os.RemoveAll(m.dir); err != nil {
		return fmt.Errorf("remove temp directory: %w", err)
	}
	return nil
}

func (m *Manager) warnStale(reason string, cause error) {
	attrs := []logging.Attr{
		logging.String("reason", reason),
		logging.String("temp_dir", m.dir),
		logging.String(logging.FieldErrorHint, "rerun with the original settings to resume, or keep the new ones to start over"),
		logging.String(logging.FieldImpact, "previously encoded chunks are discarded"),
	}
	if cause != nil {
		attrs = append(attrs, logging.Error(cause))
	}
	if !m.purgeStale {
		attrs[3] = logging.String(logging.FieldImpact, "previously encoded chunks are ignored and overwritten")
	}
	logging.WarnWithContext(m.logger, "previous run state is stale; starting fresh", "resume_stale", attrs...)
}

// purge drops artifacts of an incompatible run. With purge_stale off the
// files are left for inspection and simply overwritten chunk by chunk.
func (m *Manager) purge() error {
	if !m.purgeStale {
		return nil
	}
	if err := os.RemoveAll(m.EncodeDir()); err != nil {
		return services.Wrap(services.ErrConfiguration, "resume", "purge", "remove stale chunk artifacts", err)
	}
	if err := os.MkdirAll(m.EncodeDir(), 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, "resume", "purge", "recreate encode directory", err)
	}
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "resume", "purge", "list temp directory", err)
	}
	for _, entry := range entries {
		switch entry.Name() {
		case LockFileName, EncodeDirName:
			continue
		}
		if err := os.RemoveAll(filepath.Join(m.dir, entry.Name())); err != nil {
			return services.Wrap(services.ErrConfiguration, "resume", "purge", "remove stale file", err)
		}
	}
	return nil
}

func totalFrames(ranges []segment.Range) int {
	if len(ranges) == 0 {
		return 0
	}
	return ranges[len(ranges)-1].End
}

func cloneState(s *RunState) *RunState {
	if s == nil {
		return nil
	}
	out := *s
	out.Chunks = slices.Clone(s.Chunks)
	return &out
}
