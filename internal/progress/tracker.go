package progress

import (
	"sync"
	"sync/atomic"
	"time"

	"chunkwise/internal/metrics"
)

// Kind identifies a progress event.
type Kind string

const (
	KindStarted Kind = "started"
	KindFrames  Kind = "frames"
	KindDone    Kind = "done"
	KindReset   Kind = "reset"
)

// Event reports the frame count of one chunk. Frames is absolute for the
// chunk's current attempt, never a delta.
type Event struct {
	Chunk  int
	Frames int
	Kind   Kind
}

// Snapshot is the aggregate view at one point in time.
type Snapshot struct {
	Frames      int
	Total       int
	Fraction    float64
	FPS         float64
	ETA         time.Duration
	ChunksDone  int
	ChunksTotal int
	Elapsed     time.Duration
}

// Percent returns Fraction scaled to 0-100.
func (s Snapshot) Percent() float64 {
	return s.Fraction * 100
}

// Display renders snapshots. Update is called from the tracker goroutine only.
type Display interface {
	Update(Snapshot)
	Finish(Snapshot)
}

// Options configures a Tracker.
type Options struct {
	TotalFrames int
	TotalChunks int
	// BaseFrames and BaseChunks count work finished by a previous run.
	BaseFrames int
	BaseChunks int
	Display    Display
	Metrics    *metrics.Recorder
	// Buffer is the event channel capacity; defaults to 256.
	Buffer int
	// Interval throttles display refreshes; defaults to 250ms.
	Interval time.Duration
}

// Tracker aggregates chunk events.
type Tracker struct {
	opts    Options
	events  chan Event
	quit    chan struct{}
	stopped chan struct{}
	once    sync.Once
	now     func() time.Time

	latest atomic.Pointer[Snapshot]

	// Owned by the run goroutine.
	started    time.Time
	active     map[int]int
	doneFrames int
	doneChunks int
	lastRender time.Time
}

// New starts a tracker goroutine. Close must be called to stop it.
func New(opts Options) *Tracker {
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	if opts.Interval <= 0 {
		opts.Interval = 250 * time.Millisecond
	}
	t := &Tracker{
		opts:    opts,
		events:  make(chan Event, opts.Buffer),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
		now:     time.Now,
		active:  make(map[int]int),
	}
	t.start()
	return t
}

func (t *Tracker) start() {
	t.started = t.now()
	initial := t.compute()
	t.latest.Store(&initial)
	t.opts.Metrics.SetFrames(initial.Frames, initial.Total)
	go t.run()
}

// Report queues an event. Frame events are dropped when the buffer is full;
// lifecycle events wait for room. Events sent after Close are discarded.
func (t *Tracker) Report(event Event) {
	if event.Kind == KindFrames {
		select {
		case t.events <- event:
		case <-t.quit:
		default:
		}
		return
	}
	select {
	case t.events <- event:
	case <-t.quit:
	}
}

// Snapshot returns the most recently published aggregate.
func (t *Tracker) Snapshot() Snapshot {
	return *t.latest.Load()
}

// Close drains queued events, finishes the display, and waits for the
// tracker goroutine. It is safe to call more than once.
func (t *Tracker) Close() Snapshot {
	t.once.Do(func() { close(t.quit) })
	<-t.stopped
	return t.Snapshot()
}

func (t *Tracker) run() {
	defer close(t.stopped)
	for {
		select {
		case event := <-t.events:
			t.apply(event)
		case <-t.quit:
			for {
				select {
				case event := <-t.events:
					t.apply(event)
				default:
					final := t.publish()
					if t.opts.Display != nil {
						t.opts.Display.Finish(final)
					}
					return
				}
			}
		}
	}
}

func (t *Tracker) apply(event Event) {
	switch event.Kind {
	case KindStarted, KindReset:
		t.active[event.Chunk] = 0
	case KindFrames:
		// A late frame event for a finished chunk must not resurrect it.
		if _, ok := t.active[event.Chunk]; ok {
			t.active[event.Chunk] = max(event.Frames, 0)
		}
	case KindDone:
		delete(t.active, event.Chunk)
		t.doneFrames += event.Frames
		t.doneChunks++
	}
	snap := t.publish()
	if t.opts.Display == nil {
		return
	}
	now := t.now()
	if event.Kind == KindDone || now.Sub(t.lastRender) >= t.opts.Interval {
		t.lastRender = now
		t.opts.Display.Update(snap)
	}
}

func (t *Tracker) publish() Snapshot {
	snap := t.compute()
	t.latest.Store(&snap)
	t.opts.Metrics.SetFrames(snap.Frames, snap.Total)
	return snap
}

func (t *Tracker) compute() Snapshot {
	session := t.doneFrames
	for _, frames := range t.active {
		session += frames
	}
	snap := Snapshot{
		Frames:      t.opts.BaseFrames + session,
		Total:       t.opts.TotalFrames,
		ChunksDone:  t.opts.BaseChunks + t.doneChunks,
		ChunksTotal: t.opts.TotalChunks,
		Elapsed:     t.now().Sub(t.started),
	}
	if snap.Total > 0 {
		snap.Fraction = min(float64(snap.Frames)/float64(snap.Total), 1)
	}
	if secs := snap.Elapsed.Seconds(); secs > 0 && session > 0 {
		snap.FPS = float64(session) / secs
		if remaining := snap.Total - snap.Frames; remaining > 0 {
			snap.ETA = time.Duration(float64(remaining) / snap.FPS * float64(time.Second))
		}
	}
	return snap
}
