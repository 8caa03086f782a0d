package queue

import (
	"strings"

	"chunkwise/internal/segment"
)

// Status represents the lifecycle of a chunk.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

var allStatuses = []Status{
	StatusPending,
	StatusRunning,
	StatusDone,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

type statusTransition struct {
	from Status
	to   Status
}

// restoreTransitions is applied when a persisted table is loaded. Work that
// was in flight, or that failed in a previous invocation, is queued again.
var restoreTransitions = []statusTransition{
	{from: StatusRunning, to: StatusPending},
	{from: StatusFailed, to: StatusPending},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus converts a string into a Status, reporting whether it is known.
func ParseStatus(value string) (Status, bool) {
	status := Status(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := statusSet[status]; !ok {
		return "", false
	}
	return status, true
}

// Chunk is one contiguous frame range encoded independently.
type Chunk struct {
	Index      int
	Start      int
	End        int
	Status     Status
	Retryable  bool
	OutputPath string
	Attempts   int
	LastError  string
}

// Frames returns the number of frames in the chunk.
func (c Chunk) Frames() int {
	return c.End - c.Start
}

// Range returns the chunk's frame range.
func (c Chunk) Range() segment.Range {
	return segment.Range{Start: c.Start, End: c.End}
}

// Counts summarises chunk statuses.
type Counts struct {
	Total   int
	Pending int
	Running int
	Done    int
	Failed  int
}

// Settled reports whether no chunk is pending or running.
func (c Counts) Settled() bool {
	return c.Pending == 0 && c.Running == 0
}
