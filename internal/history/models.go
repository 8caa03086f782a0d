package history

import (
	"strings"
	"time"
)

// Status is the outcome of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

var allStatuses = []Status{StatusRunning, StatusSucceeded, StatusFailed, StatusCanceled}

// ParseStatus converts a string into a Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range allStatuses {
		if status == normalized {
			return status, true
		}
	}
	return "", false
}

// Run is one ledger row.
type Run struct {
	ID             int64
	RunID          string
	Input          string
	Output         string
	Encoder        string
	Fingerprint    string
	ResumeDecision string
	Status         Status
	Detail         string
	Workers        int
	Counts         Counts
	OutputSize     int64
	StartedAt      time.Time
	FinishedAt     *time.Time
}

// Counts are the chunk totals recorded when a run finishes.
type Counts struct {
	ChunksTotal  int
	ChunksDone   int
	ChunksFailed int
	Attempts     int
	FramesTotal  int
}

// Duration returns the wall time of a finished run, or zero.
func (r Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
