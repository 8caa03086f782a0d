package queue

import "errors"

var (
	// ErrUnknownChunk is returned for an index outside the table.
	ErrUnknownChunk = errors.New("unknown chunk")
	// ErrInvalidTransition is returned when a chunk is not in the state an
	// operation requires.
	ErrInvalidTransition = errors.New("invalid chunk transition")
)
