// Package statesink provides caller-supplied write-through persistence of
// run progress. The engine invokes the sink after every completed node
// with the node's output and the execution path accumulated so far,
// enabling external checkpointing and resumption without the engine
// owning any storage.
package statesink

import (
	"context"
	"errors"
	"time"
)

// Record is one write-through entry: the state of the run immediately
// after a node completed.
type Record struct {
	// RunID identifies the run.
	RunID string
	// NodeID is the node that just completed.
	NodeID string
	// Sequence is the 1-based completion counter within the run.
	Sequence int
	// Output is the node's recorded output.
	Output any
	// Path is the execution path accumulated so far.
	Path []string
	// Timestamp is when the record was written.
	Timestamp time.Time
}

// Sink persists records. Implementations must be safe for concurrent use:
// parallel branches complete nodes concurrently.
type Sink interface {
	// Write persists one record.
	Write(ctx context.Context, rec Record) error

	// Close releases any resources.
	Close() error
}

// ErrSinkClosed indicates the sink has been closed.
var ErrSinkClosed = errors.New("state sink closed")
