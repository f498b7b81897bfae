// Package event defines the ordered lifecycle events of a workflow run
// and an in-memory bus for observing them without consuming the stream.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Type tags an event variant.
type Type string

const (
	// WorkflowStart is emitted once, before the entry node.
	WorkflowStart Type = "workflow_start"

	// NodeStart is emitted when a node visit begins.
	NodeStart Type = "node_start"

	// NodeOutputDelta carries one streamed content delta for a node.
	// Always preceded by NodeStart for the same visit.
	NodeOutputDelta Type = "node_output_delta"

	// NodeComplete terminates a successful node visit.
	NodeComplete Type = "node_complete"

	// NodeError terminates a failed node visit. Exactly one of
	// NodeComplete/NodeError ends every visit.
	NodeError Type = "node_error"

	// WorkflowComplete is emitted exactly once, immediately after the
	// terminal event of the last executed node on success.
	WorkflowComplete Type = "workflow_complete"

	// WorkflowError is emitted once on unrecoverable failure; no events
	// follow it.
	WorkflowError Type = "workflow_error"
)

// Event is one lifecycle event of a run. Fields are populated according
// to the Type; unused fields are zero.
type Event struct {
	// ID is a unique event identifier.
	ID string
	// Type tags the variant.
	Type Type
	// Time is when the event was produced.
	Time time.Time

	// RunID identifies the run.
	RunID string
	// NodeID is set for node-scoped events.
	NodeID string

	// Delta is the streamed content fragment for NodeOutputDelta.
	Delta string
	// Output is the node output for NodeComplete.
	Output any
	// Duration is the node visit duration for NodeComplete.
	Duration time.Duration
	// Err is set for NodeError and WorkflowError.
	Err error
	// Result is the run result for WorkflowComplete (a *flowrun.Result).
	Result any
}

// New creates an event with a fresh id and timestamp.
func New(t Type, runID string) Event {
	return Event{
		ID:    uuid.New().String(),
		Type:  t,
		Time:  time.Now().UTC(),
		RunID: runID,
	}
}
