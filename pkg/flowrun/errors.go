package flowrun

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorKind classifies node-level failures for retry decisions.
// A retry policy lists the kinds it considers retryable; any other kind
// propagates immediately without consuming an attempt.
type ErrorKind string

const (
	// KindModel covers failures from the model-call collaborator.
	KindModel ErrorKind = "model"

	// KindTool covers failures from the tool-call collaborator.
	KindTool ErrorKind = "tool"

	// KindTimeout covers per-node timeouts. A whole-run timeout is fatal
	// and never classified as a node error.
	KindTimeout ErrorKind = "timeout"

	// KindInternal covers custom node failures, subworkflow failures,
	// and recovered panics.
	KindInternal ErrorKind = "internal"
)

// Sentinel errors for definition building and compilation.
var (
	// ErrNoEntryNode indicates SetEntry() was not called before Compile().
	ErrNoEntryNode = errors.New("entry node not set")

	// ErrEntryNotFound indicates the entry node references a non-existent node.
	ErrEntryNotFound = errors.New("entry node not found")

	// ErrNodeNotFound indicates an edge or config references a non-existent node.
	ErrNodeNotFound = errors.New("node not found")

	// ErrDuplicateNode indicates the same node id was added twice.
	ErrDuplicateNode = errors.New("duplicate node id")

	// ErrAmbiguousEdges indicates a node has more than one unconditional
	// outgoing edge. Routing ambiguity is a build-time failure, never
	// resolved at runtime.
	ErrAmbiguousEdges = errors.New("multiple unconditional edges")

	// ErrEmptyLoop indicates a loop declaration has no member nodes.
	ErrEmptyLoop = errors.New("loop has no members")

	// ErrLoopEscape indicates an edge leaves a loop's member set. Loops
	// exit only through their exit condition.
	ErrLoopEscape = errors.New("edge escapes loop members")
)

// Sentinel errors for execution.
var (
	// ErrNilContext indicates Execute/Stream was called with a nil context.
	ErrNilContext = errors.New("context cannot be nil")

	// ErrNoModelClient indicates a model-call node ran without a configured client.
	ErrNoModelClient = errors.New("no model client configured")

	// ErrNoTool indicates a tool-call node referenced an unregistered tool.
	ErrNoTool = errors.New("tool not registered")

	// ErrRunTimeout indicates the whole-run timeout elapsed. Always fatal.
	ErrRunTimeout = errors.New("run timeout exceeded")
)

// GraphError reports a malformed workflow definition. It is raised by
// Compile(), before any execution starts, and aggregates every problem
// found rather than stopping at the first.
type GraphError struct {
	// Definition is the workflow name, if set.
	Definition string
	// Problems are the individual validation failures.
	Problems []error
}

// Error implements the error interface.
func (e *GraphError) Error() string {
	msgs := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		msgs[i] = p.Error()
	}
	return fmt.Sprintf("invalid workflow %q: %s", e.Definition, strings.Join(msgs, "; "))
}

// Unwrap returns the individual problems for errors.Is/As support.
func (e *GraphError) Unwrap() []error {
	return e.Problems
}

// RoutingError indicates no edge or condition branch matched at runtime.
// Fatal for the run.
type RoutingError struct {
	// NodeID is the node whose outgoing routing failed.
	NodeID string
}

// Error implements the error interface.
func (e *RoutingError) Error() string {
	return fmt.Sprintf("no matching route from node %s", e.NodeID)
}

// NodeError wraps any node-level failure, including collaborator failures.
// It carries the classification used by the retry policy.
type NodeError struct {
	// NodeID is the node that failed.
	NodeID string
	// Kind classifies the failure for retry decisions.
	Kind ErrorKind
	// Attempts is the number of attempts made before giving up.
	Attempts int
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("node %s: %s error after %d attempts: %v", e.NodeID, e.Kind, e.Attempts, e.Err)
	}
	return fmt.Sprintf("node %s: %s error: %v", e.NodeID, e.Kind, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *NodeError) Unwrap() error {
	return e.Err
}

// LoopLimitError indicates a loop exhausted its iteration cap without the
// exit condition becoming true. Never silently capped: a runaway loop is a
// bug to surface, not to hide.
type LoopLimitError struct {
	// LoopID is the loop that overran.
	LoopID string
	// MaxIterations is the configured cap.
	MaxIterations int
}

// Error implements the error interface.
func (e *LoopLimitError) Error() string {
	return fmt.Sprintf("loop %s exceeded %d iterations without exit condition", e.LoopID, e.MaxIterations)
}

// TimeoutError indicates a timeout elapsed. Per-node timeouts flow through
// the retry machinery as a NodeError of KindTimeout wrapping this error;
// a whole-run timeout (Run == true) is always fatal.
type TimeoutError struct {
	// NodeID is the node that timed out, empty for a run-level timeout.
	NodeID string
	// Timeout is the configured limit.
	Timeout time.Duration
	// Run reports whether this was the whole-run timeout.
	Run bool
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	if e.Run {
		return fmt.Sprintf("run exceeded timeout %s", e.Timeout)
	}
	return fmt.Sprintf("node %s exceeded timeout %s", e.NodeID, e.Timeout)
}

// Unwrap returns ErrRunTimeout for run-level timeouts.
func (e *TimeoutError) Unwrap() error {
	if e.Run {
		return ErrRunTimeout
	}
	return nil
}

// CancelledError indicates the run was cancelled via the caller-supplied
// context. Fatal and never retried; the partial result still exposes the
// execution path accumulated so far.
type CancelledError struct {
	// NodeID is the node that was about to execute or was executing.
	NodeID string
	// Cause is the underlying cancellation cause.
	Cause error
}

// Error implements the error interface.
func (e *CancelledError) Error() string {
	return fmt.Sprintf("run cancelled at node %s: %v", e.NodeID, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CancelledError) Unwrap() error {
	return e.Cause
}

// PanicError captures panic information from node execution.
type PanicError struct {
	// NodeID is the node that panicked.
	NodeID string
	// Value is the value passed to panic().
	Value any
	// Stack is the stack trace at the point of panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("node %s panicked: %v", e.NodeID, e.Value)
}
