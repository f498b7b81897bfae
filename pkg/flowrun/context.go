package flowrun

// LoopState tracks the position inside a declared loop.
type LoopState struct {
	// LoopID is the active loop.
	LoopID string
	// Index is the zero-based iteration counter.
	Index int
	// Item is the current element when iterating a collection, else nil.
	Item any
}

// ExecContext is the per-run mutable state bag threaded through dispatch:
// the read-only input, accumulated node outputs, the ordered execution
// path, loop state, and cancellation status.
//
// An ExecContext is exclusively owned by one run. Parallel branches
// receive independent forks taken at fan-out time; a fork is never
// mutated by more than one branch. The engine holds no state outside
// the context, so identical input and deterministic collaborators yield
// identical paths and outputs across runs.
type ExecContext struct {
	runID   string
	input   map[string]any
	outputs map[string]any
	path    []string
	loop    *LoopState
	meta    map[string]any

	lastOutput any
	hasOutput  bool

	cancelled    bool
	cancelReason string

	// forkBase is the parent path length at fork time; absorb() appends
	// only the suffix a branch added.
	forkBase int
}

func newExecContext(runID string, input, meta map[string]any) *ExecContext {
	if input == nil {
		input = make(map[string]any)
	}
	if meta == nil {
		meta = make(map[string]any)
	}
	return &ExecContext{
		runID:   runID,
		input:   input,
		outputs: make(map[string]any),
		meta:    meta,
	}
}

// RunID returns the unique identifier of this run.
func (ec *ExecContext) RunID() string {
	return ec.runID
}

// Input returns the run input. Treat it as read-only; the engine never
// copies it.
func (ec *ExecContext) Input() map[string]any {
	return ec.input
}

// NodeOutput returns the latest recorded output of a node and whether the
// node has executed yet.
func (ec *ExecContext) NodeOutput(nodeID string) (any, bool) {
	out, ok := ec.outputs[nodeID]
	return out, ok
}

// SetOutput records a node's output, overwriting any previous value.
// Loop iterations overwrite; accumulation across iterations is the node
// author's responsibility.
func (ec *ExecContext) SetOutput(nodeID string, output any) {
	ec.outputs[nodeID] = output
	ec.lastOutput = output
	ec.hasOutput = true
}

// Path returns a copy of the ordered list of every node visited,
// including repeats.
func (ec *ExecContext) Path() []string {
	return append([]string(nil), ec.path...)
}

// Loop returns the current loop state, or nil outside a loop.
func (ec *ExecContext) Loop() *LoopState {
	return ec.loop
}

// Metadata returns the per-run metadata map.
func (ec *ExecContext) Metadata() map[string]any {
	return ec.meta
}

// Cancelled reports whether the run was cancelled, with the reason.
func (ec *ExecContext) Cancelled() (bool, string) {
	return ec.cancelled, ec.cancelReason
}

func (ec *ExecContext) markCancelled(reason string) {
	ec.cancelled = true
	ec.cancelReason = reason
}

func (ec *ExecContext) appendPath(nodeID string) {
	ec.path = append(ec.path, nodeID)
}

// Fork creates an independent copy for one parallel branch. Outputs and
// path are copied so branches cannot observe each other's in-flight
// writes; output values themselves are treated as immutable.
func (ec *ExecContext) Fork() *ExecContext {
	outputs := make(map[string]any, len(ec.outputs))
	for k, v := range ec.outputs {
		outputs[k] = v
	}
	meta := make(map[string]any, len(ec.meta))
	for k, v := range ec.meta {
		meta[k] = v
	}
	return &ExecContext{
		runID:      ec.runID,
		input:      ec.input,
		outputs:    outputs,
		path:       append([]string(nil), ec.path...),
		loop:       ec.loop,
		meta:       meta,
		lastOutput: ec.lastOutput,
		hasOutput:  ec.hasOutput,
		forkBase:   len(ec.path),
	}
}

// absorb copies a completed fork's new outputs and visited nodes back
// into the parent. Called in declared branch order, so the merged path
// and outputs are deterministic.
func (ec *ExecContext) absorb(fork *ExecContext) {
	for k, v := range fork.outputs {
		ec.outputs[k] = v
	}
	if len(fork.path) > fork.forkBase {
		ec.path = append(ec.path, fork.path[fork.forkBase:]...)
	}
}

// outputsSnapshot returns a copy of all node outputs.
func (ec *ExecContext) outputsSnapshot() map[string]any {
	snap := make(map[string]any, len(ec.outputs))
	for k, v := range ec.outputs {
		snap[k] = v
	}
	return snap
}

// Vars exposes the context as a variable tree for reference resolution
// and condition expressions. Roots: input.*, nodes.<id>.output.*,
// loop.index / loop.item, and meta.*.
func (ec *ExecContext) Vars() map[string]any {
	nodes := make(map[string]any, len(ec.outputs))
	for id, out := range ec.outputs {
		nodes[id] = map[string]any{"output": out}
	}
	vars := map[string]any{
		"input": ec.input,
		"nodes": nodes,
		"meta":  ec.meta,
	}
	if ec.loop != nil {
		vars["loop"] = map[string]any{
			"index": ec.loop.Index,
			"item":  ec.loop.Item,
		}
	}
	return vars
}
