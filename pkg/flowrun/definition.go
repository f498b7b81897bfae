package flowrun

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// NodeKind identifies the behavior of a node. The set is closed; the
// dispatcher handles every kind through a single exhaustive switch.
type NodeKind string

const (
	// NodeModelCall invokes the model-call collaborator with a resolved prompt.
	NodeModelCall NodeKind = "model-call"

	// NodeToolCall invokes a registered tool with resolved input.
	NodeToolCall NodeKind = "tool-call"

	// NodeCondition routes to the first branch whose predicate is true.
	NodeCondition NodeKind = "condition"

	// NodeParallel fans out named branches against forked contexts.
	NodeParallel NodeKind = "parallel"

	// NodeSubworkflow runs a nested workflow and records its output.
	NodeSubworkflow NodeKind = "subworkflow"

	// NodeCustom runs caller-supplied Go logic.
	NodeCustom NodeKind = "custom"
)

// Predicate evaluates a routing or loop-exit condition against the
// execution context. Predicates must be deterministic for identical
// context state.
type Predicate func(ec *ExecContext) bool

// CustomFunc is the signature for custom node logic. The returned value
// is recorded as the node's output.
type CustomFunc func(ctx context.Context, ec *ExecContext) (any, error)

// MergeFunc combines parallel branch results into the parallel node's
// output. Results arrive in declared branch order, never completion order.
type MergeFunc func(results []BranchResult) (any, error)

// Branch is one arm of a condition node. The first branch whose predicate
// evaluates true wins, in declaration order.
type Branch struct {
	// When is the predicate to evaluate against the context.
	When Predicate
	// Target is the node to route to when the predicate is true.
	Target string
}

// FailurePolicy controls how a parallel node reacts to branch failures.
type FailurePolicy string

const (
	// FailAll aborts the parallel node on any branch failure; the first
	// error encountered propagates.
	FailAll FailurePolicy = "all"

	// FailPartial records failed branches as explicit skip markers passed
	// to the merge function; execution continues with what succeeded.
	FailPartial FailurePolicy = "partial"

	// FailNone only logs branch errors; merge receives successful results.
	FailNone FailurePolicy = "none"
)

// BranchSpec names one parallel branch and its entry node. The branch
// executes from its entry until a terminal node, against a forked context.
type BranchSpec struct {
	// Name identifies the branch in merge results.
	Name string
	// Entry is the first node of the branch subgraph.
	Entry string
}

// ParallelSpec configures a parallel fan-out node.
type ParallelSpec struct {
	// Branches are the ordered branch declarations.
	Branches []BranchSpec
	// Policy is the failure policy. Defaults to FailAll.
	Policy FailurePolicy
	// MaxConcurrency bounds simultaneously running branches.
	// 0 = unlimited. Excess branches queue FIFO.
	MaxConcurrency int
	// Merge combines branch results. Defaults to a map keyed by branch name.
	Merge MergeFunc
}

// BackoffKind selects the retry backoff strategy.
type BackoffKind string

const (
	// BackoffFixed waits BaseDelay between every attempt.
	BackoffFixed BackoffKind = "fixed"

	// BackoffExponential doubles the delay after each attempt, capped at MaxDelay.
	BackoffExponential BackoffKind = "exponential"
)

// RetryPolicy configures the retry supervisor for one node.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	MaxAttempts int
	// Backoff is the delay strategy between attempts.
	Backoff BackoffKind
	// BaseDelay is the initial inter-attempt delay.
	BaseDelay time.Duration
	// MaxDelay caps the exponential backoff. 0 = uncapped.
	MaxDelay time.Duration
	// RetryableKinds lists the error kinds eligible for retry.
	// Empty means every kind is retryable.
	RetryableKinds []ErrorKind
	// Jitter is the random jitter factor applied to delays (0.0-1.0).
	Jitter float64
}

// NodeSpec declares one node of a workflow. Construct with the kind
// helpers (ModelNode, ToolNode, ...) and refine with the With* methods.
type NodeSpec struct {
	// ID uniquely identifies the node within its definition.
	ID string
	// Kind selects the node behavior.
	Kind NodeKind

	// Model and Prompt configure model-call nodes. Prompt may contain
	// {{ path }} references resolved against the context.
	Model  string
	Prompt string
	// StreamOutput requests delta streaming from the model client when
	// the run is consumed through Stream().
	StreamOutput bool

	// Tool and Input configure tool-call nodes. Input values may contain
	// {{ path }} references. Input also supplies a subworkflow's input.
	Tool  string
	Input map[string]any

	// Branches and Otherwise configure condition nodes.
	Branches  []Branch
	Otherwise string

	// Parallel configures parallel nodes.
	Parallel *ParallelSpec

	// Workflow is the nested definition for subworkflow nodes.
	// It is compiled together with the parent.
	Workflow *Definition

	// Func is the logic for custom nodes.
	Func CustomFunc

	// Retry, Fallback and Timeout apply uniformly regardless of kind.
	Retry    *RetryPolicy
	Fallback string
	Timeout  time.Duration
}

// ModelNode declares a model-call node.
func ModelNode(id, model, prompt string) *NodeSpec {
	return &NodeSpec{ID: id, Kind: NodeModelCall, Model: model, Prompt: prompt}
}

// ToolNode declares a tool-call node.
func ToolNode(id, tool string, input map[string]any) *NodeSpec {
	return &NodeSpec{ID: id, Kind: NodeToolCall, Tool: tool, Input: input}
}

// ConditionNode declares a condition node with ordered branches.
func ConditionNode(id string, branches ...Branch) *NodeSpec {
	return &NodeSpec{ID: id, Kind: NodeCondition, Branches: branches}
}

// ParallelNode declares a parallel fan-out node.
func ParallelNode(id string, spec ParallelSpec) *NodeSpec {
	return &NodeSpec{ID: id, Kind: NodeParallel, Parallel: &spec}
}

// SubworkflowNode declares a nested workflow node. Input values become the
// child run's input after reference resolution; a nil input forwards the
// parent input unchanged.
func SubworkflowNode(id string, def *Definition, input map[string]any) *NodeSpec {
	return &NodeSpec{ID: id, Kind: NodeSubworkflow, Workflow: def, Input: input}
}

// CustomNode declares a node backed by caller-supplied Go logic.
func CustomNode(id string, fn CustomFunc) *NodeSpec {
	return &NodeSpec{ID: id, Kind: NodeCustom, Func: fn}
}

// WithRetry attaches a retry policy. Returns the spec for chaining.
func (n *NodeSpec) WithRetry(p RetryPolicy) *NodeSpec {
	n.Retry = &p
	return n
}

// WithFallback names the node dispatched when retries are exhausted.
// The fallback's output is recorded under this node's id, so downstream
// references are unaffected by the substitution.
func (n *NodeSpec) WithFallback(nodeID string) *NodeSpec {
	n.Fallback = nodeID
	return n
}

// WithTimeout bounds one execution attempt of this node.
func (n *NodeSpec) WithTimeout(d time.Duration) *NodeSpec {
	n.Timeout = d
	return n
}

// WithOtherwise sets the default target of a condition node, used when no
// branch predicate matches.
func (n *NodeSpec) WithOtherwise(target string) *NodeSpec {
	n.Otherwise = target
	return n
}

// WithStreaming requests model delta streaming for this node.
func (n *NodeSpec) WithStreaming() *NodeSpec {
	n.StreamOutput = true
	return n
}

// Edge is a directed, optionally conditional connection between nodes.
type Edge struct {
	// From and To are node ids.
	From, To string
	// When guards the edge; nil means unconditional. Conditional edges
	// are evaluated in declaration order, and the single unconditional
	// edge acts as the default.
	When Predicate
}

// LoopSpec declares a bounded loop over a subset of nodes. The member
// subgraph must be self-contained: edges from members may only target
// other members. The loop exits through its exit condition (or collection
// exhaustion) and continues at After.
type LoopSpec struct {
	// ID identifies the loop.
	ID string
	// Members are the node ids grouped by the loop.
	Members []string
	// Exit is evaluated before each iteration; true ends the loop.
	Exit Predicate
	// Over optionally references a collection ({{ path }} form is not
	// used here; it is a plain dotted path such as "input.items"). Each
	// iteration advances the loop state's current item, and exhaustion
	// ends the loop.
	Over string
	// MaxIterations is the hard cap. Exceeding it without the exit
	// condition becoming true fails the run with LoopLimitError.
	MaxIterations int
	// After is the node to continue at once the loop exits. Empty
	// terminates the run (or branch).
	After string
}

// Definition is a mutable builder for workflow definitions.
// Use NewDefinition, then chain AddNode, AddEdge, AddLoop and SetEntry,
// and finally call Compile() to validate and obtain an immutable Workflow.
//
// Definition is NOT thread-safe during building. Construct it from a
// single goroutine; the compiled Workflow is safe to share.
//
// Example:
//
//	def := flowrun.NewDefinition("support").
//	    AddNode(flowrun.ModelNode("classify", "fast", "Classify: {{ input.text }}")).
//	    AddNode(flowrun.ToolNode("lookup", "kb_search", map[string]any{
//	        "query": "{{ nodes.classify.output.content }}",
//	    })).
//	    AddEdge("classify", "lookup").
//	    SetEntry("classify")
//
//	wf, err := def.Compile()
type Definition struct {
	mu    sync.Mutex
	name  string
	nodes map[string]*NodeSpec
	order []string
	edges []Edge
	loops []*LoopSpec
	entry string

	// problems collects builder misuse (duplicate ids, nil specs) so
	// Compile can report everything at once as a GraphError.
	problems []error
}

// NewDefinition creates a new workflow definition builder.
func NewDefinition(name string) *Definition {
	return &Definition{
		name:  name,
		nodes: make(map[string]*NodeSpec),
	}
}

// Name returns the workflow name.
func (d *Definition) Name() string {
	return d.name
}

// AddNode adds a node to the definition. Returns the definition for
// chaining. Problems (duplicate or empty ids, nil specs) are collected
// and reported by Compile() as a GraphError.
func (d *Definition) AddNode(spec *NodeSpec) *Definition {
	d.mu.Lock()
	defer d.mu.Unlock()

	if spec == nil {
		d.problems = append(d.problems, fmt.Errorf("nil node spec"))
		return d
	}
	if spec.ID == "" {
		d.problems = append(d.problems, fmt.Errorf("node spec without id"))
		return d
	}
	if _, exists := d.nodes[spec.ID]; exists {
		d.problems = append(d.problems, fmt.Errorf("%w: %s", ErrDuplicateNode, spec.ID))
		return d
	}

	d.nodes[spec.ID] = spec
	d.order = append(d.order, spec.ID)
	return d
}

// AddEdge adds an unconditional edge. Edge validation happens at
// Compile() time, so edges may be added in any order.
func (d *Definition) AddEdge(from, to string) *Definition {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.edges = append(d.edges, Edge{From: from, To: to})
	return d
}

// AddEdgeWhen adds a conditional edge guarded by a predicate.
// Conditional edges are evaluated in declaration order before the
// unconditional default.
func (d *Definition) AddEdgeWhen(from, to string, when Predicate) *Definition {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.edges = append(d.edges, Edge{From: from, To: to, When: when})
	return d
}

// AddLoop declares a bounded loop.
func (d *Definition) AddLoop(loop LoopSpec) *Definition {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.loops = append(d.loops, &loop)
	return d
}

// SetEntry designates the entry node. Validation happens at Compile() time.
func (d *Definition) SetEntry(id string) *Definition {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.entry = id
	return d
}
