package flowrun

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/flowrun/flowrun/pkg/flowrun/model"
	"github.com/flowrun/flowrun/pkg/flowrun/observability"
	"github.com/flowrun/flowrun/pkg/flowrun/ref"
)

// walk advances through the workflow one node at a time until it reaches
// a terminal node or an error. Arriving at a loop member hands control to
// the loop runner, which returns the continuation node.
func (e *Engine) walk(ctx context.Context, wf *Workflow, ec *ExecContext, em *emitter, from string) error {
	current := from
	for current != "" {
		if ctx.Err() != nil {
			return e.interruptError(ctx, current)
		}

		if loop := wf.loopFor(current); loop != nil {
			next, err := e.runLoop(ctx, wf, ec, em, loop, current)
			if err != nil {
				return err
			}
			current = next
			continue
		}

		next, err := e.step(ctx, wf, ec, em, current)
		if err != nil {
			return err
		}
		current = next
	}
	return nil
}

// step executes one node visit: path append, start event, dispatch,
// output recording, terminal event, sink write, and routing to the next
// node. Returns the next node id, empty for a terminal node.
func (e *Engine) step(ctx context.Context, wf *Workflow, ec *ExecContext, em *emitter, id string) (string, error) {
	spec, ok := wf.node(id)
	if !ok {
		return "", &RoutingError{NodeID: id}
	}

	ec.appendPath(id)
	em.nodeStart(ctx, id)
	observability.LogNodeStart(e.logger, id)
	nctx, span := e.spans.StartNodeSpan(ctx, id)
	start := time.Now()

	// Condition nodes are pure routing: no retries, no fallback. A failed
	// predicate evaluation cannot happen; only exhausted branches can.
	if spec.Kind == NodeCondition {
		target, err := e.route(ec, spec)
		duration := time.Since(start)
		e.metrics.RecordNodeExecution(nctx, id, duration, err)
		e.spans.EndSpanWithError(span, err)
		if err != nil {
			observability.LogNodeError(e.logger, id, err)
			em.nodeError(ctx, id, err)
			return "", err
		}
		ec.SetOutput(id, target)
		observability.LogNodeComplete(e.logger, id, duration)
		em.nodeComplete(ctx, id, target, duration)
		if err := em.sinkWrite(ctx, ec, id, target); err != nil {
			return "", err
		}
		return target, nil
	}

	output, err := e.supervise(nctx, wf, ec, em, spec)
	duration := time.Since(start)
	e.metrics.RecordNodeExecution(nctx, id, duration, err)
	e.spans.EndSpanWithError(span, err)
	if err != nil {
		observability.LogNodeError(e.logger, id, err)
		em.nodeError(ctx, id, err)
		return "", err
	}

	ec.SetOutput(id, output)
	observability.LogNodeComplete(e.logger, id, duration)
	em.nodeComplete(ctx, id, output, duration)
	if err := em.sinkWrite(ctx, ec, id, output); err != nil {
		return "", err
	}

	return e.next(wf, ec, id)
}

// route selects a condition node's target: the first branch whose
// predicate is true in declaration order, else Otherwise, else a fatal
// RoutingError.
func (e *Engine) route(ec *ExecContext, spec *NodeSpec) (string, error) {
	for _, b := range spec.Branches {
		if b.When(ec) {
			return b.Target, nil
		}
	}
	if spec.Otherwise != "" {
		return spec.Otherwise, nil
	}
	return "", &RoutingError{NodeID: spec.ID}
}

// next routes along the node's outgoing edges: conditional edges in
// declaration order, then the single unconditional edge as the default.
// A node with no edges is terminal; a node with only unmatched
// conditional edges is a fatal RoutingError.
func (e *Engine) next(wf *Workflow, ec *ExecContext, id string) (string, error) {
	edges := wf.edges(id)
	if len(edges) == 0 {
		return "", nil
	}

	def := ""
	hasDefault := false
	for _, edge := range edges {
		if edge.When == nil {
			def = edge.To
			hasDefault = true
			continue
		}
		if edge.When(ec) {
			return edge.To, nil
		}
	}
	if hasDefault {
		return def, nil
	}
	return "", &RoutingError{NodeID: id}
}

// attempt runs one execution attempt of a node, applying the per-node
// timeout. An elapsed per-node timeout is a retryable NodeError of
// KindTimeout; a done parent context is a fatal interrupt.
func (e *Engine) attempt(ctx context.Context, wf *Workflow, ec *ExecContext, em *emitter, spec *NodeSpec) (any, error) {
	actx := ctx
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	output, err := e.invoke(actx, wf, ec, em, spec)
	if err == nil {
		return output, nil
	}
	if ctx.Err() != nil {
		return nil, e.interruptError(ctx, spec.ID)
	}
	if spec.Timeout > 0 && errors.Is(actx.Err(), context.DeadlineExceeded) {
		return nil, &NodeError{
			NodeID: spec.ID,
			Kind:   KindTimeout,
			Err:    &TimeoutError{NodeID: spec.ID, Timeout: spec.Timeout},
		}
	}
	return nil, err
}

// invoke dispatches on the node kind. The kind set is closed; every kind
// is handled here. Panics in node logic are recovered into NodeErrors so
// one node cannot take down the engine.
func (e *Engine) invoke(ctx context.Context, wf *Workflow, ec *ExecContext, em *emitter, spec *NodeSpec) (output any, err error) {
	defer func() {
		if r := recover(); r != nil {
			output = nil
			err = &NodeError{
				NodeID: spec.ID,
				Kind:   KindInternal,
				Err:    &PanicError{NodeID: spec.ID, Value: r, Stack: string(debug.Stack())},
			}
		}
	}()

	switch spec.Kind {
	case NodeModelCall:
		return e.runModel(ctx, ec, em, spec)
	case NodeToolCall:
		return e.runTool(ctx, ec, spec)
	case NodeParallel:
		return e.runParallel(ctx, wf, ec, em, spec)
	case NodeSubworkflow:
		return e.runSubworkflow(ctx, wf, ec, em, spec)
	case NodeCustom:
		out, err := spec.Func(ctx, ec)
		if err != nil {
			return nil, &NodeError{NodeID: spec.ID, Kind: KindInternal, Err: err}
		}
		return out, nil
	case NodeCondition:
		// Reachable only as a fallback target; conditions route, they
		// do not produce output.
		return nil, &NodeError{
			NodeID: spec.ID,
			Kind:   KindInternal,
			Err:    fmt.Errorf("condition node %s is not executable", spec.ID),
		}
	default:
		return nil, &NodeError{
			NodeID: spec.ID,
			Kind:   KindInternal,
			Err:    fmt.Errorf("unknown node kind %q", spec.Kind),
		}
	}
}

// runModel invokes the model client with the resolved prompt. The output
// is a map with "content" and "usage" keys so downstream references can
// use nodes.<id>.output.content.
func (e *Engine) runModel(ctx context.Context, ec *ExecContext, em *emitter, spec *NodeSpec) (any, error) {
	if e.model == nil {
		return nil, &NodeError{NodeID: spec.ID, Kind: KindModel, Err: ErrNoModelClient}
	}

	req := model.Request{
		Model:  spec.Model,
		Prompt: ref.Expand(spec.Prompt, ec.Vars()),
	}

	if spec.StreamOutput && em.streaming() {
		return e.streamModel(ctx, em, spec, req)
	}

	resp, err := e.model.Complete(ctx, req)
	if err != nil {
		return nil, &NodeError{NodeID: spec.ID, Kind: KindModel, Err: err}
	}
	return modelOutput(resp.Content, resp.Usage), nil
}

// streamModel consumes a delta stream, forwarding each content fragment
// as a NodeOutputDelta event and accumulating the full content.
func (e *Engine) streamModel(ctx context.Context, em *emitter, spec *NodeSpec, req model.Request) (any, error) {
	deltas, err := e.model.Stream(ctx, req)
	if err != nil {
		return nil, &NodeError{NodeID: spec.ID, Kind: KindModel, Err: err}
	}

	var content strings.Builder
	var usage model.Usage
	for d := range deltas {
		if d.Err != nil {
			return nil, &NodeError{NodeID: spec.ID, Kind: KindModel, Err: d.Err}
		}
		if d.Content != "" {
			content.WriteString(d.Content)
			em.nodeDelta(ctx, spec.ID, d.Content)
		}
		if d.Usage != nil {
			usage = *d.Usage
		}
	}
	return modelOutput(content.String(), usage), nil
}

func modelOutput(content string, usage model.Usage) map[string]any {
	return map[string]any{
		"content": content,
		"usage": map[string]any{
			"input_tokens":  usage.InputTokens,
			"output_tokens": usage.OutputTokens,
		},
	}
}

// runTool invokes a registered tool with reference-resolved input.
func (e *Engine) runTool(ctx context.Context, ec *ExecContext, spec *NodeSpec) (any, error) {
	t, ok := e.tools.Get(spec.Tool)
	if !ok {
		return nil, &NodeError{
			NodeID: spec.ID,
			Kind:   KindTool,
			Err:    fmt.Errorf("%w: %s", ErrNoTool, spec.Tool),
		}
	}

	input := ref.ExpandMap(spec.Input, ec.Vars())
	output, err := t.Call(ctx, input)
	if err != nil {
		return nil, &NodeError{NodeID: spec.ID, Kind: KindTool, Err: err}
	}
	return output, nil
}

// runSubworkflow runs the nested workflow against a fresh context. The
// child is opaque to observers: no events or sink records are produced
// for its internal nodes, but its visited nodes are appended to the
// parent path and its terminal output is recorded under this node's id.
func (e *Engine) runSubworkflow(ctx context.Context, wf *Workflow, ec *ExecContext, em *emitter, spec *NodeSpec) (any, error) {
	sub, ok := wf.subflow(spec.ID)
	if !ok {
		return nil, &NodeError{
			NodeID: spec.ID,
			Kind:   KindInternal,
			Err:    fmt.Errorf("subworkflow node %s has no compiled workflow", spec.ID),
		}
	}

	input := ec.Input()
	if spec.Input != nil {
		input = ref.ExpandMap(spec.Input, ec.Vars())
	}

	child := newExecContext(ec.runID, input, nil)
	if err := e.walk(ctx, sub, child, em.silent(), sub.entry); err != nil {
		return nil, &NodeError{NodeID: spec.ID, Kind: KindInternal, Err: err}
	}

	ec.path = append(ec.path, child.path...)
	if child.hasOutput {
		return child.lastOutput, nil
	}
	return nil, nil
}
