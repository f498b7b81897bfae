package flowrun

import (
	"fmt"
	"log/slog"
)

// Compile validates the definition and returns an immutable Workflow.
// Validation is pure: it inspects the definition and produces either a
// Workflow or a *GraphError aggregating every problem found.
//
// Checks:
//  1. Entry node is set and exists
//  2. Every edge references existing nodes
//  3. At most one unconditional outgoing edge per node
//  4. Kind-specific config is coherent (condition targets, parallel
//     branch entries, tool/model fields, fallback targets)
//  5. Loop declarations: non-empty known members, positive iteration cap,
//     member edges stay inside the member set
//  6. Nested subworkflow definitions compile recursively
//
// Unreachable nodes are a non-fatal warning logged via slog.
func (d *Definition) Compile() (*Workflow, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	probs := append([]error(nil), d.problems...)

	if d.entry == "" {
		probs = append(probs, ErrNoEntryNode)
	} else if _, ok := d.nodes[d.entry]; !ok {
		probs = append(probs, fmt.Errorf("%w: %s", ErrEntryNotFound, d.entry))
	}

	probs = append(probs, d.validateEdges()...)
	probs = append(probs, d.validateNodes()...)
	probs = append(probs, d.validateLoops()...)

	// Compile nested definitions. Their own GraphErrors surface as
	// problems of the parent, prefixed with the node id.
	subflows := make(map[string]*Workflow)
	for _, id := range d.order {
		spec := d.nodes[id]
		if spec.Kind != NodeSubworkflow {
			continue
		}
		if spec.Workflow == nil {
			probs = append(probs, fmt.Errorf("subworkflow node %s has no definition", id))
			continue
		}
		sub, err := spec.Workflow.Compile()
		if err != nil {
			probs = append(probs, fmt.Errorf("subworkflow node %s: %w", id, err))
			continue
		}
		subflows[id] = sub
	}

	if len(probs) > 0 {
		return nil, &GraphError{Definition: d.name, Problems: probs}
	}

	d.warnUnreachable()

	return d.build(subflows), nil
}

// validateEdges checks edge endpoints and unconditional-edge uniqueness.
func (d *Definition) validateEdges() []error {
	var probs []error

	unconditional := make(map[string]int)
	for _, e := range d.edges {
		if _, ok := d.nodes[e.From]; !ok {
			probs = append(probs, fmt.Errorf("%w: edge source %q", ErrNodeNotFound, e.From))
		}
		if _, ok := d.nodes[e.To]; !ok {
			probs = append(probs, fmt.Errorf("%w: edge target %q", ErrNodeNotFound, e.To))
		}
		if e.When == nil {
			unconditional[e.From]++
		}
	}

	for from, count := range unconditional {
		if count > 1 {
			probs = append(probs, fmt.Errorf("%w: node %s has %d", ErrAmbiguousEdges, from, count))
		}
	}

	return probs
}

// validateNodes checks kind-specific configuration.
func (d *Definition) validateNodes() []error {
	var probs []error

	for _, id := range d.order {
		spec := d.nodes[id]
		switch spec.Kind {
		case NodeModelCall:
			if spec.Model == "" {
				probs = append(probs, fmt.Errorf("model-call node %s has no model", id))
			}
		case NodeToolCall:
			if spec.Tool == "" {
				probs = append(probs, fmt.Errorf("tool-call node %s has no tool reference", id))
			}
		case NodeCondition:
			if len(spec.Branches) == 0 && spec.Otherwise == "" {
				probs = append(probs, fmt.Errorf("condition node %s has no branches", id))
			}
			for i, b := range spec.Branches {
				if b.When == nil {
					probs = append(probs, fmt.Errorf("condition node %s branch %d has nil predicate", id, i))
				}
				if _, ok := d.nodes[b.Target]; !ok {
					probs = append(probs, fmt.Errorf("%w: condition node %s targets %q", ErrNodeNotFound, id, b.Target))
				}
			}
			if spec.Otherwise != "" {
				if _, ok := d.nodes[spec.Otherwise]; !ok {
					probs = append(probs, fmt.Errorf("%w: condition node %s otherwise %q", ErrNodeNotFound, id, spec.Otherwise))
				}
			}
		case NodeParallel:
			probs = append(probs, d.validateParallel(spec)...)
		case NodeSubworkflow:
			// Nested compilation handled by Compile.
		case NodeCustom:
			if spec.Func == nil {
				probs = append(probs, fmt.Errorf("custom node %s has nil func", id))
			}
		default:
			probs = append(probs, fmt.Errorf("node %s has unknown kind %q", id, spec.Kind))
		}

		if spec.Fallback != "" {
			if spec.Fallback == id {
				probs = append(probs, fmt.Errorf("node %s is its own fallback", id))
			} else if _, ok := d.nodes[spec.Fallback]; !ok {
				probs = append(probs, fmt.Errorf("%w: fallback of node %s: %q", ErrNodeNotFound, id, spec.Fallback))
			}
		}
		if spec.Retry != nil && spec.Retry.MaxAttempts < 1 {
			probs = append(probs, fmt.Errorf("node %s retry policy needs at least 1 attempt", id))
		}
	}

	return probs
}

func (d *Definition) validateParallel(spec *NodeSpec) []error {
	var probs []error

	if spec.Parallel == nil || len(spec.Parallel.Branches) == 0 {
		probs = append(probs, fmt.Errorf("parallel node %s has no branches", spec.ID))
		return probs
	}
	seen := make(map[string]bool)
	for _, b := range spec.Parallel.Branches {
		if b.Name == "" {
			probs = append(probs, fmt.Errorf("parallel node %s has unnamed branch", spec.ID))
		}
		if seen[b.Name] {
			probs = append(probs, fmt.Errorf("parallel node %s has duplicate branch %q", spec.ID, b.Name))
		}
		seen[b.Name] = true
		if _, ok := d.nodes[b.Entry]; !ok {
			probs = append(probs, fmt.Errorf("%w: parallel node %s branch %q entry %q", ErrNodeNotFound, spec.ID, b.Name, b.Entry))
		}
	}
	switch spec.Parallel.Policy {
	case "", FailAll, FailPartial, FailNone:
	default:
		probs = append(probs, fmt.Errorf("parallel node %s has unknown policy %q", spec.ID, spec.Parallel.Policy))
	}
	if spec.Parallel.MaxConcurrency < 0 {
		probs = append(probs, fmt.Errorf("parallel node %s has negative max concurrency", spec.ID))
	}

	return probs
}

// validateLoops checks loop declarations and member containment.
func (d *Definition) validateLoops() []error {
	var probs []error

	claimed := make(map[string]string) // node id -> loop id
	for _, loop := range d.loops {
		if loop.ID == "" {
			probs = append(probs, fmt.Errorf("loop declaration without id"))
			continue
		}
		if len(loop.Members) == 0 {
			probs = append(probs, fmt.Errorf("%w: %s", ErrEmptyLoop, loop.ID))
			continue
		}
		if loop.MaxIterations < 1 {
			probs = append(probs, fmt.Errorf("loop %s needs a positive iteration cap", loop.ID))
		}

		members := make(map[string]bool, len(loop.Members))
		for _, m := range loop.Members {
			if _, ok := d.nodes[m]; !ok {
				probs = append(probs, fmt.Errorf("%w: loop %s member %q", ErrNodeNotFound, loop.ID, m))
				continue
			}
			if other, taken := claimed[m]; taken {
				probs = append(probs, fmt.Errorf("node %s belongs to loops %s and %s", m, other, loop.ID))
			}
			claimed[m] = loop.ID
			members[m] = true
		}

		// Loops exit only through their exit condition: member edges
		// must stay inside the member set.
		for _, e := range d.edges {
			if members[e.From] && !members[e.To] {
				probs = append(probs, fmt.Errorf("%w: loop %s edge %s -> %s", ErrLoopEscape, loop.ID, e.From, e.To))
			}
		}

		if loop.After != "" {
			if _, ok := d.nodes[loop.After]; !ok {
				probs = append(probs, fmt.Errorf("%w: loop %s after %q", ErrNodeNotFound, loop.ID, loop.After))
			} else if members[loop.After] {
				probs = append(probs, fmt.Errorf("loop %s continues at its own member %s", loop.ID, loop.After))
			}
		}
	}

	return probs
}

// warnUnreachable logs nodes not reachable from the entry. Reachability
// follows edges, condition branch targets, parallel branch entries,
// fallbacks, and loop continuations.
func (d *Definition) warnUnreachable() {
	reachable := map[string]bool{d.entry: true}
	queue := []string{d.entry}

	targets := func(id string) []string {
		var out []string
		for _, e := range d.edges {
			if e.From == id {
				out = append(out, e.To)
			}
		}
		spec := d.nodes[id]
		if spec == nil {
			return out
		}
		for _, b := range spec.Branches {
			out = append(out, b.Target)
		}
		if spec.Otherwise != "" {
			out = append(out, spec.Otherwise)
		}
		if spec.Parallel != nil {
			for _, b := range spec.Parallel.Branches {
				out = append(out, b.Entry)
			}
		}
		if spec.Fallback != "" {
			out = append(out, spec.Fallback)
		}
		for _, loop := range d.loops {
			if loop.After == "" {
				continue
			}
			for _, m := range loop.Members {
				if m == id {
					out = append(out, loop.After)
					break
				}
			}
		}
		return out
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, next := range targets(current) {
			if !reachable[next] {
				reachable[next] = true
				queue = append(queue, next)
			}
		}
	}

	for _, id := range d.order {
		if !reachable[id] {
			slog.Warn("node is unreachable from entry",
				slog.String("workflow", d.name),
				slog.String("node_id", id))
		}
	}
}

// build creates the immutable Workflow from validated builder state.
func (d *Definition) build(subflows map[string]*Workflow) *Workflow {
	nodes := make(map[string]*NodeSpec, len(d.nodes))
	for id, spec := range d.nodes {
		nodes[id] = spec
	}

	edgesFrom := make(map[string][]Edge)
	for _, e := range d.edges {
		edgesFrom[e.From] = append(edgesFrom[e.From], e)
	}

	loops := make([]*LoopSpec, len(d.loops))
	copy(loops, d.loops)

	loopByMember := make(map[string]*LoopSpec)
	for _, loop := range loops {
		for _, m := range loop.Members {
			loopByMember[m] = loop
		}
	}

	return &Workflow{
		name:         d.name,
		nodes:        nodes,
		order:        append([]string(nil), d.order...),
		edgesFrom:    edgesFrom,
		entry:        d.entry,
		loops:        loops,
		loopByMember: loopByMember,
		subflows:     subflows,
	}
}
