package flowrun

import (
	"context"
	"fmt"

	"github.com/flowrun/flowrun/pkg/flowrun/ref"
)

// runLoop executes a declared loop and returns the continuation node.
//
// Before each iteration, in order: collection exhaustion ends the loop,
// then the exit condition ends it, then exceeding the iteration cap fails
// the run with a fatal LoopLimitError. The cap is a correctness bound,
// never a silent truncation.
//
// One iteration walks the member subgraph from the node the walk arrived
// at; a back-edge to that node ends the iteration, as does a terminal
// member. Loop state (index, current item) is visible to predicates and
// references as loop.index and loop.item.
func (e *Engine) runLoop(ctx context.Context, wf *Workflow, ec *ExecContext, em *emitter, loop *LoopSpec, entry string) (string, error) {
	var items []any
	if loop.Over != "" {
		if v, ok := ref.Lookup(loop.Over, ec.Vars()); ok {
			items, _ = v.([]any)
		}
	}

	prev := ec.loop
	defer func() { ec.loop = prev }()

	for index := 0; ; index++ {
		if loop.Over != "" && index >= len(items) {
			break
		}

		state := &LoopState{LoopID: loop.ID, Index: index}
		if loop.Over != "" {
			state.Item = items[index]
		}
		ec.loop = state

		if loop.Exit != nil && loop.Exit(ec) {
			break
		}
		if index >= loop.MaxIterations {
			return "", &LoopLimitError{LoopID: loop.ID, MaxIterations: loop.MaxIterations}
		}

		current := entry
		for current != "" {
			if ctx.Err() != nil {
				return "", e.interruptError(ctx, current)
			}
			if !loop.member(current) {
				return "", fmt.Errorf("%w: loop %s reached %s", ErrLoopEscape, loop.ID, current)
			}
			next, err := e.step(ctx, wf, ec, em, current)
			if err != nil {
				return "", err
			}
			if next == entry {
				break
			}
			current = next
		}
	}

	return loop.After, nil
}
