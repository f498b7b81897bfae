package flowrun

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/flowrun/flowrun/pkg/flowrun/observability"
)

// BranchResult is one parallel branch's outcome, handed to the merge
// function in declared branch order regardless of completion order.
type BranchResult struct {
	// Name is the branch name from the spec.
	Name string
	// Output is the branch's terminal node output on success.
	Output any
	// Skipped reports that the branch failed under a tolerant policy.
	Skipped bool
	// Err is the branch failure, set when Skipped.
	Err error
}

// SkippedBranch marks a failed branch in the default merged output under
// FailPartial, so downstream consumers can distinguish "branch produced
// nil" from "branch was skipped".
type SkippedBranch struct {
	// Branch is the branch name.
	Branch string
	// Err is the failure that skipped the branch.
	Err error
}

// runParallel fans out the declared branches, each against an independent
// fork of the context, and merges the results.
//
// Branches run concurrently, bounded by MaxConcurrency. The failure
// policy decides what a branch error means: FailAll aborts the node with
// the first error, FailPartial records skip markers, FailNone drops
// failed branches after logging. Successful forks are absorbed back into
// the parent in declared branch order, so the merged path and outputs are
// deterministic however branches interleave.
func (e *Engine) runParallel(ctx context.Context, wf *Workflow, ec *ExecContext, em *emitter, spec *NodeSpec) (any, error) {
	ps := spec.Parallel
	policy := ps.Policy
	if policy == "" {
		policy = FailAll
	}

	results := make([]BranchResult, len(ps.Branches))
	forks := make([]*ExecContext, len(ps.Branches))

	var sem *semaphore.Weighted
	if ps.MaxConcurrency > 0 {
		sem = semaphore.NewWeighted(int64(ps.MaxConcurrency))
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, b := range ps.Branches {
		i, b := i, b
		fork := ec.Fork()
		fork.lastOutput = nil
		fork.hasOutput = false
		forks[i] = fork

		g.Go(func() error {
			if sem != nil {
				if err := sem.Acquire(gctx, 1); err != nil {
					results[i] = BranchResult{Name: b.Name, Skipped: true, Err: err}
					if policy == FailAll {
						return err
					}
					return nil
				}
				defer sem.Release(1)
			}

			if err := e.walk(gctx, wf, fork, em, b.Entry); err != nil {
				results[i] = BranchResult{Name: b.Name, Skipped: true, Err: err}
				if policy == FailAll {
					return err
				}
				observability.LogBranchError(e.logger, spec.ID, b.Name, err)
				return nil
			}

			results[i] = BranchResult{Name: b.Name, Output: fork.lastOutput}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, &NodeError{NodeID: spec.ID, Kind: KindInternal, Err: err}
	}

	// Absorb successful forks in declared order. A skipped branch's
	// partial state is discarded with its fork.
	for i, fork := range forks {
		if results[i].Skipped {
			continue
		}
		ec.absorb(fork)
	}

	merged := results
	if policy == FailNone {
		merged = merged[:0:0]
		for _, r := range results {
			if !r.Skipped {
				merged = append(merged, r)
			}
		}
	}

	merge := ps.Merge
	if merge == nil {
		merge = defaultMerge
	}
	output, err := merge(merged)
	if err != nil {
		return nil, &NodeError{NodeID: spec.ID, Kind: KindInternal, Err: err}
	}
	return output, nil
}

// defaultMerge keys branch outputs by branch name. Skipped branches map
// to SkippedBranch markers.
func defaultMerge(results []BranchResult) (any, error) {
	out := make(map[string]any, len(results))
	for _, r := range results {
		if r.Skipped {
			out[r.Name] = SkippedBranch{Branch: r.Name, Err: r.Err}
			continue
		}
		out[r.Name] = r.Output
	}
	return out, nil
}
