package flowrun

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/flowrun/flowrun/pkg/flowrun/observability"
)

// supervise runs a node under its retry policy and fallback. Attempts
// repeat while the failure kind is retryable and attempts remain; an
// interrupt (cancellation, run timeout) aborts immediately and is never
// retried. After exhaustion the fallback node, if any, runs once and its
// output substitutes for the failed node's.
func (e *Engine) supervise(ctx context.Context, wf *Workflow, ec *ExecContext, em *emitter, spec *NodeSpec) (any, error) {
	maxAttempts := 1
	if spec.Retry != nil {
		maxAttempts = spec.Retry.MaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		output, err := e.attempt(ctx, wf, ec, em, spec)
		if err == nil {
			return output, nil
		}

		var nodeErr *NodeError
		if !errors.As(err, &nodeErr) {
			// Interrupts and other fatal errors bypass retry and fallback.
			return nil, err
		}
		nodeErr.Attempts = attempt
		lastErr = nodeErr

		if attempt == maxAttempts || spec.Retry == nil || !retryable(spec.Retry, nodeErr.Kind) {
			break
		}

		delay := backoffDelay(spec.Retry, attempt)
		e.metrics.RecordRetry(ctx, spec.ID)
		observability.LogRetry(e.logger, spec.ID, attempt, delay, nodeErr)
		if err := sleep(ctx, delay); err != nil {
			return nil, e.interruptError(ctx, spec.ID)
		}
	}

	if spec.Fallback != "" {
		return e.runFallback(ctx, wf, ec, em, spec, lastErr)
	}
	return nil, lastErr
}

// runFallback executes the fallback node once. The fallback appears on
// the path and emits its own node events, but its output is recorded
// under the original node's id by the caller, so downstream references
// are unaffected by the substitution.
func (e *Engine) runFallback(ctx context.Context, wf *Workflow, ec *ExecContext, em *emitter, spec *NodeSpec, cause error) (any, error) {
	fb, ok := wf.node(spec.Fallback)
	if !ok {
		return nil, cause
	}

	observability.LogFallback(e.logger, spec.ID, spec.Fallback, cause)
	ec.appendPath(fb.ID)
	em.nodeStart(ctx, fb.ID)
	start := time.Now()

	output, err := e.attempt(ctx, wf, ec, em, fb)
	duration := time.Since(start)
	e.metrics.RecordNodeExecution(ctx, fb.ID, duration, err)
	if err != nil {
		em.nodeError(ctx, fb.ID, err)
		return nil, errors.Join(cause, err)
	}

	em.nodeComplete(ctx, fb.ID, output, duration)
	return output, nil
}

// retryable reports whether a failure kind is eligible under the policy.
// An empty RetryableKinds list means every kind is retryable.
func retryable(p *RetryPolicy, kind ErrorKind) bool {
	if len(p.RetryableKinds) == 0 {
		return true
	}
	for _, k := range p.RetryableKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// backoffDelay computes the delay before the next attempt. attempt is the
// 1-based attempt that just failed.
func backoffDelay(p *RetryPolicy, attempt int) time.Duration {
	delay := p.BaseDelay
	if p.Backoff == BackoffExponential {
		for i := 1; i < attempt; i++ {
			delay *= 2
			if p.MaxDelay > 0 && delay >= p.MaxDelay {
				break
			}
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.Jitter > 0 {
		delay += time.Duration(p.Jitter * rand.Float64() * float64(delay))
	}
	return delay
}

// sleep waits for the delay, honoring context cancellation.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
