package flowrun

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowrun/flowrun/pkg/flowrun/event"
	"github.com/flowrun/flowrun/pkg/flowrun/model"
	"github.com/flowrun/flowrun/pkg/flowrun/observability"
	"github.com/flowrun/flowrun/pkg/flowrun/statesink"
	"github.com/flowrun/flowrun/pkg/flowrun/tool"
)

// Engine executes a compiled Workflow. An Engine is immutable after New
// and safe for concurrent runs; all per-run state lives in the run's own
// ExecContext.
//
// Example:
//
//	eng := flowrun.New(wf,
//	    flowrun.WithModelClient(client),
//	    flowrun.WithTools(registry),
//	)
//	result, err := eng.Execute(ctx, map[string]any{"text": "hello"})
type Engine struct {
	wf         *Workflow
	model      model.Client
	tools      *tool.Registry
	logger     *slog.Logger
	sink       statesink.Sink
	bus        *event.Bus
	metrics    observability.MetricsRecorder
	spans      observability.SpanManager
	runTimeout time.Duration
	sinkFatal  bool
}

// New creates an engine for a compiled workflow.
func New(wf *Workflow, opts ...EngineOption) *Engine {
	e := &Engine{
		wf:      wf,
		tools:   tool.NewRegistry(),
		logger:  slog.Default(),
		metrics: observability.NoopMetrics{},
		spans:   observability.NoopSpanManager{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Workflow returns the compiled workflow this engine executes.
func (e *Engine) Workflow() *Workflow {
	return e.wf
}

// Execute runs the workflow to completion and returns the final result.
// On failure the result is still populated with the partial path and
// outputs accumulated before the error.
//
// Lifecycle events are published to the event bus when one is attached;
// Execute itself never blocks on event consumers beyond bus delivery.
func (e *Engine) Execute(ctx context.Context, input map[string]any, opts ...RunOption) (*Result, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	return e.run(ctx, input, newRunConfig(opts), nil)
}

// Stream runs the workflow and returns an unbuffered channel of lifecycle
// events. Each send is a suspension point: the engine does not proceed
// past an event until the consumer receives it, so consumers observe
// events in exact execution order.
//
// The channel is closed after the terminal WorkflowComplete or
// WorkflowError event. Consumers must drain the channel until it closes;
// if ctx is cancelled, remaining events may be dropped.
func (e *Engine) Stream(ctx context.Context, input map[string]any, opts ...RunOption) (<-chan event.Event, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	cfg := newRunConfig(opts)

	ch := make(chan event.Event)
	send := func(evt event.Event) bool {
		select {
		case ch <- evt:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(ch)
		e.run(ctx, input, cfg, send) //nolint:errcheck // error is carried by WorkflowError
	}()

	return ch, nil
}

// run is the shared body of Execute and Stream.
func (e *Engine) run(ctx context.Context, input map[string]any, cfg runConfig, send func(event.Event) bool) (*Result, error) {
	runID := cfg.runID
	if runID == "" {
		runID = uuid.New().String()
	}

	if e.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.runTimeout)
		defer cancel()
	}

	ec := newExecContext(runID, input, cfg.meta)
	em := &emitter{
		bus:       e.bus,
		send:      send,
		sink:      e.sink,
		sinkFatal: e.sinkFatal,
		logger:    e.logger,
		metrics:   e.metrics,
		runID:     runID,
	}

	ctx, span := e.spans.StartRunSpan(ctx, e.wf.name, runID)
	start := time.Now()

	observability.LogRunStart(e.logger, e.wf.name, runID)
	em.emit(ctx, event.New(event.WorkflowStart, runID))

	err := e.walk(ctx, e.wf, ec, em, e.wf.entry)
	duration := time.Since(start)

	result := &Result{
		NodeOutputs: ec.outputsSnapshot(),
		Path:        ec.Path(),
		Duration:    duration,
		Err:         err,
	}
	if ec.hasOutput {
		result.Output = ec.lastOutput
	}

	if err != nil {
		var cancelled *CancelledError
		if errors.As(err, &cancelled) {
			ec.markCancelled(cancelled.Error())
		}

		e.metrics.RecordRun(ctx, e.wf.name, false, duration)
		observability.LogRunError(e.logger, runID, err, duration, lastVisited(result.Path))
		evt := event.New(event.WorkflowError, runID)
		evt.Err = err
		em.emit(context.WithoutCancel(ctx), evt)
		e.spans.EndSpanWithError(span, err)
		return result, err
	}

	e.metrics.RecordRun(ctx, e.wf.name, true, duration)
	observability.LogRunComplete(e.logger, runID, duration, len(result.Path))
	evt := event.New(event.WorkflowComplete, runID)
	evt.Result = result
	em.emit(ctx, evt)
	e.spans.EndSpanWithError(span, nil)
	return result, nil
}

// lastVisited returns the last node on a path, or empty.
func lastVisited(path []string) string {
	if len(path) == 0 {
		return ""
	}
	return path[len(path)-1]
}

// interruptError classifies a done context into a run-level timeout or a
// cancellation at the node about to execute.
func (e *Engine) interruptError(ctx context.Context, nodeID string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Timeout: e.runTimeout, Run: true}
	}
	return &CancelledError{NodeID: nodeID, Cause: context.Cause(ctx)}
}

// emitter delivers lifecycle events to the attached bus and stream, and
// owns the state-sink write sequence. One emitter serves one run; it is
// shared by parallel branches, so the sequence counter is mutex-guarded.
type emitter struct {
	bus       *event.Bus
	send      func(event.Event) bool
	sink      statesink.Sink
	sinkFatal bool
	logger    *slog.Logger
	metrics   observability.MetricsRecorder
	runID     string

	mu  sync.Mutex
	seq int
}

// streaming reports whether a stream consumer is attached. Model nodes
// only request delta streaming when someone can observe it.
func (em *emitter) streaming() bool {
	return em.send != nil
}

// silent returns an emitter that only logs. Subworkflow nodes are opaque:
// their internal node visits produce no events or sink records.
func (em *emitter) silent() *emitter {
	return &emitter{
		logger:  em.logger,
		metrics: em.metrics,
		runID:   em.runID,
	}
}

func (em *emitter) emit(ctx context.Context, evt event.Event) {
	if em.bus != nil {
		if err := em.bus.Publish(ctx, evt); err != nil && !errors.Is(err, event.ErrBusClosed) {
			em.logger.Debug("event publish failed",
				slog.String("event_type", string(evt.Type)),
				slog.String("error", err.Error()))
		}
	}
	if em.send != nil {
		em.send(evt)
	}
}

func (em *emitter) nodeStart(ctx context.Context, nodeID string) {
	evt := event.New(event.NodeStart, em.runID)
	evt.NodeID = nodeID
	em.emit(ctx, evt)
}

func (em *emitter) nodeDelta(ctx context.Context, nodeID, delta string) {
	evt := event.New(event.NodeOutputDelta, em.runID)
	evt.NodeID = nodeID
	evt.Delta = delta
	em.emit(ctx, evt)
}

func (em *emitter) nodeComplete(ctx context.Context, nodeID string, output any, duration time.Duration) {
	evt := event.New(event.NodeComplete, em.runID)
	evt.NodeID = nodeID
	evt.Output = output
	evt.Duration = duration
	em.emit(ctx, evt)
}

func (em *emitter) nodeError(ctx context.Context, nodeID string, err error) {
	evt := event.New(event.NodeError, em.runID)
	evt.NodeID = nodeID
	evt.Err = err
	em.emit(ctx, evt)
}

// sinkWrite persists the run state after a completed node. Sink failures
// are logged and by default not fatal: persistence is advisory, the run
// is the truth. WithSinkFailureFatal flips that for callers whose record
// of the run matters more than the run itself.
func (em *emitter) sinkWrite(ctx context.Context, ec *ExecContext, nodeID string, output any) error {
	if em.sink == nil {
		return nil
	}

	em.mu.Lock()
	em.seq++
	seq := em.seq
	em.mu.Unlock()

	rec := statesink.Record{
		RunID:     em.runID,
		NodeID:    nodeID,
		Sequence:  seq,
		Output:    output,
		Path:      ec.Path(),
		Timestamp: time.Now().UTC(),
	}
	if err := em.sink.Write(ctx, rec); err != nil {
		observability.LogSinkError(em.logger, nodeID, err)
		if em.sinkFatal {
			return fmt.Errorf("state sink write for node %s: %w", nodeID, err)
		}
		return nil
	}

	var size int64
	if data, err := json.Marshal(output); err == nil {
		size = int64(len(data))
	}
	em.metrics.RecordSinkWrite(ctx, nodeID, size)
	return nil
}
