package flowrun

import (
	"log/slog"
	"time"

	"github.com/flowrun/flowrun/pkg/flowrun/event"
	"github.com/flowrun/flowrun/pkg/flowrun/model"
	"github.com/flowrun/flowrun/pkg/flowrun/observability"
	"github.com/flowrun/flowrun/pkg/flowrun/statesink"
	"github.com/flowrun/flowrun/pkg/flowrun/tool"
)

// EngineOption configures an Engine at construction.
type EngineOption func(*Engine)

// WithModelClient attaches the model-call collaborator. Required for
// workflows containing model-call nodes.
func WithModelClient(c model.Client) EngineOption {
	return func(e *Engine) {
		e.model = c
	}
}

// WithTools attaches a tool registry. Required for workflows containing
// tool-call nodes.
func WithTools(r *tool.Registry) EngineOption {
	return func(e *Engine) {
		if r != nil {
			e.tools = r
		}
	}
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithStateSink attaches write-through persistence. After every completed
// node the engine writes a record with the node output and the execution
// path so far. Sink failures are logged, never fatal.
func WithStateSink(s statesink.Sink) EngineOption {
	return func(e *Engine) {
		e.sink = s
	}
}

// WithSinkFailureFatal makes state-sink write failures fail the run
// instead of only being logged.
func WithSinkFailureFatal() EngineOption {
	return func(e *Engine) {
		e.sinkFatal = true
	}
}

// WithEventBus attaches a bus receiving every lifecycle event, letting
// observers watch runs without consuming the stream.
func WithEventBus(b *event.Bus) EngineOption {
	return func(e *Engine) {
		e.bus = b
	}
}

// WithMetrics sets the metrics recorder. Defaults to a no-op.
func WithMetrics(m observability.MetricsRecorder) EngineOption {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithTracing sets the trace span manager. Defaults to a no-op.
func WithTracing(sm observability.SpanManager) EngineOption {
	return func(e *Engine) {
		if sm != nil {
			e.spans = sm
		}
	}
}

// WithRunTimeout bounds whole-run wall-clock time. Exceeding it fails the
// run with a fatal TimeoutError; per-node timeouts on NodeSpec remain
// retryable.
func WithRunTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.runTimeout = d
	}
}

// runConfig is per-run configuration assembled from RunOptions.
type runConfig struct {
	runID string
	meta  map[string]any
}

func newRunConfig(opts []RunOption) runConfig {
	var cfg runConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// RunOption configures a single Execute or Stream call.
type RunOption func(*runConfig)

// WithRunID sets the run identifier. Defaults to a fresh UUID.
func WithRunID(id string) RunOption {
	return func(cfg *runConfig) {
		cfg.runID = id
	}
}

// WithRunMetadata attaches metadata exposed to references under meta.*.
func WithRunMetadata(meta map[string]any) RunOption {
	return func(cfg *runConfig) {
		cfg.meta = meta
	}
}
