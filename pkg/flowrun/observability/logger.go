// Package observability provides structured logging, metrics, and
// distributed tracing for flowrun.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds run context to a logger. Returns a new logger with
// run_id, node_id, and attempt fields.
func EnrichLogger(logger *slog.Logger, runID, nodeID string, attempt int) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("run_id", runID),
		slog.String("node_id", nodeID),
		slog.Int("attempt", attempt),
	)
}

// LogRunStart logs the start of a workflow run.
func LogRunStart(logger *slog.Logger, workflow, runID string) {
	if logger == nil {
		return
	}
	logger.Info("workflow run starting",
		slog.String("workflow", workflow),
		slog.String("run_id", runID),
	)
}

// LogRunComplete logs successful run completion.
func LogRunComplete(logger *slog.Logger, runID string, duration time.Duration, nodeCount int) {
	if logger == nil {
		return
	}
	logger.Info("workflow run completed",
		slog.String("run_id", runID),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
		slog.Int("nodes_executed", nodeCount),
	)
}

// LogRunError logs run failure.
func LogRunError(logger *slog.Logger, runID string, err error, duration time.Duration, lastNode string) {
	if logger == nil {
		return
	}
	logger.Error("workflow run failed",
		slog.String("run_id", runID),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
		slog.String("last_node", lastNode),
	)
}

// LogNodeStart logs node execution start.
func LogNodeStart(logger *slog.Logger, nodeID string) {
	if logger == nil {
		return
	}
	logger.Debug("node starting",
		slog.String("node_id", nodeID),
	)
}

// LogNodeComplete logs successful node completion.
func LogNodeComplete(logger *slog.Logger, nodeID string, duration time.Duration) {
	if logger == nil {
		return
	}
	logger.Debug("node completed",
		slog.String("node_id", nodeID),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
}

// LogNodeError logs node execution failure.
func LogNodeError(logger *slog.Logger, nodeID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("node failed",
		slog.String("node_id", nodeID),
		slog.String("error", err.Error()),
	)
}

// LogRetry logs one retry attempt.
func LogRetry(logger *slog.Logger, nodeID string, attempt int, delay time.Duration, err error) {
	if logger == nil {
		return
	}
	logger.Warn("node retrying",
		slog.String("node_id", nodeID),
		slog.Int("attempt", attempt),
		slog.Duration("delay", delay),
		slog.String("error", err.Error()),
	)
}

// LogFallback logs fallback substitution after exhausted retries.
func LogFallback(logger *slog.Logger, nodeID, fallbackID string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("node falling back",
		slog.String("node_id", nodeID),
		slog.String("fallback_id", fallbackID),
		slog.String("error", err.Error()),
	)
}

// LogBranchError logs a parallel branch failure that did not abort the run.
func LogBranchError(logger *slog.Logger, parallelID, branch string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("parallel branch failed",
		slog.String("parallel_id", parallelID),
		slog.String("branch", branch),
		slog.String("error", err.Error()),
	)
}

// LogSinkError logs a state-sink write failure (non-fatal by default).
func LogSinkError(logger *slog.Logger, nodeID string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("state sink write failed",
		slog.String("node_id", nodeID),
		slog.String("error", err.Error()),
	)
}
