package flowrun

import "time"

// Result is the outcome of a whole-run call. On failure the result is
// still returned alongside the error, with the execution path accumulated
// so far for diagnostics.
type Result struct {
	// Output is the terminal node's output.
	Output any

	// NodeOutputs is a snapshot of the latest output per executed node.
	NodeOutputs map[string]any

	// Path is the ordered list of every node visited, including repeats.
	Path []string

	// Duration is the wall-clock run time.
	Duration time.Duration

	// Err is set when the run failed or was cancelled.
	Err error
}
