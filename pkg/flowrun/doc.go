// Package flowrun is a workflow orchestration engine that executes a
// directed graph of computation nodes against a shared, per-run execution
// context.
//
// A workflow is declared as a Definition: nodes keyed by id, ordered edges,
// an entry node, and bounded loop declarations. Compile() validates the
// definition once and returns an immutable Workflow that can be shared
// across runs. An Engine binds a Workflow to its collaborators (a model
// client, a tool registry, a state sink) and exposes two call modes:
//
//	res, err := engine.Execute(ctx, input)    // buffered, whole-run
//	events, err := engine.Stream(ctx, input)  // ordered event sequence
//
// Node kinds are a closed set: model-call, tool-call, condition, parallel,
// subworkflow, and custom. Kind-specific behavior is dispatched through a
// single exhaustive switch, so adding a kind is a localized change.
//
// Cyclic control flow is only permitted inside declared loops, each bounded
// by an exit condition and a hard iteration cap. Parallel fan-out runs each
// branch against an independent fork of the execution context and merges
// branch outputs in declared order. Every node execution is wrapped by a
// retry/fallback supervisor, and cancellation is checked before every node,
// at loop boundaries, and inside collaborator calls.
package flowrun
