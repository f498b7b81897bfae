// Package config loads workflow definitions from YAML or JSON files,
// letting workflows be declared as data. Condition branches, edge guards,
// and loop exits use the expression language from the expr package.
//
// Custom nodes cannot be declared in files: their logic is Go code.
// Declare the rest of the workflow in a file and add custom nodes to the
// returned Definition before compiling.
package config

import (
	"fmt"
	"time"

	"github.com/flowrun/flowrun/pkg/flowrun"
	"github.com/flowrun/flowrun/pkg/flowrun/expr"
)

// File is the top-level declarative workflow document.
type File struct {
	Name  string     `yaml:"name" json:"name"`
	Entry string     `yaml:"entry" json:"entry"`
	Nodes []FileNode `yaml:"nodes" json:"nodes"`
	Edges []FileEdge `yaml:"edges" json:"edges"`
	Loops []FileLoop `yaml:"loops" json:"loops"`
}

// FileNode declares one node. Kind-specific fields mirror NodeSpec.
type FileNode struct {
	ID   string `yaml:"id" json:"id"`
	Kind string `yaml:"kind" json:"kind"`

	Model  string `yaml:"model" json:"model"`
	Prompt string `yaml:"prompt" json:"prompt"`
	Stream bool   `yaml:"stream" json:"stream"`

	Tool  string         `yaml:"tool" json:"tool"`
	Input map[string]any `yaml:"input" json:"input"`

	Branches  []FileBranch `yaml:"branches" json:"branches"`
	Otherwise string       `yaml:"otherwise" json:"otherwise"`

	Parallel *FileParallel `yaml:"parallel" json:"parallel"`

	Workflow *File `yaml:"workflow" json:"workflow"`

	Retry    *FileRetry `yaml:"retry" json:"retry"`
	Fallback string     `yaml:"fallback" json:"fallback"`
	Timeout  string     `yaml:"timeout" json:"timeout"`
}

// FileBranch is one condition arm: an expression and a target node.
type FileBranch struct {
	When   string `yaml:"when" json:"when"`
	Target string `yaml:"target" json:"target"`
}

// FileParallel declares a parallel fan-out.
type FileParallel struct {
	Branches       []FileParallelBranch `yaml:"branches" json:"branches"`
	Policy         string               `yaml:"policy" json:"policy"`
	MaxConcurrency int                  `yaml:"max_concurrency" json:"max_concurrency"`
}

// FileParallelBranch names one parallel branch and its entry node.
type FileParallelBranch struct {
	Name  string `yaml:"name" json:"name"`
	Entry string `yaml:"entry" json:"entry"`
}

// FileRetry declares a retry policy. Delays use Go duration syntax.
type FileRetry struct {
	MaxAttempts int      `yaml:"max_attempts" json:"max_attempts"`
	Backoff     string   `yaml:"backoff" json:"backoff"`
	BaseDelay   string   `yaml:"base_delay" json:"base_delay"`
	MaxDelay    string   `yaml:"max_delay" json:"max_delay"`
	Retryable   []string `yaml:"retryable" json:"retryable"`
	Jitter      float64  `yaml:"jitter" json:"jitter"`
}

// FileEdge declares a directed edge, optionally guarded by an expression.
type FileEdge struct {
	From string `yaml:"from" json:"from"`
	To   string `yaml:"to" json:"to"`
	When string `yaml:"when" json:"when"`
}

// FileLoop declares a bounded loop.
type FileLoop struct {
	ID            string   `yaml:"id" json:"id"`
	Members       []string `yaml:"members" json:"members"`
	Exit          string   `yaml:"exit" json:"exit"`
	Over          string   `yaml:"over" json:"over"`
	MaxIterations int      `yaml:"max_iterations" json:"max_iterations"`
	After         string   `yaml:"after" json:"after"`
}

// Definition converts the document into a workflow definition builder.
// Structural validation is left to Compile(); Definition only rejects
// what cannot be represented, such as custom node kinds.
func (f *File) Definition() (*flowrun.Definition, error) {
	def := flowrun.NewDefinition(f.Name)

	for _, fn := range f.Nodes {
		spec, err := fn.spec()
		if err != nil {
			return nil, err
		}
		def.AddNode(spec)
	}

	for _, fe := range f.Edges {
		if fe.When == "" {
			def.AddEdge(fe.From, fe.To)
			continue
		}
		def.AddEdgeWhen(fe.From, fe.To, exprPredicate(fe.When))
	}

	for _, fl := range f.Loops {
		loop := flowrun.LoopSpec{
			ID:            fl.ID,
			Members:       fl.Members,
			Over:          fl.Over,
			MaxIterations: fl.MaxIterations,
			After:         fl.After,
		}
		if fl.Exit != "" {
			loop.Exit = exprPredicate(fl.Exit)
		}
		def.AddLoop(loop)
	}

	def.SetEntry(f.Entry)
	return def, nil
}

func (fn *FileNode) spec() (*flowrun.NodeSpec, error) {
	var spec *flowrun.NodeSpec

	switch flowrun.NodeKind(fn.Kind) {
	case flowrun.NodeModelCall:
		spec = flowrun.ModelNode(fn.ID, fn.Model, fn.Prompt)
		if fn.Stream {
			spec.WithStreaming()
		}
	case flowrun.NodeToolCall:
		spec = flowrun.ToolNode(fn.ID, fn.Tool, fn.Input)
	case flowrun.NodeCondition:
		branches := make([]flowrun.Branch, len(fn.Branches))
		for i, b := range fn.Branches {
			branches[i] = flowrun.Branch{
				When:   exprPredicate(b.When),
				Target: b.Target,
			}
		}
		spec = flowrun.ConditionNode(fn.ID, branches...)
		if fn.Otherwise != "" {
			spec.WithOtherwise(fn.Otherwise)
		}
	case flowrun.NodeParallel:
		if fn.Parallel == nil {
			return nil, fmt.Errorf("parallel node %s has no parallel block", fn.ID)
		}
		ps := flowrun.ParallelSpec{
			Policy:         flowrun.FailurePolicy(fn.Parallel.Policy),
			MaxConcurrency: fn.Parallel.MaxConcurrency,
		}
		for _, b := range fn.Parallel.Branches {
			ps.Branches = append(ps.Branches, flowrun.BranchSpec{Name: b.Name, Entry: b.Entry})
		}
		spec = flowrun.ParallelNode(fn.ID, ps)
	case flowrun.NodeSubworkflow:
		if fn.Workflow == nil {
			return nil, fmt.Errorf("subworkflow node %s has no workflow block", fn.ID)
		}
		sub, err := fn.Workflow.Definition()
		if err != nil {
			return nil, fmt.Errorf("subworkflow node %s: %w", fn.ID, err)
		}
		spec = flowrun.SubworkflowNode(fn.ID, sub, fn.Input)
	case flowrun.NodeCustom:
		return nil, fmt.Errorf("custom node %s cannot be declared in a file; add it in Go", fn.ID)
	default:
		return nil, fmt.Errorf("node %s has unknown kind %q", fn.ID, fn.Kind)
	}

	if fn.Retry != nil {
		policy, err := fn.Retry.policy(fn.ID)
		if err != nil {
			return nil, err
		}
		spec.WithRetry(policy)
	}
	if fn.Fallback != "" {
		spec.WithFallback(fn.Fallback)
	}
	if fn.Timeout != "" {
		d, err := time.ParseDuration(fn.Timeout)
		if err != nil {
			return nil, fmt.Errorf("node %s timeout: %w", fn.ID, err)
		}
		spec.WithTimeout(d)
	}

	return spec, nil
}

func (fr *FileRetry) policy(nodeID string) (flowrun.RetryPolicy, error) {
	policy := flowrun.RetryPolicy{
		MaxAttempts: fr.MaxAttempts,
		Backoff:     flowrun.BackoffKind(fr.Backoff),
		Jitter:      fr.Jitter,
	}
	if policy.Backoff == "" {
		policy.Backoff = flowrun.BackoffFixed
	}
	if fr.BaseDelay != "" {
		d, err := time.ParseDuration(fr.BaseDelay)
		if err != nil {
			return policy, fmt.Errorf("node %s retry base_delay: %w", nodeID, err)
		}
		policy.BaseDelay = d
	}
	if fr.MaxDelay != "" {
		d, err := time.ParseDuration(fr.MaxDelay)
		if err != nil {
			return policy, fmt.Errorf("node %s retry max_delay: %w", nodeID, err)
		}
		policy.MaxDelay = d
	}
	for _, k := range fr.Retryable {
		policy.RetryableKinds = append(policy.RetryableKinds, flowrun.ErrorKind(k))
	}
	return policy, nil
}

// exprPredicate compiles an expression string into a Predicate. An
// expression that fails to evaluate is false, matching the non-strict
// reference resolution default.
func exprPredicate(expression string) flowrun.Predicate {
	return func(ec *flowrun.ExecContext) bool {
		result, err := expr.Eval(expression, ec.Vars())
		if err != nil {
			return false
		}
		return result
	}
}
