package flowrun

import (
	"context"
	"sync"
	"testing"
	"time"
)

// testCtx returns a context with a safety deadline so a hung test fails
// instead of blocking the suite.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// recorder tracks node execution order. Safe for parallel branches.
type recorder struct {
	mu  sync.Mutex
	ids []string
}

func (r *recorder) add(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

// node returns a custom node that records its visit and returns its own
// id as output.
func (r *recorder) node(id string) *NodeSpec {
	return CustomNode(id, func(_ context.Context, _ *ExecContext) (any, error) {
		r.add(id)
		return id, nil
	})
}

// mustCompile compiles a definition, failing the test on error.
func mustCompile(t *testing.T, def *Definition) *Workflow {
	t.Helper()
	wf, err := def.Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return wf
}

// linearDef builds entry -> ids[0] -> ids[1] -> ... with recording nodes.
func linearDef(name string, rec *recorder, ids ...string) *Definition {
	def := NewDefinition(name)
	for _, id := range ids {
		def.AddNode(rec.node(id))
	}
	for i := 0; i+1 < len(ids); i++ {
		def.AddEdge(ids[i], ids[i+1])
	}
	def.SetEntry(ids[0])
	return def
}
