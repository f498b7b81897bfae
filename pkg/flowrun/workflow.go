package flowrun

// Workflow is an immutable, validated workflow definition. It is created
// by Definition.Compile() and is safe to share across concurrent runs;
// the structure cannot be modified after compilation.
type Workflow struct {
	name  string
	nodes map[string]*NodeSpec
	order []string
	entry string

	edgesFrom    map[string][]Edge
	loops        []*LoopSpec
	loopByMember map[string]*LoopSpec
	subflows     map[string]*Workflow
}

// Name returns the workflow name.
func (w *Workflow) Name() string {
	return w.name
}

// Entry returns the entry node id.
func (w *Workflow) Entry() string {
	return w.entry
}

// NodeIDs returns all node ids in declaration order.
func (w *Workflow) NodeIDs() []string {
	return append([]string(nil), w.order...)
}

// HasNode reports whether a node exists.
func (w *Workflow) HasNode(id string) bool {
	_, ok := w.nodes[id]
	return ok
}

// Node returns the spec for a node id, or nil if unknown.
func (w *Workflow) Node(id string) *NodeSpec {
	return w.nodes[id]
}

// node returns the spec for a node id. Used internally by the dispatcher.
func (w *Workflow) node(id string) (*NodeSpec, bool) {
	spec, ok := w.nodes[id]
	return spec, ok
}

// edges returns the outgoing edges of a node in declaration order.
func (w *Workflow) edges(id string) []Edge {
	return w.edgesFrom[id]
}

// loopFor returns the loop a node belongs to, or nil.
func (w *Workflow) loopFor(id string) *LoopSpec {
	return w.loopByMember[id]
}

// subflow returns the compiled child workflow of a subworkflow node.
func (w *Workflow) subflow(id string) (*Workflow, bool) {
	sub, ok := w.subflows[id]
	return sub, ok
}

// member reports whether a node id belongs to the loop.
func (l *LoopSpec) member(id string) bool {
	for _, m := range l.Members {
		if m == id {
			return true
		}
	}
	return false
}
