package graph

import "fmt"

// Workflow is an ordered collection of vertices and edges: the graph a
// Scheduler executes. Construct with NewWorkflow, add vertices/edges, then
// call Validate once before Run.
type Workflow struct {
	vertices map[string]*Vertex
	order    []string // insertion order, kept for deterministic iteration in logs/tests
	edges    []Edge
	outEdges map[string][]Edge
	inEdges  map[string][]Edge

	validated bool
}

// NewWorkflow returns an empty, mutable Workflow.
func NewWorkflow() *Workflow {
	return &Workflow{
		vertices: make(map[string]*Vertex),
		outEdges: make(map[string][]Edge),
		inEdges:  make(map[string][]Edge),
	}
}

// AddVertex adds a vertex of the given kind and configuration. Returns
// ErrDuplicateVertexID if id is already present.
func (w *Workflow) AddVertex(id string, kind Kind, config interface{}, bindings ...Binding) error {
	if _, exists := w.vertices[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateVertexID, id)
	}
	for _, b := range bindings {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("%w: vertex %s binding %+v", err, id, b)
		}
	}
	v, err := newVertex(id, kind, config, bindings)
	if err != nil {
		return err
	}
	w.vertices[id] = v
	w.order = append(w.order, id)
	w.validated = false
	return nil
}

// AddEdge adds an edge. Endpoint existence is checked by Validate, not here,
// so graphs can be built in any vertex/edge order.
func (w *Workflow) AddEdge(e Edge) error {
	w.edges = append(w.edges, e)
	w.outEdges[e.From] = append(w.outEdges[e.From], e)
	w.inEdges[e.To] = append(w.inEdges[e.To], e)
	w.validated = false
	return nil
}

// Vertex returns the vertex with the given id, or nil if absent.
func (w *Workflow) Vertex(id string) *Vertex {
	return w.vertices[id]
}

// Vertices returns every vertex id in insertion order.
func (w *Workflow) Vertices() []string {
	out := make([]string, len(w.order))
	copy(out, w.order)
	return out
}

// Sources returns every vertex with zero inbound edges (other than OnError
// recovery edges, which do not make a vertex ineligible to be a source).
func (w *Workflow) Sources() []string {
	var out []string
	for _, id := range w.order {
		if !w.hasNonRecoveryInbound(id) {
			out = append(out, id)
		}
	}
	return out
}

func (w *Workflow) hasNonRecoveryInbound(id string) bool {
	for _, e := range w.inEdges[id] {
		if e.Guard.Kind != OnError {
			return true
		}
	}
	return false
}

// Sinks returns every vertex with zero outbound edges.
func (w *Workflow) Sinks() []string {
	var out []string
	for _, id := range w.order {
		if len(w.outEdges[id]) == 0 {
			out = append(out, id)
		}
	}
	return out
}

// exposedOutputRefs is implemented by kind-specific configs (GroupConfig,
// WhileGroupConfig) that embed a subgraph and a list of exposed mappings.
// Validate uses it to check every exposed mapping resolves inside the
// subgraph.
type exposedOutputRefs interface {
	subgraph() *Workflow
	exposedInnerIDs() []string
}

// Validate checks the graph-level construction invariants (no dangling
// edges, at least one source and sink, no cycle among non-WhileGroup
// vertices, valid Group/WhileGroup subgraphs and exposed mappings) and
// marks the Workflow as validated. Duplicate vertex ids and invalid
// bindings are rejected earlier, by AddVertex. No topological order is
// stored. It is pure: calling it twice on
// an unchanged Workflow returns the same result and never mutates vertices
// or edges.
func (w *Workflow) Validate() error {
	var problems []error

	for _, e := range w.edges {
		if _, ok := w.vertices[e.From]; !ok {
			problems = append(problems, fmt.Errorf("%w: from %s", ErrDanglingEdge, e.From))
		}
		if _, ok := w.vertices[e.To]; !ok {
			problems = append(problems, fmt.Errorf("%w: to %s", ErrDanglingEdge, e.To))
		}
	}

	if err := w.checkAcyclic(); err != nil {
		problems = append(problems, err)
	}

	if len(w.Sources()) == 0 {
		problems = append(problems, ErrNoEntryVertex)
	}
	if len(w.Sinks()) == 0 {
		problems = append(problems, ErrNoSinkVertex)
	}

	for id, v := range w.vertices {
		refs, ok := v.Config.(exposedOutputRefs)
		if !ok {
			continue
		}
		sub := refs.subgraph()
		if sub == nil {
			problems = append(problems, fmt.Errorf("%w: vertex %s has no subgraph", ErrExposedOutputMissing, id))
			continue
		}
		if err := sub.Validate(); err != nil {
			problems = append(problems, fmt.Errorf("subgraph of %s: %w", id, err))
		}
		for _, innerID := range refs.exposedInnerIDs() {
			if sub.Vertex(innerID) == nil {
				problems = append(problems, fmt.Errorf("%w: vertex %s exposes unknown inner vertex %s", ErrExposedOutputMissing, id, innerID))
			}
		}
	}

	if len(problems) > 0 {
		return &ConstructionError{Problems: problems}
	}
	w.validated = true
	return nil
}

// checkAcyclic runs Kahn's algorithm over the outer graph's edges. A
// WhileGroup vertex loops internally by re-running its own subgraph; that
// looping never appears as a cycle in the outer edge set, so ordinary
// cycle detection applies uniformly.
func (w *Workflow) checkAcyclic() error {
	inDegree := make(map[string]int, len(w.vertices))
	for id := range w.vertices {
		inDegree[id] = 0
	}
	for _, e := range w.edges {
		if _, ok := w.vertices[e.To]; ok {
			inDegree[e.To]++
		}
	}

	queue := make([]string, 0, len(w.vertices))
	for _, id := range w.order {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, e := range w.outEdges[id] {
			inDegree[e.To]--
			if inDegree[e.To] == 0 {
				queue = append(queue, e.To)
			}
		}
	}

	if visited != len(w.vertices) {
		return ErrCycleDetected
	}
	return nil
}
