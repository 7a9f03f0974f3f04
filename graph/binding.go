package graph

// Scope names where a Binding's value comes from. A Binding's SourceScope is
// either one of these sentinels or a vertex id.
const (
	// ScopeSubgraphSource reads from the parent scope's input map when this
	// vertex lives inside a Group/WhileGroup subgraph.
	ScopeSubgraphSource = "SUBGRAPH_SOURCE"
	// ScopeEnv reads from the Context's env map.
	ScopeEnv = "ENV"
)

// Binding declares one named input a vertex consumes. SourceScope selects
// where the resolver looks: a producer vertex id, ScopeSubgraphSource,
// ScopeEnv, or "" (the caller-supplied auxiliary input map).
type Binding struct {
	SourceScope string
	SourceVar   string
	LocalVar    string
}

// Validate reports whether the binding has enough information to resolve:
// LocalVar is always required.
func (b Binding) Validate() error {
	if b.LocalVar == "" {
		return ErrInvalidBinding
	}
	return nil
}
