package graph

import "context"

// Kind tags a vertex's variant. Each kind's behavior differs in exactly one
// place: the Task its config produces.
type Kind int

const (
	KindSource Kind = iota
	KindSink
	KindFunction
	KindIfElse
	KindLLM
	KindEmbedding
	KindVectorStore
	KindVectorQuery
	KindGroup
	KindWhileGroup
	KindMemoryReader
	KindMemoryWriter
)

func (k Kind) String() string {
	switch k {
	case KindSource:
		return "Source"
	case KindSink:
		return "Sink"
	case KindFunction:
		return "Function"
	case KindIfElse:
		return "IfElse"
	case KindLLM:
		return "LLM"
	case KindEmbedding:
		return "Embedding"
	case KindVectorStore:
		return "VectorStore"
	case KindVectorQuery:
		return "VectorQuery"
	case KindGroup:
		return "Group"
	case KindWhileGroup:
		return "WhileGroup"
	case KindMemoryReader:
		return "MemoryReader"
	case KindMemoryWriter:
		return "MemoryWriter"
	default:
		return "Unknown"
	}
}

// State is a vertex's transient per-run position in its lifecycle.
type State int

const (
	Pending State = iota
	Ready
	Running
	Completed
	Failed
	Skipped
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

func (s State) Terminal() bool {
	return s == Completed || s == Failed || s == Skipped
}

// Task is the unit of work a vertex performs once its bindings are resolved.
// input is the flat name→value map produced by the VariableResolver; output
// is stored verbatim under the vertex's id in the Context. vertexID is the
// owning vertex's id, passed through so kind-specific tasks that publish
// their own events (LLMVertex's streaming relay and tool-call brackets) can
// tag them without a package-level lookup.
type Task func(ctx context.Context, rc *Context, vertexID string, input map[string]any) (map[string]any, error)

// TemplateFields names which string fields in a vertex's config should
// undergo {{name}} substitution before the task runs. Vertex kinds that
// have no templated strings return nil.
type TemplateFields func() []string

// Vertex is one node in a Workflow. Config holds kind-specific data (e.g.
// *LLMConfig, *FunctionConfig); Task is derived from Config once at graph
// build time via buildTask.
type Vertex struct {
	ID       string
	Kind     Kind
	Config   interface{}
	Bindings []Binding

	task      Task
	templates TemplateFields
}

// newVertex constructs a Vertex and resolves its Task from Config. Returns
// an error if Config's kind does not match Kind or is otherwise invalid.
func newVertex(id string, kind Kind, config interface{}, bindings []Binding) (*Vertex, error) {
	v := &Vertex{ID: id, Kind: kind, Config: config, Bindings: bindings}
	task, templates, err := buildTask(kind, config)
	if err != nil {
		return nil, err
	}
	v.task, v.templates = task, templates
	return v, nil
}

// runState is the mutable per-run slot for a vertex, kept out of Vertex
// itself so the same Vertex (and its immutable Config) can be reused across
// concurrent runs of the same Workflow.
type runState struct {
	state State
	err   error
}
