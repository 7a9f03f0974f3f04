// Package graph provides the core workflow execution engine: a directed-graph
// scheduler that coordinates LLM calls, tool invocations, embedding/vector
// operations, conditional branches, bounded loops, and nested subgraphs.
package graph

import (
	"errors"
	"fmt"
)

// Construction errors are returned before any run starts:
// ErrDuplicateVertexID and ErrInvalidBinding by Workflow.AddVertex, the
// rest by Workflow.Validate. They are pure: Validate never mutates the
// graph and always returns the same result for the same graph.
var (
	ErrCycleDetected         = errors.New("graph: cycle detected among non-WhileGroup vertices")
	ErrDanglingEdge          = errors.New("graph: edge references a vertex id that does not exist")
	ErrExposedOutputMissing  = errors.New("graph: exposed output references a vertex outside the subgraph")
	ErrDuplicateVertexID     = errors.New("graph: duplicate vertex id")
	ErrInvalidBinding        = errors.New("graph: invalid binding")
	ErrNoEntryVertex         = errors.New("graph: graph has no source vertex")
	ErrNoSinkVertex          = errors.New("graph: graph has no sink vertex")
)

// Runtime errors fail a single vertex. They are wrapped in a *VertexError
// before being recorded in a Context or surfaced in a RunResult.
var (
	ErrMissingDependency       = errors.New("graph: missing dependency output")
	ErrMissingTemplateVariable = errors.New("graph: missing template variable")
	ErrProviderTransport       = errors.New("graph: provider transport error")
	ErrProviderRateLimit       = errors.New("graph: provider rate limit")
	ErrToolInvocation          = errors.New("graph: tool invocation error")
	ErrToolLoopExhausted       = errors.New("graph: tool loop exhausted max_tool_iterations")
	ErrConditionEvaluation     = errors.New("graph: condition evaluation error")
	ErrTaskException           = errors.New("graph: task raised an exception")
)

// Terminal errors describe the outcome of an entire run rather than a single
// vertex.
var (
	ErrCancelled              = errors.New("graph: run cancelled")
	ErrUnhandledVertexFailure = errors.New("graph: unhandled vertex failure")
)

// VertexError wraps a runtime error with the vertex id that produced it,
// so callers can correlate errors in a RunResult back to the graph.
type VertexError struct {
	VertexID string
	Tag      error // one of the runtime error sentinels above
	Message  string
	Cause    error
}

func (e *VertexError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("vertex %s: %s: %s", e.VertexID, e.Tag, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("vertex %s: %s: %v", e.VertexID, e.Tag, e.Cause)
	}
	return fmt.Sprintf("vertex %s: %s", e.VertexID, e.Tag)
}

func (e *VertexError) Unwrap() error { return e.Tag }

// newVertexError builds a *VertexError, wrapping cause when present.
func newVertexError(vertexID string, tag error, cause error) *VertexError {
	ve := &VertexError{VertexID: vertexID, Tag: tag, Cause: cause}
	if cause != nil {
		ve.Message = cause.Error()
	}
	return ve
}

// RunError describes a run that ended in failed or cancelled status as a
// single error value, carrying the VertexErrors recorded during the run.
// Scheduler.Run reports outcomes through RunResult and does not return one.
type RunError struct {
	RunID    string
	Status   Status
	Vertices []*VertexError
}

func (e *RunError) Error() string {
	if len(e.Vertices) == 0 {
		return fmt.Sprintf("run %s ended %s", e.RunID, e.Status)
	}
	return fmt.Sprintf("run %s ended %s: %s", e.RunID, e.Status, e.Vertices[0])
}

func (e *RunError) Unwrap() error {
	if len(e.Vertices) == 0 {
		return nil
	}
	return e.Vertices[0]
}

// ConstructionError accumulates every problem found by Workflow.Validate so
// callers see the full list instead of failing fast on the first one.
type ConstructionError struct {
	Problems []error
}

func (e *ConstructionError) Error() string {
	if len(e.Problems) == 1 {
		return e.Problems[0].Error()
	}
	return fmt.Sprintf("graph: %d validation problems, first: %v", len(e.Problems), e.Problems[0])
}

func (e *ConstructionError) Unwrap() []error { return e.Problems }
