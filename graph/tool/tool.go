// Package tool defines the contract LLMVertex uses to invoke external
// tools, plus a couple of ready-to-use implementations.
package tool

import (
	"context"
	"errors"
)

// ErrUnknownTool is raised by an LLMVertex when a model requests a tool call
// that is not present in its configured tool set.
var ErrUnknownTool = errors.New("tool: unknown tool requested")

// InvocationError wraps a failed tool call with the tool name, so it can be
// recorded in a tool_trace entry without losing provenance.
type InvocationError struct {
	ToolName string
	Cause    error
}

func (e *InvocationError) Error() string {
	return "tool " + e.ToolName + ": " + e.Cause.Error()
}
func (e *InvocationError) Unwrap() error { return e.Cause }

// Tool is the contract every callable tool implements: a descriptor an
// LLMVertex advertises to the model, plus an invocation.
//
// Implementations should validate input, respect context cancellation, and
// be safe for concurrent use — tool descriptors are shared across LLM
// vertices and the scheduler does not serialize calls to the same tool.
type Tool interface {
	// Name is the unique identifier advertised to the model and matched
	// against its tool_calls.
	Name() string

	// Description is shown to the model to help it decide when to call
	// this tool.
	Description() string

	// InputSchema is a JSON-schema-shaped map describing the tool's
	// expected arguments.
	InputSchema() map[string]interface{}

	// Call executes the tool with the provided input and returns the
	// result, or an error if the call failed.
	Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)
}

// Registry is a name-indexed set of tools, the shape an LLMVertex's
// config.Tools resolves to during graph build.
type Registry map[string]Tool

// NewRegistry indexes tools by name. Later duplicates overwrite earlier
// ones.
func NewRegistry(tools ...Tool) Registry {
	r := make(Registry, len(tools))
	for _, t := range tools {
		r[t.Name()] = t
	}
	return r
}
