package graph

import (
	"context"
	"fmt"
)

// ExposedMapping names one inner vertex output a Group/WhileGroup surfaces
// to the outer graph under a new name: {inner_vertex_id, inner_var?,
// exposed_name}.
type ExposedMapping struct {
	InnerVertexID string
	InnerVar      string // optional; empty exposes the inner vertex's whole output map
	ExposedName   string
}

// GroupConfig runs Subgraph as a single composite vertex.
type GroupConfig struct {
	Subgraph        *Workflow
	ExposedMappings []ExposedMapping

	// StrictExposure, when true, makes the group's output exactly the
	// exposed mappings; when false (default) the output is the full
	// {inner_vertex_id: output} map augmented by the exposed mappings.
	StrictExposure bool
}

func (c *GroupConfig) subgraph() *Workflow { return c.Subgraph }

func (c *GroupConfig) exposedInnerIDs() []string {
	ids := make([]string, len(c.ExposedMappings))
	for i, m := range c.ExposedMappings {
		ids[i] = m.InnerVertexID
	}
	return ids
}

func buildGroupTask(config interface{}) (Task, TemplateFields, error) {
	cfg, ok := config.(*GroupConfig)
	if !ok || cfg == nil {
		return nil, nil, fmt.Errorf("graph: Group vertex requires *GroupConfig")
	}
	if cfg.Subgraph == nil {
		return nil, nil, fmt.Errorf("graph: GroupConfig.Subgraph must not be nil")
	}

	task := func(ctx context.Context, rc *Context, vertexID string, input map[string]any) (map[string]any, error) {
		sched := rc.Scheduler()
		if sched == nil {
			return nil, newVertexError("", ErrTaskException, fmt.Errorf("group vertex has no scheduler bound to its run context"))
		}

		child := rc.Child("", input)
		result, err := sched.Run(ctx, cfg.Subgraph, child, input)
		if err != nil {
			return nil, newVertexError("", ErrTaskException, err)
		}
		if result.Status != StatusCompleted {
			return nil, groupFailureError(result)
		}

		return assembleGroupOutput(cfg.ExposedMappings, cfg.StrictExposure, result.Outputs), nil
	}
	return task, nil, nil
}

// groupFailureError propagates an inner run's failure annotated with the
// inner vertex id that caused it: any inner failure fails the group, with
// the original error annotated by the inner vertex id.
func groupFailureError(result *RunResult) *VertexError {
	if len(result.Errors) > 0 {
		inner := result.Errors[0]
		return newVertexError("", ErrTaskException, fmt.Errorf("inner vertex %s: %w", inner.VertexID, inner))
	}
	if result.Status == StatusCancelled {
		return newVertexError("", ErrCancelled, fmt.Errorf("inner run %s cancelled", result.RunID))
	}
	return newVertexError("", ErrTaskException, fmt.Errorf("inner run %s ended %s", result.RunID, result.Status))
}

// assembleGroupOutput builds a group's output map: the exposed mappings
// merged onto either the full {vertex_id: output} map (default) or, under
// strict exposure, nothing else.
func assembleGroupOutput(mappings []ExposedMapping, strict bool, outputs map[string]map[string]any) map[string]any {
	var out map[string]any
	if strict {
		out = make(map[string]any, len(mappings))
	} else {
		out = make(map[string]any, len(outputs)+len(mappings))
		for id, v := range outputs {
			out[id] = v
		}
	}
	for k, v := range exposedValues(mappings, outputs) {
		out[k] = v
	}
	return out
}

// exposedValues resolves every exposed mapping against a completed inner
// run's outputs, independent of strict-exposure mode.
func exposedValues(mappings []ExposedMapping, outputs map[string]map[string]any) map[string]any {
	exposed := make(map[string]any, len(mappings))
	for _, m := range mappings {
		innerOut, ok := outputs[m.InnerVertexID]
		if !ok {
			continue
		}
		var val any = innerOut
		if m.InnerVar != "" {
			val = innerOut[m.InnerVar]
		}
		exposed[m.ExposedName] = val
	}
	return exposed
}
