package graph

import (
	"context"
	"fmt"
)

// ConditionFunc decides whether a WhileGroup runs another iteration. It
// receives the inputs available for the iteration about to run (including
// the injected iteration_index) and the run's context.Context; it is not
// handed the graph Context.
type ConditionFunc func(ctx context.Context, inputs map[string]any) (bool, error)

// WhileGroupConfig extends GroupConfig with a loop condition.
type WhileGroupConfig struct {
	Subgraph        *Workflow
	ExposedMappings []ExposedMapping
	StrictExposure  bool

	Condition ConditionFunc

	// MaxIterations bounds the loop; 0 means unbounded (within the run's
	// overall wall-clock/cancellation budget).
	MaxIterations int
}

func (c *WhileGroupConfig) subgraph() *Workflow { return c.Subgraph }

func (c *WhileGroupConfig) exposedInnerIDs() []string {
	ids := make([]string, len(c.ExposedMappings))
	for i, m := range c.ExposedMappings {
		ids[i] = m.InnerVertexID
	}
	return ids
}

func buildWhileGroupTask(config interface{}) (Task, TemplateFields, error) {
	cfg, ok := config.(*WhileGroupConfig)
	if !ok || cfg == nil {
		return nil, nil, fmt.Errorf("graph: WhileGroup vertex requires *WhileGroupConfig")
	}
	if cfg.Subgraph == nil {
		return nil, nil, fmt.Errorf("graph: WhileGroupConfig.Subgraph must not be nil")
	}
	if cfg.Condition == nil {
		return nil, nil, fmt.Errorf("graph: WhileGroupConfig.Condition must not be nil")
	}

	task := func(ctx context.Context, rc *Context, vertexID string, input map[string]any) (map[string]any, error) {
		sched := rc.Scheduler()
		if sched == nil {
			return nil, newVertexError("", ErrTaskException, fmt.Errorf("while-group vertex has no scheduler bound to its run context"))
		}

		iterations := make([]map[string]any, 0)
		var lastExposed map[string]any

		iterInput := make(map[string]any, len(input))
		for k, v := range input {
			iterInput[k] = v
		}

		index := 0
		for {
			iterInput["iteration_index"] = index

			cond, err := cfg.Condition(ctx, iterInput)
			if err != nil {
				return nil, newVertexError("", ErrConditionEvaluation, err)
			}
			if !cond {
				break
			}

			child := rc.Child("", iterInput)
			result, err := sched.Run(ctx, cfg.Subgraph, child, iterInput)
			if err != nil {
				return nil, newVertexError("", ErrTaskException, err)
			}
			if result.Status != StatusCompleted {
				return nil, groupFailureError(result)
			}

			iterOut := assembleGroupOutput(cfg.ExposedMappings, cfg.StrictExposure, result.Outputs)
			iterations = append(iterations, iterOut)
			lastExposed = exposedValues(cfg.ExposedMappings, result.Outputs)

			// Selected fields from the just-completed pass become readable by
			// the next iteration's condition and subgraph input.
			for k, v := range lastExposed {
				iterInput[k] = v
			}

			index++
			if cfg.MaxIterations > 0 && index >= cfg.MaxIterations {
				break
			}
		}

		out := map[string]any{
			"iterations":      iterations,
			"iteration_count": len(iterations),
		}
		for k, v := range lastExposed {
			out[k] = v
		}
		return out, nil
	}
	return task, nil, nil
}
