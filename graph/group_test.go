package graph

import (
	"context"
	"errors"
	"testing"
)

func TestGroupTaskRunsSubgraphAndExposesMapping(t *testing.T) {
	inner := NewWorkflow()
	must(t, inner.AddVertex("double", KindFunction, &FunctionConfig{
		Fn: func(_ context.Context, in map[string]any) (map[string]any, error) {
			return map[string]any{"y": in["x"].(int) * 2}, nil
		},
	}, Binding{SourceScope: ScopeSubgraphSource, SourceVar: "x", LocalVar: "x"}))

	task, _, err := buildGroupTask(&GroupConfig{
		Subgraph:        inner,
		ExposedMappings: []ExposedMapping{{InnerVertexID: "double", InnerVar: "y", ExposedName: "result"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	sched := NewScheduler()
	rc := NewContext(context.Background(), "", nil, nil, nil)
	rc.bindScheduler(sched)

	out, err := task(context.Background(), rc, "group", map[string]any{"x": 21})
	if err != nil {
		t.Fatal(err)
	}
	if out["result"] != 42 {
		t.Fatalf("expected exposed result=42, got %v", out["result"])
	}
	inner2, ok := out["double"].(map[string]any)
	if !ok || inner2["y"] != 42 {
		t.Fatalf("expected default exposure to retain double's full output, got %v", out["double"])
	}
}

func TestGroupTaskStrictExposureOmitsRawInnerOutputs(t *testing.T) {
	inner := NewWorkflow()
	must(t, inner.AddVertex("double", KindFunction, &FunctionConfig{
		Fn: func(_ context.Context, in map[string]any) (map[string]any, error) {
			return map[string]any{"y": in["x"].(int) * 2}, nil
		},
	}, Binding{SourceScope: ScopeSubgraphSource, SourceVar: "x", LocalVar: "x"}))

	task, _, err := buildGroupTask(&GroupConfig{
		Subgraph:        inner,
		StrictExposure:  true,
		ExposedMappings: []ExposedMapping{{InnerVertexID: "double", InnerVar: "y", ExposedName: "result"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	sched := NewScheduler()
	rc := NewContext(context.Background(), "", nil, nil, nil)
	rc.bindScheduler(sched)

	out, err := task(context.Background(), rc, "group", map[string]any{"x": 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out["result"] != 20 {
		t.Fatalf("expected strict exposure to produce only {result:20}, got %v", out)
	}
}

func TestGroupTaskPropagatesInnerFailureAnnotatedWithInnerVertexID(t *testing.T) {
	boom := errors.New("boom")
	inner := NewWorkflow()
	must(t, inner.AddVertex("fails", KindFunction, &FunctionConfig{
		Fn: func(_ context.Context, _ map[string]any) (map[string]any, error) { return nil, boom },
	}))

	task, _, err := buildGroupTask(&GroupConfig{Subgraph: inner})
	if err != nil {
		t.Fatal(err)
	}

	sched := NewScheduler()
	rc := NewContext(context.Background(), "", nil, nil, nil)
	rc.bindScheduler(sched)

	_, taskErr := task(context.Background(), rc, "group", nil)
	var ve *VertexError
	if !errors.As(taskErr, &ve) || ve.Tag != ErrTaskException {
		t.Fatalf("expected a wrapped ErrTaskException, got %v", taskErr)
	}
	if ve.Cause == nil {
		t.Fatal("expected the inner failure's vertex id to be annotated in the wrapped error")
	}
}

func TestGroupTaskWithoutBoundSchedulerFails(t *testing.T) {
	inner := NewWorkflow()
	must(t, inner.AddVertex("a", KindSource, nil))

	task, _, err := buildGroupTask(&GroupConfig{Subgraph: inner})
	if err != nil {
		t.Fatal(err)
	}
	rc := NewContext(context.Background(), "", nil, nil, nil)
	_, taskErr := task(context.Background(), rc, "group", nil)
	var ve *VertexError
	if !errors.As(taskErr, &ve) || ve.Tag != ErrTaskException {
		t.Fatalf("expected ErrTaskException when no scheduler is bound, got %v", taskErr)
	}
}
