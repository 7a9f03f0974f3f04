package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/corewf/workflowcore/graph/model"
	"github.com/corewf/workflowcore/graph/tool"
)

func llmRunContext() *Context {
	return NewContext(context.Background(), "run1", nil, nil, nil)
}

func TestLLMTaskSimpleResponseNoTools(t *testing.T) {
	provider := model.NewMockProvider(model.Delta{ContentChunk: "hi there", FinishReason: model.FinishStop})
	task, _, err := buildLLMTask(&LLMConfig{Provider: provider, SystemPrompt: "sys", UserTemplate: "{{q}}"})
	if err != nil {
		t.Fatal(err)
	}
	out, err := task(context.Background(), llmRunContext(), "llm", map[string]any{"q": "hello"})
	if err != nil {
		t.Fatal(err)
	}
	if out["response"] != "hi there" {
		t.Fatalf("expected response='hi there', got %v", out["response"])
	}
	trace, ok := out["tool_trace"].([]map[string]any)
	if !ok || len(trace) != 0 {
		t.Fatalf("expected an empty tool_trace, got %v", out["tool_trace"])
	}
}

func TestLLMTaskMissingTemplateVariableFailsBeforeInvokingProvider(t *testing.T) {
	provider := model.NewMockProvider(model.Delta{ContentChunk: "unused", FinishReason: model.FinishStop})
	task, _, err := buildLLMTask(&LLMConfig{Provider: provider, UserTemplate: "{{missing}}"})
	if err != nil {
		t.Fatal(err)
	}
	_, taskErr := task(context.Background(), llmRunContext(), "llm", map[string]any{})
	var ve *VertexError
	if !errors.As(taskErr, &ve) || ve.Tag != ErrMissingTemplateVariable {
		t.Fatalf("expected ErrMissingTemplateVariable, got %v", taskErr)
	}
}

func TestLLMTaskUnknownToolNameIsInvocationError(t *testing.T) {
	provider := model.NewMockProvider(
		model.Delta{FinishReason: model.FinishToolCalls, ToolCalls: []model.ToolCall{{ID: "c1", Name: "nope", Input: nil}}},
	)
	task, _, err := buildLLMTask(&LLMConfig{Provider: provider, UserTemplate: "go"})
	if err != nil {
		t.Fatal(err)
	}
	_, taskErr := task(context.Background(), llmRunContext(), "llm", map[string]any{})
	var ve *VertexError
	if !errors.As(taskErr, &ve) || ve.Tag != ErrToolInvocation {
		t.Fatalf("expected ErrToolInvocation when every call in the round fails, got %v", taskErr)
	}
	if !errors.Is(taskErr, tool.ErrUnknownTool) {
		t.Fatalf("expected the unknown-tool cause to be wrapped, got %v", taskErr)
	}
}

func TestLLMTaskToolLoopExhaustedAfterMaxIterations(t *testing.T) {
	deltas := make([]model.Delta, 0, 3)
	for i := 0; i < 3; i++ {
		deltas = append(deltas, model.Delta{
			FinishReason: model.FinishToolCalls,
			ToolCalls:    []model.ToolCall{{ID: "c", Name: "echo", Input: map[string]interface{}{"x": 1}}},
		})
	}
	provider := model.NewMockProvider(deltas...)
	echo := &tool.MockTool{ToolName: "echo", Responses: []map[string]interface{}{{"ok": true}}}
	task, _, err := buildLLMTask(&LLMConfig{
		Provider:          provider,
		UserTemplate:      "go",
		Tools:             tool.NewRegistry(echo),
		MaxToolIterations: 2,
	})
	if err != nil {
		t.Fatal(err)
	}
	_, taskErr := task(context.Background(), llmRunContext(), "llm", map[string]any{})
	var ve *VertexError
	if !errors.As(taskErr, &ve) || ve.Tag != ErrToolLoopExhausted {
		t.Fatalf("expected ErrToolLoopExhausted, got %v", taskErr)
	}
}

func TestLLMTaskSuccessfulToolRoundTripProducesTrace(t *testing.T) {
	provider := model.NewMockProvider(
		model.Delta{FinishReason: model.FinishToolCalls, ToolCalls: []model.ToolCall{{ID: "c1", Name: "echo", Input: map[string]interface{}{"text": "hi"}}}},
		model.Delta{ContentChunk: "done", FinishReason: model.FinishStop},
	)
	echo := &tool.MockTool{ToolName: "echo", Responses: []map[string]interface{}{{"text": "hi"}}}
	task, _, err := buildLLMTask(&LLMConfig{Provider: provider, UserTemplate: "go", Tools: tool.NewRegistry(echo)})
	if err != nil {
		t.Fatal(err)
	}
	out, err := task(context.Background(), llmRunContext(), "llm", map[string]any{})
	if err != nil {
		t.Fatal(err)
	}
	if out["response"] != "done" {
		t.Fatalf("expected response=done, got %v", out["response"])
	}
	trace, ok := out["tool_trace"].([]map[string]any)
	if !ok || len(trace) != 1 || trace[0]["name"] != "echo" {
		t.Fatalf("expected one echo trace entry, got %v", out["tool_trace"])
	}
	result, ok := trace[0]["result"].(map[string]any)
	if !ok || result["text"] != "hi" {
		t.Fatalf("expected trace[0].result.text=hi, got %v", trace[0]["result"])
	}
}

func TestLLMTaskRecordsUsageWhenModelLabelSet(t *testing.T) {
	provider := model.NewMockProvider(model.Delta{
		ContentChunk: "hi", FinishReason: model.FinishStop,
		Usage: &model.Usage{InputTokens: 10, OutputTokens: 5},
	})
	task, _, err := buildLLMTask(&LLMConfig{Provider: provider, UserTemplate: "go", Model: "claude-test"})
	if err != nil {
		t.Fatal(err)
	}
	out, err := task(context.Background(), llmRunContext(), "llm", map[string]any{})
	if err != nil {
		t.Fatal(err)
	}
	usage, ok := out["usage"].(map[string]any)
	if !ok {
		t.Fatalf("expected a usage map, got %v", out["usage"])
	}
	if usage["model"] != "claude-test" || usage["input_tokens"] != 10 || usage["output_tokens"] != 5 {
		t.Fatalf("unexpected usage contents: %v", usage)
	}
}

func TestLLMTaskOmitsUsageModelKeyWhenModelLabelEmpty(t *testing.T) {
	provider := model.NewMockProvider(model.Delta{
		ContentChunk: "hi", FinishReason: model.FinishStop,
		Usage: &model.Usage{InputTokens: 10, OutputTokens: 5},
	})
	task, _, err := buildLLMTask(&LLMConfig{Provider: provider, UserTemplate: "go"})
	if err != nil {
		t.Fatal(err)
	}
	out, err := task(context.Background(), llmRunContext(), "llm", map[string]any{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := out["usage"]; !ok {
		t.Fatal("expected a usage entry to still be present even without a model label")
	}
	usage := out["usage"].(map[string]any)
	if _, hasModel := usage["model"]; hasModel {
		t.Fatalf("expected no model key without a Model label, got %v", usage)
	}
}
