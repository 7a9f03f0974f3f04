package graph

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"context"

	"github.com/corewf/workflowcore/graph/emit"
	"github.com/corewf/workflowcore/graph/model"
	"github.com/corewf/workflowcore/graph/tool"
)

const defaultMaxToolIterations = 8

// LLMConfig configures an LLM vertex: message assembly, the provider to
// call, and the bound on its tool-call loop.
type LLMConfig struct {
	Provider model.Provider

	// Model names the model for cost attribution (graph.CostTracker); the
	// Provider itself is already bound to a concrete model, this is purely
	// a label. Leave empty to skip cost recording for this vertex.
	Model string

	SystemPrompt string // template, substituted against resolved input
	UserTemplate string // template, substituted against resolved input

	Temperature float64
	MaxTokens   int

	Tools tool.Registry

	EnableStream    bool
	EnableReasoning bool

	// ConversationHistoryVar names the input field holding prior turns
	// ([]model.Message or []map[string]any{role,content}); empty means no
	// history is appended.
	ConversationHistoryVar string

	// ImageURLVar names the input field holding an optional image URL for
	// a multipart user message.
	ImageURLVar string

	// MaxToolIterations bounds the tool-call loop (default 8).
	MaxToolIterations int
}

func buildLLMTask(config interface{}) (Task, TemplateFields, error) {
	cfg, ok := config.(*LLMConfig)
	if !ok || cfg == nil {
		return nil, nil, fmt.Errorf("graph: LLM vertex requires *LLMConfig")
	}
	if cfg.Provider == nil {
		return nil, nil, fmt.Errorf("graph: LLMConfig.Provider must not be nil")
	}
	maxIter := cfg.MaxToolIterations
	if maxIter <= 0 {
		maxIter = defaultMaxToolIterations
	}

	task := func(ctx context.Context, rc *Context, vertexID string, input map[string]any) (map[string]any, error) {
		system, err := substituteTemplate(cfg.SystemPrompt, input)
		if err != nil {
			return nil, err
		}
		user, err := substituteTemplate(cfg.UserTemplate, input)
		if err != nil {
			return nil, err
		}

		messages := []model.Message{{Role: model.RoleSystem, Content: system}}
		if cfg.ConversationHistoryVar != "" {
			if raw, ok := input[cfg.ConversationHistoryVar]; ok {
				messages = append(messages, convertHistory(raw)...)
			}
		}
		messages = append(messages, buildUserMessage(cfg, user, input))

		tools := toolSpecs(cfg.Tools)

		var responseBuf, reasoningBuf strings.Builder
		toolTrace := make([]map[string]any, 0)
		var lastUsage *model.Usage
		iterations := 0

		for {
			req := model.Request{
				Messages:    messages,
				Tools:       tools,
				Temperature: cfg.Temperature,
				MaxTokens:   cfg.MaxTokens,
				Stream:      cfg.EnableStream,
			}
			deltas, err := cfg.Provider.Invoke(ctx, req)
			if err != nil {
				return nil, classifyProviderError(err)
			}

			var finish model.FinishReason
			var toolCalls []model.ToolCall
			var callContent strings.Builder

			for delta := range deltas {
				if delta.ContentChunk != "" {
					callContent.WriteString(delta.ContentChunk)
					responseBuf.WriteString(delta.ContentChunk)
					rc.publish(emit.Message, vertexID, map[string]any{"text": delta.ContentChunk})
				}
				if cfg.EnableReasoning && delta.ReasoningChunk != "" {
					reasoningBuf.WriteString(delta.ReasoningChunk)
					rc.publish(emit.Reasoning, vertexID, map[string]any{"text": delta.ReasoningChunk})
				}
				if len(delta.ToolCalls) > 0 {
					toolCalls = append(toolCalls, delta.ToolCalls...)
				}
				if delta.FinishReason != "" {
					finish = delta.FinishReason
				}
				if delta.Usage != nil {
					lastUsage = delta.Usage
				}
			}

			if finish != model.FinishToolCalls || len(toolCalls) == 0 {
				return buildLLMOutput(cfg, responseBuf.String(), reasoningBuf.String(), toolTrace, lastUsage), nil
			}

			iterations++
			if iterations > maxIter {
				return nil, newVertexError("", ErrToolLoopExhausted, fmt.Errorf("exceeded max_tool_iterations=%d", maxIter))
			}

			messages = append(messages, model.Message{
				Role:      model.RoleAssistant,
				Content:   callContent.String(),
				ToolCalls: toolCalls,
			})

			anyOK := false
			for _, tc := range toolCalls {
				rc.publish(emit.ToolCall, vertexID, map[string]any{"phase": "start", "tool_name": tc.Name, "args": tc.Input})

				entry := map[string]any{"name": tc.Name, "args": tc.Input}
				t, known := cfg.Tools[tc.Name]
				var result map[string]any
				var callErr error
				if !known {
					callErr = fmt.Errorf("%w: %s", tool.ErrUnknownTool, tc.Name)
				} else {
					result, callErr = t.Call(ctx, tc.Input)
				}

				if callErr != nil {
					entry["error"] = callErr.Error()
					messages = append(messages, model.Message{Role: model.RoleTool, ToolCallID: tc.ID, Content: "error: " + callErr.Error()})
				} else {
					anyOK = true
					entry["result"] = result
					messages = append(messages, model.Message{Role: model.RoleTool, ToolCallID: tc.ID, Content: stringifyToolResult(result)})
				}
				toolTrace = append(toolTrace, entry)
				rc.publish(emit.ToolCall, vertexID, map[string]any{"phase": "end", "tool_name": tc.Name, "result": entry["result"], "error": entry["error"]})
			}

			if !anyOK {
				return nil, newVertexError("", ErrToolInvocation, fmt.Errorf("all %d tool calls failed this round", len(toolCalls)))
			}
		}
	}

	templates := func() []string { return []string{"system_prompt", "user_template"} }
	return task, templates, nil
}

func buildUserMessage(cfg *LLMConfig, user string, input map[string]any) model.Message {
	var imageURL string
	if cfg.ImageURLVar != "" {
		imageURL, _ = input[cfg.ImageURLVar].(string)
	}
	if imageURL == "" {
		return model.Message{Role: model.RoleUser, Content: user}
	}
	return model.Message{Role: model.RoleUser, Parts: []model.Part{{Text: user}, {ImageURL: imageURL}}}
}

func buildLLMOutput(cfg *LLMConfig, response, reasoning string, toolTrace []map[string]any, usage *model.Usage) map[string]any {
	out := map[string]any{
		"response":   response,
		"tool_trace": toolTrace,
	}
	if reasoning != "" {
		out["reasoning"] = reasoning
	} else {
		out["reasoning"] = nil
	}
	if usage != nil {
		u := map[string]any{"input_tokens": usage.InputTokens, "output_tokens": usage.OutputTokens}
		if cfg.Model != "" {
			u["model"] = cfg.Model
		}
		out["usage"] = u
	}
	return out
}

// toolSpecs flattens a Registry into the sorted slice a provider request
// expects; sorted so identical tool sets produce identical requests across
// calls (easier to assert on in tests, and stable for providers that cache
// on tool-list hash).
func toolSpecs(reg tool.Registry) []model.ToolSpec {
	if len(reg) == 0 {
		return nil
	}
	names := make([]string, 0, len(reg))
	for name := range reg {
		names = append(names, name)
	}
	sort.Strings(names)

	specs := make([]model.ToolSpec, len(names))
	for i, name := range names {
		t := reg[name]
		specs[i] = model.ToolSpec{Name: t.Name(), Description: t.Description(), Schema: t.InputSchema()}
	}
	return specs
}

// convertHistory accepts either []model.Message (already in provider shape)
// or []map[string]any (the shape MemoryReaderConfig's output produces) and
// normalizes to []model.Message.
func convertHistory(raw any) []model.Message {
	switch v := raw.(type) {
	case []model.Message:
		return v
	case []map[string]any:
		out := make([]model.Message, 0, len(v))
		for _, entry := range v {
			role, _ := entry["role"].(string)
			content, _ := entry["content"].(string)
			out = append(out, model.Message{Role: role, Content: content})
		}
		return out
	default:
		return nil
	}
}

func stringifyToolResult(result map[string]any) string {
	if result == nil {
		return ""
	}
	parts := make([]string, 0, len(result))
	keys := make([]string, 0, len(result))
	for k := range result {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, result[k]))
	}
	return strings.Join(parts, " ")
}

func classifyProviderError(err error) *VertexError {
	switch {
	case errors.Is(err, model.ErrRateLimit):
		return newVertexError("", ErrProviderRateLimit, err)
	case errors.Is(err, model.ErrTransport):
		return newVertexError("", ErrProviderTransport, err)
	default:
		return newVertexError("", ErrTaskException, err)
	}
}
