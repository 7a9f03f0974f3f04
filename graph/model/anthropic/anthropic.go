// Package anthropic adapts Anthropic's Claude API to the model.Provider contract.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/corewf/workflowcore/graph/model"
)

// Provider implements model.Provider for Claude models. Tool/function
// calling, streaming deltas, and reasoning-chunk relay (extended thinking)
// are all supported.
type Provider struct {
	apiKey    string
	modelName string
	client    *anthropicsdk.Client
}

// New creates an Anthropic-backed Provider. An empty modelName defaults to
// Claude Sonnet.
func New(apiKey, modelName string) *Provider {
	if modelName == "" {
		modelName = "claude-sonnet-4-5-20250929"
	}
	client := anthropicsdk.NewClient(option.WithAPIKey(apiKey))
	return &Provider{apiKey: apiKey, modelName: modelName, client: &client}
}

func (p *Provider) Invoke(ctx context.Context, req model.Request) (<-chan model.Delta, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if p.apiKey == "" {
		return nil, &model.TransportError{Provider: "anthropic", Cause: fmt.Errorf("missing API key")}
	}

	systemPrompt, messages := splitSystem(req.Messages)
	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(p.modelName),
		Messages:  convertMessages(messages),
		MaxTokens: int64(maxTokensOrDefault(req.MaxTokens)),
	}
	if systemPrompt != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: systemPrompt}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropicsdk.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}

	if !req.Stream {
		resp, err := p.client.Messages.New(ctx, params)
		if err != nil {
			return nil, classifyError(err)
		}
		return model.SingleDelta(convertFinal(resp)), nil
	}

	out := make(chan model.Delta, 16)
	go p.streamInto(ctx, params, out)
	return out, nil
}

func (p *Provider) streamInto(ctx context.Context, params anthropicsdk.MessageNewParams, out chan<- model.Delta) {
	defer close(out)

	stream := p.client.Messages.NewStreaming(ctx, params)
	acc := anthropicsdk.Message{}

	for stream.Next() {
		event := stream.Current()
		_ = acc.Accumulate(event)

		switch variant := event.AsAny().(type) {
		case anthropicsdk.ContentBlockDeltaEvent:
			switch delta := variant.Delta.AsAny().(type) {
			case anthropicsdk.TextDelta:
				if delta.Text != "" {
					out <- model.Delta{ContentChunk: delta.Text}
				}
			case anthropicsdk.ThinkingDelta:
				if delta.Thinking != "" {
					out <- model.Delta{ReasoningChunk: delta.Thinking}
				}
			}
		case anthropicsdk.MessageDeltaEvent:
			if variant.Delta.StopReason == "tool_use" {
				continue // tool calls are finalized once the message completes
			}
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}

	if err := stream.Err(); err != nil {
		out <- model.Delta{FinishReason: model.FinishStop}
		return
	}

	final := convertFinal(&acc)
	out <- final
}

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return 4096
	}
	return n
}

func splitSystem(messages []model.Message) (string, []model.Message) {
	var system string
	var rest []model.Message
	for _, m := range messages {
		if m.Role == model.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}

func convertMessages(messages []model.Message) []anthropicsdk.MessageParam {
	out := make([]anthropicsdk.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case model.RoleUser:
			out = append(out, anthropicsdk.NewUserMessage(contentBlocks(m)...))
		case model.RoleAssistant:
			out = append(out, anthropicsdk.NewAssistantMessage(contentBlocks(m)...))
		case model.RoleTool:
			out = append(out, anthropicsdk.NewUserMessage(
				anthropicsdk.NewToolResultBlock(m.ToolCallID, m.Content, false),
			))
		}
	}
	return out
}

func contentBlocks(m model.Message) []anthropicsdk.ContentBlockParamUnion {
	if len(m.Parts) == 0 {
		return []anthropicsdk.ContentBlockParamUnion{anthropicsdk.NewTextBlock(m.Content)}
	}
	blocks := make([]anthropicsdk.ContentBlockParamUnion, 0, len(m.Parts))
	for _, part := range m.Parts {
		if part.Text != "" {
			blocks = append(blocks, anthropicsdk.NewTextBlock(part.Text))
		}
		if part.ImageURL != "" {
			blocks = append(blocks, anthropicsdk.NewImageBlock(anthropicsdk.URLImageSourceParam{URL: part.ImageURL}))
		}
	}
	return blocks
}

func convertTools(tools []model.ToolSpec) []anthropicsdk.ToolUnionParam {
	out := make([]anthropicsdk.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var properties any
		var required []string
		if t.Schema != nil {
			properties = t.Schema["properties"]
			if req, ok := t.Schema["required"].([]string); ok {
				required = req
			}
		}
		out = append(out, anthropicsdk.ToolUnionParam{
			OfTool: &anthropicsdk.ToolParam{
				Name:        t.Name,
				Description: anthropicsdk.String(t.Description),
				InputSchema: anthropicsdk.ToolInputSchemaParam{Properties: properties, Required: required},
			},
		})
	}
	return out
}

func convertFinal(msg *anthropicsdk.Message) model.Delta {
	d := model.Delta{
		Usage: &model.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropicsdk.TextBlock:
			d.ContentChunk += b.Text
		case anthropicsdk.ToolUseBlock:
			d.ToolCalls = append(d.ToolCalls, model.ToolCall{
				ID:    b.ID,
				Name:  b.Name,
				Input: decodeInput(b.Input),
			})
		}
	}
	if len(d.ToolCalls) > 0 {
		d.FinishReason = model.FinishToolCalls
	} else {
		d.FinishReason = model.FinishStop
	}
	return d
}

func decodeInput(input interface{}) map[string]interface{} {
	if m, ok := input.(map[string]interface{}); ok {
		return m
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return nil
	}
	var m map[string]interface{}
	_ = json.Unmarshal(raw, &m)
	return m
}

func classifyError(err error) error {
	var apiErr *anthropicsdk.Error
	if ok := asAPIError(err, &apiErr); ok {
		if apiErr.StatusCode == 429 {
			return &model.RateLimitError{Provider: "anthropic", Message: apiErr.Error()}
		}
	}
	return &model.TransportError{Provider: "anthropic", Cause: err}
}

func asAPIError(err error, target **anthropicsdk.Error) bool {
	apiErr, ok := err.(*anthropicsdk.Error)
	if ok {
		*target = apiErr
	}
	return ok
}
