// Package openai adapts OpenAI's chat completion API to the model.Provider contract.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/corewf/workflowcore/graph/model"
	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Provider implements model.Provider for OpenAI chat models.
type Provider struct {
	modelName string
	client    openaisdk.Client
}

// New creates an OpenAI-backed Provider. An empty modelName defaults to gpt-4o.
func New(apiKey, modelName string) *Provider {
	if modelName == "" {
		modelName = "gpt-4o"
	}
	return &Provider{
		modelName: modelName,
		client:    openaisdk.NewClient(option.WithAPIKey(apiKey)),
	}
}

func (p *Provider) Invoke(ctx context.Context, req model.Request) (<-chan model.Delta, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	params := openaisdk.ChatCompletionNewParams{
		Model:    p.modelName,
		Messages: convertMessages(req.Messages),
	}
	if req.Temperature > 0 {
		params.Temperature = openaisdk.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openaisdk.Int(int64(req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}

	if !req.Stream {
		resp, err := p.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return nil, classifyError(err)
		}
		return model.SingleDelta(convertFinal(resp)), nil
	}

	out := make(chan model.Delta, 16)
	go p.streamInto(ctx, params, out)
	return out, nil
}

func (p *Provider) streamInto(ctx context.Context, params openaisdk.ChatCompletionNewParams, out chan<- model.Delta) {
	defer close(out)

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	acc := openaisdk.ChatCompletionAccumulator{}

	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)

		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			out <- model.Delta{ContentChunk: choice.Delta.Content}
		}
		if choice.FinishReason != "" {
			select {
			case <-ctx.Done():
				return
			default:
			}
		}
	}

	if err := stream.Err(); err != nil {
		return
	}

	if len(acc.Choices) == 0 {
		out <- model.Delta{FinishReason: model.FinishStop}
		return
	}
	out <- convertFinal(&acc.ChatCompletion)
}

func convertMessages(messages []model.Message) []openaisdk.ChatCompletionMessageParamUnion {
	out := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case model.RoleSystem:
			out = append(out, openaisdk.SystemMessage(m.Content))
		case model.RoleUser:
			out = append(out, openaisdk.UserMessage(textOrParts(m)))
		case model.RoleAssistant:
			out = append(out, openaisdk.AssistantMessage(m.Content))
		case model.RoleTool:
			out = append(out, openaisdk.ToolMessage(m.Content, m.ToolCallID))
		}
	}
	return out
}

func textOrParts(m model.Message) string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var text string
	for _, part := range m.Parts {
		text += part.Text
	}
	return text
}

func convertTools(tools []model.ToolSpec) []openaisdk.ChatCompletionToolParam {
	out := make([]openaisdk.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, openaisdk.ChatCompletionToolParam{
			Function: openaisdk.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openaisdk.String(t.Description),
				Parameters:  openaisdk.FunctionParameters(t.Schema),
			},
		})
	}
	return out
}

func convertFinal(resp *openaisdk.ChatCompletion) model.Delta {
	d := model.Delta{
		Usage: &model.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}
	if len(resp.Choices) == 0 {
		d.FinishReason = model.FinishStop
		return d
	}
	choice := resp.Choices[0]
	d.ContentChunk = choice.Message.Content
	for _, call := range choice.Message.ToolCalls {
		var input map[string]interface{}
		_ = json.Unmarshal([]byte(call.Function.Arguments), &input)
		d.ToolCalls = append(d.ToolCalls, model.ToolCall{
			ID:    call.ID,
			Name:  call.Function.Name,
			Input: input,
		})
	}
	if len(d.ToolCalls) > 0 {
		d.FinishReason = model.FinishToolCalls
	} else {
		d.FinishReason = model.FinishStop
	}
	return d
}

func classifyError(err error) error {
	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 429 {
			return &model.RateLimitError{Provider: "openai", Message: apiErr.Error()}
		}
	}
	return &model.TransportError{Provider: "openai", Cause: fmt.Errorf("%w", err)}
}
