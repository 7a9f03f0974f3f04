// Package google adapts Google's Gemini API to the model.Provider contract.
package google

import (
	"context"
	"encoding/json"

	"github.com/corewf/workflowcore/graph/model"
	genai "github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Provider implements model.Provider for Gemini models, including
// multimodal (image_url) parts.
type Provider struct {
	apiKey    string
	modelName string
}

// New creates a Gemini-backed Provider. An empty modelName defaults to
// gemini-1.5-pro.
func New(apiKey, modelName string) *Provider {
	if modelName == "" {
		modelName = "gemini-1.5-pro"
	}
	return &Provider{apiKey: apiKey, modelName: modelName}
}

func (p *Provider) Invoke(ctx context.Context, req model.Request) (<-chan model.Delta, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(p.apiKey))
	if err != nil {
		return nil, &model.TransportError{Provider: "google", Cause: err}
	}

	gm := client.GenerativeModel(p.modelName)
	gm.Temperature = float32ptr(float32(req.Temperature))
	system, history, last := splitConversation(req.Messages)
	if system != "" {
		gm.SystemInstruction = genai.NewUserContent(genai.Text(system))
	}
	if len(req.Tools) > 0 {
		gm.Tools = convertTools(req.Tools)
	}

	cs := gm.StartChat()
	cs.History = history

	if !req.Stream {
		resp, err := cs.SendMessage(ctx, last...)
		if err != nil {
			client.Close()
			return nil, &model.TransportError{Provider: "google", Cause: err}
		}
		d := convertResponse(resp)
		client.Close()
		return model.SingleDelta(d), nil
	}

	out := make(chan model.Delta, 16)
	go func() {
		defer client.Close()
		defer close(out)
		iter := cs.SendMessageStream(ctx, last...)
		var final *genai.GenerateContentResponse
		for {
			resp, err := iter.Next()
			if err != nil {
				break
			}
			final = resp
			for _, cand := range resp.Candidates {
				if cand.Content == nil {
					continue
				}
				for _, part := range cand.Content.Parts {
					if text, ok := part.(genai.Text); ok {
						out <- model.Delta{ContentChunk: string(text)}
					}
				}
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
		}
		if final != nil {
			out <- convertResponse(final)
		}
	}()
	return out, nil
}

func float32ptr(f float32) *float32 { return &f }

func splitConversation(messages []model.Message) (system string, history []*genai.Content, last []genai.Part) {
	for i, m := range messages {
		if m.Role == model.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		role := "user"
		if m.Role == model.RoleAssistant {
			role = "model"
		}
		parts := messageParts(m)
		if i == len(messages)-1 {
			last = parts
			continue
		}
		history = append(history, &genai.Content{Role: role, Parts: parts})
	}
	return system, history, last
}

func messageParts(m model.Message) []genai.Part {
	if len(m.Parts) == 0 {
		return []genai.Part{genai.Text(m.Content)}
	}
	parts := make([]genai.Part, 0, len(m.Parts))
	for _, part := range m.Parts {
		if part.Text != "" {
			parts = append(parts, genai.Text(part.Text))
		}
		if part.ImageURL != "" {
			parts = append(parts, genai.FileData{MIMEType: "image/*", URI: part.ImageURL})
		}
	}
	return parts
}

func convertTools(tools []model.ToolSpec) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  convertSchema(t.Schema),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func convertSchema(schema map[string]interface{}) *genai.Schema {
	if schema == nil {
		return nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var s genai.Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	return &s
}

func convertResponse(resp *genai.GenerateContentResponse) model.Delta {
	d := model.Delta{}
	if resp.UsageMetadata != nil {
		d.Usage = &model.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	if len(resp.Candidates) == 0 {
		d.FinishReason = model.FinishStop
		return d
	}
	cand := resp.Candidates[0]
	if cand.Content != nil {
		for _, part := range cand.Content.Parts {
			switch v := part.(type) {
			case genai.Text:
				d.ContentChunk += string(v)
			case genai.FunctionCall:
				d.ToolCalls = append(d.ToolCalls, model.ToolCall{
					Name:  v.Name,
					Input: v.Args,
				})
			}
		}
	}
	if len(d.ToolCalls) > 0 {
		d.FinishReason = model.FinishToolCalls
	} else {
		d.FinishReason = model.FinishStop
	}
	return d
}
