package anthropic

import (
	"testing"

	"github.com/corewf/workflowcore/graph/model"
)

func TestSplitSystemCollectsAndStripsSystemMessages(t *testing.T) {
	messages := []model.Message{
		{Role: model.RoleSystem, Content: "be terse"},
		{Role: model.RoleUser, Content: "hi"},
		{Role: model.RoleSystem, Content: "always answer in English"},
	}

	system, rest := splitSystem(messages)

	if system != "be terse\n\nalways answer in English" {
		t.Fatalf("unexpected merged system prompt: %q", system)
	}
	if len(rest) != 1 || rest[0].Content != "hi" {
		t.Fatalf("expected only the user message to remain, got %+v", rest)
	}
}

func TestMaxTokensOrDefault(t *testing.T) {
	if got := maxTokensOrDefault(0); got != 4096 {
		t.Fatalf("expected default of 4096, got %d", got)
	}
	if got := maxTokensOrDefault(-5); got != 4096 {
		t.Fatalf("expected default for negative input, got %d", got)
	}
	if got := maxTokensOrDefault(1024); got != 1024 {
		t.Fatalf("expected explicit value preserved, got %d", got)
	}
}

func TestConvertMessagesMapsRoles(t *testing.T) {
	messages := []model.Message{
		{Role: model.RoleUser, Content: "question"},
		{Role: model.RoleAssistant, Content: "answer"},
		{Role: model.RoleTool, Content: "42", ToolCallID: "call_1"},
	}

	out := convertMessages(messages)

	if len(out) != 3 {
		t.Fatalf("expected 3 converted messages, got %d", len(out))
	}
}

func TestContentBlocksFallsBackToContentWhenNoParts(t *testing.T) {
	blocks := contentBlocks(model.Message{Content: "plain text"})
	if len(blocks) != 1 {
		t.Fatalf("expected a single text block, got %d", len(blocks))
	}
}

func TestContentBlocksHandlesMultimodalParts(t *testing.T) {
	msg := model.Message{
		Parts: []model.Part{
			{Text: "look at this"},
			{ImageURL: "https://example.com/cat.png"},
		},
	}

	blocks := contentBlocks(msg)
	if len(blocks) != 2 {
		t.Fatalf("expected a text block and an image block, got %d", len(blocks))
	}
}

func TestConvertToolsBuildsSchemaFromProperties(t *testing.T) {
	tools := []model.ToolSpec{
		{
			Name:        "lookup",
			Description: "looks something up",
			Schema: map[string]interface{}{
				"properties": map[string]interface{}{"query": map[string]interface{}{"type": "string"}},
				"required":   []string{"query"},
			},
		},
	}

	out := convertTools(tools)
	if len(out) != 1 {
		t.Fatalf("expected 1 converted tool, got %d", len(out))
	}
	if out[0].OfTool == nil || out[0].OfTool.Name != "lookup" {
		t.Fatalf("expected tool named lookup, got %+v", out[0])
	}
}

func TestDecodeInputAcceptsMapOrRaw(t *testing.T) {
	m := decodeInput(map[string]interface{}{"a": 1})
	if m["a"] != 1 {
		t.Fatalf("expected map to pass through unchanged, got %+v", m)
	}
}

func TestClassifyErrorWrapsNonAPIErrorsAsTransport(t *testing.T) {
	err := classifyError(errPlain("boom"))
	if _, ok := err.(*model.TransportError); !ok {
		t.Fatalf("expected a TransportError, got %T", err)
	}
}

type errPlain string

func (e errPlain) Error() string { return string(e) }
