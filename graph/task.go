package graph

import (
	"context"
	"fmt"

	"github.com/corewf/workflowcore/graph/memory"
	"github.com/corewf/workflowcore/graph/vectorstore"
)

// buildTask dispatches on kind to produce the Task a Vertex runs and the
// TemplateFields naming which of its config's string fields get {{name}}
// substitution before the task runs. Every vertex kind's behavior differs
// in exactly one place: its task function.
func buildTask(kind Kind, config interface{}) (Task, TemplateFields, error) {
	switch kind {
	case KindSource, KindSink, KindIfElse:
		return buildPassthroughTask(kind, config)
	case KindFunction:
		return buildFunctionTask(config)
	case KindEmbedding:
		return buildEmbeddingTask(config)
	case KindVectorStore:
		return buildVectorStoreTask(config)
	case KindVectorQuery:
		return buildVectorQueryTask(config)
	case KindMemoryReader:
		return buildMemoryReaderTask(config)
	case KindMemoryWriter:
		return buildMemoryWriterTask(config)
	case KindLLM:
		return buildLLMTask(config)
	case KindGroup:
		return buildGroupTask(config)
	case KindWhileGroup:
		return buildWhileGroupTask(config)
	default:
		return nil, nil, fmt.Errorf("graph: unknown vertex kind %v", kind)
	}
}

// passthroughTask returns its resolved input verbatim as output. Source
// vertices use it to forward caller-supplied inputs; Sink vertices use it
// to surface a producer's output unchanged as the run's final result;
// If/Else vertices use it so a guard reading the chosen branch's output
// (e.g. EqualsCondition on "branch") sees exactly what the vertex received.
func buildPassthroughTask(kind Kind, config interface{}) (Task, TemplateFields, error) {
	switch kind {
	case KindSource:
		if _, ok := config.(*SourceConfig); config != nil && !ok {
			return nil, nil, fmt.Errorf("graph: Source vertex requires *SourceConfig or nil config")
		}
	case KindSink:
		if _, ok := config.(*SinkConfig); config != nil && !ok {
			return nil, nil, fmt.Errorf("graph: Sink vertex requires *SinkConfig or nil config")
		}
	case KindIfElse:
		if _, ok := config.(*IfElseConfig); config != nil && !ok {
			return nil, nil, fmt.Errorf("graph: IfElse vertex requires *IfElseConfig or nil config")
		}
	}
	task := func(_ context.Context, _ *Context, _ string, input map[string]any) (map[string]any, error) {
		out := make(map[string]any, len(input))
		for k, v := range input {
			out[k] = v
		}
		return out, nil
	}
	return task, nil, nil
}

// SourceConfig is the (optional, usually nil) config for a Source vertex.
type SourceConfig struct{}

// SinkConfig is the (optional, usually nil) config for a Sink vertex.
type SinkConfig struct{}

// IfElseConfig is the (optional, usually nil) config for an If/Else vertex.
// The branch decision itself lives in the outgoing edges' guards; the
// vertex's own task only needs to forward its input so those guards have
// something to evaluate.
type IfElseConfig struct{}

// FunctionConfig wraps caller-supplied Go logic: Fn runs to completion with
// no preemption. It receives the resolved input map and returns the
// vertex's output.
type FunctionConfig struct {
	Fn func(ctx context.Context, input map[string]any) (map[string]any, error)
}

func buildFunctionTask(config interface{}) (Task, TemplateFields, error) {
	cfg, ok := config.(*FunctionConfig)
	if !ok || cfg == nil {
		return nil, nil, fmt.Errorf("graph: Function vertex requires *FunctionConfig")
	}
	if cfg.Fn == nil {
		return nil, nil, fmt.Errorf("graph: FunctionConfig.Fn must not be nil")
	}
	task := func(ctx context.Context, _ *Context, _ string, input map[string]any) (map[string]any, error) {
		out, err := cfg.Fn(ctx, input)
		if err != nil {
			return nil, newVertexError("", ErrTaskException, err)
		}
		return out, nil
	}
	return task, nil, nil
}

// EmbeddingConfig embeds one or more texts into vectors: embed(text |
// [text]) -> vector | [vector].
//
// TextVar names the input field holding either a single string or a
// []string. If that field holds a single string the output's "vector" field holds
// one []float32; otherwise "vectors" holds one []float32 per input text.
type EmbeddingConfig struct {
	Embedder vectorstore.Embedder
	TextVar  string
}

func buildEmbeddingTask(config interface{}) (Task, TemplateFields, error) {
	cfg, ok := config.(*EmbeddingConfig)
	if !ok || cfg == nil {
		return nil, nil, fmt.Errorf("graph: Embedding vertex requires *EmbeddingConfig")
	}
	if cfg.Embedder == nil {
		return nil, nil, fmt.Errorf("graph: EmbeddingConfig.Embedder must not be nil")
	}
	textVar := cfg.TextVar
	if textVar == "" {
		textVar = "text"
	}

	task := func(ctx context.Context, _ *Context, _ string, input map[string]any) (map[string]any, error) {
		raw, ok := input[textVar]
		if !ok {
			return nil, newVertexError("", ErrMissingDependency, fmt.Errorf("embedding input %q not found", textVar))
		}

		switch v := raw.(type) {
		case string:
			vectors, err := cfg.Embedder.Embed(ctx, []string{v})
			if err != nil {
				return nil, newVertexError("", ErrTaskException, err)
			}
			return map[string]any{"vector": vectors[0]}, nil
		case []string:
			vectors, err := cfg.Embedder.Embed(ctx, v)
			if err != nil {
				return nil, newVertexError("", ErrTaskException, err)
			}
			return map[string]any{"vectors": vectors}, nil
		default:
			return nil, newVertexError("", ErrTaskException, fmt.Errorf("embedding input %q has unsupported type %T", textVar, raw))
		}
	}
	return task, nil, nil
}

// VectorStoreConfig inserts one vector + metadata entry into a Store:
// Store.Insert(id, vector, metadata).
type VectorStoreConfig struct {
	Store       vectorstore.Store
	IDVar       string
	VectorVar   string
	MetadataVar string // optional; looked up input[MetadataVar] if set
}

func buildVectorStoreTask(config interface{}) (Task, TemplateFields, error) {
	cfg, ok := config.(*VectorStoreConfig)
	if !ok || cfg == nil {
		return nil, nil, fmt.Errorf("graph: VectorStore vertex requires *VectorStoreConfig")
	}
	if cfg.Store == nil {
		return nil, nil, fmt.Errorf("graph: VectorStoreConfig.Store must not be nil")
	}
	idVar := cfg.IDVar
	if idVar == "" {
		idVar = "id"
	}
	vectorVar := cfg.VectorVar
	if vectorVar == "" {
		vectorVar = "vector"
	}

	task := func(ctx context.Context, _ *Context, _ string, input map[string]any) (map[string]any, error) {
		id, ok := input[idVar].(string)
		if !ok {
			return nil, newVertexError("", ErrMissingDependency, fmt.Errorf("vector store input %q must be a string id", idVar))
		}
		vector, ok := input[vectorVar].([]float32)
		if !ok {
			return nil, newVertexError("", ErrMissingDependency, fmt.Errorf("vector store input %q must be a []float32", vectorVar))
		}
		var metadata map[string]any
		if cfg.MetadataVar != "" {
			metadata, _ = input[cfg.MetadataVar].(map[string]any)
		}
		if err := cfg.Store.Insert(ctx, id, vector, metadata); err != nil {
			return nil, newVertexError("", ErrTaskException, err)
		}
		return map[string]any{"id": id}, nil
	}
	return task, nil, nil
}

// VectorQueryConfig queries a Store for nearest neighbors:
// vector_store.query(vector, top_k, filter?) -> [{id, score, metadata}].
type VectorQueryConfig struct {
	Store     vectorstore.Store
	VectorVar string
	TopK      int
	FilterVar string // optional
}

func buildVectorQueryTask(config interface{}) (Task, TemplateFields, error) {
	cfg, ok := config.(*VectorQueryConfig)
	if !ok || cfg == nil {
		return nil, nil, fmt.Errorf("graph: VectorQuery vertex requires *VectorQueryConfig")
	}
	if cfg.Store == nil {
		return nil, nil, fmt.Errorf("graph: VectorQueryConfig.Store must not be nil")
	}
	vectorVar := cfg.VectorVar
	if vectorVar == "" {
		vectorVar = "vector"
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = 10
	}

	task := func(ctx context.Context, _ *Context, _ string, input map[string]any) (map[string]any, error) {
		vector, ok := input[vectorVar].([]float32)
		if !ok {
			return nil, newVertexError("", ErrMissingDependency, fmt.Errorf("vector query input %q must be a []float32", vectorVar))
		}
		var filter map[string]any
		if cfg.FilterVar != "" {
			filter, _ = input[cfg.FilterVar].(map[string]any)
		}
		matches, err := cfg.Store.Query(ctx, vector, topK, filter)
		if err != nil {
			return nil, newVertexError("", ErrTaskException, err)
		}
		results := make([]map[string]any, len(matches))
		for i, m := range matches {
			results[i] = map[string]any{"id": m.ID, "score": m.Score, "metadata": m.Metadata}
		}
		return map[string]any{"results": results}, nil
	}
	return task, nil, nil
}

// MemoryReaderConfig reads recent conversation turns: recent(user_id, n).
type MemoryReaderConfig struct {
	Memory  memory.Memory
	UserVar string // input field holding the user id
	N       int    // number of recent entries; <=0 means all
}

func buildMemoryReaderTask(config interface{}) (Task, TemplateFields, error) {
	cfg, ok := config.(*MemoryReaderConfig)
	if !ok || cfg == nil {
		return nil, nil, fmt.Errorf("graph: MemoryReader vertex requires *MemoryReaderConfig")
	}
	if cfg.Memory == nil {
		return nil, nil, fmt.Errorf("graph: MemoryReaderConfig.Memory must not be nil")
	}
	userVar := cfg.UserVar
	if userVar == "" {
		userVar = "user_id"
	}

	task := func(ctx context.Context, _ *Context, _ string, input map[string]any) (map[string]any, error) {
		userID, ok := input[userVar].(string)
		if !ok {
			return nil, newVertexError("", ErrMissingDependency, fmt.Errorf("memory reader input %q must be a string user id", userVar))
		}
		entries, err := cfg.Memory.Recent(ctx, userID, cfg.N)
		if err != nil {
			return nil, newVertexError("", ErrTaskException, err)
		}
		history := make([]map[string]any, len(entries))
		for i, e := range entries {
			history[i] = map[string]any{"role": e.Role, "content": e.Content, "ts": e.Ts}
		}
		return map[string]any{"history": history}, nil
	}
	return task, nil, nil
}

// MemoryWriterConfig appends one conversation turn — append(user_id, role,
// content) — and optionally invokes a summarization hook afterward; the
// hook is optional and can be omitted without losing round-trip behavior.
type MemoryWriterConfig struct {
	Memory             memory.Memory
	UserVar            string
	RoleVar            string
	ContentVar         string
	Summarize          memory.SummarizeFunc
	SummarizeThreshold int // invoke Summarize once history exceeds this length; 0 disables
}

func buildMemoryWriterTask(config interface{}) (Task, TemplateFields, error) {
	cfg, ok := config.(*MemoryWriterConfig)
	if !ok || cfg == nil {
		return nil, nil, fmt.Errorf("graph: MemoryWriter vertex requires *MemoryWriterConfig")
	}
	if cfg.Memory == nil {
		return nil, nil, fmt.Errorf("graph: MemoryWriterConfig.Memory must not be nil")
	}
	userVar, roleVar, contentVar := cfg.UserVar, cfg.RoleVar, cfg.ContentVar
	if userVar == "" {
		userVar = "user_id"
	}
	if roleVar == "" {
		roleVar = "role"
	}
	if contentVar == "" {
		contentVar = "content"
	}

	task := func(ctx context.Context, _ *Context, _ string, input map[string]any) (map[string]any, error) {
		userID, ok := input[userVar].(string)
		if !ok {
			return nil, newVertexError("", ErrMissingDependency, fmt.Errorf("memory writer input %q must be a string user id", userVar))
		}
		role, _ := input[roleVar].(string)
		content, _ := input[contentVar].(string)

		if err := cfg.Memory.Append(ctx, userID, role, content); err != nil {
			return nil, newVertexError("", ErrTaskException, err)
		}

		out := map[string]any{"appended": true}
		if cfg.Summarize == nil || cfg.SummarizeThreshold <= 0 {
			return out, nil
		}

		history, err := cfg.Memory.Recent(ctx, userID, 0)
		if err != nil {
			return nil, newVertexError("", ErrTaskException, err)
		}
		if len(history) <= cfg.SummarizeThreshold {
			return out, nil
		}
		summary, err := cfg.Summarize(ctx, userID, history)
		if err != nil {
			return nil, newVertexError("", ErrTaskException, err)
		}
		out["summary"] = summary
		return out, nil
	}
	return task, nil, nil
}
