package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/corewf/workflowcore/graph/memory"
	"github.com/corewf/workflowcore/graph/vectorstore"
)

func TestPassthroughTaskCopiesInput(t *testing.T) {
	task, _, err := buildTask(KindSource, nil)
	if err != nil {
		t.Fatal(err)
	}
	out, err := task(context.Background(), nil, "src", map[string]any{"v": 3})
	if err != nil {
		t.Fatal(err)
	}
	if out["v"] != 3 {
		t.Fatalf("expected passthrough of v=3, got %v", out)
	}
}

func TestFunctionTaskWrapsErrorAsTaskException(t *testing.T) {
	boom := errors.New("boom")
	task, _, err := buildTask(KindFunction, &FunctionConfig{Fn: func(_ context.Context, _ map[string]any) (map[string]any, error) {
		return nil, boom
	}})
	if err != nil {
		t.Fatal(err)
	}
	_, taskErr := task(context.Background(), nil, "fn", nil)
	var ve *VertexError
	if !errors.As(taskErr, &ve) || ve.Tag != ErrTaskException {
		t.Fatalf("expected ErrTaskException, got %v", taskErr)
	}
}

func TestEmbeddingTaskSingleString(t *testing.T) {
	task, _, err := buildTask(KindEmbedding, &EmbeddingConfig{Embedder: vectorstore.NewMockEmbedder(4), TextVar: "text"})
	if err != nil {
		t.Fatal(err)
	}
	out, err := task(context.Background(), nil, "embed", map[string]any{"text": "hello"})
	if err != nil {
		t.Fatal(err)
	}
	vec, ok := out["vector"].([]float32)
	if !ok || len(vec) != 4 {
		t.Fatalf("expected a 4-dim vector, got %v", out["vector"])
	}
}

func TestEmbeddingTaskStringSlice(t *testing.T) {
	task, _, err := buildTask(KindEmbedding, &EmbeddingConfig{Embedder: vectorstore.NewMockEmbedder(4), TextVar: "text"})
	if err != nil {
		t.Fatal(err)
	}
	out, err := task(context.Background(), nil, "embed", map[string]any{"text": []string{"a", "b"}})
	if err != nil {
		t.Fatal(err)
	}
	vecs, ok := out["vectors"].([][]float32)
	if !ok || len(vecs) != 2 {
		t.Fatalf("expected 2 vectors, got %v", out["vectors"])
	}
}

func TestVectorStoreAndQueryRoundtrip(t *testing.T) {
	store := vectorstore.NewMemStore()

	insertTask, _, err := buildTask(KindVectorStore, &VectorStoreConfig{Store: store})
	if err != nil {
		t.Fatal(err)
	}
	_, err = insertTask(context.Background(), nil, "ins", map[string]any{"id": "doc1", "vector": []float32{1, 0, 0}})
	if err != nil {
		t.Fatal(err)
	}

	queryTask, _, err := buildTask(KindVectorQuery, &VectorQueryConfig{Store: store, TopK: 1})
	if err != nil {
		t.Fatal(err)
	}
	out, err := queryTask(context.Background(), nil, "qry", map[string]any{"vector": []float32{1, 0, 0}})
	if err != nil {
		t.Fatal(err)
	}
	results, ok := out["results"].([]map[string]any)
	if !ok || len(results) != 1 || results[0]["id"] != "doc1" {
		t.Fatalf("expected doc1 as the top match, got %v", out["results"])
	}
}

func TestMemoryReaderAndWriterRoundtrip(t *testing.T) {
	mem := memory.NewInMemory()

	writeTask, _, err := buildTask(KindMemoryWriter, &MemoryWriterConfig{Memory: mem})
	if err != nil {
		t.Fatal(err)
	}
	_, err = writeTask(context.Background(), nil, "write", map[string]any{"user_id": "u1", "role": "user", "content": "hi"})
	if err != nil {
		t.Fatal(err)
	}

	readTask, _, err := buildTask(KindMemoryReader, &MemoryReaderConfig{Memory: mem, N: 10})
	if err != nil {
		t.Fatal(err)
	}
	out, err := readTask(context.Background(), nil, "read", map[string]any{"user_id": "u1"})
	if err != nil {
		t.Fatal(err)
	}
	history, ok := out["history"].([]map[string]any)
	if !ok || len(history) != 1 || history[0]["content"] != "hi" {
		t.Fatalf("expected one history entry with content 'hi', got %v", out["history"])
	}
}

func TestMemoryWriterInvokesSummarizeOverThreshold(t *testing.T) {
	mem := memory.NewInMemory()
	var summarized bool
	writeTask, _, err := buildTask(KindMemoryWriter, &MemoryWriterConfig{
		Memory:             mem,
		SummarizeThreshold: 1,
		Summarize: func(_ context.Context, _ string, history []memory.Entry) (string, error) {
			summarized = true
			return "summary", nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	_, err = writeTask(ctx, nil, "write", map[string]any{"user_id": "u1", "role": "user", "content": "one"})
	if err != nil {
		t.Fatal(err)
	}
	out, err := writeTask(ctx, nil, "write", map[string]any{"user_id": "u1", "role": "user", "content": "two"})
	if err != nil {
		t.Fatal(err)
	}
	if !summarized {
		t.Fatal("expected Summarize to be invoked once history exceeded the threshold")
	}
	if out["summary"] != "summary" {
		t.Fatalf("expected summary in output, got %v", out)
	}
}
