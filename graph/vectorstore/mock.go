package vectorstore

import "context"

// MockEmbedder returns a fixed-dimension deterministic vector per input
// string (hash of the text spread across Dim floats), for tests that need
// an Embedder without a real provider.
type MockEmbedder struct {
	Dim int
}

func NewMockEmbedder(dim int) *MockEmbedder {
	if dim <= 0 {
		dim = 8
	}
	return &MockEmbedder{Dim: dim}
}

func (e *MockEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = hashVector(text, e.Dim)
	}
	return out, nil
}

func hashVector(s string, dim int) []float32 {
	v := make([]float32, dim)
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
		v[i%dim] += float32(h%997) / 997.0
	}
	return v
}
