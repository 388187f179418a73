package mock

import (
	"context"
	"hash/fnv"
	"math"
	"sync/atomic"
)

// Embedder is a test double for ai.Embedder.
// It allows custom behavior injection via function fields.
type Embedder struct {
	// EmbedTextFunc is called by EmbedText if set.
	// If nil, uses default deterministic behavior.
	EmbedTextFunc func(ctx context.Context, text string) ([]float32, error)

	// EmbedTextsFunc is called by EmbedTexts if set.
	// If nil, uses default deterministic behavior.
	EmbedTextsFunc func(ctx context.Context, texts []string) ([][]float32, error)

	// Version overrides the reported model version. Defaults to "mock-v1".
	Version string

	callCount atomic.Int64
}

// NewEmbedder creates a mock embedder with default deterministic behavior.
// Note: returns the concrete type to allow test assertions on call counts.
func NewEmbedder() *Embedder {
	return &Embedder{}
}

// ModelVersion returns the mock model version.
func (m *Embedder) ModelVersion() string {
	if m.Version != "" {
		return m.Version
	}
	return "mock-v1"
}

// EmbedText generates a deterministic embedding based on text hash.
func (m *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	m.callCount.Add(1)

	if m.EmbedTextFunc != nil {
		return m.EmbedTextFunc(ctx, text)
	}
	return DeterministicVector(text, 64), nil
}

// EmbedTexts generates deterministic embeddings for multiple texts.
func (m *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	m.callCount.Add(1)

	if m.EmbedTextsFunc != nil {
		return m.EmbedTextsFunc(ctx, texts)
	}
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		embeddings[i] = DeterministicVector(text, 64)
	}
	return embeddings, nil
}

// CallCount returns the number of times any embed method was called.
func (m *Embedder) CallCount() int {
	return int(m.callCount.Load())
}

// DeterministicVector generates a unit-length vector derived from the text's
// FNV hash. Identical text always produces identical vectors, and similar
// texts do not cluster, which keeps test expectations simple.
func DeterministicVector(text string, dim int) []float32 {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, dim)
	var norm float64
	for i := range vec {
		// xorshift64 over the seed gives stable pseudo-random components
		seed ^= seed << 13
		seed ^= seed >> 7
		seed ^= seed << 17
		v := float64(int64(seed%2000)-1000) / 1000.0
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
