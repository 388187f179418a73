package ai

import "context"

// Embedder generates vector embeddings from text for semantic similarity search.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	// The returned vector represents the semantic meaning of the text.
	// Returns an error if the embedding generation fails.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings in a batch.
	// Batch processing is more efficient than calling EmbedText multiple times.
	// The returned slice contains embeddings in the same order as the input texts.
	// Returns an error if any embedding generation fails.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)

	// ModelVersion identifies the embedding model. Vectors from different
	// model versions are not comparable; indexes record the version they
	// were built with.
	ModelVersion() string
}

// Reranker scores the relevance of a passage to a query. It is the
// higher-cost second pass applied to a short candidate list after fusion.
// Implementations must be thread-safe for concurrent use.
type Reranker interface {
	// Score returns a relevance score in [0,1] for the passage given the query.
	Score(ctx context.Context, query, passage string) (float64, error)

	// ModelVersion identifies the rerank model for cache keying.
	ModelVersion() string
}

// Provider aggregates AI services for convenient initialization and lifecycle
// management. A provider creates and manages Embedder and Reranker instances,
// ensuring they share configuration and resources appropriately.
type Provider interface {
	// Embedder returns the text embedding service.
	// The returned Embedder is safe for concurrent use.
	Embedder() Embedder

	// Reranker returns the relevance scoring service, or nil when reranking
	// is not configured.
	Reranker() Reranker

	// Close releases resources held by the provider and its services.
	// After Close is called, the provider and its services should not be used.
	Close() error
}
