package reindex

import "errors"

var (
	// ErrStoreRequired is returned when a vector store is not provided.
	ErrStoreRequired = errors.New("vector store required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrEmbeddingMismatch is returned when the embedder returns a different
	// number of vectors than texts sent.
	ErrEmbeddingMismatch = errors.New("embedding count mismatch")
)
