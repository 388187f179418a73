package retrieve

import "errors"

var (
	// ErrStoreRequired is returned when a vector store is not provided.
	ErrStoreRequired = errors.New("vector store required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrCacheRequired is returned when a cache store is not provided.
	ErrCacheRequired = errors.New("cache store required")

	// ErrInvalidConfig is returned when the fusion configuration is invalid.
	ErrInvalidConfig = errors.New("invalid retrieval config")

	// ErrInvalidQuery is returned when the query text is empty.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrAllLegsFailed is returned when neither retrieval leg is available.
	ErrAllLegsFailed = errors.New("all retrieval legs failed")
)
