package ingest

import "errors"

var (
	// ErrJobStoreRequired is returned when a job store is not provided.
	ErrJobStoreRequired = errors.New("job store required")

	// ErrClientRequired is returned when a document-intelligence client is
	// not provided.
	ErrClientRequired = errors.New("document-intelligence client required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrStoreRequired is returned when a vector store is not provided.
	ErrStoreRequired = errors.New("vector store required")

	// ErrJobNotFound is returned when no job exists with the given ID.
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidJob is returned when a job record fails validation.
	ErrInvalidJob = errors.New("invalid job")

	// ErrJobTerminal is returned when cancelling a job that already reached
	// a terminal state.
	ErrJobTerminal = errors.New("job already terminal")

	// ErrPollExhausted is returned when the parse service did not finish a
	// job within the configured poll-attempt bound.
	ErrPollExhausted = errors.New("poll attempts exhausted")

	// ErrAllChunksFailed is returned internally when no chunk of a document
	// could be embedded.
	ErrAllChunksFailed = errors.New("all chunks failed embedding")
)
