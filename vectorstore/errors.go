package vectorstore

import "errors"

var (
	// ErrEmptyVector is returned when a query vector has no components.
	ErrEmptyVector = errors.New("empty query vector")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("vector store closed")
)
