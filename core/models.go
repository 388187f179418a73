package core

import (
	"encoding/binary"
	"time"

	"github.com/go-crypt/x/blake2b"
	"github.com/google/uuid"
)

// ID is a unique identifier for domain entities.
// It is generated from content-based hashing or random UUIDs.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// NewRandomID generates a random identifier by hashing a fresh UUID.
func NewRandomID() ID {
	return IDFromContent(uuid.NewString())
}

// Document represents an uploaded source document awaiting or past ingestion.
type Document struct {
	Id         ID
	FileName   string
	FilePath   string
	MimeType   string
	SizeBytes  int64
	Vendor     string
	Tags       []string
	UploadedAt time.Time
}

// SourceSpan locates a chunk within its source document for provenance.
// Offsets are byte offsets into the parsed document text. End is exclusive.
type SourceSpan struct {
	Start int
	End   int
}

// Len returns the span length in bytes.
func (s SourceSpan) Len() int {
	return s.End - s.Start
}

// ChunkMetadata carries filterable attributes attached to each chunk.
type ChunkMetadata struct {
	Title   string
	Source  string
	Vendor  string
	Tags    []string
	DocType string
}

// DocumentChunk is the unit of indexing and retrieval: a bounded, semantically
// coherent excerpt of a document. Chunks are immutable once created.
type DocumentChunk struct {
	Id         ID
	DocumentId ID
	Ordinal    int // Position within the document, unique per document
	Text       string
	Span       SourceSpan
	Metadata   ChunkMetadata
}

// EmbeddingVector holds the embedding computed for a chunk under a specific
// model version. Exactly one vector exists per (chunk, model version).
type EmbeddingVector struct {
	ChunkId      ID
	ModelVersion string
	Vector       []float32
}

// RetrievalResult is a single ranked hit from the hybrid retrieval engine,
// carrying the per-leg score breakdown for explainability. Results are
// constructed per query and never persisted.
type RetrievalResult struct {
	ChunkId      ID
	DocumentId   ID
	Text         string
	Ordinal      int
	Span         SourceSpan
	Metadata     ChunkMetadata
	VectorScore  float64
	KeywordScore float64
	RerankScore  float64 // Only meaningful when Reranked is true
	FusedScore   float64
	Reranked     bool
}

// FinalScore returns the score used for ranking: the rerank score when a
// rerank pass ran for this result, the fused score otherwise.
func (r *RetrievalResult) FinalScore() float64 {
	if r.Reranked {
		return r.RerankScore
	}
	return r.FusedScore
}
