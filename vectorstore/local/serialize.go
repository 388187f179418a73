package local

import (
	"github.com/opsgrid/docbase/core"
	"github.com/opsgrid/docbase/vectorstore"
)

// marshalRecord serializes a record as the chunk followed by its embedding.
func marshalRecord(r *vectorstore.Record) []byte {
	buf := make([]byte, core.DocumentChunkMUS.Size(r.Chunk)+core.EmbeddingVectorMUS.Size(r.Embedding))
	n := core.DocumentChunkMUS.Marshal(r.Chunk, buf)
	core.EmbeddingVectorMUS.Marshal(r.Embedding, buf[n:])
	return buf
}

// unmarshalRecord deserializes a record from bytes.
func unmarshalRecord(data []byte) (*vectorstore.Record, error) {
	chunk, n, err := core.DocumentChunkMUS.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	embedding, _, err := core.EmbeddingVectorMUS.Unmarshal(data[n:])
	if err != nil {
		return nil, err
	}
	return &vectorstore.Record{Chunk: chunk, Embedding: embedding}, nil
}
