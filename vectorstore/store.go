// Copyright 2025 Opsgrid Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package vectorstore

import (
	"context"
	"slices"

	"github.com/opsgrid/docbase/core"
)

// Record is one indexed chunk together with its embedding.
type Record struct {
	Chunk     core.DocumentChunk
	Embedding core.EmbeddingVector
}

// Hit is one query match.
type Hit struct {
	Chunk *core.DocumentChunk
	Score float32
}

// Filter restricts a query by metadata equality. Zero-value fields are
// ignored; Tags requires every listed tag to be present on the chunk.
type Filter struct {
	DocumentId core.ID
	Vendor     string
	DocType    string
	Tags       []string
}

// Match reports whether a chunk passes the filter. A nil filter matches
// everything.
func (f *Filter) Match(c *core.DocumentChunk) bool {
	if f == nil {
		return true
	}
	if f.DocumentId != 0 && c.DocumentId != f.DocumentId {
		return false
	}
	if f.Vendor != "" && c.Metadata.Vendor != f.Vendor {
		return false
	}
	if f.DocType != "" && c.Metadata.DocType != f.DocType {
		return false
	}
	for _, tag := range f.Tags {
		if !slices.Contains(c.Metadata.Tags, tag) {
			return false
		}
	}
	return true
}

// Empty reports whether the filter constrains nothing.
func (f *Filter) Empty() bool {
	return f == nil || (f.DocumentId == 0 && f.Vendor == "" && f.DocType == "" && len(f.Tags) == 0)
}

// Store is a chunk index supporting vector similarity and term-overlap
// queries. Upsert is idempotent: writing the same chunk ID again replaces
// the previous record.
type Store interface {
	// Upsert writes records, replacing any existing record with the same
	// chunk ID.
	Upsert(ctx context.Context, records []*Record) error

	// Query returns up to limit chunks ranked by cosine similarity to the
	// query vector, most similar first.
	Query(ctx context.Context, vector []float32, limit int, filter *Filter) ([]*Hit, error)

	// KeywordQuery returns up to limit chunks ranked by term overlap with
	// the query terms, best first. Chunks matching no term are omitted.
	KeywordQuery(ctx context.Context, terms []string, limit int, filter *Filter) ([]*Hit, error)

	// Delete removes the given chunks. Missing IDs are not an error.
	Delete(ctx context.Context, chunkIds []core.ID) error

	// DeleteDocument removes every chunk belonging to documentId.
	DeleteDocument(ctx context.Context, documentId core.ID) error

	// Scan visits every record in the store. Used for re-embedding after a
	// model change; order is unspecified.
	Scan(ctx context.Context, fn func(*Record) error) error

	// Close releases the store's resources.
	Close() error
}
