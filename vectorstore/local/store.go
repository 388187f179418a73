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

package local

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/opsgrid/docbase/core"
	"github.com/opsgrid/docbase/vectorstore"
)

// Store is a BadgerDB-backed chunk index. Queries are brute-force scans,
// which is adequate for single-node corpora in the tens of thousands of
// chunks.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

var _ vectorstore.Store = (*Store)(nil)

// badgerLoggerAdapter adapts slog.Logger to badger.Logger interface.
type badgerLoggerAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Infof(msg string, items ...any) {
	bl.logger.Info(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

// Open opens a chunk index at filePath, creating the directory if needed.
// An empty filePath with inMemory true gives a throwaway in-memory store.
func Open(filePath string, inMemory bool) (*Store, error) {
	var opts badger.Options

	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		info, err := os.Stat(filePath)
		if err != nil {
			if os.IsNotExist(err) {
				if err := os.MkdirAll(filePath, 0755); err != nil {
					return nil, err
				}
				info, err = os.Stat(filePath)
				if err != nil {
					return nil, err
				}
			} else {
				return nil, err
			}
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%s is not a directory", filePath)
		}
		opts = badger.DefaultOptions(filePath)
	}

	logger := slog.Default().With("component", "vectorstore.local")
	opts.Logger = &badgerLoggerAdapter{logger: logger}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &Store{db: db, logger: logger}, nil
}

// OpenMemory creates an in-memory store for testing.
func OpenMemory() (*Store, error) {
	return Open("", true)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// withTx executes fn within a transaction, committing on success when
// isWrite is set.
func (s *Store) withTx(fn func(tx *badger.Txn) error, isWrite bool) error {
	if s.db.IsClosed() {
		return vectorstore.ErrClosed
	}

	tx := s.db.NewTransaction(isWrite)
	defer tx.Discard()

	if err := fn(tx); err != nil {
		return err
	}
	if isWrite {
		return tx.Commit()
	}
	return nil
}

// Upsert writes records, replacing existing records with the same chunk ID.
func (s *Store) Upsert(ctx context.Context, records []*vectorstore.Record) error {
	if len(records) == 0 {
		return nil
	}

	// Batch in groups small enough not to blow the transaction limit.
	const batchSize = 128
	for start := 0; start < len(records); start += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch := records[start:min(start+batchSize, len(records))]
		err := s.withTx(func(tx *badger.Txn) error {
			for _, r := range batch {
				if err := core.ValidateChunk(&r.Chunk); err != nil {
					return err
				}
				if err := tx.Set(makeRecordKey(r.Chunk.Id), marshalRecord(r)); err != nil {
					return err
				}
				if err := tx.Set(makeDocumentKey(r.Chunk.DocumentId, r.Chunk.Id), nil); err != nil {
					return err
				}
			}
			return nil
		}, true)
		if err != nil {
			return fmt.Errorf("upserting records: %w", err)
		}
	}

	return nil
}

// Query returns up to limit chunks ranked by cosine similarity.
func (s *Store) Query(ctx context.Context, vector []float32, limit int, filter *vectorstore.Filter) ([]*vectorstore.Hit, error) {
	if len(vector) == 0 {
		return nil, vectorstore.ErrEmptyVector
	}

	return s.collect(ctx, limit, filter, func(r *vectorstore.Record) (float32, bool) {
		if len(r.Embedding.Vector) == 0 {
			return 0, false
		}
		return vectorstore.CosineSimilarity(vector, r.Embedding.Vector), true
	})
}

// KeywordQuery returns up to limit chunks ranked by term overlap.
func (s *Store) KeywordQuery(ctx context.Context, terms []string, limit int, filter *vectorstore.Filter) ([]*vectorstore.Hit, error) {
	if len(terms) == 0 {
		return nil, nil
	}

	return s.collect(ctx, limit, filter, func(r *vectorstore.Record) (float32, bool) {
		score := vectorstore.TermScore(r.Chunk.Text, terms)
		return score, score > 0
	})
}

// collect scans all records, scores those passing the filter, and returns
// the top hits sorted by score descending.
func (s *Store) collect(ctx context.Context, limit int, filter *vectorstore.Filter, score func(*vectorstore.Record) (float32, bool)) ([]*vectorstore.Hit, error) {
	var hits []*vectorstore.Hit

	err := s.withTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(recordPrefix + ":")
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			var record *vectorstore.Record
			err := iter.Item().Value(func(val []byte) error {
				var err error
				record, err = unmarshalRecord(val)
				return err
			})
			if err != nil {
				return err
			}

			if !filter.Match(&record.Chunk) {
				continue
			}
			sc, ok := score(record)
			if !ok {
				continue
			}
			hits = append(hits, &vectorstore.Hit{Chunk: &record.Chunk, Score: sc})
		}

		return nil
	}, false)
	if err != nil {
		return nil, err
	}

	slices.SortFunc(hits, func(a, b *vectorstore.Hit) int {
		if a.Score > b.Score {
			return -1
		}
		if a.Score < b.Score {
			return 1
		}
		// Deterministic order for equal scores
		if a.Chunk.Id < b.Chunk.Id {
			return -1
		}
		if a.Chunk.Id > b.Chunk.Id {
			return 1
		}
		return 0
	})

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}

	return hits, nil
}

// Delete removes the given chunks and their document index entries.
func (s *Store) Delete(ctx context.Context, chunkIds []core.ID) error {
	if len(chunkIds) == 0 {
		return nil
	}

	return s.withTx(func(tx *badger.Txn) error {
		for _, id := range chunkIds {
			if err := ctx.Err(); err != nil {
				return err
			}

			item, err := tx.Get(makeRecordKey(id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}

			var record *vectorstore.Record
			if err := item.Value(func(val []byte) error {
				var err error
				record, err = unmarshalRecord(val)
				return err
			}); err != nil {
				return err
			}

			if err := tx.Delete(makeRecordKey(id)); err != nil {
				return err
			}
			if err := tx.Delete(makeDocumentKey(record.Chunk.DocumentId, id)); err != nil {
				return err
			}
		}
		return nil
	}, true)
}

// DeleteDocument removes every chunk belonging to documentId.
func (s *Store) DeleteDocument(ctx context.Context, documentId core.ID) error {
	return s.withTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makePartialDocumentKey(documentId)
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()

		var indexKeys [][]byte
		var chunkIds []core.ID
		for iter.Rewind(); iter.Valid(); iter.Next() {
			key := iter.Item().KeyCopy(nil)
			indexKeys = append(indexKeys, key)
			chunkIds = append(chunkIds, chunkIdFromDocumentKey(key))
		}

		for i, id := range chunkIds {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := tx.Delete(makeRecordKey(id)); err != nil {
				return err
			}
			if err := tx.Delete(indexKeys[i]); err != nil {
				return err
			}
		}
		return nil
	}, true)
}

// Scan visits every record in the store.
func (s *Store) Scan(ctx context.Context, fn func(*vectorstore.Record) error) error {
	return s.withTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(recordPrefix + ":")
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			var record *vectorstore.Record
			err := iter.Item().Value(func(val []byte) error {
				var err error
				record, err = unmarshalRecord(val)
				return err
			})
			if err != nil {
				return err
			}
			if err := fn(record); err != nil {
				return err
			}
		}
		return nil
	}, false)
}
