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

package ingest

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/opsgrid/docbase/core"
	"github.com/opsgrid/docbase/docintel"
)

// JobRecord is the persisted unit of crash recovery: the job itself plus
// everything needed to re-enter the pipeline at its last stage.
type JobRecord struct {
	Job      core.IngestionJob
	Document core.Document

	// Handle is the remote parse handle, set once submission succeeds.
	// It lets a restarted process re-fetch the parse result instead of
	// re-uploading the document.
	Handle docintel.JobHandle
}

// JobStore persists ingestion jobs across restarts.
type JobStore interface {
	// Put writes or replaces a job record.
	Put(ctx context.Context, rec *JobRecord) error

	// Get returns a job record by job ID.
	Get(ctx context.Context, id core.ID) (*JobRecord, error)

	// Pending returns all jobs not in a terminal state.
	Pending(ctx context.Context) ([]*JobRecord, error)

	// Close releases the store's resources.
	Close() error
}

const jobPrefix = "ingjob"

func makeJobKey(id core.ID) []byte {
	prefix := jobPrefix + ":"
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(id))
	return buf
}

// BadgerJobStore keeps job records in an embedded BadgerDB.
type BadgerJobStore struct {
	db     *badger.DB
	logger *slog.Logger
}

var _ JobStore = (*BadgerJobStore)(nil)

// OpenJobStore opens a job store at filePath, creating the directory if
// needed. An empty filePath with inMemory true gives a throwaway store.
func OpenJobStore(filePath string, inMemory bool) (*BadgerJobStore, error) {
	var opts badger.Options

	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(filePath, 0755); err != nil {
			return nil, err
		}
		opts = badger.DefaultOptions(filePath)
	}

	opts.Logger = nil
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &BadgerJobStore{
		db:     db,
		logger: slog.Default().With("component", "ingest.jobstore"),
	}, nil
}

// Close closes the underlying database.
func (s *BadgerJobStore) Close() error {
	return s.db.Close()
}

// Put writes or replaces a job record.
func (s *BadgerJobStore) Put(ctx context.Context, rec *JobRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.Job.Id == 0 {
		return fmt.Errorf("%w: job id is zero", ErrInvalidJob)
	}

	return s.db.Update(func(tx *badger.Txn) error {
		return tx.Set(makeJobKey(rec.Job.Id), marshalJobRecord(rec))
	})
}

// Get returns a job record by job ID.
func (s *BadgerJobStore) Get(ctx context.Context, id core.ID) (*JobRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rec *JobRecord
	err := s.db.View(func(tx *badger.Txn) error {
		item, err := tx.Get(makeJobKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrJobNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			rec, err = unmarshalJobRecord(val)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	return rec, nil
}

// Pending returns all jobs not in a terminal state.
func (s *BadgerJobStore) Pending(ctx context.Context) ([]*JobRecord, error) {
	var pending []*JobRecord

	err := s.db.View(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(jobPrefix + ":")
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			var rec *JobRecord
			err := iter.Item().Value(func(val []byte) error {
				var err error
				rec, err = unmarshalJobRecord(val)
				return err
			})
			if err != nil {
				return err
			}
			if !rec.Job.Status.Terminal() {
				pending = append(pending, rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return pending, nil
}
