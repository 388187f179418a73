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

package reindex

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/opsgrid/docbase/ai"
	"github.com/opsgrid/docbase/monitor"
	"github.com/opsgrid/docbase/vectorstore"
)

// Config holds configuration for a reindex run.
type Config struct {
	// BatchSize is the number of chunks embedded per upstream call.
	BatchSize int

	// ReportInterval is how often progress is reported, in chunks.
	ReportInterval int

	// Retry is the policy applied to embedding and upsert calls.
	Retry monitor.Policy

	// Force re-embeds every chunk, not just those from older model versions.
	Force bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      64,
		ReportInterval: 100,
		Retry:          monitor.DefaultPolicy(),
	}
}

// Reindexer re-embeds indexed chunks after an embedding-model change.
// Chunks already carrying the current model version are skipped unless
// Force is set; upsert idempotence makes interrupted runs safe to repeat.
type Reindexer struct {
	store    vectorstore.Store
	embedder ai.Embedder
	config   *Config
	progress io.Writer
	logger   *slog.Logger
}

// NewReindexer creates a reindexer. progress is where progress output is
// written, typically os.Stderr.
func NewReindexer(store vectorstore.Store, embedder ai.Embedder, config *Config, progress io.Writer) (*Reindexer, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.BatchSize < 1 {
		config.BatchSize = 1
	}
	if progress == nil {
		progress = io.Discard
	}

	return &Reindexer{
		store:    store,
		embedder: embedder,
		config:   config,
		progress: progress,
		logger:   slog.Default().With("component", "reindex"),
	}, nil
}

// Run re-embeds every stale chunk and writes the refreshed records back.
// Returns the number of chunks re-embedded.
func (r *Reindexer) Run(ctx context.Context) (int, error) {
	target := r.embedder.ModelVersion()

	var stale []*vectorstore.Record
	total := 0
	err := r.store.Scan(ctx, func(rec *vectorstore.Record) error {
		total++
		if r.config.Force || rec.Embedding.ModelVersion != target {
			stale = append(stale, rec)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scanning index: %w", err)
	}

	if len(stale) == 0 {
		fmt.Fprintf(r.progress, "index up to date: %d chunks already at %s\n", total, target)
		return 0, nil
	}

	r.logger.Info("reindex starting",
		"total", total, "stale", len(stale), "modelVersion", target)

	tracker := newProgressTracker(r.progress, len(stale), r.config.ReportInterval)
	tracker.start()

	done := 0
	for start := 0; start < len(stale); start += r.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return done, err
		}

		batch := stale[start:min(start+r.config.BatchSize, len(stale))]
		if err := r.processBatch(ctx, batch, target); err != nil {
			return done, err
		}

		done += len(batch)
		tracker.update(done)
	}

	tracker.finish()
	r.logger.Info("reindex finished",
		"reembedded", done, "elapsed", tracker.elapsed().Round(time.Millisecond))
	return done, nil
}

// processBatch embeds one batch and upserts the refreshed records.
func (r *Reindexer) processBatch(ctx context.Context, batch []*vectorstore.Record, modelVersion string) error {
	texts := make([]string, len(batch))
	for i, rec := range batch {
		texts[i] = rec.Chunk.Text
	}

	var embeddings [][]float32
	res := monitor.RunWithLogger(ctx, func(ctx context.Context) error {
		e, err := r.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			return err
		}
		embeddings = e
		return nil
	}, r.config.Retry, r.logger)
	if res.Status == monitor.Failed {
		return fmt.Errorf("embedding batch: %w", res.Err)
	}
	if len(embeddings) != len(batch) {
		return fmt.Errorf("%w: expected %d, got %d", ErrEmbeddingMismatch, len(batch), len(embeddings))
	}

	for i, rec := range batch {
		rec.Embedding.ChunkId = rec.Chunk.Id
		rec.Embedding.ModelVersion = modelVersion
		rec.Embedding.Vector = embeddings[i]
	}

	res = monitor.RunWithLogger(ctx, func(ctx context.Context) error {
		return r.store.Upsert(ctx, batch)
	}, r.config.Retry, r.logger)
	if res.Status == monitor.Failed {
		return fmt.Errorf("upserting batch: %w", res.Err)
	}

	return nil
}
