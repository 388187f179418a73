package reindex

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	aimock "github.com/opsgrid/docbase/ai/mock"
	"github.com/opsgrid/docbase/core"
	"github.com/opsgrid/docbase/monitor"
	"github.com/opsgrid/docbase/vectorstore"
	"github.com/opsgrid/docbase/vectorstore/local"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSeededStore(t *testing.T, records ...*vectorstore.Record) *local.Store {
	t.Helper()
	s, err := local.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	if len(records) > 0 {
		require.NoError(t, s.Upsert(context.Background(), records))
	}
	return s
}

func record(chunkId core.ID, text, modelVersion string) *vectorstore.Record {
	return &vectorstore.Record{
		Chunk: core.DocumentChunk{
			Id:         chunkId,
			DocumentId: 100,
			Text:       text,
			Span:       core.SourceSpan{Start: 0, End: len(text)},
		},
		Embedding: core.EmbeddingVector{
			ChunkId:      chunkId,
			ModelVersion: modelVersion,
			Vector:       aimock.DeterministicVector(text+modelVersion, 8),
		},
	}
}

func fastRetry() monitor.Policy {
	return monitor.Policy{MaxAttempts: 2, BaseBackoff: time.Millisecond, BackoffMultiplier: 2}
}

func TestNewReindexerValidation(t *testing.T) {
	store := openSeededStore(t)
	embedder := aimock.NewEmbedder()

	_, err := NewReindexer(nil, embedder, nil, nil)
	assert.ErrorIs(t, err, ErrStoreRequired)

	_, err = NewReindexer(store, nil, nil, nil)
	assert.ErrorIs(t, err, ErrEmbedderRequired)

	r, err := NewReindexer(store, embedder, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().BatchSize, r.config.BatchSize)
}

func TestRunSkipsCurrentModelVersion(t *testing.T) {
	embedder := aimock.NewEmbedder()
	current := embedder.ModelVersion()

	fresh := record(1, "already current", current)
	store := openSeededStore(t,
		fresh,
		record(2, "needs refresh", "old-v0"),
		record(3, "also stale", "old-v0"),
	)
	freshVector := append([]float32(nil), fresh.Embedding.Vector...)

	var out bytes.Buffer
	cfg := DefaultConfig()
	cfg.Retry = fastRetry()
	r, err := NewReindexer(store, embedder, cfg, &out)
	require.NoError(t, err)

	count, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, store.Scan(context.Background(), func(rec *vectorstore.Record) error {
		assert.Equal(t, current, rec.Embedding.ModelVersion)
		if rec.Chunk.Id == 1 {
			assert.Equal(t, freshVector, rec.Embedding.Vector, "current chunks must not be touched")
		}
		return nil
	}))
}

func TestRunUpToDateIndex(t *testing.T) {
	embedder := aimock.NewEmbedder()
	store := openSeededStore(t, record(1, "text", embedder.ModelVersion()))

	var out bytes.Buffer
	r, err := NewReindexer(store, embedder, nil, &out)
	require.NoError(t, err)

	count, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Zero(t, embedder.CallCount())
	assert.Contains(t, out.String(), "up to date")
}

func TestRunForceReembedsEverything(t *testing.T) {
	embedder := aimock.NewEmbedder()
	current := embedder.ModelVersion()
	store := openSeededStore(t,
		record(1, "current one", current),
		record(2, "current two", current),
	)

	cfg := DefaultConfig()
	cfg.Force = true
	cfg.Retry = fastRetry()
	r, err := NewReindexer(store, embedder, cfg, nil)
	require.NoError(t, err)

	count, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Positive(t, embedder.CallCount())
}

func TestRunBatchesByConfiguredSize(t *testing.T) {
	embedder := aimock.NewEmbedder()
	var batches [][]string
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		batches = append(batches, texts)
		out := make([][]float32, len(texts))
		for i, text := range texts {
			out[i] = aimock.DeterministicVector(text, 8)
		}
		return out, nil
	}

	records := make([]*vectorstore.Record, 5)
	for i := range records {
		records[i] = record(core.ID(i+1), fmt.Sprintf("chunk %d", i+1), "old-v0")
	}
	store := openSeededStore(t, records...)

	cfg := DefaultConfig()
	cfg.BatchSize = 2
	cfg.Retry = fastRetry()
	r, err := NewReindexer(store, embedder, cfg, nil)
	require.NoError(t, err)

	count, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 2)
	assert.Len(t, batches[1], 2)
	assert.Len(t, batches[2], 1)
}

func TestRunDetectsEmbeddingCountMismatch(t *testing.T) {
	embedder := aimock.NewEmbedder()
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		return [][]float32{aimock.DeterministicVector("only one", 8)}, nil
	}
	store := openSeededStore(t,
		record(1, "a", "old-v0"),
		record(2, "b", "old-v0"),
	)

	cfg := DefaultConfig()
	cfg.Retry = fastRetry()
	r, err := NewReindexer(store, embedder, cfg, nil)
	require.NoError(t, err)

	_, err = r.Run(context.Background())
	assert.ErrorIs(t, err, ErrEmbeddingMismatch)
}

func TestRunSurfacesEmbeddingFailure(t *testing.T) {
	embedder := aimock.NewEmbedder()
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		return nil, monitor.AsPermanent(errors.New("model unavailable"))
	}
	store := openSeededStore(t, record(1, "a", "old-v0"))

	cfg := DefaultConfig()
	cfg.Retry = fastRetry()
	r, err := NewReindexer(store, embedder, cfg, nil)
	require.NoError(t, err)

	count, err := r.Run(context.Background())
	assert.Zero(t, count)
	assert.ErrorContains(t, err, "model unavailable")
}

func TestRunHonorsCancellation(t *testing.T) {
	embedder := aimock.NewEmbedder()
	store := openSeededStore(t,
		record(1, "a", "old-v0"),
		record(2, "b", "old-v0"),
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := DefaultConfig()
	cfg.Retry = fastRetry()
	r, err := NewReindexer(store, embedder, cfg, nil)
	require.NoError(t, err)

	_, err = r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProgressTrackerReports(t *testing.T) {
	var out bytes.Buffer
	tracker := newProgressTracker(&out, 10, 5)
	tracker.start()
	tracker.update(3)
	tracker.update(5)
	tracker.update(10)
	tracker.finish()

	s := out.String()
	assert.Contains(t, s, "5/10")
	assert.Contains(t, s, "10/10")
	assert.NotContains(t, s, "3/10", "updates between report intervals stay quiet")
}
