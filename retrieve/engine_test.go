package retrieve

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	aimock "github.com/opsgrid/docbase/ai/mock"
	"github.com/opsgrid/docbase/cache"
	"github.com/opsgrid/docbase/core"
	"github.com/opsgrid/docbase/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore drives each leg independently so degraded modes are easy to
// provoke.
type fakeStore struct {
	queryFunc   func(ctx context.Context, vector []float32, limit int, filter *vectorstore.Filter) ([]*vectorstore.Hit, error)
	keywordFunc func(ctx context.Context, terms []string, limit int, filter *vectorstore.Filter) ([]*vectorstore.Hit, error)
}

var _ vectorstore.Store = (*fakeStore)(nil)

func (f *fakeStore) Upsert(ctx context.Context, records []*vectorstore.Record) error { return nil }

func (f *fakeStore) Query(ctx context.Context, vector []float32, limit int, filter *vectorstore.Filter) ([]*vectorstore.Hit, error) {
	if f.queryFunc == nil {
		return nil, nil
	}
	return f.queryFunc(ctx, vector, limit, filter)
}

func (f *fakeStore) KeywordQuery(ctx context.Context, terms []string, limit int, filter *vectorstore.Filter) ([]*vectorstore.Hit, error) {
	if f.keywordFunc == nil {
		return nil, nil
	}
	return f.keywordFunc(ctx, terms, limit, filter)
}

func (f *fakeStore) Delete(ctx context.Context, chunkIds []core.ID) error       { return nil }
func (f *fakeStore) DeleteDocument(ctx context.Context, documentId core.ID) error { return nil }
func (f *fakeStore) Scan(ctx context.Context, fn func(*vectorstore.Record) error) error {
	return nil
}
func (f *fakeStore) Close() error { return nil }

func hit(chunkId, documentId core.ID, text string, score float32) *vectorstore.Hit {
	return &vectorstore.Hit{
		Chunk: &core.DocumentChunk{
			Id:         chunkId,
			DocumentId: documentId,
			Text:       text,
			Metadata:   core.ChunkMetadata{Vendor: "cisco"},
		},
		Score: score,
	}
}

func staticHits(hits ...*vectorstore.Hit) func(ctx context.Context, vector []float32, limit int, filter *vectorstore.Filter) ([]*vectorstore.Hit, error) {
	return func(ctx context.Context, vector []float32, limit int, filter *vectorstore.Filter) ([]*vectorstore.Hit, error) {
		return hits, nil
	}
}

func staticKeywordHits(hits ...*vectorstore.Hit) func(ctx context.Context, terms []string, limit int, filter *vectorstore.Filter) ([]*vectorstore.Hit, error) {
	return func(ctx context.Context, terms []string, limit int, filter *vectorstore.Filter) ([]*vectorstore.Hit, error) {
		return hits, nil
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RerankTopN = 0
	return cfg
}

func newTestEngine(t *testing.T, store vectorstore.Store, cfg Config, opts ...Option) *Engine {
	t.Helper()
	e, err := NewEngine(store, aimock.NewEmbedder(), cache.NewMemoryStore(), cfg, opts...)
	require.NoError(t, err)
	return e
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"default", func(c *Config) {}, true},
		{"negative vector weight", func(c *Config) { c.VectorWeight = -0.1 }, false},
		{"negative keyword weight", func(c *Config) { c.KeywordWeight = -1 }, false},
		{"both weights zero", func(c *Config) { c.VectorWeight, c.KeywordWeight = 0, 0 }, false},
		{"single weight", func(c *Config) { c.KeywordWeight = 0 }, true},
		{"zero vector topK", func(c *Config) { c.VectorTopK = 0 }, false},
		{"zero keyword topK", func(c *Config) { c.KeywordTopK = 0 }, false},
		{"zero topK", func(c *Config) { c.TopK = 0 }, false},
		{"negative rerank topN", func(c *Config) { c.RerankTopN = -1 }, false},
		{"zero rerank topN", func(c *Config) { c.RerankTopN = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}
}

func TestNewEngineValidation(t *testing.T) {
	store := &fakeStore{}
	embedder := aimock.NewEmbedder()
	cacheStore := cache.NewMemoryStore()

	_, err := NewEngine(nil, embedder, cacheStore, DefaultConfig())
	assert.ErrorIs(t, err, ErrStoreRequired)

	_, err = NewEngine(store, nil, cacheStore, DefaultConfig())
	assert.ErrorIs(t, err, ErrEmbedderRequired)

	_, err = NewEngine(store, embedder, nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrCacheRequired)

	_, err = NewEngine(store, embedder, cacheStore, Config{})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewEngine(store, embedder, cacheStore, DefaultConfig(), WithRerankTTL(0))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestSearchRejectsBlankQuery(t *testing.T) {
	e := newTestEngine(t, &fakeStore{}, testConfig())

	for _, query := range []string{"", "   ", "\n\t"} {
		_, err := e.Search(context.Background(), query, nil)
		assert.ErrorIs(t, err, ErrInvalidQuery)
	}
}

func TestSearchFusesBothLegs(t *testing.T) {
	// Chunk 1 leads the vector leg, chunk 2 leads the keyword leg. With
	// weights 0.6/0.4, chunk 1 fuses to 0.9*0.6+0.2*0.4 = 0.62 and outranks
	// chunk 2 at 0.3*0.6+0.9*0.4 = 0.54 despite the weaker keyword score.
	store := &fakeStore{
		queryFunc: staticHits(
			hit(1, 100, "power supply replacement", 0.9),
			hit(2, 100, "power budget table", 0.3),
		),
		keywordFunc: staticKeywordHits(
			hit(1, 100, "power supply replacement", 0.2),
			hit(2, 100, "power budget table", 0.9),
		),
	}
	e := newTestEngine(t, store, testConfig())

	resp, err := e.Search(context.Background(), "replace power supply", nil)
	require.NoError(t, err)
	assert.False(t, resp.VectorDegraded)
	assert.False(t, resp.KeywordDegraded)
	require.Len(t, resp.Results, 2)

	first, second := resp.Results[0], resp.Results[1]
	assert.Equal(t, core.ID(1), first.ChunkId)
	assert.InDelta(t, 0.9, first.VectorScore, 1e-9)
	assert.InDelta(t, 0.2, first.KeywordScore, 1e-9)
	assert.InDelta(t, 0.62, first.FusedScore, 1e-9)
	assert.False(t, first.Reranked)
	assert.InDelta(t, 0.62, first.FinalScore(), 1e-9)

	assert.Equal(t, core.ID(2), second.ChunkId)
	assert.InDelta(t, 0.3, second.VectorScore, 1e-9)
	assert.InDelta(t, 0.9, second.KeywordScore, 1e-9)
	assert.InDelta(t, 0.54, second.FusedScore, 1e-9)
}

func TestSearchAppliesTopK(t *testing.T) {
	store := &fakeStore{
		queryFunc: staticHits(
			hit(1, 100, "a", 0.9),
			hit(2, 100, "b", 0.8),
			hit(3, 100, "c", 0.7),
		),
	}
	e := newTestEngine(t, store, testConfig())

	resp, err := e.Search(context.Background(), "query", &Options{TopK: 2})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 2)
	assert.Equal(t, core.ID(1), resp.Results[0].ChunkId)
}

func TestSearchForwardsFilter(t *testing.T) {
	filter := &vectorstore.Filter{Vendor: "cisco", Tags: []string{"switching"}}
	var vectorFilter, keywordFilter *vectorstore.Filter

	store := &fakeStore{
		queryFunc: func(ctx context.Context, vector []float32, limit int, f *vectorstore.Filter) ([]*vectorstore.Hit, error) {
			vectorFilter = f
			return nil, nil
		},
		keywordFunc: func(ctx context.Context, terms []string, limit int, f *vectorstore.Filter) ([]*vectorstore.Hit, error) {
			keywordFilter = f
			return nil, nil
		},
	}
	e := newTestEngine(t, store, testConfig())

	_, err := e.Search(context.Background(), "power supply", &Options{Filter: filter})
	require.NoError(t, err)
	assert.Same(t, filter, vectorFilter)
	assert.Same(t, filter, keywordFilter)
}

func TestSearchDegradesWhenVectorLegFails(t *testing.T) {
	store := &fakeStore{
		keywordFunc: staticKeywordHits(hit(3, 100, "console cable pinout", 1.0)),
	}
	embedder := aimock.NewEmbedder()
	embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		return nil, errors.New("embedding service down")
	}
	e, err := NewEngine(store, embedder, cache.NewMemoryStore(), testConfig())
	require.NoError(t, err)

	resp, err := e.Search(context.Background(), "console pinout", nil)
	require.NoError(t, err)
	assert.True(t, resp.VectorDegraded)
	assert.False(t, resp.KeywordDegraded)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, core.ID(3), resp.Results[0].ChunkId)
	assert.Zero(t, resp.Results[0].VectorScore)
}

func TestSearchDegradesWhenKeywordLegFails(t *testing.T) {
	store := &fakeStore{
		queryFunc: staticHits(hit(4, 100, "bgp neighbor flap", 0.8)),
		keywordFunc: func(ctx context.Context, terms []string, limit int, f *vectorstore.Filter) ([]*vectorstore.Hit, error) {
			return nil, errors.New("index corrupt")
		},
	}
	e := newTestEngine(t, store, testConfig())

	resp, err := e.Search(context.Background(), "bgp flap", nil)
	require.NoError(t, err)
	assert.False(t, resp.VectorDegraded)
	assert.True(t, resp.KeywordDegraded)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, core.ID(4), resp.Results[0].ChunkId)
}

func TestSearchFailsWhenBothLegsFail(t *testing.T) {
	store := &fakeStore{
		keywordFunc: func(ctx context.Context, terms []string, limit int, f *vectorstore.Filter) ([]*vectorstore.Hit, error) {
			return nil, errors.New("index corrupt")
		},
	}
	embedder := aimock.NewEmbedder()
	embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		return nil, errors.New("embedding service down")
	}
	e, err := NewEngine(store, embedder, cache.NewMemoryStore(), testConfig())
	require.NoError(t, err)

	_, err = e.Search(context.Background(), "anything", nil)
	assert.ErrorIs(t, err, ErrAllLegsFailed)
}

func TestSearchStopWordQuerySkipsKeywordLeg(t *testing.T) {
	var keywordCalled bool
	store := &fakeStore{
		queryFunc: staticHits(hit(5, 100, "overview", 0.7)),
		keywordFunc: func(ctx context.Context, terms []string, limit int, f *vectorstore.Filter) ([]*vectorstore.Hit, error) {
			keywordCalled = true
			return nil, nil
		},
	}
	e := newTestEngine(t, store, testConfig())

	resp, err := e.Search(context.Background(), "what is the", nil)
	require.NoError(t, err)
	assert.False(t, keywordCalled, "a query of pure stop words has no terms to match")
	assert.False(t, resp.KeywordDegraded)
	require.Len(t, resp.Results, 1)
}

func TestRerankReordersResults(t *testing.T) {
	store := &fakeStore{
		queryFunc: staticHits(
			hit(1, 100, "loosely related passage", 0.9),
			hit(2, 100, "exact answer passage", 0.7),
		),
	}
	reranker := aimock.NewReranker()
	reranker.ScoreFunc = func(ctx context.Context, query, passage string) (float64, error) {
		if strings.Contains(passage, "exact") {
			return 0.95, nil
		}
		return 0.1, nil
	}
	cfg := testConfig()
	cfg.RerankTopN = 8
	e := newTestEngine(t, store, cfg, WithReranker(reranker))

	resp, err := e.Search(context.Background(), "exact answer", nil)
	require.NoError(t, err)
	assert.False(t, resp.RerankDegraded)
	require.Len(t, resp.Results, 2)

	first := resp.Results[0]
	assert.Equal(t, core.ID(2), first.ChunkId, "rerank score outweighs the fused order")
	assert.True(t, first.Reranked)
	assert.InDelta(t, 0.95, first.RerankScore, 1e-9)
	assert.InDelta(t, 0.95, first.FinalScore(), 1e-9)

	second := resp.Results[1]
	assert.True(t, second.Reranked)
	assert.InDelta(t, 0.1, second.FinalScore(), 1e-9)
}

func TestRerankScoresAreCached(t *testing.T) {
	store := &fakeStore{
		queryFunc: staticHits(
			hit(1, 100, "first passage", 0.9),
			hit(2, 100, "second passage", 0.8),
		),
	}
	reranker := aimock.NewReranker()
	cfg := testConfig()
	cfg.RerankTopN = 8
	e := newTestEngine(t, store, cfg, WithReranker(reranker), WithRerankTTL(time.Minute))

	ctx := context.Background()
	_, err := e.Search(ctx, "same query", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, reranker.CallCount())

	_, err = e.Search(ctx, "same query", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, reranker.CallCount(), "repeat query must hit the score cache")

	_, err = e.Search(ctx, "different query", nil)
	require.NoError(t, err)
	assert.Equal(t, 4, reranker.CallCount(), "cache keys include the query text")
}

func TestRerankTopNBoundsScoring(t *testing.T) {
	store := &fakeStore{
		queryFunc: staticHits(
			hit(1, 100, "top passage", 0.9),
			hit(2, 100, "runner up", 0.8),
			hit(3, 100, "third", 0.7),
		),
	}
	reranker := aimock.NewReranker() // default score 0.5
	cfg := testConfig()
	cfg.RerankTopN = 1
	e := newTestEngine(t, store, cfg, WithReranker(reranker))

	resp, err := e.Search(context.Background(), "query", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, reranker.CallCount())

	reranked := 0
	for _, r := range resp.Results {
		if r.Reranked {
			reranked++
		}
	}
	assert.Equal(t, 1, reranked)
}

func TestRerankFailureFallsBackToFusedOrder(t *testing.T) {
	store := &fakeStore{
		queryFunc: staticHits(
			hit(1, 100, "first", 0.9),
			hit(2, 100, "second", 0.8),
		),
	}
	reranker := aimock.NewReranker()
	reranker.ScoreFunc = func(ctx context.Context, query, passage string) (float64, error) {
		return 0, errors.New("rerank service down")
	}
	cfg := testConfig()
	cfg.RerankTopN = 8
	e := newTestEngine(t, store, cfg, WithReranker(reranker))

	resp, err := e.Search(context.Background(), "query", nil)
	require.NoError(t, err)
	assert.True(t, resp.RerankDegraded)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, core.ID(1), resp.Results[0].ChunkId, "fused order survives")
	for _, r := range resp.Results {
		assert.False(t, r.Reranked)
		assert.Zero(t, r.RerankScore)
	}
}

func TestFuse(t *testing.T) {
	t.Run("deduplicates across legs keeping max per leg", func(t *testing.T) {
		results := Fuse(
			[]*vectorstore.Hit{hit(1, 100, "a", 0.4), hit(1, 100, "a", 0.9)},
			[]*vectorstore.Hit{hit(1, 100, "a", 0.3)},
			0.5, 0.5,
		)
		require.Len(t, results, 1)
		assert.InDelta(t, 0.9, results[0].VectorScore, 1e-9)
		assert.InDelta(t, 0.3, results[0].KeywordScore, 1e-9)
		assert.InDelta(t, 0.6, results[0].FusedScore, 1e-9)
	})

	t.Run("clamps leg scores", func(t *testing.T) {
		results := Fuse(
			[]*vectorstore.Hit{hit(1, 100, "a", 1.7)},
			[]*vectorstore.Hit{hit(1, 100, "a", -0.3)},
			1, 1,
		)
		require.Len(t, results, 1)
		assert.InDelta(t, 1.0, results[0].VectorScore, 1e-9)
		assert.Zero(t, results[0].KeywordScore)
	})

	t.Run("missing leg contributes zero", func(t *testing.T) {
		results := Fuse(nil, []*vectorstore.Hit{hit(2, 100, "b", 1.0)}, 0.6, 0.4)
		require.Len(t, results, 1)
		assert.Zero(t, results[0].VectorScore)
		assert.InDelta(t, 0.4, results[0].FusedScore, 1e-9)
	})

	t.Run("equal scores break ties by chunk id", func(t *testing.T) {
		results := Fuse(
			[]*vectorstore.Hit{hit(9, 100, "a", 0.5), hit(2, 100, "b", 0.5)},
			nil, 1, 0,
		)
		require.Len(t, results, 2)
		assert.Equal(t, core.ID(2), results[0].ChunkId)
		assert.Equal(t, core.ID(9), results[1].ChunkId)
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Empty(t, Fuse(nil, nil, 0.6, 0.4))
	})
}

func TestFuseMonotonicity(t *testing.T) {
	fused := func(vector, keyword float32) float64 {
		results := Fuse(
			[]*vectorstore.Hit{hit(1, 100, "a", vector)},
			[]*vectorstore.Hit{hit(1, 100, "a", keyword)},
			0.6, 0.4,
		)
		require.Len(t, results, 1)
		return results[0].FusedScore
	}

	// Raising either leg's score must never lower the fused score; past the
	// clamp it stays flat.
	pairs := []struct{ vector, keyword float32 }{
		{0, 0}, {0.2, 0.7}, {0.5, 0.5}, {0.9, 0.1}, {1, 0.4},
	}
	for _, p := range pairs {
		base := fused(p.vector, p.keyword)
		for _, delta := range []float32{0.05, 0.3, 1.0} {
			assert.GreaterOrEqual(t, fused(p.vector+delta, p.keyword), base,
				"vector %v+%v keyword %v", p.vector, delta, p.keyword)
			assert.GreaterOrEqual(t, fused(p.vector, p.keyword+delta), base,
				"vector %v keyword %v+%v", p.vector, p.keyword, delta)
		}
	}
}

type recordingMonitor struct {
	started  string
	fused    int
	reranked int
	finished int
}

var _ SearchMonitor = (*recordingMonitor)(nil)

func (m *recordingMonitor) Start(query string)                         { m.started = query }
func (m *recordingMonitor) AfterVectorLeg(_ []*vectorstore.Hit)        {}
func (m *recordingMonitor) AfterKeywordLeg(_ []*vectorstore.Hit)       {}
func (m *recordingMonitor) AfterFusion(r []*core.RetrievalResult)      { m.fused = len(r) }
func (m *recordingMonitor) AfterRerank(r []*core.RetrievalResult)      { m.reranked = len(r) }
func (m *recordingMonitor) Finish(r []*core.RetrievalResult)           { m.finished = len(r) }

func TestSearchMonitorHooks(t *testing.T) {
	store := &fakeStore{
		queryFunc: staticHits(hit(1, 100, "a", 0.9), hit(2, 100, "b", 0.8)),
	}
	cfg := testConfig()
	cfg.RerankTopN = 8
	e := newTestEngine(t, store, cfg, WithReranker(aimock.NewReranker()))

	mon := &recordingMonitor{}
	_, err := e.Search(context.Background(), "hooks", &Options{Monitor: mon, TopK: 1})
	require.NoError(t, err)
	assert.Equal(t, "hooks", mon.started)
	assert.Equal(t, 2, mon.fused)
	assert.Equal(t, 2, mon.reranked)
	assert.Equal(t, 1, mon.finished, "finish sees the truncated list")
}
