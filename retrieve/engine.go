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

package retrieve

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/opsgrid/docbase/ai"
	"github.com/opsgrid/docbase/cache"
	"github.com/opsgrid/docbase/core"
	"github.com/opsgrid/docbase/vectorstore"
)

// DefaultRerankTTL bounds how long a cached rerank score stays valid.
const DefaultRerankTTL = 30 * time.Minute

// Config holds the fusion and candidate-set parameters.
type Config struct {
	// VectorWeight and KeywordWeight scale each leg's score in the fused
	// sum. They need not sum to 1.
	VectorWeight  float64
	KeywordWeight float64

	// VectorTopK and KeywordTopK size each leg's candidate set.
	VectorTopK  int
	KeywordTopK int

	// TopK is the default result count when the caller does not specify one.
	TopK int

	// RerankTopN is how many fused candidates the rerank pass scores.
	// Zero disables reranking even when a reranker is configured.
	RerankTopN int
}

// DefaultConfig returns fusion parameters favoring the vector leg.
func DefaultConfig() Config {
	return Config{
		VectorWeight:  0.6,
		KeywordWeight: 0.4,
		VectorTopK:    20,
		KeywordTopK:   20,
		TopK:          10,
		RerankTopN:    8,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.VectorWeight < 0 || c.KeywordWeight < 0 {
		return fmt.Errorf("%w: weights must not be negative", ErrInvalidConfig)
	}
	if c.VectorWeight == 0 && c.KeywordWeight == 0 {
		return fmt.Errorf("%w: at least one weight must be positive", ErrInvalidConfig)
	}
	if c.VectorTopK <= 0 || c.KeywordTopK <= 0 || c.TopK <= 0 {
		return fmt.Errorf("%w: topK values must be positive", ErrInvalidConfig)
	}
	if c.RerankTopN < 0 {
		return fmt.Errorf("%w: rerank topN must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Engine is the hybrid retrieval engine: a vector-similarity leg and a
// lexical leg fused into one ranked list, optionally refined by a cached
// rerank pass. Queries are stateless and side-effect-free aside from cache
// population.
type Engine struct {
	store    vectorstore.Store
	embedder ai.Embedder
	reranker ai.Reranker
	cache    cache.Store
	config   Config

	rerankTTL time.Duration
	logger    *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine) error

// WithReranker enables the rerank pass. A nil reranker leaves it disabled.
func WithReranker(reranker ai.Reranker) Option {
	return func(e *Engine) error {
		e.reranker = reranker
		return nil
	}
}

// WithRerankTTL sets how long cached rerank scores stay valid.
func WithRerankTTL(ttl time.Duration) Option {
	return func(e *Engine) error {
		if ttl <= 0 {
			return fmt.Errorf("%w: rerank ttl must be positive", ErrInvalidConfig)
		}
		e.rerankTTL = ttl
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		if logger == nil {
			logger = slog.Default()
		}
		e.logger = logger.With("component", "retrieve")
		return nil
	}
}

// NewEngine creates a retrieval engine over the given store and embedder.
// The cache store backs rerank-score caching and may be shared with the
// embedding layer.
func NewEngine(store vectorstore.Store, embedder ai.Embedder, cacheStore cache.Store, config Config, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if cacheStore == nil {
		return nil, ErrCacheRequired
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		store:     store,
		embedder:  embedder,
		cache:     cacheStore,
		config:    config,
		rerankTTL: DefaultRerankTTL,
		logger:    slog.Default().With("component", "retrieve"),
	}

	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// Options carries per-query parameters.
type Options struct {
	// TopK overrides the configured result count when positive.
	TopK int
	// Filter restricts both legs by metadata equality.
	Filter *vectorstore.Filter
	// Monitor receives hooks at each stage. Nil is fine.
	Monitor SearchMonitor
}

// Response is a ranked result list plus degraded-mode flags. A degraded
// flag means the corresponding stage was unavailable and the response was
// computed without it.
type Response struct {
	Results         []*core.RetrievalResult
	VectorDegraded  bool
	KeywordDegraded bool
	RerankDegraded  bool
}

// Search runs the hybrid retrieval pipeline for the query. It fails only
// when the query is invalid or both legs are unavailable; a single
// unavailable leg degrades the response instead.
func (e *Engine) Search(ctx context.Context, query string, opts *Options) (*Response, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrInvalidQuery
	}
	if opts == nil {
		opts = &Options{}
	}
	mon := opts.Monitor
	if mon == nil {
		mon = &noopMonitor{}
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = e.config.TopK
	}

	mon.Start(query)

	// Both legs run concurrently; each failure is kept separate so one leg
	// can degrade without failing the query.
	var (
		wg          sync.WaitGroup
		vectorHits  []*vectorstore.Hit
		keywordHits []*vectorstore.Hit
		vectorErr   error
		keywordErr  error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		vectorHits, vectorErr = e.vectorLeg(ctx, query, opts.Filter)
	}()
	go func() {
		defer wg.Done()
		keywordHits, keywordErr = e.keywordLeg(ctx, query, opts.Filter)
	}()
	wg.Wait()

	if vectorErr != nil && keywordErr != nil {
		return nil, fmt.Errorf("%w: vector: %w; keyword: %w", ErrAllLegsFailed, vectorErr, keywordErr)
	}

	resp := &Response{}
	if vectorErr != nil {
		e.logger.Warn("vector leg unavailable, degrading to keyword-only", "error", vectorErr)
		resp.VectorDegraded = true
	}
	if keywordErr != nil {
		e.logger.Warn("keyword leg unavailable, degrading to vector-only", "error", keywordErr)
		resp.KeywordDegraded = true
	}
	mon.AfterVectorLeg(vectorHits)
	mon.AfterKeywordLeg(keywordHits)

	results := Fuse(vectorHits, keywordHits, e.config.VectorWeight, e.config.KeywordWeight)
	mon.AfterFusion(results)

	if e.reranker != nil && e.config.RerankTopN > 0 && len(results) > 0 {
		if err := e.rerank(ctx, query, results); err != nil {
			// Fall back to the fused order rather than failing the query.
			e.logger.Warn("rerank unavailable, keeping fused order", "error", err)
			resp.RerankDegraded = true
			for _, r := range results {
				r.Reranked = false
				r.RerankScore = 0
			}
		}
		sortResults(results)
		mon.AfterRerank(results)
	}

	if len(results) > topK {
		results = results[:topK]
	}
	resp.Results = results

	mon.Finish(results)
	return resp, nil
}

func (e *Engine) vectorLeg(ctx context.Context, query string, filter *vectorstore.Filter) ([]*vectorstore.Hit, error) {
	embedding, err := e.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	hits, err := e.store.Query(ctx, embedding, e.config.VectorTopK, filter)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}
	return hits, nil
}

func (e *Engine) keywordLeg(ctx context.Context, query string, filter *vectorstore.Filter) ([]*vectorstore.Hit, error) {
	terms := vectorstore.Tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}
	hits, err := e.store.KeywordQuery(ctx, terms, e.config.KeywordTopK, filter)
	if err != nil {
		return nil, fmt.Errorf("keyword query: %w", err)
	}
	return hits, nil
}

// rerank scores the top fused candidates, caching each score by query and
// chunk so repeated queries skip the expensive pass.
func (e *Engine) rerank(ctx context.Context, query string, results []*core.RetrievalResult) error {
	n := min(e.config.RerankTopN, len(results))
	modelVersion := e.reranker.ModelVersion()

	for _, r := range results[:n] {
		key := cache.Key("rerank", modelVersion, query, fmt.Sprintf("%d", r.ChunkId))
		passage := r.Text

		score, err := e.cache.GetOrCompute(ctx, key, func(ctx context.Context) (any, error) {
			return e.reranker.Score(ctx, query, passage)
		}, e.rerankTTL)
		if err != nil {
			return err
		}

		r.RerankScore = score.(float64)
		r.Reranked = true
	}

	return nil
}

// Fuse merges the two candidate sets into ranked results. Leg scores are
// clamped to [0,1]; candidates in both legs keep the maximum score seen per
// leg, and a missing leg contributes 0. The returned slice is ordered by
// fused score descending with chunk ID as the tie-break.
func Fuse(vectorHits, keywordHits []*vectorstore.Hit, vectorWeight, keywordWeight float64) []*core.RetrievalResult {
	merged := make(map[core.ID]*core.RetrievalResult)

	add := func(hit *vectorstore.Hit, vector bool) {
		r, ok := merged[hit.Chunk.Id]
		if !ok {
			r = &core.RetrievalResult{
				ChunkId:    hit.Chunk.Id,
				DocumentId: hit.Chunk.DocumentId,
				Text:       hit.Chunk.Text,
				Ordinal:    hit.Chunk.Ordinal,
				Span:       hit.Chunk.Span,
				Metadata:   hit.Chunk.Metadata,
			}
			merged[hit.Chunk.Id] = r
		}
		score := clamp01(float64(hit.Score))
		if vector {
			r.VectorScore = max(r.VectorScore, score)
		} else {
			r.KeywordScore = max(r.KeywordScore, score)
		}
	}

	for _, hit := range vectorHits {
		add(hit, true)
	}
	for _, hit := range keywordHits {
		add(hit, false)
	}

	results := make([]*core.RetrievalResult, 0, len(merged))
	for _, r := range merged {
		r.FusedScore = vectorWeight*r.VectorScore + keywordWeight*r.KeywordScore
		results = append(results, r)
	}

	sortResults(results)
	return results
}

// sortResults orders by final score descending, then fused score
// descending, then chunk ID ascending, keeping ranks deterministic.
func sortResults(results []*core.RetrievalResult) {
	slices.SortFunc(results, func(a, b *core.RetrievalResult) int {
		if a.FinalScore() != b.FinalScore() {
			if a.FinalScore() > b.FinalScore() {
				return -1
			}
			return 1
		}
		if a.FusedScore != b.FusedScore {
			if a.FusedScore > b.FusedScore {
				return -1
			}
			return 1
		}
		if a.ChunkId < b.ChunkId {
			return -1
		}
		if a.ChunkId > b.ChunkId {
			return 1
		}
		return 0
	})
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
