package ai

import (
	"context"
	"log/slog"
	"time"

	"github.com/opsgrid/docbase/cache"
	"github.com/opsgrid/docbase/monitor"
)

// DefaultEmbeddingTTL is how long computed embeddings stay cached.
const DefaultEmbeddingTTL = 1 * time.Hour

// CachingEmbedder wraps an Embedder with a cache.Store. Keys are content
// hashes of (text, model version), so identical text never hits the upstream
// twice while an entry is live. Upstream failures surface as Transient errors
// for the caller's retry policy; the embedder itself never retries.
type CachingEmbedder struct {
	inner  Embedder
	store  cache.Store
	ttl    time.Duration
	logger *slog.Logger
}

var _ Embedder = (*CachingEmbedder)(nil)

// CachingOption configures a CachingEmbedder.
type CachingOption func(*CachingEmbedder)

// WithTTL overrides the embedding cache TTL.
func WithTTL(ttl time.Duration) CachingOption {
	return func(e *CachingEmbedder) {
		if ttl > 0 {
			e.ttl = ttl
		}
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) CachingOption {
	return func(e *CachingEmbedder) {
		if logger == nil {
			logger = slog.Default()
		}
		e.logger = logger
	}
}

// NewCachingEmbedder wraps inner with cache-backed memoization.
func NewCachingEmbedder(inner Embedder, store cache.Store, opts ...CachingOption) (*CachingEmbedder, error) {
	if inner == nil {
		return nil, ErrEmbedderRequired
	}
	if store == nil {
		return nil, ErrCacheRequired
	}
	e := &CachingEmbedder{
		inner:  inner,
		store:  store,
		ttl:    DefaultEmbeddingTTL,
		logger: slog.Default().With("component", "caching-embedder"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// ModelVersion returns the wrapped embedder's model version.
func (e *CachingEmbedder) ModelVersion() string {
	return e.inner.ModelVersion()
}

// key computes the cache key for one text under the current model version.
func (e *CachingEmbedder) key(text string) string {
	return cache.Key("embed", e.inner.ModelVersion(), text)
}

// EmbedText returns the embedding for text, computing it through the cache's
// single-flight path on miss.
func (e *CachingEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	v, err := e.store.GetOrCompute(ctx, e.key(text), func(ctx context.Context) (any, error) {
		vec, err := e.inner.EmbedText(ctx, text)
		if err != nil {
			return nil, monitor.AsTransient(err)
		}
		return vec, nil
	}, e.ttl)
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

// EmbedTexts returns embeddings for all texts in order. Cached texts are
// served from the store; the remaining misses are batched into one upstream
// call. Results from the upstream batch populate the cache individually.
func (e *CachingEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	result := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		if v, ok := e.store.Get(e.key(text)); ok {
			result[i] = v.([]float32)
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return result, nil
	}
	e.logger.Debug("embedding batch", "total", len(texts), "cached", len(texts)-len(missTexts), "upstream", len(missTexts))

	vectors, err := e.inner.EmbedTexts(ctx, missTexts)
	if err != nil {
		return nil, monitor.AsTransient(err)
	}
	if len(vectors) != len(missTexts) {
		return nil, ErrEmbeddingMismatch
	}

	for j, i := range missIdx {
		result[i] = vectors[j]
		e.store.Set(e.key(missTexts[j]), vectors[j], e.ttl)
	}
	return result, nil
}
