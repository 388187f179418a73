package mock

import (
	"context"
	"sync/atomic"
)

// Reranker is a test double for ai.Reranker.
type Reranker struct {
	// ScoreFunc is called by Score if set. If nil, Score returns 0.5.
	ScoreFunc func(ctx context.Context, query, passage string) (float64, error)

	// Version overrides the reported model version. Defaults to "mock-rerank-v1".
	Version string

	callCount atomic.Int64
}

// NewReranker creates a mock reranker.
func NewReranker() *Reranker {
	return &Reranker{}
}

// ModelVersion returns the mock model version.
func (m *Reranker) ModelVersion() string {
	if m.Version != "" {
		return m.Version
	}
	return "mock-rerank-v1"
}

// Score returns ScoreFunc's result, or 0.5 when no function is set.
func (m *Reranker) Score(ctx context.Context, query, passage string) (float64, error) {
	m.callCount.Add(1)
	if m.ScoreFunc != nil {
		return m.ScoreFunc(ctx, query, passage)
	}
	return 0.5, nil
}

// CallCount returns the number of times Score was called.
func (m *Reranker) CallCount() int {
	return int(m.callCount.Load())
}
