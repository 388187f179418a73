// Package retrieve implements hybrid retrieval: a vector-similarity leg and
// a lexical term-overlap leg queried in parallel, fused by weighted sum, and
// optionally refined by a cached rerank pass. Results carry the per-leg
// score breakdown for explainability, and the response flags any stage that
// had to be skipped.
package retrieve
