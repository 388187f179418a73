// Package ai defines the embedding and rerank service interfaces and their
// shared configuration.
//
// Concrete implementations live in subpackages: openai provides clients for
// OpenAI-compatible APIs, mock provides deterministic test doubles. The
// CachingEmbedder decorator adds content-hash cache keys with single-flight
// computation on top of any Embedder.
package ai
