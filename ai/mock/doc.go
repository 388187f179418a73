// Package mock provides deterministic test doubles for the ai interfaces.
//
// The mock embedder produces stable hash-derived unit vectors, so tests can
// rely on identical text mapping to identical vectors without a model server.
package mock
