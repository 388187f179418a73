// Package vectorstore defines the chunk index abstraction used by ingestion
// and retrieval, plus the scoring helpers shared by its backends.
//
// Two backends are provided: vectorstore/local keeps the index in an
// embedded BadgerDB for single-node deployments, and vectorstore/qdrant
// talks to a Qdrant server over gRPC. Both are idempotent on chunk ID, so
// re-ingesting a document overwrites its previous chunks in place.
package vectorstore
