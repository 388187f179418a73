// Package ingest drives documents through the ingestion lifecycle: submit
// to the document-intelligence service, poll to completion, split into
// chunks, embed, and index. Jobs run concurrently on a worker pool, each
// owning its persisted state exclusively; the state machine lives in
// core.IngestionJob and this package is its only mutator.
//
// Crash recovery relies on three idempotence properties: chunk IDs are
// deterministic in (document, ordinal), embeddings are cache-backed, and
// vector-store upsert replaces by chunk ID. Resume therefore re-enters the
// pipeline at the persisted stage and replays the rest cheaply.
package ingest
