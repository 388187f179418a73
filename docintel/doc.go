// Package docintel wraps the external document-intelligence service: the
// submit/poll protocol, the supported-format gate, and the mapping from the
// service's wire blocks to the structured document model used by splitting.
//
// The client is deliberately stateless. Polling cadence, attempt bounds, and
// failure handling live in the ingestion orchestrator; errors returned here
// carry retry classifications so that layer can decide what to do with them.
package docintel
