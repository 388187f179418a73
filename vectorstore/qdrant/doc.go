// Package qdrant implements the chunk index against a Qdrant server over
// gRPC. Chunk IDs double as point IDs and chunk fields are flattened into
// the point payload, so metadata filters push down to the server.
package qdrant
