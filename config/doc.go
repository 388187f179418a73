// Package config loads the YAML application configuration, layering a
// local .env file for secrets referenced by name. Every tunable the system
// exposes lives here: fusion weights, topK values, rerank selection, retry
// policy, chunk sizing, poll bounds, and backend selection.
package config
