// Package reindex re-embeds indexed chunks after an embedding-model change.
// Vectors from different model versions are not comparable, so every chunk
// carrying an older version is embedded again under the current model and
// upserted in place.
package reindex
