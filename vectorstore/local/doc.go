// Package local implements the chunk index on an embedded BadgerDB.
//
// Records are stored under a per-chunk key with a secondary index keyed by
// document ID, so deleting a document is a prefix scan rather than a full
// pass. Similarity queries scan every record and score client-side.
package local
