// Package split turns parsed document structures into coherent retrieval
// chunks.
//
// The splitter uses structural hints (headings, tables, formula blocks) to
// choose boundaries, enforces a maximum chunk length, merges trailing
// fragments below a minimum threshold into a neighbor, and never splits
// inside an atomic unit that fits. Oversized atomic units are cut at row or
// sentence boundaries with a configured overlap window repeated across each
// cut. Every chunk records its source span for provenance and a stable
// ordinal within the document.
package split
